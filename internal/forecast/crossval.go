package forecast

import (
	"context"
	"time"

	"github.com/lox/wandiforecast/internal/models"
)

// CrossValidation configures rolling-origin evaluation.
type CrossValidation struct {
	Initial time.Duration
	Period  time.Duration
	Horizon time.Duration
}

// DefaultCrossValidation trains on at least 1000 days, moves the cutoff by
// 180 days and scores a 365 day horizon.
var DefaultCrossValidation = CrossValidation{
	Initial: 1000 * 24 * time.Hour,
	Period:  180 * 24 * time.Hour,
	Horizon: 365 * 24 * time.Hour,
}

// Cutoffs returns the training cutoffs for ts, oldest first. The last cutoff
// leaves one horizon of data after it; earlier ones step back by Period
// while at least Initial of history precedes them.
func (cv CrossValidation) Cutoffs(ts []time.Time) []time.Time {
	if len(ts) == 0 || cv.Period <= 0 || cv.Horizon <= 0 {
		return nil
	}
	earliest := ts[0].Add(cv.Initial)
	var out []time.Time
	for c := ts[len(ts)-1].Add(-cv.Horizon); !c.Before(earliest); c = c.Add(-cv.Period) {
		out = append([]time.Time{c}, out...)
	}
	return out
}

// Validate scores the model by rolling-origin cross validation over its
// whole history. Outcome fields are predicted from the observed regressor
// values so each field's error is measured on its own.
func (m *Model) Validate(ctx context.Context, cv CrossValidation) (map[string]FieldMetrics, error) {
	cutoffs := cv.Cutoffs(m.history.Timestamps)
	if len(cutoffs) == 0 {
		return nil, &models.InsufficientDataError{
			Have: m.history.Len(),
			Need: int((cv.Initial+cv.Horizon)/m.granularity.Unit()) + 1,
		}
	}

	fields := append(append([]string(nil), m.regressors...), m.Outcomes()...)
	isRegressor := make(map[string]bool, len(m.regressors))
	for _, r := range m.regressors {
		isRegressor[r] = true
	}

	type pair struct{ actual, predicted []float64 }
	scored := make([]pair, len(fields))

	for _, cutoff := range cutoffs {
		train := m.history.Between(m.history.Timestamps[0], cutoff)
		test := m.history.Between(cutoff.Add(time.Nanosecond), cutoff.Add(cv.Horizon))
		if test.Len() == 0 || train.Len() < MinFitPoints {
			continue
		}

		var trainCov, testCov [][]float64
		for _, r := range m.regressors {
			trainCov = append(trainCov, train.Column(r))
			testCov = append(testCov, test.Column(r))
		}

		preds, err := m.fanOut(ctx, "validate", fields, func(field string) ([]float64, error) {
			if isRegressor[field] {
				return fitPredict(field, train.Timestamps, train.Column(field), nil, test.Timestamps, nil)
			}
			return fitPredict(field, train.Timestamps, train.Column(field), trainCov, test.Timestamps, testCov)
		})
		if err != nil {
			return nil, err
		}
		for i, f := range fields {
			scored[i].actual = append(scored[i].actual, test.Column(f)...)
			scored[i].predicted = append(scored[i].predicted, preds[i]...)
		}
	}

	out := make(map[string]FieldMetrics, len(fields))
	for i, f := range fields {
		out[f] = Score(scored[i].actual, scored[i].predicted)
	}
	return out, nil
}
