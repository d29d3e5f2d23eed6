// Package forecast fits per-field series models and evaluates them against
// history.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/wandiforecast/internal/metrics"
	"github.com/lox/wandiforecast/internal/models"
)

// Model forecasts every field of a prepared table in two stages: each
// regressor on its own, then every other field with the regressors as
// covariates.
type Model struct {
	history     *models.Table
	granularity models.Granularity
	regressors  []string
	excluded    map[string]bool
	workers     int
}

type Option func(*Model)

// WithWorkers bounds the number of concurrent fits within a stage.
func WithWorkers(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithExcluded leaves the named fields out of the forecast.
func WithExcluded(fields ...string) Option {
	return func(m *Model) {
		for _, f := range fields {
			m.excluded[f] = true
		}
	}
}

// NewModel binds a prepared history table to its regressors.
func NewModel(history *models.Table, g models.Granularity, regressors []string, opts ...Option) (*Model, error) {
	for _, r := range regressors {
		if !history.Has(r) {
			return nil, &models.SchemaError{Field: r}
		}
	}
	m := &Model{
		history:     history,
		granularity: g,
		regressors:  regressors,
		excluded:    make(map[string]bool),
		workers:     runtime.GOMAXPROCS(0),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Outcomes returns the fields forecast in the second stage.
func (m *Model) Outcomes() []string {
	isRegressor := make(map[string]bool, len(m.regressors))
	for _, r := range m.regressors {
		isRegressor[r] = true
	}
	var out []string
	for _, f := range m.history.Fields() {
		if !isRegressor[f] && !m.excluded[f] {
			out = append(out, f)
		}
	}
	return out
}

// Predict forecasts periods steps from start, training on the trainWindow
// units immediately before start.
func (m *Model) Predict(ctx context.Context, periods int, start time.Time, trainWindow int) (*models.Table, error) {
	if periods <= 0 {
		return nil, models.InvalidRequest("periods must be positive, got %d", periods)
	}
	if trainWindow <= 0 {
		return nil, models.InvalidRequest("training window must be positive, got %d", trainWindow)
	}

	from, to := TrainingWindow(start, trainWindow, m.granularity)
	train := m.history.Between(from, to)
	future := m.granularity.Range(start, periods)

	regressorForecasts, err := m.fanOut(ctx, "regressor", m.regressors, func(field string) ([]float64, error) {
		return fitPredict(field, train.Timestamps, train.Column(field), nil, future, nil)
	})
	if err != nil {
		return nil, err
	}

	trainCov := make([][]float64, len(m.regressors))
	for i, r := range m.regressors {
		trainCov[i] = train.Column(r)
	}

	outcomes := m.Outcomes()
	outcomeForecasts, err := m.fanOut(ctx, "outcome", outcomes, func(field string) ([]float64, error) {
		return fitPredict(field, train.Timestamps, train.Column(field), trainCov, future, regressorForecasts)
	})
	if err != nil {
		return nil, err
	}

	byField := make(map[string][]float64, len(m.regressors)+len(outcomes))
	for i, r := range m.regressors {
		byField[r] = regressorForecasts[i]
	}
	for i, f := range outcomes {
		byField[f] = outcomeForecasts[i]
	}

	out := models.NewTable(models.TimeField, m.granularity, future)
	for _, f := range m.history.Fields() {
		if v, ok := byField[f]; ok {
			if err := out.Set(f, v); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// fanOut runs fn for every field on a bounded group. Each call writes only
// its own slot of the result.
func (m *Model) fanOut(ctx context.Context, stage string, fields []string, fn func(field string) ([]float64, error)) ([][]float64, error) {
	results := make([][]float64, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, field := range fields {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			started := time.Now()
			v, err := fn(field)
			metrics.ModelFitsTotal.WithLabelValues(stage).Inc()
			metrics.ModelFitDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func fitPredict(field string, ts []time.Time, y []float64, cov [][]float64, future []time.Time, futureCov [][]float64) ([]float64, error) {
	fit, err := FitAdditive(ts, y, cov)
	if err != nil {
		var ide *models.InsufficientDataError
		if errors.As(err, &ide) {
			ide.Field = field
			return nil, ide
		}
		return nil, fmt.Errorf("fit %s: %w", field, err)
	}
	yhat, err := fit.Predict(future, futureCov)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", field, err)
	}
	return yhat, nil
}
