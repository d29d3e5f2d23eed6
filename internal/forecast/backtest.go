package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lox/wandiforecast/internal/models"
)

var ErrWindowMismatch = errors.New("forecast window does not line up with history")

// WindowMismatchError is returned when a backtest chunk's final forecast row
// and its final observed row carry different timestamps, which happens when
// the history has gaps.
type WindowMismatchError struct {
	Offset   int
	Forecast time.Time
	Observed time.Time
}

func (e *WindowMismatchError) Error() string {
	return fmt.Sprintf("backtest chunk at row %d: forecast ends %s, history has %s",
		e.Offset, e.Forecast.Format(time.RFC3339), e.Observed.Format(time.RFC3339))
}

func (e *WindowMismatchError) Is(target error) bool { return target == ErrWindowMismatch }

// Backtest walks table in non-overlapping chunks of trainSize+period rows.
// For each chunk it trains on the first trainSize rows, forecasts period
// steps, and compares the final forecast row with the chunk's final row. It
// returns the mean absolute error per field across chunks, or an empty map
// when no full chunk fits.
func Backtest(ctx context.Context, period int, table *models.Table, g models.Granularity, regressors []string, trainSize int, opts ...Option) (map[string]float64, error) {
	if period <= 0 {
		return nil, models.InvalidRequest("period must be positive, got %d", period)
	}
	if trainSize <= 0 {
		return nil, models.InvalidRequest("train size must be positive, got %d", trainSize)
	}

	chunk := trainSize + period
	actual := make(map[string][]float64)
	predicted := make(map[string][]float64)
	var fields []string

	for i := 0; i+chunk <= table.Len(); i += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		model, err := NewModel(table.Slice(i, i+trainSize), g, regressors, opts...)
		if err != nil {
			return nil, err
		}
		fc, err := model.Predict(ctx, period, table.Timestamps[i+trainSize], trainSize)
		if err != nil {
			return nil, fmt.Errorf("backtest chunk at row %d: %w", i, err)
		}

		last := fc.Len() - 1
		target := i + chunk - 1
		if !fc.Timestamps[last].Equal(table.Timestamps[target]) {
			return nil, &WindowMismatchError{Offset: i, Forecast: fc.Timestamps[last], Observed: table.Timestamps[target]}
		}

		for _, f := range fc.Fields() {
			if !table.Has(f) {
				continue
			}
			if _, seen := predicted[f]; !seen {
				fields = append(fields, f)
			}
			predicted[f] = append(predicted[f], fc.Column(f)[last])
			actual[f] = append(actual[f], table.Column(f)[target])
		}
	}

	mae := make(map[string]float64, len(fields))
	for _, f := range fields {
		mae[f] = MeanAbsoluteError(actual[f], predicted[f])
	}
	return mae, nil
}
