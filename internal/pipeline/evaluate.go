package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lox/wandiforecast/internal/forecast"
	"github.com/lox/wandiforecast/internal/models"
	"github.com/lox/wandiforecast/internal/prepare"
)

// DefaultBacktestPeriod is the horizon, in units, scored by Backtest when
// none is given.
const DefaultBacktestPeriod = 7

// Backtest fetches observations for q and reports per-field mean absolute
// error of period-step forecasts over consecutive historical chunks.
func (p *Pipeline) Backtest(ctx context.Context, q models.Query, period int) (map[string]float64, error) {
	if period <= 0 {
		period = DefaultBacktestPeriod
	}
	history, err := p.history(ctx, q)
	if err != nil {
		return nil, err
	}
	return p.BacktestTable(ctx, history, q.Granularity, period)
}

// BacktestTable runs the backtest on an already fetched table. The table is
// prepared first, so raw tables are accepted.
func (p *Pipeline) BacktestTable(ctx context.Context, table *models.Table, g models.Granularity, period int) (map[string]float64, error) {
	fs := models.Features(g)
	prepared, err := prepare.Prepare(table, fs.Discrete)
	if err != nil {
		return nil, fmt.Errorf("prepare history: %w", err)
	}
	trainSize := forecast.TrainSize(g, period)
	log.Printf("pipeline: backtesting %d rows, train %d, period %d", prepared.Len(), trainSize, period)
	return forecast.Backtest(ctx, period, prepared, g, fs.Regressors, trainSize, p.modelOptions()...)
}

// Validate fetches observations for q and cross validates the model over
// them.
func (p *Pipeline) Validate(ctx context.Context, q models.Query, cv forecast.CrossValidation) (map[string]forecast.FieldMetrics, error) {
	raw, err := p.history(ctx, q)
	if err != nil {
		return nil, err
	}
	fs := models.Features(q.Granularity)
	prepared, err := prepare.Prepare(raw, fs.Discrete)
	if err != nil {
		return nil, fmt.Errorf("prepare history: %w", err)
	}
	model, err := forecast.NewModel(prepared, q.Granularity, fs.Regressors, p.modelOptions()...)
	if err != nil {
		return nil, err
	}
	log.Printf("pipeline: validating over %d rows (initial %s, period %s, horizon %s)",
		prepared.Len(), days(cv.Initial), days(cv.Period), days(cv.Horizon))
	return model.Validate(ctx, cv)
}

func (p *Pipeline) history(ctx context.Context, q models.Query) (*models.Table, error) {
	start, end := q.Start, q.End
	if start.After(end) {
		start, end = end, start
	}
	raw, err := p.fetcher.Fetch(ctx, q.Location, start, end, q.Granularity)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return raw, nil
}

func days(d time.Duration) string {
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
