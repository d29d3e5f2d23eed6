// Package pipeline turns forecast requests into fetched history, trained
// models and predicted-versus-actual tables.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/wandiforecast/internal/condition"
	"github.com/lox/wandiforecast/internal/forecast"
	"github.com/lox/wandiforecast/internal/metrics"
	"github.com/lox/wandiforecast/internal/models"
	"github.com/lox/wandiforecast/internal/prepare"
)

// Fetcher supplies raw observation tables for an inclusive date range.
type Fetcher interface {
	Fetch(ctx context.Context, loc models.Location, start, end time.Time, g models.Granularity) (*models.Table, error)
}

// Pipeline holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	fetcher Fetcher
	workers int
}

type Option func(*Pipeline)

// WithWorkers bounds concurrent model fits per stage.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

func New(fetcher Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{fetcher: fetcher}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Result is the outcome of one forecast request.
type Result struct {
	Query    models.Query
	History  *models.Table
	Forecast *models.Table
	Actual   *models.Table
	// Comparison is the mean absolute error per field between Forecast and
	// Actual on shared timestamps.
	Comparison map[string]float64
	// ConditionAccuracy is the share of shared rows whose predicted
	// condition matches the observed one, or NaN with no shared rows.
	ConditionAccuracy float64
}

// Forecast validates req and runs it.
func (p *Pipeline) Forecast(ctx context.Context, req models.Request) (*Result, error) {
	q, err := req.Parse()
	if err != nil {
		metrics.ForecastsTotal.WithLabelValues("unknown", "invalid").Inc()
		return nil, err
	}
	return p.ForecastQuery(ctx, q)
}

// ForecastQuery forecasts every day (or hour) from q.Start up to, but not
// including, q.End and fetches the matching observations.
func (p *Pipeline) ForecastQuery(ctx context.Context, q models.Query) (*Result, error) {
	res, err := p.forecastQuery(ctx, q)
	status := "ok"
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		status = "invalid"
	case err != nil:
		status = "error"
	}
	metrics.ForecastsTotal.WithLabelValues(q.Granularity.Param(), status).Inc()
	return res, err
}

func (p *Pipeline) forecastQuery(ctx context.Context, q models.Query) (*Result, error) {
	if q.Start.After(q.End) {
		q.Start, q.End = q.End, q.Start
	}
	distance := q.Days()
	if distance <= 0 {
		return nil, models.InvalidRequest("from and to must be at least one day apart")
	}

	g := q.Granularity
	fs := models.Features(g)
	periods := distance
	if g == models.Hourly {
		periods = distance * 24
	}
	trainSize := forecast.TrainSize(g, distance)
	historyFrom, historyTo := HistoryRange(q.Start, trainSize, g)
	actualTo := q.Start.AddDate(0, 0, distance-1)

	log.Printf("pipeline: %s forecast for %s from %s, %d steps, training on %s..%s",
		g.Param(), q.Location, q.Start.Format(models.DateLayout), periods,
		historyFrom.Format(models.DateLayout), historyTo.Format(models.DateLayout))

	var raw, actual *models.Table
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		raw, err = p.fetcher.Fetch(egctx, q.Location, historyFrom, historyTo, g)
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		actual, err = p.fetcher.Fetch(egctx, q.Location, q.Start, actualTo, g)
		if err != nil {
			return fmt.Errorf("fetch actual: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	history, err := prepare.Prepare(raw, fs.Discrete)
	if err != nil {
		return nil, fmt.Errorf("prepare history: %w", err)
	}

	model, err := forecast.NewModel(history, g, fs.Regressors, p.modelOptions()...)
	if err != nil {
		return nil, err
	}
	fc, err := model.Predict(ctx, periods, q.Start, trainSize)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	fc.Conditions, err = condition.Classify(history, fc, fs.ConditionInputs, models.ConditionField)
	if err != nil {
		return nil, fmt.Errorf("classify conditions: %w", err)
	}

	actual.TimeField = models.TimeField
	if actual.Has(models.ConditionField) {
		actual.Conditions = condition.Normalize(actual.Column(models.ConditionField))
	}

	comparison, accuracy := Compare(fc, actual)
	return &Result{
		Query:             q,
		History:           history,
		Forecast:          fc,
		Actual:            actual,
		Comparison:        comparison,
		ConditionAccuracy: accuracy,
	}, nil
}

// HistoryRange returns the inclusive date range to fetch for a training
// window of size units ending the day before start. Hourly windows are
// rounded out to whole days.
func HistoryRange(start time.Time, size int, g models.Granularity) (from, to time.Time) {
	days := size
	if g == models.Hourly {
		days = (size + 23) / 24
	}
	return start.AddDate(0, 0, -days), start.AddDate(0, 0, -1)
}

// Compare scores fc against observed on the timestamps both carry.
// Missing observations are skipped.
func Compare(fc, observed *models.Table) (map[string]float64, float64) {
	rows := make([][2]int, 0, fc.Len())
	for i, ts := range fc.Timestamps {
		j := observed.Index(ts)
		if j < observed.Len() && observed.Timestamps[j].Equal(ts) {
			rows = append(rows, [2]int{i, j})
		}
	}

	out := make(map[string]float64)
	for _, f := range fc.Fields() {
		if !observed.Has(f) {
			continue
		}
		var obs, pred []float64
		for _, r := range rows {
			if v := observed.Column(f)[r[1]]; !math.IsNaN(v) {
				obs = append(obs, v)
				pred = append(pred, fc.Column(f)[r[0]])
			}
		}
		if len(obs) > 0 {
			out[f] = forecast.MeanAbsoluteError(obs, pred)
		}
	}

	accuracy := math.NaN()
	if fc.Conditions != nil && observed.Conditions != nil && len(rows) > 0 {
		hits := 0
		for _, r := range rows {
			if fc.Conditions[r[0]] == observed.Conditions[r[1]] {
				hits++
			}
		}
		accuracy = float64(hits) / float64(len(rows))
	}
	return out, accuracy
}

func (p *Pipeline) modelOptions() []forecast.Option {
	opts := []forecast.Option{forecast.WithExcluded(models.ConditionField)}
	if p.workers > 0 {
		opts = append(opts, forecast.WithWorkers(p.workers))
	}
	return opts
}
