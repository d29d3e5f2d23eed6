package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lox/wandiforecast/internal/forecast"
	"github.com/lox/wandiforecast/internal/metrics"
	"github.com/lox/wandiforecast/internal/models"
)

type fetchCall struct {
	start, end time.Time
	g          models.Granularity
}

// stubFetcher returns deterministic synthetic weather for any range.
type stubFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
	err   error
}

func (s *stubFetcher) Fetch(_ context.Context, _ models.Location, start, end time.Time, g models.Granularity) (*models.Table, error) {
	s.mu.Lock()
	s.calls = append(s.calls, fetchCall{start, end, g})
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	n := int(end.Sub(start).Hours()/24) + 1
	if g == models.Hourly {
		n *= 24
	}
	ts := g.Range(start, n)
	table := models.NewTable(models.RawTimeField, g, ts)
	for _, f := range models.Features(g).Fields {
		col := make([]float64, n)
		for i, t := range ts {
			col[i] = synthetic(f, t)
		}
		if err := table.Set(f, col); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func synthetic(field string, t time.Time) float64 {
	d := float64(t.Unix()) / 86400
	temp := 10 + 8*math.Sin(2*math.Pi*d/365.25) + 3*math.Sin(2*math.Pi*d/7)
	rain := 2 + 2*math.Sin(d*0.9)
	switch field {
	case "weather_code":
		switch {
		case temp < 4:
			return 71
		case rain > 3:
			return 61
		default:
			return 0
		}
	case "temperature_2m_mean", "temperature_2m":
		return temp
	case "temperature_2m_max":
		return temp + 5
	case "temperature_2m_min":
		return temp - 5
	case "precipitation_sum", "precipitation":
		return rain
	case "precipitation_hours":
		return 2 * rain
	case "wind_direction_10m_dominant", "wind_direction_10m":
		return 200 + 30*math.Sin(d*0.3)
	default:
		return 20 + 5*math.Cos(d*0.5)
	}
}

func (s *stubFetcher) call(i int) fetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func date(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestForecastDaily(t *testing.T) {
	fetcher := &stubFetcher{}
	p := New(fetcher, WithWorkers(2))

	res, err := p.Forecast(context.Background(), models.Request{
		Latitude: 50.45, Longitude: 30.52, From: "2024-01-01", To: "2024-01-08", Type: "Daily",
	})
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}

	if res.Forecast.Len() != 7 {
		t.Fatalf("forecast rows = %d, want 7", res.Forecast.Len())
	}
	if !res.Forecast.Timestamps[0].Equal(date("2024-01-01")) || !res.Forecast.Timestamps[6].Equal(date("2024-01-07")) {
		t.Errorf("forecast range = %v..%v", res.Forecast.Timestamps[0], res.Forecast.Timestamps[6])
	}
	if res.Actual.Len() != 7 || !res.Actual.Timestamps[6].Equal(date("2024-01-07")) {
		t.Errorf("actual rows = %d", res.Actual.Len())
	}
	if len(res.Forecast.Conditions) != 7 {
		t.Fatalf("conditions = %d, want 7", len(res.Forecast.Conditions))
	}
	valid := make(map[models.Condition]bool)
	for _, c := range models.Conditions {
		valid[c] = true
	}
	for i, c := range res.Forecast.Conditions {
		if !valid[c] {
			t.Errorf("condition[%d] = %q not in vocabulary", i, c)
		}
	}
	if len(res.Actual.Conditions) != 7 {
		t.Errorf("actual conditions = %d, want 7", len(res.Actual.Conditions))
	}
	for _, f := range models.Features(models.Daily).Fields {
		if f == models.ConditionField {
			continue
		}
		if !res.Forecast.Has(f) {
			t.Errorf("forecast missing %s", f)
		}
		if _, ok := res.Comparison[f]; !ok {
			t.Errorf("comparison missing %s", f)
		}
	}

	// Training history: 58 days ending the day before the forecast starts.
	var history *fetchCall
	for i := range fetcher.calls {
		c := fetcher.call(i)
		if c.end.Equal(date("2023-12-31")) {
			history = &c
		}
	}
	if history == nil {
		t.Fatal("no history fetch ending 2023-12-31")
	}
	if !history.start.Equal(date("2023-11-04")) {
		t.Errorf("history start = %v, want 2023-11-04", history.start)
	}
}

func TestForecastSwapsDates(t *testing.T) {
	p := New(&stubFetcher{})
	ctx := context.Background()

	a, err := p.Forecast(ctx, models.Request{From: "2024-01-01", To: "2024-01-05", Type: "Daily"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Forecast(ctx, models.Request{From: "2024-01-05", To: "2024-01-01", Type: "Daily"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Forecast.Len() != b.Forecast.Len() {
		t.Fatalf("rows %d vs %d", a.Forecast.Len(), b.Forecast.Len())
	}
	for _, f := range a.Forecast.Fields() {
		for i := range a.Forecast.Column(f) {
			if a.Forecast.Column(f)[i] != b.Forecast.Column(f)[i] {
				t.Errorf("%s[%d] differs: %v vs %v", f, i, a.Forecast.Column(f)[i], b.Forecast.Column(f)[i])
			}
		}
	}
}

func TestForecastHourly(t *testing.T) {
	fetcher := &stubFetcher{}
	res, err := New(fetcher).Forecast(context.Background(), models.Request{
		From: "2024-03-01", To: "2024-03-03", Type: "Hourly",
	})
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if res.Forecast.Len() != 48 {
		t.Fatalf("forecast rows = %d, want 48", res.Forecast.Len())
	}
	if want := date("2024-03-02").Add(23 * time.Hour); !res.Forecast.Timestamps[47].Equal(want) {
		t.Errorf("last ts = %v, want %v", res.Forecast.Timestamps[47], want)
	}
	if res.Actual.Len() != 48 {
		t.Errorf("actual rows = %d, want 48", res.Actual.Len())
	}

	from, to := HistoryRange(date("2024-03-01"), forecast.HourlyTrainSize, models.Hourly)
	if !from.Equal(date("2024-01-19")) || !to.Equal(date("2024-02-29")) {
		t.Errorf("HistoryRange = %v..%v", from, to)
	}
}

func TestForecastErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     models.Request
		fetcher *stubFetcher
		want    error
	}{
		{
			name:    "unknown type",
			req:     models.Request{From: "2024-01-01", To: "2024-01-08", Type: "Monthly"},
			fetcher: &stubFetcher{},
			want:    models.ErrInvalidRequest,
		},
		{
			name:    "same day",
			req:     models.Request{From: "2024-01-01", To: "2024-01-01", Type: "Daily"},
			fetcher: &stubFetcher{},
			want:    models.ErrInvalidRequest,
		},
		{
			name:    "fetch failure",
			req:     models.Request{From: "2024-01-01", To: "2024-01-08", Type: "Daily"},
			fetcher: &stubFetcher{err: errBoom},
			want:    errBoom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fetcher).Forecast(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Forecast() error = %v, want %v", err, tt.want)
			}
		})
	}
}

var errBoom = errors.New("boom")

func TestForecastQueryCountsForecasts(t *testing.T) {
	counter := func(status string) float64 {
		return testutil.ToFloat64(metrics.ForecastsTotal.WithLabelValues("daily", status))
	}
	ok, invalid, failed := counter("ok"), counter("invalid"), counter("error")

	q, err := models.Request{From: "2024-01-01", To: "2024-01-08", Type: "Daily"}.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(&stubFetcher{}).ForecastQuery(context.Background(), q); err != nil {
		t.Fatalf("ForecastQuery() error = %v", err)
	}
	if _, err := New(&stubFetcher{err: errBoom}).ForecastQuery(context.Background(), q); !errors.Is(err, errBoom) {
		t.Fatalf("ForecastQuery() error = %v, want %v", err, errBoom)
	}
	q.End = q.Start
	if _, err := New(&stubFetcher{}).ForecastQuery(context.Background(), q); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("ForecastQuery() error = %v, want ErrInvalidRequest", err)
	}

	if got := counter("ok") - ok; got != 1 {
		t.Errorf("ok forecasts counted %v, want 1", got)
	}
	if got := counter("error") - failed; got != 1 {
		t.Errorf("failed forecasts counted %v, want 1", got)
	}
	if got := counter("invalid") - invalid; got != 1 {
		t.Errorf("invalid forecasts counted %v, want 1", got)
	}
}

func TestBacktest(t *testing.T) {
	p := New(&stubFetcher{})
	q := models.Query{Start: date("2023-01-01"), End: date("2023-08-08"), Granularity: models.Daily}

	mae, err := p.Backtest(context.Background(), q, 7)
	if err != nil {
		t.Fatalf("Backtest() error = %v", err)
	}
	if len(mae) == 0 {
		t.Fatal("Backtest() returned no metrics")
	}
	for f, v := range mae {
		if math.IsNaN(v) || v < 0 {
			t.Errorf("MAE[%s] = %v", f, v)
		}
	}

	short := models.Query{Start: date("2023-01-01"), End: date("2023-01-20"), Granularity: models.Daily}
	mae, err = p.Backtest(context.Background(), short, 7)
	if err != nil {
		t.Fatalf("Backtest() short error = %v", err)
	}
	if len(mae) != 0 {
		t.Errorf("Backtest() short = %v, want empty", mae)
	}
}

func TestValidate(t *testing.T) {
	p := New(&stubFetcher{})
	q := models.Query{Start: date("2022-01-01"), End: date("2023-06-30"), Granularity: models.Daily}
	cv := forecast.CrossValidation{
		Initial: 300 * 24 * time.Hour,
		Period:  60 * 24 * time.Hour,
		Horizon: 30 * 24 * time.Hour,
	}
	got, err := p.Validate(context.Background(), q, cv)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, ok := got["temperature_2m_mean"]; !ok {
		t.Errorf("Validate() = %v, missing temperature_2m_mean", got)
	}
	if _, ok := got[models.ConditionField]; ok {
		t.Error("condition codes should not be scored numerically")
	}
}

func TestCompare(t *testing.T) {
	ts := models.Daily.Range(date("2024-01-01"), 3)
	fc := models.NewTable(models.TimeField, models.Daily, ts)
	fc.Set("t", []float64{1, 2, 3})
	fc.Conditions = []models.Condition{models.ConditionClear, models.ConditionRain, models.ConditionRain}

	obs := models.NewTable(models.TimeField, models.Daily, ts[1:])
	obs.Set("t", []float64{4, math.NaN()})
	obs.Conditions = []models.Condition{models.ConditionRain, models.ConditionSnow}

	mae, acc := Compare(fc, obs)
	if mae["t"] != 2 {
		t.Errorf("MAE = %v, want 2", mae["t"])
	}
	if acc != 0.5 {
		t.Errorf("accuracy = %v, want 0.5", acc)
	}
}
