package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lox/wandiforecast/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// syntheticDaily builds n rows of smooth, deterministic daily weather.
func syntheticDaily(t *testing.T, n int) *models.Table {
	t.Helper()
	ts := models.Daily.Range(epoch, n)
	cols := make(map[string][]float64)
	for _, f := range models.Features(models.Daily).Fields {
		cols[f] = make([]float64, n)
	}
	codes := []float64{0, 3, 61}
	for i := range ts {
		x := float64(i)
		mean := 12 + 6*math.Sin(2*math.Pi*x/365.25) + 2*math.Sin(2*math.Pi*x/7)
		wind := 15 + 3*math.Cos(x*0.5)
		cols["weather_code"][i] = codes[i%len(codes)]
		cols["temperature_2m_mean"][i] = mean
		cols["temperature_2m_max"][i] = mean + 5
		cols["temperature_2m_min"][i] = mean - 5
		cols["sunshine_duration"][i] = 30000 + 5000*math.Cos(2*math.Pi*x/365.25)
		cols["precipitation_sum"][i] = 2 + 2*math.Sin(x*0.9)
		cols["precipitation_hours"][i] = 3 + 2*math.Sin(x*0.9)
		cols["wind_speed_10m_max"][i] = wind
		cols["wind_gusts_10m_max"][i] = 1.8 * wind
		cols["wind_direction_10m_dominant"][i] = 180 + 40*math.Sin(x*0.3)
	}
	tbl := models.NewTable(models.TimeField, models.Daily, ts)
	for _, f := range models.Features(models.Daily).Fields {
		if err := tbl.Set(f, cols[f]); err != nil {
			t.Fatal(err)
		}
	}
	return tbl
}

func syntheticHourly(t *testing.T, n int) *models.Table {
	t.Helper()
	ts := models.Hourly.Range(epoch, n)
	tbl := models.NewTable(models.TimeField, models.Hourly, ts)
	for j, f := range models.Features(models.Hourly).Fields {
		v := make([]float64, n)
		for i := range v {
			x := float64(i)
			v[i] = 10*float64(j+1) + 3*math.Sin(2*math.Pi*x/24) + 0.5*math.Cos(x*0.07)
		}
		if err := tbl.Set(f, v); err != nil {
			t.Fatal(err)
		}
	}
	return tbl
}

func TestFitAdditive(t *testing.T) {
	tests := []struct {
		name string
		f    func(i int, day float64) float64
		tol  float64
	}{
		{
			name: "linear trend",
			f:    func(i int, _ float64) float64 { return 2 + 0.5*float64(i) },
			tol:  0.01,
		},
		{
			name: "weekly cycle",
			f:    func(_ int, day float64) float64 { return 10 + 3*math.Sin(2*math.Pi*day/7) },
			tol:  0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := models.Daily.Range(epoch, 63)
			y := make([]float64, len(all))
			for i, ts := range all {
				y[i] = tt.f(i, float64(ts.Unix())/86400)
			}
			fit, err := FitAdditive(all[:56], y[:56], nil)
			if err != nil {
				t.Fatalf("FitAdditive() error = %v", err)
			}
			got, err := fit.Predict(all[56:], nil)
			if err != nil {
				t.Fatalf("Predict() error = %v", err)
			}
			for i, v := range got {
				if want := y[56+i]; math.Abs(v-want) > tt.tol {
					t.Errorf("yhat[%d] = %.4f, want %.4f", i, v, want)
				}
			}
		})
	}
}

func TestFitAdditiveCovariate(t *testing.T) {
	all := models.Daily.Range(epoch, 35)
	x := make([]float64, len(all))
	y := make([]float64, len(all))
	for i := range all {
		x[i] = 5 * math.Sin(float64(i)*1.3)
		y[i] = 1 + 3*x[i]
	}
	fit, err := FitAdditive(all[:30], y[:30], [][]float64{x[:30]})
	if err != nil {
		t.Fatalf("FitAdditive() error = %v", err)
	}
	got, err := fit.Predict(all[30:], [][]float64{x[30:]})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	for i, v := range got {
		if want := y[30+i]; math.Abs(v-want) > 0.1 {
			t.Errorf("yhat[%d] = %.4f, want %.4f", i, v, want)
		}
	}

	if _, err := fit.Predict(all[30:], nil); err == nil {
		t.Error("Predict() without covariates should fail")
	}
}

func TestFitAdditiveInsufficient(t *testing.T) {
	ts := models.Daily.Range(epoch, 3)
	_, err := FitAdditive(ts, []float64{math.NaN(), 4, math.NaN()}, nil)
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("FitAdditive() error = %v, want ErrInsufficientData", err)
	}

	if _, err := FitAdditive(ts, []float64{1, 2, 3}, nil); err != nil {
		t.Errorf("FitAdditive() with 3 points error = %v", err)
	}
}

func TestModelPredictDaily(t *testing.T) {
	history := syntheticDaily(t, 100)
	fs := models.Features(models.Daily)
	m, err := NewModel(history, models.Daily, fs.Regressors, WithExcluded(models.ConditionField), WithWorkers(2))
	if err != nil {
		t.Fatalf("NewModel() error = %v", err)
	}

	start := history.Timestamps[80]
	fc, err := m.Predict(context.Background(), 7, start, DailyTrainSize(7))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if fc.Len() != 7 {
		t.Fatalf("rows = %d, want 7", fc.Len())
	}
	for i, ts := range fc.Timestamps {
		if want := start.AddDate(0, 0, i); !ts.Equal(want) {
			t.Errorf("ts[%d] = %v, want %v", i, ts, want)
		}
	}
	if fc.Has(models.ConditionField) {
		t.Error("excluded field was forecast")
	}
	if got, want := len(fc.Fields()), len(fs.Fields)-1; got != want {
		t.Errorf("fields = %d, want %d", got, want)
	}
	for _, f := range fc.Fields() {
		for i, v := range fc.Column(f) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%s[%d] = %v", f, i, v)
			}
		}
	}

	// The max temperature tracks the mean it is offset from.
	mean := fc.Column("temperature_2m_mean")
	max := fc.Column("temperature_2m_max")
	for i := range mean {
		if d := max[i] - mean[i]; math.Abs(d-5) > 1.5 {
			t.Errorf("max-mean[%d] = %.2f, want about 5", i, d)
		}
	}
}

func TestModelPredictHourly(t *testing.T) {
	history := syntheticHourly(t, 1100)
	fs := models.Features(models.Hourly)
	m, err := NewModel(history, models.Hourly, fs.Regressors)
	if err != nil {
		t.Fatalf("NewModel() error = %v", err)
	}
	start := history.Timestamps[1050]
	fc, err := m.Predict(context.Background(), 48, start, HourlyTrainSize)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if fc.Len() != 48 {
		t.Fatalf("rows = %d, want 48", fc.Len())
	}
	if !fc.Timestamps[47].Equal(start.Add(47 * time.Hour)) {
		t.Errorf("last ts = %v", fc.Timestamps[47])
	}
	if len(fc.Fields()) != len(fs.Fields) {
		t.Errorf("fields = %v", fc.Fields())
	}
}

func TestModelPredictErrors(t *testing.T) {
	history := syntheticDaily(t, 60)
	ctx := context.Background()

	if _, err := NewModel(history, models.Daily, []string{"dew_point"}); !errors.Is(err, models.ErrSchema) {
		t.Errorf("NewModel() error = %v, want ErrSchema", err)
	}

	m, err := NewModel(history, models.Daily, models.Features(models.Daily).Regressors)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		periods int
		start   time.Time
		window  int
		want    error
	}{
		{"zero periods", 0, history.Timestamps[50], 30, models.ErrInvalidRequest},
		{"negative periods", -3, history.Timestamps[50], 30, models.ErrInvalidRequest},
		{"zero window", 5, history.Timestamps[50], 0, models.ErrInvalidRequest},
		{"window before history", 5, history.Timestamps[0], 30, models.ErrInsufficientData},
		{"one training row", 5, history.Timestamps[1], 30, models.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Predict(ctx, tt.periods, tt.start, tt.window)
			if !errors.Is(err, tt.want) {
				t.Errorf("Predict() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestModelPredictCancelled(t *testing.T) {
	history := syntheticDaily(t, 60)
	m, err := NewModel(history, models.Daily, models.Features(models.Daily).Regressors)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Predict(ctx, 5, history.Timestamps[50], 30); !errors.Is(err, context.Canceled) {
		t.Errorf("Predict() error = %v, want context.Canceled", err)
	}
}

func TestDailyTrainSize(t *testing.T) {
	tests := []struct {
		period int
		want   int
	}{
		{7, 58},
		{30, 265},
		{1, MinDailyTrainSize},
		{0, MinDailyTrainSize},
		{20000, 79995},
	}
	for _, tt := range tests {
		if got := DailyTrainSize(tt.period); got != tt.want {
			t.Errorf("DailyTrainSize(%d) = %d, want %d", tt.period, got, tt.want)
		}
	}
	if TrainSize(models.Hourly, 48) != HourlyTrainSize {
		t.Error("hourly train size should be fixed")
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	from, to := TrainingWindow(start, 58, models.Daily)
	if !from.Equal(time.Date(2023, 11, 4, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("TrainingWindow = %v..%v", from, to)
	}
}
