package forecast

import (
	"time"

	"github.com/lox/wandiforecast/internal/models"
)

const (
	// MinDailyTrainSize is the smallest daily training window, in days.
	MinDailyTrainSize = 14
	// HourlyTrainSize is the fixed hourly training window, in hours.
	HourlyTrainSize = 1000

	maxDailyTrainSize = 100000
)

// DailyTrainSize is the training window, in days, used for a daily horizon
// of period days.
func DailyTrainSize(period int) int {
	n := (9*period - 5) % maxDailyTrainSize
	if n < MinDailyTrainSize {
		n = MinDailyTrainSize
	}
	return n
}

// TrainSize returns the training window in units of g for a horizon of
// period units.
func TrainSize(g models.Granularity, period int) int {
	if g == models.Hourly {
		return HourlyTrainSize
	}
	return DailyTrainSize(period)
}

// TrainingWindow returns the inclusive range [start - size units, start - 1 unit].
func TrainingWindow(start time.Time, size int, g models.Granularity) (from, to time.Time) {
	return g.Step(start, -size), g.Step(start, -1)
}
