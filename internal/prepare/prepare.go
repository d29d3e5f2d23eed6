// Package prepare cleans raw observation tables before model fitting.
package prepare

import (
	"math"

	"github.com/lox/wandiforecast/internal/models"
)

// Prepare returns a copy of t with the time field renamed to "ds", rows
// missing any discrete field removed, and remaining gaps in the other fields
// linearly interpolated against time. Leading and trailing gaps take the
// nearest valid value. The input table is not modified.
func Prepare(t *models.Table, discrete []string) (*models.Table, error) {
	for _, f := range discrete {
		if !t.Has(f) {
			return nil, &models.SchemaError{Field: f}
		}
	}

	out := t.Filter(func(i int) bool {
		for _, f := range discrete {
			if math.IsNaN(t.Column(f)[i]) {
				return false
			}
		}
		return true
	})
	out.TimeField = models.TimeField

	if out.Len() == 0 {
		return out, nil
	}

	isDiscrete := make(map[string]bool, len(discrete))
	for _, f := range discrete {
		isDiscrete[f] = true
	}
	x := timeAxis(out)
	for _, f := range out.Fields() {
		if isDiscrete[f] {
			continue
		}
		if !Interpolate(x, out.Column(f)) {
			return nil, &models.InsufficientDataError{Field: f, Have: 0, Need: 1}
		}
	}
	return out, nil
}

// Interpolate fills NaN entries of y in place by linear interpolation over x.
// Entries before the first or after the last valid point take that point's
// value. It returns false when y has no valid point at all.
func Interpolate(x, y []float64) bool {
	prev := -1
	for i, v := range y {
		if math.IsNaN(v) {
			continue
		}
		switch {
		case prev == -1:
			for k := 0; k < i; k++ {
				y[k] = v
			}
		case i-prev > 1:
			x0, y0 := x[prev], y[prev]
			slope := (v - y0) / (x[i] - x0)
			for k := prev + 1; k < i; k++ {
				y[k] = y0 + slope*(x[k]-x0)
			}
		}
		prev = i
	}
	if prev == -1 {
		return len(y) == 0
	}
	for k := prev + 1; k < len(y); k++ {
		y[k] = y[prev]
	}
	return true
}

func timeAxis(t *models.Table) []float64 {
	x := make([]float64, t.Len())
	if t.Len() == 0 {
		return x
	}
	origin := t.Timestamps[0]
	for i, ts := range t.Timestamps {
		x[i] = ts.Sub(origin).Hours()
	}
	return x
}
