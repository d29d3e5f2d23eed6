package forecast

import (
	"encoding/json"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FieldMetrics summarizes forecast error for one field. Percentage errors
// ignore points where the actual value is zero and are NaN when none remain.
type FieldMetrics struct {
	MSE    float64
	RMSE   float64
	MAE    float64
	MAPE   float64
	MdAPE  float64
	SMAPE  float64
	Points int
}

// Score computes FieldMetrics for paired actual and predicted values.
func Score(actual, predicted []float64) FieldMetrics {
	n := min(len(actual), len(predicted))
	if n == 0 {
		nan := math.NaN()
		return FieldMetrics{MSE: nan, RMSE: nan, MAE: nan, MAPE: nan, MdAPE: nan, SMAPE: nan}
	}

	errs := make([]float64, n)
	floats.SubTo(errs, predicted[:n], actual[:n])

	abs := make([]float64, n)
	sq := make([]float64, n)
	var pct, sym []float64
	for i, e := range errs {
		abs[i] = math.Abs(e)
		sq[i] = e * e
		if actual[i] != 0 {
			pct = append(pct, abs[i]/math.Abs(actual[i]))
		}
		if denom := (math.Abs(actual[i]) + math.Abs(predicted[i])) / 2; denom != 0 {
			sym = append(sym, abs[i]/denom)
		} else {
			sym = append(sym, 0)
		}
	}

	m := FieldMetrics{
		MSE:    stat.Mean(sq, nil),
		MAE:    stat.Mean(abs, nil),
		SMAPE:  stat.Mean(sym, nil),
		MAPE:   math.NaN(),
		MdAPE:  math.NaN(),
		Points: n,
	}
	m.RMSE = math.Sqrt(m.MSE)
	if len(pct) > 0 {
		m.MAPE = stat.Mean(pct, nil)
		sort.Float64s(pct)
		m.MdAPE = stat.Quantile(0.5, stat.Empirical, pct, nil)
	}
	return m
}

// MeanAbsoluteError is the mean of |predicted - actual|.
func MeanAbsoluteError(actual, predicted []float64) float64 {
	return Score(actual, predicted).MAE
}

func (m FieldMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"mse":    jsonFloat(m.MSE),
		"rmse":   jsonFloat(m.RMSE),
		"mae":    jsonFloat(m.MAE),
		"mape":   jsonFloat(m.MAPE),
		"mdape":  jsonFloat(m.MdAPE),
		"smape":  jsonFloat(m.SMAPE),
		"points": m.Points,
	})
}

func jsonFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
