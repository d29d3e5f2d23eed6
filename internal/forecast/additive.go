package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/wandiforecast/internal/models"
)

// MinFitPoints is the fewest non-missing observations a series needs.
const MinFitPoints = 2

const (
	maxChangepoints  = 25
	changepointRange = 0.8

	// Ridge penalties, in units of the scaled series.
	penaltyTrend       = 1e-6
	penaltyChangepoint = 10
	penaltySeasonality = 1e-3
	penaltyCovariate   = 1e-3
)

type seasonality struct {
	name   string
	period float64 // days
	order  int
}

var (
	yearly = seasonality{name: "yearly", period: 365.25, order: 10}
	weekly = seasonality{name: "weekly", period: 7, order: 3}
	daily  = seasonality{name: "daily", period: 1, order: 4}
)

// Additive is a decomposable series model: a piecewise-linear trend plus
// Fourier seasonalities plus linear terms for standardized covariates,
// fitted by ridge regression.
type Additive struct {
	origin        time.Time
	span          float64 // hours covered by the fit
	changepoints  []float64
	seasonalities []seasonality
	yScale        float64
	covMean       []float64
	covStd        []float64
	beta          []float64
}

// FitAdditive fits a model to y observed at ts. Each entry of covariates is
// one external regressor aligned with ts. NaN observations are skipped.
func FitAdditive(ts []time.Time, y []float64, covariates [][]float64) (*Additive, error) {
	if len(ts) != len(y) {
		return nil, fmt.Errorf("fit: %d timestamps for %d values", len(ts), len(y))
	}
	for i, c := range covariates {
		if len(c) != len(ts) {
			return nil, fmt.Errorf("fit: covariate %d has %d values for %d rows", i, len(c), len(ts))
		}
	}

	var rows []int
	for i, v := range y {
		if math.IsNaN(v) {
			continue
		}
		skip := false
		for _, c := range covariates {
			if math.IsNaN(c[i]) {
				skip = true
				break
			}
		}
		if !skip {
			rows = append(rows, i)
		}
	}
	if len(rows) < MinFitPoints {
		return nil, &models.InsufficientDataError{Have: len(rows), Need: MinFitPoints}
	}

	m := &Additive{origin: ts[rows[0]]}
	m.span = ts[rows[len(rows)-1]].Sub(m.origin).Hours()
	if m.span <= 0 {
		m.span = 1
	}

	minStep := math.Inf(1)
	for k := 1; k < len(rows); k++ {
		minStep = math.Min(minStep, ts[rows[k]].Sub(ts[rows[k-1]]).Hours())
	}
	spanDays := m.span / 24
	if spanDays >= 730 {
		m.seasonalities = append(m.seasonalities, yearly)
	}
	if spanDays >= 14 && minStep < 7*24 {
		m.seasonalities = append(m.seasonalities, weekly)
	}
	if spanDays >= 2 && minStep < 24 {
		m.seasonalities = append(m.seasonalities, daily)
	}

	nCp := min(maxChangepoints, int(float64(len(rows))*changepointRange)-1)
	for k := 1; k <= nCp; k++ {
		m.changepoints = append(m.changepoints, changepointRange*float64(k)/float64(nCp+1))
	}

	m.yScale = 0
	for _, i := range rows {
		m.yScale = math.Max(m.yScale, math.Abs(y[i]))
	}
	if m.yScale == 0 {
		m.yScale = 1
	}

	m.covMean = make([]float64, len(covariates))
	m.covStd = make([]float64, len(covariates))
	for j, c := range covariates {
		vals := make([]float64, len(rows))
		for k, i := range rows {
			vals[k] = c[i]
		}
		mean, std := stat.MeanStdDev(vals, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		m.covMean[j], m.covStd[j] = mean, std
	}

	fitTS := make([]time.Time, len(rows))
	target := mat.NewVecDense(len(rows), nil)
	fitCov := make([][]float64, len(covariates))
	for j := range fitCov {
		fitCov[j] = make([]float64, len(rows))
	}
	for k, i := range rows {
		fitTS[k] = ts[i]
		target.SetVec(k, y[i]/m.yScale)
		for j, c := range covariates {
			fitCov[j][k] = c[i]
		}
	}

	X := m.design(fitTS, fitCov)
	_, p := X.Dims()

	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, X.T())
	for j, pen := range m.penalties() {
		gram.SetSym(j, j, gram.At(j, j)+pen)
	}
	var rhs mat.VecDense
	rhs.MulVec(X.T(), target)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, errors.New("fit: normal equations not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("fit: solve: %w", err)
		}
	}
	m.beta = make([]float64, p)
	for j := range m.beta {
		m.beta[j] = beta.AtVec(j)
	}
	return m, nil
}

// Predict evaluates the model at ts with the given covariate values.
func (m *Additive) Predict(ts []time.Time, covariates [][]float64) ([]float64, error) {
	if len(covariates) != len(m.covMean) {
		return nil, fmt.Errorf("predict: got %d covariates, fitted with %d", len(covariates), len(m.covMean))
	}
	for i, c := range covariates {
		if len(c) != len(ts) {
			return nil, fmt.Errorf("predict: covariate %d has %d values for %d rows", i, len(c), len(ts))
		}
	}
	if len(ts) == 0 {
		return nil, nil
	}
	X := m.design(ts, covariates)
	var yhat mat.VecDense
	yhat.MulVec(X, mat.NewVecDense(len(m.beta), m.beta))
	out := make([]float64, len(ts))
	for i := range out {
		out[i] = yhat.AtVec(i) * m.yScale
	}
	return out, nil
}

// Columns: intercept, slope, changepoint hinges, Fourier terms, covariates.
func (m *Additive) width() int {
	p := 2 + len(m.changepoints) + len(m.covMean)
	for _, s := range m.seasonalities {
		p += 2 * s.order
	}
	return p
}

func (m *Additive) penalties() []float64 {
	pen := make([]float64, 0, m.width())
	pen = append(pen, 0, penaltyTrend)
	for range m.changepoints {
		pen = append(pen, penaltyChangepoint)
	}
	for _, s := range m.seasonalities {
		for k := 0; k < 2*s.order; k++ {
			pen = append(pen, penaltySeasonality)
		}
	}
	for range m.covMean {
		pen = append(pen, penaltyCovariate)
	}
	return pen
}

func (m *Additive) design(ts []time.Time, covariates [][]float64) *mat.Dense {
	p := m.width()
	data := make([]float64, 0, len(ts)*p)
	for i, t := range ts {
		scaled := t.Sub(m.origin).Hours() / m.span
		data = append(data, 1, scaled)
		for _, c := range m.changepoints {
			data = append(data, math.Max(0, scaled-c))
		}
		days := float64(t.Unix()) / 86400
		for _, s := range m.seasonalities {
			for k := 1; k <= s.order; k++ {
				arg := 2 * math.Pi * float64(k) * days / s.period
				data = append(data, math.Sin(arg), math.Cos(arg))
			}
		}
		for j, c := range covariates {
			data = append(data, (c[i]-m.covMean[j])/m.covStd[j])
		}
	}
	return mat.NewDense(len(ts), p, data)
}
