package condition

import (
	"fmt"
	"log"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/wandiforecast/internal/models"
)

const (
	// regularization is the inverse L2 strength.
	regularization = 1.0
	maxIterations  = 100
)

// Scaler standardizes features to zero mean and unit population variance.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler learns per-column statistics from rows of X.
func FitScaler(X [][]float64) Scaler {
	if len(X) == 0 {
		return Scaler{}
	}
	d := len(X[0])
	s := Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)
		if s.Scale[j] == 0 || math.IsNaN(s.Scale[j]) {
			s.Scale[j] = 1
		}
	}
	return s
}

// Transform returns a standardized copy of row.
func (s Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// Classifier is a multinomial logistic regression over standardized inputs.
type Classifier struct {
	scaler  Scaler
	classes []models.Condition
	dims    int
	// weights holds one row of dims coefficients plus an intercept per class.
	weights []float64
}

// FitClassifier trains on rows of X labelled y. With a single observed
// category the classifier always predicts it.
func FitClassifier(X [][]float64, y []models.Condition) (*Classifier, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("classifier: %d rows for %d labels", len(X), len(y))
	}
	if len(X) == 0 {
		return nil, &models.InsufficientDataError{Field: models.ConditionField, Have: 0, Need: 1}
	}

	c := &Classifier{scaler: FitScaler(X), dims: len(X[0])}
	for _, label := range y {
		if !slices.Contains(c.classes, label) {
			c.classes = append(c.classes, label)
		}
	}
	slices.Sort(c.classes)
	if len(c.classes) == 1 {
		return c, nil
	}

	index := make(map[models.Condition]int, len(c.classes))
	for k, cl := range c.classes {
		index[cl] = k
	}
	Z := make([][]float64, len(X))
	target := make([]int, len(X))
	for i, row := range X {
		Z[i] = append(c.scaler.Transform(row), 1)
		target[i] = index[y[i]]
	}

	k, w := len(c.classes), c.dims+1
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return c.loss(x, Z, target, nil)
		},
		Grad: func(grad, x []float64) {
			c.loss(x, Z, target, grad)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-5,
		MajorIterations:   maxIterations,
	}
	result, err := optimize.Minimize(problem, make([]float64, k*w), settings, &optimize.LBFGS{})
	if result == nil || !finite(result.X) {
		return nil, fmt.Errorf("classifier: optimize: %v", err)
	}
	if err != nil {
		log.Printf("condition: optimizer stopped early (%v), using last iterate", err)
	}
	c.weights = result.X
	return c, nil
}

// loss is the regularized multinomial negative log-likelihood. When grad is
// non-nil it is filled with the gradient.
func (c *Classifier) loss(x []float64, Z [][]float64, target []int, grad []float64) float64 {
	k, w := len(c.classes), c.dims+1
	if grad != nil {
		for i := range grad {
			grad[i] = 0
		}
	}
	scores := make([]float64, k)
	var total float64
	for i, z := range Z {
		for cl := 0; cl < k; cl++ {
			scores[cl] = floats.Dot(x[cl*w:(cl+1)*w], z)
		}
		lse := floats.LogSumExp(scores)
		total += lse - scores[target[i]]
		if grad == nil {
			continue
		}
		for cl := 0; cl < k; cl++ {
			p := math.Exp(scores[cl] - lse)
			if cl == target[i] {
				p--
			}
			floats.AddScaled(grad[cl*w:(cl+1)*w], p, z)
		}
	}
	for cl := 0; cl < k; cl++ {
		for j := 0; j < c.dims; j++ {
			v := x[cl*w+j]
			total += 0.5 * v * v / regularization
			if grad != nil {
				grad[cl*w+j] += v / regularization
			}
		}
	}
	return total
}

// Predict returns the most probable category for each row.
func (c *Classifier) Predict(X [][]float64) ([]models.Condition, error) {
	out := make([]models.Condition, len(X))
	if len(c.classes) == 1 {
		for i := range out {
			out[i] = c.classes[0]
		}
		return out, nil
	}
	w := c.dims + 1
	for i, row := range X {
		if len(row) != c.dims {
			return nil, fmt.Errorf("classifier: row %d has %d inputs, want %d", i, len(row), c.dims)
		}
		z := append(c.scaler.Transform(row), 1)
		best, bestScore := 0, math.Inf(-1)
		for cl := range c.classes {
			if s := floats.Dot(c.weights[cl*w:(cl+1)*w], z); s > bestScore {
				best, bestScore = cl, s
			}
		}
		out[i] = c.classes[best]
	}
	return out, nil
}

// Classify trains on history's inputs and normalized codeField, then
// predicts a category for every row of future. History rows with a missing
// input are ignored.
func Classify(history, future *models.Table, inputs []string, codeField string) ([]models.Condition, error) {
	if !history.Has(codeField) {
		return nil, &models.SchemaError{Field: codeField}
	}
	for _, f := range inputs {
		if !history.Has(f) {
			return nil, &models.SchemaError{Field: f}
		}
		if !future.Has(f) {
			return nil, &models.SchemaError{Field: f}
		}
	}

	labels := Normalize(history.Column(codeField))
	var X [][]float64
	var y []models.Condition
	for i := 0; i < history.Len(); i++ {
		row, ok := rowOf(history, inputs, i)
		if !ok {
			continue
		}
		X = append(X, row)
		y = append(y, labels[i])
	}

	clf, err := FitClassifier(X, y)
	if err != nil {
		return nil, err
	}

	futureX := make([][]float64, future.Len())
	for i := range futureX {
		futureX[i], _ = rowOf(future, inputs, i)
	}
	return clf.Predict(futureX)
}

func rowOf(t *models.Table, fields []string, i int) ([]float64, bool) {
	row := make([]float64, len(fields))
	ok := true
	for j, f := range fields {
		row[j] = t.Column(f)[i]
		if math.IsNaN(row[j]) {
			ok = false
		}
	}
	return row, ok
}

func finite(x []float64) bool {
	if len(x) == 0 {
		return false
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
