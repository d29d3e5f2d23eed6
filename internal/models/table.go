package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Table is a time-indexed set of float columns. Missing values are NaN.
// Conditions, when set, holds one weather category per row and is rendered
// under ConditionField.
type Table struct {
	TimeField   string
	Granularity Granularity
	Timestamps  []time.Time
	Conditions  []Condition

	fields  []string
	columns map[string][]float64
}

// NewTable creates a table over the given timestamps with no columns.
func NewTable(timeField string, g Granularity, timestamps []time.Time) *Table {
	return &Table{
		TimeField:   timeField,
		Granularity: g,
		Timestamps:  timestamps,
		columns:     make(map[string][]float64),
	}
}

// Len is the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Timestamps)
}

// Fields returns the column names in insertion order.
func (t *Table) Fields() []string {
	out := make([]string, len(t.fields))
	copy(out, t.fields)
	return out
}

// Has reports whether the table carries the named column.
func (t *Table) Has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns the named column, or nil if absent. The slice is shared.
func (t *Table) Column(name string) []float64 {
	return t.columns[name]
}

// Set adds or replaces a column. The values slice is retained.
func (t *Table) Set(name string, values []float64) error {
	if len(values) != len(t.Timestamps) {
		return fmt.Errorf("column %s: %d values for %d rows", name, len(values), len(t.Timestamps))
	}
	if _, ok := t.columns[name]; !ok {
		t.fields = append(t.fields, name)
	}
	t.columns[name] = values
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	return t.Slice(0, t.Len())
}

// Slice returns a deep copy of rows [i, j).
func (t *Table) Slice(i, j int) *Table {
	out := NewTable(t.TimeField, t.Granularity, append([]time.Time(nil), t.Timestamps[i:j]...))
	for _, f := range t.fields {
		out.fields = append(out.fields, f)
		out.columns[f] = append([]float64(nil), t.columns[f][i:j]...)
	}
	if t.Conditions != nil {
		out.Conditions = append([]Condition(nil), t.Conditions[i:j]...)
	}
	return out
}

// Between returns a copy of the rows with from <= ts <= to.
func (t *Table) Between(from, to time.Time) *Table {
	i := t.Index(from)
	j := i
	for j < t.Len() && !t.Timestamps[j].After(to) {
		j++
	}
	return t.Slice(i, j)
}

// Index returns the first row whose timestamp is not before ts.
func (t *Table) Index(ts time.Time) int {
	lo, hi := 0, t.Len()
	for lo < hi {
		mid := (lo + hi) / 2
		if t.Timestamps[mid].Before(ts) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Filter returns a copy holding only the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := NewTable(t.TimeField, t.Granularity, nil)
	var rows []int
	for i := range t.Timestamps {
		if keep(i) {
			rows = append(rows, i)
			out.Timestamps = append(out.Timestamps, t.Timestamps[i])
		}
	}
	for _, f := range t.fields {
		src := t.columns[f]
		dst := make([]float64, len(rows))
		for k, i := range rows {
			dst[k] = src[i]
		}
		out.fields = append(out.fields, f)
		out.columns[f] = dst
	}
	if t.Conditions != nil {
		out.Conditions = make([]Condition, len(rows))
		for k, i := range rows {
			out.Conditions[k] = t.Conditions[i]
		}
	}
	return out
}

// Validate checks that timestamps strictly increase and all columns match
// the row count.
func (t *Table) Validate() error {
	for i := 1; i < len(t.Timestamps); i++ {
		if !t.Timestamps[i].After(t.Timestamps[i-1]) {
			return fmt.Errorf("timestamps not strictly increasing at row %d (%s)", i, t.Timestamps[i].Format(time.RFC3339))
		}
	}
	for _, f := range t.fields {
		if len(t.columns[f]) != len(t.Timestamps) {
			return fmt.Errorf("column %s: %d values for %d rows", f, len(t.columns[f]), len(t.Timestamps))
		}
	}
	if t.Conditions != nil && len(t.Conditions) != len(t.Timestamps) {
		return fmt.Errorf("conditions: %d values for %d rows", len(t.Conditions), len(t.Timestamps))
	}
	return nil
}

// Row returns row i as a map keyed by field name. NaN values become nil and
// conditions replace the numeric ConditionField.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.fields)+1)
	name := t.TimeField
	if name == "" {
		name = TimeField
	}
	if t.Granularity == Hourly {
		row[name] = t.Timestamps[i].Format("2006-01-02T15:04")
	} else {
		row[name] = t.Timestamps[i].Format(DateLayout)
	}
	for _, f := range t.fields {
		v := t.columns[f][i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			row[f] = nil
		} else {
			row[f] = v
		}
	}
	if t.Conditions != nil {
		row[ConditionField] = string(t.Conditions[i])
	}
	return row
}

// MarshalJSON renders the table as an array of row objects.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := make([]map[string]any, t.Len())
	for i := range rows {
		rows[i] = t.Row(i)
	}
	return json.Marshal(rows)
}
