// Package export reads and writes tables as CSV.
package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/lox/wandiforecast/internal/models"
)

// ConditionColumn is the CSV column holding classified conditions.
const ConditionColumn = "condition"

const hourLayout = "2006-01-02T15:04"

// WriteCSV writes t with a header row. The first column is the time field;
// missing values are written as empty cells.
func WriteCSV(w io.Writer, t *models.Table) error {
	df := dataframe.LoadRecords(records(t),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return fmt.Errorf("build frame: %w", df.Err)
	}
	if err := df.WriteCSV(w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func records(t *models.Table) [][]string {
	header := append([]string{t.TimeField}, t.Fields()...)
	if t.Conditions != nil {
		header = append(header, ConditionColumn)
	}
	layout := models.DateLayout
	if t.Granularity == models.Hourly {
		layout = hourLayout
	}

	out := make([][]string, 0, t.Len()+1)
	out = append(out, header)
	for i, ts := range t.Timestamps {
		row := make([]string, 0, len(header))
		row = append(row, ts.Format(layout))
		for _, f := range t.Fields() {
			v := t.Column(f)[i]
			if math.IsNaN(v) {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if t.Conditions != nil {
			row = append(row, string(t.Conditions[i]))
		}
		out = append(out, row)
	}
	return out
}

// ReadCSV loads a table written by WriteCSV, or any CSV whose first column
// is a date or hour timestamp and whose other columns are numeric. The
// granularity is hourly when consecutive rows are less than a day apart.
func ReadCSV(r io.Reader) (*models.Table, error) {
	df := dataframe.ReadCSV(r,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("read csv: %w", df.Err)
	}
	names := df.Names()
	if len(names) == 0 {
		return nil, &models.SchemaError{Field: models.RawTimeField}
	}

	timeField := names[0]
	rawTimes := df.Col(timeField).Records()
	ts := make([]time.Time, len(rawTimes))
	for i, s := range rawTimes {
		t, err := parseTime(s)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		ts[i] = t
	}

	g := models.Daily
	if len(ts) > 1 && ts[1].Sub(ts[0]) < 24*time.Hour {
		g = models.Hourly
	}

	table := models.NewTable(timeField, g, ts)
	for _, name := range names[1:] {
		cells := df.Col(name).Records()
		if name == ConditionColumn {
			table.Conditions = make([]models.Condition, len(cells))
			for i, c := range cells {
				table.Conditions[i] = models.Condition(c)
			}
			continue
		}
		col := make([]float64, len(cells))
		for i, c := range cells {
			v, err := parseValue(c)
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", name, i+1, err)
			}
			col[i] = v
		}
		if err := table.Set(name, col); err != nil {
			return nil, err
		}
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{models.DateLayout, hourLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseValue(s string) (float64, error) {
	if s == "" || s == "NaN" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
