package archive

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/lox/wandiforecast/internal/models"
)

type response struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Daily     map[string]json.RawMessage `json:"daily"`
	Hourly    map[string]json.RawMessage `json:"hourly"`
	Error     bool                       `json:"error"`
	Reason    string                     `json:"reason"`
}

// Decode parses an archive response body into a table with the raw "date"
// time field and one column per requested field. Null values become NaN.
func Decode(body []byte, g models.Granularity, fields []string) (*models.Table, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode archive response: %w", err)
	}
	if resp.Error {
		return nil, fmt.Errorf("archive error: %s", resp.Reason)
	}

	block := resp.Daily
	layout := models.DateLayout
	if g == models.Hourly {
		block = resp.Hourly
		layout = "2006-01-02T15:04"
	}
	if block == nil {
		return nil, &models.SchemaError{Field: g.Param()}
	}

	rawTimes, ok := block["time"]
	if !ok {
		return nil, &models.SchemaError{Field: "time"}
	}
	var times []string
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return nil, fmt.Errorf("decode time: %w", err)
	}
	ts := make([]time.Time, len(times))
	for i, s := range times {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", s, err)
		}
		ts[i] = t
	}

	table := models.NewTable(models.RawTimeField, g, ts)
	for _, f := range fields {
		raw, ok := block[f]
		if !ok {
			return nil, &models.SchemaError{Field: f}
		}
		var vals []*float64
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		col := make([]float64, len(vals))
		for i, v := range vals {
			if v == nil {
				col[i] = math.NaN()
			} else {
				col[i] = *v
			}
		}
		if err := table.Set(f, col); err != nil {
			return nil, err
		}
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("archive response: %w", err)
	}
	return table, nil
}
