package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Granularity is the sampling frequency of a table.
type Granularity string

const (
	Daily  Granularity = "Daily"
	Hourly Granularity = "Hourly"
)

// DateLayout is the layout of request dates and daily timestamps.
const DateLayout = "2006-01-02"

// ParseGranularity accepts "Daily" or "Hourly", case-insensitively.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "hourly":
		return Hourly, nil
	}
	return "", InvalidRequest("unknown forecast type %q", s)
}

// Unit returns the duration of one step.
func (g Granularity) Unit() time.Duration {
	if g == Hourly {
		return time.Hour
	}
	return 24 * time.Hour
}

// Step returns t moved by n units. Daily steps use calendar days.
func (g Granularity) Step(t time.Time, n int) time.Time {
	if g == Hourly {
		return t.Add(time.Duration(n) * time.Hour)
	}
	return t.AddDate(0, 0, n)
}

// Param is the archive API block name for this granularity.
func (g Granularity) Param() string {
	return strings.ToLower(string(g))
}

// Range returns n timestamps starting at start, one unit apart.
func (g Granularity) Range(start time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = g.Step(start, i)
	}
	return ts
}

// Location is a point on the globe.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Key returns the location rounded to four decimals, for cache keys.
func (l Location) Key() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

func (l Location) String() string {
	return l.Key()
}

// Request is a forecast request as supplied by a caller.
type Request struct {
	Latitude  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"lon" validate:"gte=-180,lte=180"`
	From      string  `json:"from" validate:"required,datetime=2006-01-02"`
	To        string  `json:"to" validate:"required,datetime=2006-01-02"`
	Type      string  `json:"type" validate:"required"`
}

// Query is a validated Request with the dates ordered.
type Query struct {
	Location    Location
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// Days is the whole number of days between Start and End.
func (q Query) Days() int {
	return int(math.Round(q.End.Sub(q.Start).Hours() / 24))
}

var validate = validator.New()

// Parse validates the request and returns a Query. When From is after To the
// two are swapped.
func (r Request) Parse() (Query, error) {
	if err := validate.Struct(r); err != nil {
		return Query{}, InvalidRequest("%v", err)
	}
	g, err := ParseGranularity(r.Type)
	if err != nil {
		return Query{}, err
	}
	start, err := time.ParseInLocation(DateLayout, r.From, time.UTC)
	if err != nil {
		return Query{}, InvalidRequest("parse from: %v", err)
	}
	end, err := time.ParseInLocation(DateLayout, r.To, time.UTC)
	if err != nil {
		return Query{}, InvalidRequest("parse to: %v", err)
	}
	if start.After(end) {
		start, end = end, start
	}
	return Query{
		Location:    Location{Latitude: r.Latitude, Longitude: r.Longitude},
		Start:       start,
		End:         end,
		Granularity: g,
	}, nil
}
