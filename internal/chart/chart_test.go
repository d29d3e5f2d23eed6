package chart

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/lox/wandiforecast/internal/models"
)

func series(start time.Time, vals ...float64) *models.Table {
	t := models.NewTable(models.TimeField, models.Daily, models.Daily.Range(start, len(vals)))
	t.Set("temperature_2m_mean", vals)
	return t
}

func TestRender(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := series(start, 1, 2, 3, 2.5, 1)
	obs := series(start, 1.5, math.NaN(), 2.5, 3, 0)

	data, err := Render("temperature_2m_mean", fc, obs)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != Width || b.Dy() != Height {
		t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), Width, Height)
	}

	var forecastPixels, actualPixels int
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			switch {
			case uint8(r>>8) == ForecastColor.R && uint8(g>>8) == ForecastColor.G && uint8(b>>8) == ForecastColor.B:
				forecastPixels++
			case uint8(r>>8) == ActualColor.R && uint8(g>>8) == ActualColor.G && uint8(b>>8) == ActualColor.B:
				actualPixels++
			}
		}
	}
	if forecastPixels == 0 || actualPixels == 0 {
		t.Errorf("forecast pixels = %d, actual pixels = %d, want both drawn", forecastPixels, actualPixels)
	}
}

func TestRenderSinglePoint(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := Render("temperature_2m_mean", series(start, 4), nil); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
}

func TestRenderNoData(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := Render("temperature_2m_mean", series(start, math.NaN()), nil)
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Errorf("Render() error = %v, want ErrInsufficientData", err)
	}
	_, err = Render("missing", series(start, 1), series(start, 2))
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Errorf("Render() error = %v, want ErrInsufficientData", err)
	}
}
