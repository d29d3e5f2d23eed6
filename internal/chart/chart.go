// Package chart renders predicted-versus-actual line charts as PNG.
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/wandiforecast/internal/models"
)

const (
	Width  = 960
	Height = 480

	marginLeft   = 70
	marginRight  = 30
	marginTop    = 50
	marginBottom = 60
)

var (
	background = color.RGBA{250, 250, 250, 255}
	axisColor  = color.RGBA{90, 90, 90, 255}
	gridColor  = color.RGBA{225, 225, 225, 255}
	textColor  = color.RGBA{40, 40, 40, 255}

	ForecastColor = color.RGBA{33, 102, 172, 255}
	ActualColor   = color.RGBA{214, 96, 77, 255}
)

var (
	fontTitle font.Face
	fontLabel font.Face
	fontOnce  sync.Once
	fontErr   error
)

func loadFonts() {
	fontOnce.Do(func() {
		regular, err := opentype.Parse(goregular.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse goregular: %w", err)
			return
		}
		fontTitle, err = opentype.NewFace(regular, &opentype.FaceOptions{
			Size:    18,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			fontErr = fmt.Errorf("create title face: %w", err)
			return
		}
		fontLabel, err = opentype.NewFace(regular, &opentype.FaceOptions{
			Size:    12,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			fontErr = fmt.Errorf("create label face: %w", err)
		}
	})
}

// Render draws field from forecast and actual on shared axes. Either table
// may lack the field; an error is returned only when neither has a finite
// value to plot.
func Render(field string, forecast, actual *models.Table) ([]byte, error) {
	loadFonts()
	if fontErr != nil {
		return nil, fmt.Errorf("load fonts: %w", fontErr)
	}

	fc := points(forecast, field)
	obs := points(actual, field)
	lo, hi, ok := valueRange(fc, obs)
	if !ok {
		return nil, &models.InsufficientDataError{Field: field, Have: 0, Need: 1}
	}
	t0, t1 := timeRange(fc, obs)

	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	plot := image.Rect(marginLeft, marginTop, Width-marginRight, Height-marginBottom)
	x := func(t int64) int {
		if t1 == t0 {
			return (plot.Min.X + plot.Max.X) / 2
		}
		return plot.Min.X + int(float64(t-t0)/float64(t1-t0)*float64(plot.Dx()))
	}
	y := func(v float64) int {
		return plot.Max.Y - int((v-lo)/(hi-lo)*float64(plot.Dy()))
	}

	const ticks = 5
	for i := 0; i <= ticks; i++ {
		v := lo + (hi-lo)*float64(i)/ticks
		yy := y(v)
		hline(img, plot.Min.X, plot.Max.X, yy, gridColor)
		drawText(img, fmt.Sprintf("%.1f", v), 8, yy+4, textColor, fontLabel)
	}
	hline(img, plot.Min.X, plot.Max.X, plot.Max.Y, axisColor)
	vline(img, plot.Min.X, plot.Min.Y, plot.Max.Y, axisColor)

	polyline(img, obs, x, y, ActualColor)
	polyline(img, fc, x, y, ForecastColor)

	layout := models.DateLayout
	if forecast != nil && forecast.Granularity == models.Hourly {
		layout = "2006-01-02 15:04"
	}
	if len(fc)+len(obs) > 0 {
		drawText(img, unix(t0).Format(layout), plot.Min.X, plot.Max.Y+20, textColor, fontLabel)
		end := unix(t1).Format(layout)
		drawText(img, end, plot.Max.X-textWidth(end, fontLabel), plot.Max.Y+20, textColor, fontLabel)
	}

	drawText(img, field, marginLeft, 30, textColor, fontTitle)
	legend(img, plot.Max.X-220, Height-18)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

type point struct {
	t int64
	v float64
}

func points(t *models.Table, field string) []point {
	if t == nil || !t.Has(field) {
		return nil
	}
	col := t.Column(field)
	out := make([]point, 0, len(col))
	for i, v := range col {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, point{t: t.Timestamps[i].Unix(), v: v})
	}
	return out
}

func valueRange(series ...[]point) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, p := range s {
			lo = math.Min(lo, p.v)
			hi = math.Max(hi, p.v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0, false
	}
	if hi == lo {
		lo, hi = lo-1, hi+1
	}
	pad := (hi - lo) * 0.05
	return lo - pad, hi + pad, true
}

func timeRange(series ...[]point) (t0, t1 int64) {
	t0, t1 = math.MaxInt64, math.MinInt64
	for _, s := range series {
		for _, p := range s {
			t0 = min(t0, p.t)
			t1 = max(t1, p.t)
		}
	}
	return t0, t1
}

func polyline(img *image.RGBA, pts []point, x func(int64) int, y func(float64) int, c color.Color) {
	for i := 1; i < len(pts); i++ {
		line(img, x(pts[i-1].t), y(pts[i-1].v), x(pts[i].t), y(pts[i].v), c)
	}
	for _, p := range pts {
		dot(img, x(p.t), y(p.v), c)
	}
}

// line draws a two pixel wide Bresenham line.
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		img.Set(x0, y0+1, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func dot(img *image.RGBA, cx, cy int, c color.Color) {
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			if dx*dx+dy*dy <= 5 {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

func hline(img *image.RGBA, x0, x1, y int, c color.Color) {
	for x := x0; x <= x1; x++ {
		img.Set(x, y, c)
	}
}

func vline(img *image.RGBA, x, y0, y1 int, c color.Color) {
	for y := y0; y <= y1; y++ {
		img.Set(x, y, c)
	}
}

func legend(img *image.RGBA, x, y int) {
	for _, entry := range []struct {
		label string
		c     color.Color
	}{{"forecast", ForecastColor}, {"actual", ActualColor}} {
		draw.Draw(img, image.Rect(x, y-9, x+18, y-3), &image.Uniform{C: entry.c}, image.Point{}, draw.Src)
		drawText(img, entry.label, x+24, y, textColor, fontLabel)
		x += 110
	}
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func textWidth(text string, face font.Face) int {
	return font.MeasureString(face, text).Ceil()
}

func unix(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
