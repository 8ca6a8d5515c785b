// Package chart turns a measurement sequence into time-series charts
// (dose rate over time and count rate over time) and binds them to
// drawing surfaces.
package chart

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/gonum/floats"

	"isotope-route-dashboard/pkg/radiation"
	"isotope-route-dashboard/pkg/route"
)

// Metric selects which measurement field a chart plots.
type Metric int

const (
	DoseRate Metric = iota
	CountRate
)

func (m Metric) String() string {
	if m == CountRate {
		return "count"
	}
	return "dose"
}

// ParseMetric is the inverse of String.
func ParseMetric(s string) (Metric, bool) {
	switch s {
	case "dose":
		return DoseRate, true
	case "count":
		return CountRate, true
	}
	return 0, false
}

type series struct {
	title string
	line  radiation.Color
	fill  drawing.Color
}

var seriesStyles = map[Metric]series{
	DoseRate:  {"Radiation Level (µSv/h)", "#FF6384", drawing.Color{R: 255, G: 99, B: 132, A: 51}},
	CountRate: {"Counts Per Minute (CPM)", "#36A2EB", drawing.Color{R: 54, G: 162, B: 235, A: 51}},
}

const (
	// MaxTickLabels caps visible time labels whatever the sequence length.
	MaxTickLabels = 15
	// rotateAbove is the visible label count from which labels are slanted.
	rotateAbove = 10

	dotWidth = 4

	// DeleteHint is shown on every interactive chart.
	DeleteHint = "Click to delete this point"
)

// padding leaves room above the plot for the title and the delete hint.
var padding = gochart.Box{Top: 48, Left: 16, Right: 24, Bottom: 16}

// Point is one plotted measurement in surface pixel coordinates.
type Point struct {
	ID    int64
	Index int
	Value float64
	Color radiation.Color
	X, Y  float64
}

// Tick is a visible time label on the x axis.
type Tick struct {
	Index int
	Label string
	X     float64
}

// Chart is a fully laid-out visualisation. It is immutable once built.
type Chart struct {
	Metric        Metric
	Title         string
	XLabel        string
	LineColor     radiation.Color
	Width, Height int
	Points        []Point
	Labels        []string
	Ticks         []Tick
	LabelRotation int
	YMax          float64
	Interactive   bool
	Footer        string
	// Plot is the box the series were drawn into.
	Plot gochart.Box

	surface    string
	onActivate func(int64)
	graph      gochart.Chart
}

// Surface reports the key of the surface the chart was built for.
func (c *Chart) Surface() string { return c.surface }

// Activate resolves an interaction at (x, y) to the nearest plotted point
// and hands its measurement id to the activation callback. Non-interactive
// charts and empty charts report false.
func (c *Chart) Activate(x, y float64) (int64, bool) {
	if !c.Interactive || len(c.Points) == 0 {
		return 0, false
	}
	best, bestDist := 0, math.Inf(1)
	for i, p := range c.Points {
		d := math.Hypot(p.X-x, p.Y-y)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	id := c.Points[best].ID
	c.onActivate(id)
	return id, true
}

// PlotArea returns the rectangle inside the axes.
func (c *Chart) PlotArea() (x0, y0, x1, y1 float64) {
	return float64(c.Plot.Left), float64(c.Plot.Top), float64(c.Plot.Right), float64(c.Plot.Bottom)
}

// WriteSVG renders the chart as an SVG document.
func (c *Chart) WriteSVG(w io.Writer) error {
	return c.graph.Render(gochart.SVG, w)
}

func build(metric Metric, width, height int, ms []route.Measurement, loc *time.Location, onActivate func(int64)) (*Chart, error) {
	style := seriesStyles[metric]
	c := &Chart{
		Metric:      metric,
		Title:       style.title,
		XLabel:      "Time",
		LineColor:   style.line,
		Width:       width,
		Height:      height,
		Interactive: onActivate != nil,
		onActivate:  onActivate,
	}
	if c.Interactive {
		c.Footer = DeleteHint
	}

	values := make([]float64, len(ms))
	colors := make([]radiation.Color, len(ms))
	c.Labels = make([]string, len(ms))
	for i, m := range ms {
		values[i] = valueOf(metric, m)
		c.Labels[i] = m.Timestamp.In(loc).Format("15:04:05")
		colors[i] = style.line
		if metric == DoseRate {
			colors[i] = radiation.Classify(m.DoseRate)
		}
	}
	c.YMax = yCeiling(values)

	// points sit on integer x positions; explicit ticks fix the x range,
	// so its ends always carry a tick, labelled or not
	xmin, xmax := 0.0, float64(len(ms)-1)
	switch len(ms) {
	case 0:
		xmin, xmax = 0, 1
	case 1:
		xmin, xmax = -1, 1
	}
	var xticks []gochart.Tick
	for _, idx := range tickIndices(len(ms)) {
		c.Ticks = append(c.Ticks, Tick{Index: idx, Label: c.Labels[idx]})
		xticks = append(xticks, gochart.Tick{Value: float64(idx), Label: c.Labels[idx]})
	}
	if len(xticks) == 0 || xticks[0].Value > xmin {
		xticks = append([]gochart.Tick{{Value: xmin}}, xticks...)
	}
	if xticks[len(xticks)-1].Value < xmax {
		xticks = append(xticks, gochart.Tick{Value: xmax})
	}
	if len(c.Ticks) > rotateAbove {
		c.LabelRotation = 45
	}

	xr := &gochart.ContinuousRange{Min: xmin, Max: xmax}
	yr := &gochart.ContinuousRange{Min: 0, Max: c.YMax}

	var data gochart.Series
	if len(ms) == 0 {
		// go-chart wants one visible series; an empty chart gets a
		// transparent baseline
		data = gochart.ContinuousSeries{
			XValues: []float64{xmin, xmax},
			YValues: []float64{0, 0},
			Style:   gochart.Style{StrokeColor: drawing.ColorTransparent, StrokeWidth: 1},
		}
	} else {
		xs := make([]float64, len(ms))
		for i := range xs {
			xs[i] = float64(i)
		}
		data = gochart.ContinuousSeries{
			Name:    style.title,
			XValues: xs,
			YValues: values,
			Style: gochart.Style{
				StrokeColor: toDrawing(style.line),
				StrokeWidth: 2,
				FillColor:   style.fill,
				DotWidth:    dotWidth,
				DotColorProvider: func(_, _ gochart.Range, index int, _, _ float64) drawing.Color {
					return toDrawing(colors[index])
				},
			},
		}
	}

	grid := gochart.Style{StrokeColor: drawing.Color{R: 229, G: 229, B: 229, A: 255}, StrokeWidth: 1}
	yaxis := gochart.YAxis{Range: yr, GridMajorStyle: grid}
	if metric == CountRate {
		yaxis.ValueFormatter = func(v interface{}) string {
			f, _ := v.(float64)
			return strconv.FormatFloat(f, 'f', 0, 64)
		}
	}
	c.graph = gochart.Chart{
		Title:      style.title,
		Width:      width,
		Height:     height,
		Background: gochart.Style{Padding: padding},
		XAxis: gochart.XAxis{
			Name:      c.XLabel,
			Range:     xr,
			Ticks:     xticks,
			TickStyle: gochart.Style{TextRotationDegrees: float64(c.LabelRotation)},
		},
		YAxis:  yaxis,
		Series: []gochart.Series{data},
	}
	if c.Footer != "" {
		c.graph.Elements = []gochart.Renderable{footer(c.Footer)}
	}

	// lay the chart out once to learn the plot box go-chart settles on;
	// rendering again draws into the same box
	layout := c.graph
	layout.Elements = append(slices.Clone(c.graph.Elements), func(_ gochart.Renderer, box gochart.Box, _ gochart.Style) {
		c.Plot = box
	})
	if err := layout.Render(gochart.SVG, io.Discard); err != nil {
		return nil, fmt.Errorf("lay out %s chart: %w", metric, err)
	}

	c.Points = make([]Point, len(ms))
	for i, m := range ms {
		c.Points[i] = Point{
			ID:    m.ID,
			Index: i,
			Value: values[i],
			Color: colors[i],
			X:     float64(c.Plot.Left + xr.Translate(float64(i))),
			Y:     float64(c.Plot.Bottom - yr.Translate(values[i])),
		}
	}
	for i := range c.Ticks {
		c.Ticks[i].X = float64(c.Plot.Left + xr.Translate(float64(c.Ticks[i].Index)))
	}
	return c, nil
}

func footer(text string) gochart.Renderable {
	return func(r gochart.Renderer, box gochart.Box, defaults gochart.Style) {
		style := gochart.Style{
			Font:      defaults.Font,
			FontSize:  9,
			FontColor: drawing.Color{R: 102, G: 102, B: 102, A: 255},
		}
		tb := gochart.Draw.MeasureText(r, text, style)
		gochart.Draw.Text(r, text, box.Right-tb.Width(), box.Top-6, style)
	}
}

func toDrawing(c radiation.Color) drawing.Color {
	rgba := c.RGBA()
	return drawing.Color{R: rgba.R, G: rgba.G, B: rgba.B, A: rgba.A}
}

func valueOf(metric Metric, m route.Measurement) float64 {
	if metric == CountRate {
		return m.CountRate
	}
	return m.DoseRate
}

// tickIndices picks at most MaxTickLabels evenly strided label positions.
func tickIndices(n int) []int {
	if n == 0 {
		return nil
	}
	step := 1
	if n > MaxTickLabels {
		step = (n + MaxTickLabels - 1) / MaxTickLabels
	}
	out := make([]int, 0, MaxTickLabels)
	for i := 0; i < n; i += step {
		out = append(out, i)
	}
	return out
}

// yCeiling returns a zero-based axis maximum: the series peak rounded up
// the way go-chart rounds its own ranges.
func yCeiling(values []float64) float64 {
	if len(values) == 0 {
		return 1
	}
	peak := floats.Max(values)
	if !(peak > 0) || math.IsInf(peak, 1) {
		return 1
	}
	step := gochart.GetRoundToForDelta(peak)
	if step <= 0 {
		return peak
	}
	return math.Max(gochart.RoundUp(peak, step), peak)
}
