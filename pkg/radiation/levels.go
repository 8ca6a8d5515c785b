// Package radiation maps dose rates onto display colours.
//
// The fine table drives marker and chart colouring. The coarse legend is
// derived from it by grouping consecutive fine levels, so band boundaries
// always line up with fine thresholds.
package radiation

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Color is a CSS hex colour such as "#FF7F00".
type Color string

// RGBA decodes the hex colour for raster consumers (QR accents, PNG legends).
// Malformed values decode to opaque black.
func (c Color) RGBA() color.RGBA {
	s := strings.TrimPrefix(string(c), "#")
	if len(s) != 6 {
		return color.RGBA{A: 0xFF}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{A: 0xFF}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}
}

// Level is one row of the classification table: every dose rate up to and
// including Threshold (µSv/h) gets Color.
type Level struct {
	Threshold float64
	Color     Color
}

// levels must stay strictly ascending and end with +Inf.
var levels = [...]Level{
	{0.05, "#00FF00"},
	{0.07, "#40FF00"},
	{0.09, "#80FF00"},
	{0.11, "#BFFF00"},
	{0.13, "#FFFF00"},
	{0.15, "#FFDF00"},
	{0.17, "#FFBF00"},
	{0.19, "#FF9F00"},
	{0.21, "#FF7F00"},
	{0.23, "#FF5F00"},
	{0.25, "#FF3F00"},
	{0.27, "#FF1F00"},
	{0.29, "#FF0000"},
	{0.31, "#DF0000"},
	{0.33, "#BF0000"},
	{0.35, "#9F0000"},
	{0.37, "#7F0000"},
	{0.39, "#5F0000"},
	{0.41, "#400080"},
	{0.43, "#600080"},
	{0.45, "#800080"},
	{0.47, "#A000A0"},
	{0.49, "#C000C0"},
	{math.Inf(1), "#FF00FF"},
}

// Classify returns the colour of the first level whose threshold is >= doseRate.
// Values are not validated; NaN falls through to the unbounded level.
func Classify(doseRate float64) Color {
	for _, l := range levels {
		if doseRate <= l.Threshold {
			return l.Color
		}
	}
	return levels[len(levels)-1].Color
}

// Levels returns a copy of the classification table.
func Levels() []Level {
	out := make([]Level, len(levels))
	copy(out, levels[:])
	return out
}

// Index reports which level a dose rate falls into, mostly for summaries
// that need to compare severities rather than colours.
func Index(doseRate float64) int {
	for i, l := range levels {
		if doseRate <= l.Threshold {
			return i
		}
	}
	return len(levels) - 1
}

// LegendEntry is one human-readable band. Lower is exclusive, Upper is
// inclusive; the first band has Lower = -Inf and the last Upper = +Inf.
type LegendEntry struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Color Color   `json:"color"`
	Label string  `json:"label"`
	Range string  `json:"range"`
}

// legendBands lists, for each legend band, the index of the last fine level
// it covers and the colour it is shown with. The colour has to be one of
// the fine colours inside the band.
var legendBands = []struct {
	last  int
	color Color
	label string
}{
	{0, "#00FF00", "Minimum Background"},
	{2, "#80FF00", "Very Low"},
	{4, "#FFFF00", "Normal Background"},
	{7, "#FFBF00", "Elevated"},
	{10, "#FF7F00", "Moderate"},
	{12, "#FF0000", "High"},
	{15, "#BF0000", "Very High"},
	{18, "#400080", "Extreme"},
	{21, "#A000A0", "Severe"},
	{len(levels) - 1, "#FF00FF", "Dangerous"},
}

// Legend builds the coarse legend from the fine table. A band's Color is a
// representative swatch taken from one of its fine levels, not every colour
// the band contains: 0.30 µSv/h falls in "Very High" (#BF0000) but is drawn
// #DF0000.
func Legend() []LegendEntry {
	out := make([]LegendEntry, 0, len(legendBands))
	lower := math.Inf(-1)
	for _, b := range legendBands {
		upper := levels[b.last].Threshold
		out = append(out, LegendEntry{
			Lower: lower,
			Upper: upper,
			Color: b.color,
			Label: b.label,
			Range: rangeLabel(lower, upper),
		})
		lower = upper
	}
	return out
}

func rangeLabel(lower, upper float64) string {
	switch {
	case math.IsInf(lower, -1):
		return fmt.Sprintf("≤ %.2f", upper)
	case math.IsInf(upper, 1):
		return fmt.Sprintf("> %.2f", lower)
	default:
		return fmt.Sprintf("%.2f–%.2f", lower, upper)
	}
}

// LegendFor returns the legend band a dose rate falls into.
func LegendFor(doseRate float64) LegendEntry {
	legend := Legend()
	for _, e := range legend {
		if doseRate <= e.Upper {
			return e
		}
	}
	return legend[len(legend)-1]
}
