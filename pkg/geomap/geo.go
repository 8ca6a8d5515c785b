// Package geomap draws a route onto a map surface: one coloured marker per
// measurement, a path through them in collection order, and a viewport
// fitted around the markers.
package geomap

import (
	"math"

	"isotope-route-dashboard/pkg/radiation"
)

// LatLng is a WGS84 position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is the smallest box containing a set of positions.
type Bounds struct {
	SouthWest LatLng `json:"southWest"`
	NorthEast LatLng `json:"northEast"`
}

// BoundsOf returns the box around pts and false for an empty input.
func BoundsOf(pts []LatLng) (Bounds, bool) {
	if len(pts) == 0 {
		return Bounds{}, false
	}
	b := Bounds{
		SouthWest: LatLng{Lat: math.Inf(1), Lon: math.Inf(1)},
		NorthEast: LatLng{Lat: math.Inf(-1), Lon: math.Inf(-1)},
	}
	for _, p := range pts {
		b.SouthWest.Lat = math.Min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lon = math.Min(b.SouthWest.Lon, p.Lon)
		b.NorthEast.Lat = math.Max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lon = math.Max(b.NorthEast.Lon, p.Lon)
	}
	return b, true
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.SouthWest.Lat && p.Lat <= b.NorthEast.Lat &&
		p.Lon >= b.SouthWest.Lon && p.Lon <= b.NorthEast.Lon
}

// MarkerStyle describes a circle marker.
type MarkerStyle struct {
	Radius      int             `json:"radius"`
	FillColor   radiation.Color `json:"fillColor"`
	Color       string          `json:"color"`
	Weight      int             `json:"weight"`
	Opacity     float64         `json:"opacity"`
	FillOpacity float64         `json:"fillOpacity"`
}

// PathStyle describes the polyline connecting the markers.
type PathStyle struct {
	Color   string  `json:"color"`
	Weight  int     `json:"weight"`
	Opacity float64 `json:"opacity"`
}

// DefaultPathStyle is used for every route path.
var DefaultPathStyle = PathStyle{Color: "#0066cc", Weight: 3, Opacity: 0.6}

func markerStyle(dose float64) MarkerStyle {
	return MarkerStyle{
		Radius:      8,
		FillColor:   radiation.Classify(dose),
		Color:       "#000",
		Weight:      1,
		Opacity:     1,
		FillOpacity: 0.8,
	}
}

// Marker is one measurement placed on the map.
type Marker struct {
	ID       int64
	Position LatLng
	Style    MarkerStyle
	Popup    *Popup
}
