// Package route holds the dashboard's data model: routes, the measurements
// recorded along them, and the rules a route name has to satisfy.
package route

import (
	"time"
)

// Route is a named survey traversal.
type Route struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Measurement is one sensor reading. Values are never changed after
// decoding; sequences are replaced or filtered, not edited.
type Measurement struct {
	ID        int64
	Timestamp time.Time
	Lat       float64
	Lon       float64
	DoseRate  float64 // µSv/h
	CountRate float64 // counts per minute
}

// Without returns a new slice holding every measurement except id.
// The input slice is left untouched so renderers holding it keep a
// consistent view.
func Without(ms []Measurement, id int64) []Measurement {
	out := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// Clone copies a measurement sequence.
func Clone(ms []Measurement) []Measurement {
	if ms == nil {
		return nil
	}
	out := make([]Measurement, len(ms))
	copy(out, ms)
	return out
}

// Find returns the measurement with the given id.
func Find(ms []Measurement, id int64) (Measurement, bool) {
	for _, m := range ms {
		if m.ID == id {
			return m, true
		}
	}
	return Measurement{}, false
}
