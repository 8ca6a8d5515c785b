package geomap

import (
	"errors"
	"fmt"
	"time"

	"isotope-route-dashboard/pkg/route"
	"isotope-route-dashboard/pkg/serial"
)

var (
	// ErrNotReady means the container has no measurable size yet.
	ErrNotReady = errors.New("map container not ready")
	// ErrNotInitialized is returned by operations that need a live surface.
	ErrNotInitialized = errors.New("map not initialised")
)

// Renderer owns at most one live map surface and the markers and path drawn
// on it. Every state change runs on a serial loop, so initialise, update and
// destroy are applied one at a time in call order.
type Renderer struct {
	loop    *serial.Loop
	backend Backend
	loc     *time.Location

	surface  Surface
	markers  []*Marker
	path     []LatLng
	viewport *Bounds
	// gen changes whenever markers are rebuilt or the surface goes away;
	// popups remember the gen they were created under.
	gen uint64
}

// NewRenderer creates a renderer that builds surfaces with backend. Popup
// timestamps are shown in loc (nil means time.Local).
func NewRenderer(backend Backend, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{loop: serial.New(), backend: backend, loc: loc}
}

// Initialize binds a fresh surface to c, destroying any previous one first.
// A container without size yields ErrNotReady and leaves no surface.
func (r *Renderer) Initialize(c Container) error {
	var err error
	if loopErr := r.loop.Do(func() {
		r.destroy()
		w, h := c.Size()
		if w <= 0 || h <= 0 {
			err = fmt.Errorf("container %q is %dx%d: %w", c.Key(), w, h, ErrNotReady)
			return
		}
		s, newErr := r.backend.NewSurface(c)
		if newErr != nil {
			err = fmt.Errorf("create map surface: %w", newErr)
			return
		}
		r.surface = s
	}); loopErr != nil {
		return loopErr
	}
	return err
}

// IsInitialized reports whether a surface is live.
func (r *Renderer) IsInitialized() bool {
	ok := false
	_ = r.loop.Do(func() { ok = r.surface != nil })
	return ok
}

// Update rebuilds the overlay from ms. Existing markers and the path are
// always removed first; an empty ms leaves the map bare and keeps the
// previous viewport. onDelete may be nil to hide the delete affordance.
func (r *Renderer) Update(ms []route.Measurement, onDelete func(int64)) error {
	var err error
	if loopErr := r.loop.Do(func() {
		if r.surface == nil {
			err = ErrNotInitialized
			return
		}
		r.clear()
		if len(ms) == 0 {
			return
		}

		coords := make([]LatLng, 0, len(ms))
		for _, m := range ms {
			pos := LatLng{Lat: m.Lat, Lon: m.Lon}
			coords = append(coords, pos)
			mk := &Marker{
				ID:       m.ID,
				Position: pos,
				Style:    markerStyle(m.DoseRate),
				Popup:    newPopup(r, r.gen, m, r.loc, onDelete),
			}
			r.surface.AddMarker(mk)
			r.markers = append(r.markers, mk)
		}

		r.surface.SetPath(coords, DefaultPathStyle)
		r.path = coords

		b, _ := BoundsOf(coords)
		r.surface.FitBounds(b)
		r.viewport = &b
	}); loopErr != nil {
		return loopErr
	}
	return err
}

// InvalidateSize asks the surface to re-check its container size. Callers
// do this shortly after the first update, once layout has settled.
func (r *Renderer) InvalidateSize() error {
	var err error
	if loopErr := r.loop.Do(func() {
		if r.surface == nil {
			err = ErrNotInitialized
			return
		}
		r.surface.InvalidateSize()
	}); loopErr != nil {
		return loopErr
	}
	return err
}

// Destroy removes markers, path and surface. It is idempotent.
func (r *Renderer) Destroy() {
	_ = r.loop.Do(r.destroy)
}

// Close destroys the surface and stops the renderer loop.
func (r *Renderer) Close() {
	r.Destroy()
	r.loop.Close()
}

// Markers returns copies of the markers currently on the map.
func (r *Renderer) Markers() []Marker {
	var out []Marker
	_ = r.loop.Do(func() {
		out = make([]Marker, len(r.markers))
		for i, m := range r.markers {
			out[i] = *m
		}
	})
	return out
}

// Path returns the positions of the drawn path, or nil when none is drawn.
func (r *Renderer) Path() []LatLng {
	var out []LatLng
	_ = r.loop.Do(func() {
		if r.path != nil {
			out = append([]LatLng(nil), r.path...)
		}
	})
	return out
}

// Viewport returns the last fitted bounds.
func (r *Renderer) Viewport() (Bounds, bool) {
	var (
		b  Bounds
		ok bool
	)
	_ = r.loop.Do(func() {
		if r.viewport != nil {
			b, ok = *r.viewport, true
		}
	})
	return b, ok
}

// Popup finds the popup of the marker drawn for a measurement id.
func (r *Renderer) Popup(id int64) (*Popup, bool) {
	var p *Popup
	_ = r.loop.Do(func() {
		for _, m := range r.markers {
			if m.ID == id {
				p = m.Popup
				return
			}
		}
	})
	return p, p != nil
}

// Inspect runs fn against the live surface on the renderer loop, which is
// the only safe place to read surface state. fn must not call back into
// the renderer.
func (r *Renderer) Inspect(fn func(Surface)) error {
	var err error
	if loopErr := r.loop.Do(func() {
		if r.surface == nil {
			err = ErrNotInitialized
			return
		}
		fn(r.surface)
	}); loopErr != nil {
		return loopErr
	}
	return err
}

// current reports whether a popup created under gen still belongs to a
// live marker. Called on the loop.
func (r *Renderer) current(gen uint64) bool {
	return r.surface != nil && gen == r.gen
}

func (r *Renderer) clear() {
	for _, m := range r.markers {
		r.surface.RemoveMarker(m)
	}
	r.markers = nil
	if r.path != nil {
		r.surface.ClearPath()
		r.path = nil
	}
	r.gen++
}

func (r *Renderer) destroy() {
	if r.surface == nil {
		return
	}
	r.clear()
	r.surface.Remove()
	r.surface = nil
	r.viewport = nil
}
