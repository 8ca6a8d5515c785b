package chart

import (
	"errors"
	"fmt"
	"time"

	"isotope-route-dashboard/pkg/route"
	"isotope-route-dashboard/pkg/serial"
)

// ErrSurfaceNotReady means the surface has no drawable area yet. Nothing is
// drawn and nothing is kept; the caller decides when to try again.
var ErrSurfaceNotReady = errors.New("chart surface not ready")

// Surface is the container a chart is drawn into. Key identifies the
// container: rendering twice into surfaces with the same key replaces the
// first chart.
type Surface interface {
	Key() string
	Size() (width, height int)
	Attach(c *Chart) error
	Detach(c *Chart)
}

type binding struct {
	surface Surface
	chart   *Chart
}

// Renderer owns the live charts of one view. All bookkeeping happens on a
// serial loop so concurrent renders of the same surface cannot both stay
// attached.
type Renderer struct {
	loop *serial.Loop
	live map[string]binding
	loc  *time.Location
}

// NewRenderer builds a renderer whose time labels use loc (nil means
// time.Local).
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{
		loop: serial.New(),
		live: make(map[string]binding),
		loc:  loc,
	}
}

// Render draws metric for ms into s, replacing whatever chart was bound to
// the same surface key. onActivate may be nil for a read-only chart.
func (r *Renderer) Render(s Surface, metric Metric, ms []route.Measurement, onActivate func(int64)) (*Chart, error) {
	var (
		out *Chart
		err error
	)
	if loopErr := r.loop.Do(func() {
		r.release(s.Key())

		w, h := s.Size()
		if w <= 0 || h <= 0 {
			err = fmt.Errorf("%s chart on %q: %w", metric, s.Key(), ErrSurfaceNotReady)
			return
		}
		c, buildErr := build(metric, w, h, ms, r.loc, onActivate)
		if buildErr != nil {
			err = buildErr
			return
		}
		c.surface = s.Key()
		if attachErr := s.Attach(c); attachErr != nil {
			err = fmt.Errorf("attach %s chart: %w", metric, attachErr)
			return
		}
		r.live[s.Key()] = binding{surface: s, chart: c}
		out = c
	}); loopErr != nil {
		return nil, loopErr
	}
	return out, err
}

// RenderAll draws the dose chart and the count chart. Both are attempted
// even if the first fails; the first error is returned.
func (r *Renderer) RenderAll(dose, count Surface, ms []route.Measurement, onActivate func(int64)) error {
	_, errDose := r.Render(dose, DoseRate, ms, onActivate)
	_, errCount := r.Render(count, CountRate, ms, onActivate)
	if errDose != nil {
		return errDose
	}
	return errCount
}

// Chart returns the chart currently bound to a surface key.
func (r *Renderer) Chart(key string) (*Chart, bool) {
	var (
		c  *Chart
		ok bool
	)
	_ = r.loop.Do(func() {
		var b binding
		b, ok = r.live[key]
		c = b.chart
	})
	return c, ok
}

// Live reports how many charts are attached.
func (r *Renderer) Live() int {
	n := 0
	_ = r.loop.Do(func() { n = len(r.live) })
	return n
}

// Dispose detaches every chart. Calling it with nothing rendered is fine.
func (r *Renderer) Dispose() {
	_ = r.loop.Do(func() {
		for key := range r.live {
			r.release(key)
		}
	})
}

// Close disposes all charts and stops the renderer.
func (r *Renderer) Close() {
	r.Dispose()
	r.loop.Close()
}

func (r *Renderer) release(key string) {
	if b, ok := r.live[key]; ok {
		b.surface.Detach(b.chart)
		delete(r.live, key)
	}
}
