// Package routeview sequences loading, rendering and editing of a single
// route: metadata, then measurements, then the map with retried
// initialisation, then the overlay and charts.
package routeview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"isotope-route-dashboard/pkg/chart"
	"isotope-route-dashboard/pkg/geomap"
	"isotope-route-dashboard/pkg/metrics"
	"isotope-route-dashboard/pkg/route"
	"isotope-route-dashboard/pkg/serial"
)

// Messages shown to the user. They are stored on the view; callers render them.
const (
	MsgLoadRoute     = "Failed to load route details"
	MsgLoadData      = "Failed to load route data"
	MsgInitExhausted = "Failed to initialize map after multiple attempts"
	MsgInit          = "Failed to initialize map"
	MsgDeletePoint   = "Failed to delete point"
	MsgRename        = "Failed to update route name"
)

var (
	// ErrStale means the view moved on (another Open, or Close) while the
	// call was in flight; its result was dropped.
	ErrStale = errors.New("response arrived for a route no longer shown")
	// ErrNoRoute is returned by operations that need an opened route.
	ErrNoRoute = errors.New("no route open")
	// ErrDeclined is returned when the confirm hook says no.
	ErrDeclined = errors.New("deletion not confirmed")
	// ErrUnknownPoint is returned for ids that are not in the loaded sequence.
	ErrUnknownPoint = errors.New("measurement not in route")
)

// API is what a view needs from the upstream client.
type API interface {
	GetRoute(ctx context.Context, id int64) (route.Route, error)
	GetRouteData(ctx context.Context, id int64) ([]route.Measurement, error)
	UpdateRouteName(ctx context.Context, id int64, name string) error
	DeletePoint(ctx context.Context, routeID, pointID int64) error
}

// Options tunes a view. The zero value works.
type Options struct {
	Init geomap.Initializer
	// SettleDelay is waited after data arrives before the first map attempt,
	// and again before asking the map to re-measure its container.
	SettleDelay time.Duration
	// Confirm is asked before a point is deleted; nil means yes.
	Confirm func(pointID int64) bool
	// ReadOnly hides the delete affordance on markers and charts.
	ReadOnly bool
	Location *time.Location
	Logf     func(string, ...any)
}

// DefaultSettleDelay matches the pause the map page gives layout.
const DefaultSettleDelay = 300 * time.Millisecond

// State is a snapshot of the view.
type State struct {
	RouteID      int64
	Name         string
	Measurements []route.Measurement
	Loading      bool
	Error        string
	NameError    string
	Map          geomap.InitState
}

// View is one open route. Methods are safe to call from many goroutines;
// network calls run outside the view loop and their results are applied
// only if the view still shows the same route.
type View struct {
	api    API
	maps   *geomap.Renderer
	charts *chart.Renderer
	opts   Options
	logf   func(string, ...any)

	loop   *serial.Loop
	ctx    context.Context
	cancel context.CancelFunc

	// owned by loop
	gen       uint64
	routeID   int64
	name      string
	ms        []route.Measurement
	loading   bool
	errMsg    string
	nameErr   string
	mapState  geomap.InitState
	container geomap.Container
	surfaces  map[chart.Metric]chart.Surface
}

// New builds a view that draws maps through backend.
func New(api API, backend geomap.Backend, opts Options) *View {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		api:      api,
		maps:     geomap.NewRenderer(backend, opts.Location),
		charts:   chart.NewRenderer(opts.Location),
		opts:     opts,
		logf:     opts.Logf,
		loop:     serial.New(),
		ctx:      ctx,
		cancel:   cancel,
		surfaces: make(map[chart.Metric]chart.Surface),
	}
}

// Map exposes the map renderer for read access (markers, popups, surface).
func (v *View) Map() *geomap.Renderer { return v.maps }

// Charts exposes the chart renderer for read access.
func (v *View) Charts() *chart.Renderer { return v.charts }

// Open shows routeID. A nil container loads data without drawing a map.
// Any earlier Open still in flight becomes stale.
func (v *View) Open(ctx context.Context, routeID int64, c geomap.Container) error {
	var gen uint64
	if err := v.loop.Do(func() {
		v.gen++
		gen = v.gen
		v.routeID = routeID
		v.name = ""
		v.ms = nil
		v.loading = true
		v.errMsg = ""
		v.nameErr = ""
		v.mapState = geomap.Idle
		v.container = c
		v.maps.Destroy()
		v.charts.Dispose()
	}); err != nil {
		return err
	}

	r, err := v.api.GetRoute(ctx, routeID)
	if err != nil {
		return v.fail(gen, MsgLoadRoute, fmt.Errorf("load route %d: %w", routeID, err))
	}
	if err := v.apply(gen, func() { v.name = r.Name }); err != nil {
		return err
	}
	return v.load(ctx, gen)
}

// Refresh clears the error, tears the map down and reloads the measurements.
// It is the only way out of an exhausted map initialisation.
func (v *View) Refresh(ctx context.Context) error {
	var (
		gen uint64
		id  int64
	)
	if err := v.loop.Do(func() {
		gen, id = v.gen, v.routeID
		if id != 0 {
			v.errMsg = ""
			v.loading = true
			v.mapState = geomap.Idle
			v.maps.Destroy()
		}
	}); err != nil {
		return err
	}
	if id == 0 {
		return ErrNoRoute
	}
	return v.load(ctx, gen)
}

// load fetches measurements, then initialises and fills the map.
func (v *View) load(ctx context.Context, gen uint64) error {
	var id int64
	_ = v.loop.Do(func() { id = v.routeID })

	ms, err := v.api.GetRouteData(ctx, id)
	if err != nil {
		return v.fail(gen, MsgLoadData, fmt.Errorf("load data of route %d: %w", id, err))
	}
	var c geomap.Container
	if err := v.apply(gen, func() {
		v.ms = ms
		v.loading = false
		c = v.container
	}); err != nil {
		return err
	}
	if c == nil {
		return nil
	}

	if err := v.wait(ctx, v.opts.SettleDelay); err != nil {
		return err
	}
	return v.initMap(ctx, gen, c)
}

func (v *View) initMap(ctx context.Context, gen uint64, c geomap.Container) error {
	in := v.opts.Init
	observer := in.OnTransition
	in.OnTransition = func(s geomap.InitState, attempt int) {
		if s == geomap.Attempting {
			metrics.MapInitAttempts.Inc()
		}
		_ = v.apply(gen, func() { v.mapState = s })
		if observer != nil {
			observer(s, attempt)
		}
	}

	err := in.Run(ctx, guardedMap{v: v, gen: gen}, c)
	if err != nil {
		msg := MsgInit
		if errors.Is(err, geomap.ErrInitExhausted) {
			msg = MsgInitExhausted
			metrics.MapInitFailures.Inc()
		}
		return v.fail(gen, msg, err)
	}

	var updErr error
	if err := v.apply(gen, func() { updErr = v.maps.Update(v.ms, v.deleteHandler()) }); err != nil {
		return err
	}
	if updErr != nil {
		return v.fail(gen, MsgInit, updErr)
	}

	time.AfterFunc(v.opts.SettleDelay, func() {
		if v.current(gen) {
			_ = v.maps.InvalidateSize()
		}
	})
	return nil
}

// Attach binds the loaded route to container c: the map is initialised
// with retries and filled. A map from an earlier Attach is replaced.
func (v *View) Attach(ctx context.Context, c geomap.Container) error {
	var (
		gen uint64
		id  int64
	)
	if err := v.loop.Do(func() {
		gen, id = v.gen, v.routeID
		if id == 0 {
			return
		}
		v.container = c
		v.mapState = geomap.Idle
		if v.errMsg == MsgInit || v.errMsg == MsgInitExhausted {
			v.errMsg = ""
		}
	}); err != nil {
		return err
	}
	if id == 0 {
		return ErrNoRoute
	}
	return v.initMap(ctx, gen, c)
}

// Detach forgets the container and tears the map down; the loaded data
// stays. A later Refresh reloads without drawing until the next Attach.
func (v *View) Detach() error {
	return v.loop.Do(func() {
		v.container = nil
		v.mapState = geomap.Idle
		v.maps.Destroy()
	})
}

// RenderCharts draws the dose and count charts of the loaded route. The
// surfaces are remembered so later deletions redraw them.
func (v *View) RenderCharts(dose, count chart.Surface) error {
	errDose := v.RenderChart(chart.DoseRate, dose)
	errCount := v.RenderChart(chart.CountRate, count)
	if errDose != nil {
		return errDose
	}
	return errCount
}

// RenderChart draws one metric into s.
func (v *View) RenderChart(metric chart.Metric, s chart.Surface) error {
	var (
		id        int64
		renderErr error
	)
	if err := v.loop.Do(func() {
		id = v.routeID
		if id == 0 {
			return
		}
		v.surfaces[metric] = s
		_, renderErr = v.charts.Render(s, metric, v.ms, v.activateHandler())
	}); err != nil {
		return err
	}
	if id == 0 {
		return ErrNoRoute
	}
	if renderErr != nil {
		return renderErr
	}
	metrics.ChartsRendered.WithLabelValues(metric.String()).Inc()
	return nil
}

// DeletePoint asks the confirm hook, deletes upstream and, on success,
// drops the id locally and re-renders the map and every remembered chart.
// On failure the loaded data is left as it was.
func (v *View) DeletePoint(ctx context.Context, pointID int64) error {
	var (
		gen     uint64
		routeID int64
		known   bool
	)
	if err := v.loop.Do(func() {
		gen, routeID = v.gen, v.routeID
		_, known = route.Find(v.ms, pointID)
	}); err != nil {
		return err
	}
	switch {
	case routeID == 0:
		return ErrNoRoute
	case !known:
		return fmt.Errorf("point %d: %w", pointID, ErrUnknownPoint)
	}
	if v.opts.Confirm != nil && !v.opts.Confirm(pointID) {
		return ErrDeclined
	}

	_ = v.apply(gen, func() { v.loading = true })
	if err := v.api.DeletePoint(ctx, routeID, pointID); err != nil {
		return v.fail(gen, MsgDeletePoint, fmt.Errorf("delete point %d of route %d: %w", pointID, routeID, err))
	}
	metrics.PointsDeleted.Inc()

	var renderErr error
	if err := v.apply(gen, func() {
		v.ms = route.Without(v.ms, pointID)
		v.loading = false
		v.errMsg = ""
		renderErr = v.rerender()
	}); err != nil {
		return err
	}
	return renderErr
}

// rerender rebuilds the map overlay and every remembered chart from v.ms.
// Called on the loop.
func (v *View) rerender() error {
	var firstErr error
	if v.maps.IsInitialized() {
		if err := v.maps.Update(v.ms, v.deleteHandler()); err != nil {
			firstErr = err
		}
	}
	for metric, s := range v.surfaces {
		if _, err := v.charts.Render(s, metric, v.ms, v.activateHandler()); err != nil {
			v.logf("redraw %s chart: %v", metric, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Rename validates name locally and sends it upstream. Invalid names never
// leave the process; the validation message is kept as the name error.
func (v *View) Rename(ctx context.Context, name string) error {
	clean, err := route.NormalizeName(name)
	var (
		gen     uint64
		routeID int64
	)
	if loopErr := v.loop.Do(func() {
		gen, routeID = v.gen, v.routeID
		if err != nil && routeID != 0 {
			v.nameErr = err.Error()
		}
	}); loopErr != nil {
		return loopErr
	}
	if routeID == 0 {
		return ErrNoRoute
	}
	if err != nil {
		return err
	}

	if err := v.api.UpdateRouteName(ctx, routeID, clean); err != nil {
		return v.fail(gen, MsgRename, fmt.Errorf("rename route %d: %w", routeID, err))
	}
	return v.apply(gen, func() {
		v.name = clean
		v.nameErr = ""
	})
}

// State returns a snapshot; the measurement slice is a copy.
func (v *View) State() State {
	var st State
	_ = v.loop.Do(func() {
		st = State{
			RouteID:      v.routeID,
			Name:         v.name,
			Measurements: route.Clone(v.ms),
			Loading:      v.loading,
			Error:        v.errMsg,
			NameError:    v.nameErr,
			Map:          v.mapState,
		}
	})
	return st
}

// Summary condenses the loaded measurements.
func (v *View) Summary() route.Summary {
	var ms []route.Measurement
	_ = v.loop.Do(func() { ms = v.ms })
	return route.Summarize(ms)
}

// Close destroys the map and disposes the charts before the view's own
// loop is released. In-flight calls become stale.
func (v *View) Close() {
	_ = v.loop.Do(func() { v.gen++ })
	v.cancel()
	v.maps.Close()
	v.charts.Close()
	v.loop.Close()
}

// deleteHandler is handed to markers and charts; nil hides the affordance.
func (v *View) deleteHandler() func(int64) {
	if v.opts.ReadOnly {
		return nil
	}
	return func(id int64) {
		if err := v.DeletePoint(v.ctx, id); err != nil && !errors.Is(err, ErrDeclined) {
			v.logf("delete point %d: %v", id, err)
		}
	}
}

func (v *View) activateHandler() func(int64) { return v.deleteHandler() }

// apply runs fn on the loop if gen is still current. A closed view counts
// as stale.
func (v *View) apply(gen uint64, fn func()) error {
	stale := false
	if err := v.loop.Do(func() {
		if gen != v.gen {
			stale = true
			return
		}
		fn()
	}); err != nil || stale {
		return ErrStale
	}
	return nil
}

// fail records msg when gen is current and returns cause, or ErrStale.
func (v *View) fail(gen uint64, msg string, cause error) error {
	if err := v.apply(gen, func() {
		v.errMsg = msg
		v.loading = false
		if msg == MsgInit || msg == MsgInitExhausted {
			v.mapState = geomap.Failed
		}
	}); err != nil {
		return err
	}
	v.logf("%s: %v", msg, cause)
	return cause
}

// guardedMap initialises the map only while gen is current, so a slow
// initialisation from an earlier Open cannot replace a newer surface.
type guardedMap struct {
	v   *View
	gen uint64
}

func (g guardedMap) Initialize(c geomap.Container) error {
	var err error
	if loopErr := g.v.loop.Do(func() {
		if g.gen != g.v.gen {
			err = ErrStale
			return
		}
		err = g.v.maps.Initialize(c)
	}); loopErr != nil {
		return loopErr
	}
	return err
}

func (v *View) current(gen uint64) bool {
	ok := false
	_ = v.loop.Do(func() { ok = gen == v.gen })
	return ok
}

func (v *View) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-v.ctx.Done():
		return ErrStale
	case <-t.C:
		return nil
	}
}
