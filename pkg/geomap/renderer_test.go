package geomap

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"isotope-route-dashboard/pkg/route"
)

// recordingSurface counts what the renderer did to it.
type recordingSurface struct {
	markers   map[int64]int
	paths     int
	cleared   int
	fits      []Bounds
	sizeCalls int
	removed   bool
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{markers: map[int64]int{}}
}

func (s *recordingSurface) AddMarker(m *Marker) { s.markers[m.ID]++ }
func (s *recordingSurface) SetPath([]LatLng, PathStyle) { s.paths++ }
func (s *recordingSurface) ClearPath() { s.cleared++ }
func (s *recordingSurface) FitBounds(b Bounds) { s.fits = append(s.fits, b) }
func (s *recordingSurface) InvalidateSize() { s.sizeCalls++ }
func (s *recordingSurface) Remove() { s.removed = true }

func (s *recordingSurface) RemoveMarker(m *Marker) {
	s.markers[m.ID]--
	if s.markers[m.ID] == 0 {
		delete(s.markers, m.ID)
	}
}

type recordingBackend struct {
	mu       sync.Mutex
	surfaces []*recordingSurface
}

func (b *recordingBackend) NewSurface(Container) (Surface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := newRecordingSurface()
	b.surfaces = append(b.surfaces, s)
	return s, nil
}

func (b *recordingBackend) live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.surfaces {
		if !s.removed {
			n++
		}
	}
	return n
}

func scenario() []route.Measurement {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	return []route.Measurement{
		{ID: 1, Timestamp: ts, Lat: 50.0, Lon: 30.0, DoseRate: 0.04, CountRate: 12},
		{ID: 2, Timestamp: ts.Add(time.Minute), Lat: 50.001, Lon: 30.001, DoseRate: 0.30, CountRate: 90},
	}
}

func ready(t *testing.T, b Backend) *Renderer {
	t.Helper()
	r := NewRenderer(b, time.UTC)
	t.Cleanup(r.Close)
	if err := r.Initialize(Viewport{Name: "map", Width: 800, Height: 600}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r
}

// TestUpdateScenario covers the two-point route from the dashboard walkthrough.
func TestUpdateScenario(t *testing.T) {
	t.Parallel()

	r := ready(t, &recordingBackend{})
	if err := r.Update(scenario(), func(int64) {}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	markers := r.Markers()
	if len(markers) != 2 {
		t.Fatalf("markers=%d want 2", len(markers))
	}
	want := map[int64]string{1: "#00FF00", 2: "#DF0000"}
	for _, m := range markers {
		if string(m.Style.FillColor) != want[m.ID] {
			t.Fatalf("marker %d fill=%s want %s", m.ID, m.Style.FillColor, want[m.ID])
		}
		if m.Style.Radius != 8 || m.Style.FillOpacity != 0.8 {
			t.Fatalf("marker %d style=%+v", m.ID, m.Style)
		}
	}

	path := r.Path()
	if len(path) != 2 || path[0] != (LatLng{50.0, 30.0}) || path[1] != (LatLng{50.001, 30.001}) {
		t.Fatalf("path=%v", path)
	}

	vp, ok := r.Viewport()
	if !ok {
		t.Fatalf("no viewport")
	}
	for _, p := range path {
		if !vp.Contains(p) {
			t.Fatalf("viewport %+v misses %v", vp, p)
		}
	}
}

// TestUpdateEmptyClearsOverlay leaves no markers or path but keeps the viewport.
func TestUpdateEmptyClearsOverlay(t *testing.T) {
	t.Parallel()

	r := ready(t, &recordingBackend{})
	if err := r.Update(scenario(), nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	before, _ := r.Viewport()

	if err := r.Update(nil, nil); err != nil {
		t.Fatalf("Update(nil): %v", err)
	}
	if n := len(r.Markers()); n != 0 {
		t.Fatalf("markers=%d want 0", n)
	}
	if p := r.Path(); p != nil {
		t.Fatalf("path=%v want nil", p)
	}
	after, ok := r.Viewport()
	if !ok || after != before {
		t.Fatalf("viewport=%+v,%v want %+v", after, ok, before)
	}
}

// TestUpdateTwiceDoesNotAccumulate checks that markers never pile up.
func TestUpdateTwiceDoesNotAccumulate(t *testing.T) {
	t.Parallel()

	b := &recordingBackend{}
	r := ready(t, b)
	for i := 0; i < 2; i++ {
		if err := r.Update(scenario(), nil); err != nil {
			t.Fatalf("Update #%d: %v", i, err)
		}
	}
	if n := len(r.Markers()); n != 2 {
		t.Fatalf("markers=%d want 2", n)
	}
	s := b.surfaces[0]
	if len(s.markers) != 2 {
		t.Fatalf("surface markers=%v", s.markers)
	}
	for id, n := range s.markers {
		if n != 1 {
			t.Fatalf("marker %d drawn %d times", id, n)
		}
	}
}

// TestUpdateAfterDelete redraws with exactly the removed id missing.
func TestUpdateAfterDelete(t *testing.T) {
	t.Parallel()

	r := ready(t, &recordingBackend{})
	ms := scenario()
	if err := r.Update(ms, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := r.Update(route.Without(ms, 1), nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	markers := r.Markers()
	if len(markers) != 1 || markers[0].ID != 2 {
		t.Fatalf("markers=%+v want only id 2", markers)
	}
}

// TestUpdateRequiresSurface reports ErrNotInitialized before Initialize.
func TestUpdateRequiresSurface(t *testing.T) {
	t.Parallel()

	r := NewRenderer(&recordingBackend{}, time.UTC)
	defer r.Close()
	if err := r.Update(scenario(), nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Update err=%v want ErrNotInitialized", err)
	}
	if err := r.InvalidateSize(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("InvalidateSize err=%v want ErrNotInitialized", err)
	}
}

// TestInitializeZeroSize yields ErrNotReady and no surface.
func TestInitializeZeroSize(t *testing.T) {
	t.Parallel()

	b := &recordingBackend{}
	r := NewRenderer(b, time.UTC)
	defer r.Close()

	cases := []Viewport{{"a", 0, 0}, {"b", 800, 0}, {"c", 0, 600}}
	for _, c := range cases {
		if err := r.Initialize(c); !errors.Is(err, ErrNotReady) {
			t.Fatalf("Initialize(%+v)=%v want ErrNotReady", c, err)
		}
	}
	if r.IsInitialized() || len(b.surfaces) != 0 {
		t.Fatalf("surface created for zero-size container")
	}
}

// TestInitializeConcurrent leaves exactly one live surface.
func TestInitializeConcurrent(t *testing.T) {
	t.Parallel()

	b := &recordingBackend{}
	r := NewRenderer(b, time.UTC)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Initialize(Viewport{Name: "map", Width: 640, Height: 480})
		}()
	}
	wg.Wait()

	if n := b.live(); n != 1 {
		t.Fatalf("live surfaces=%d want 1", n)
	}
}

// TestDestroyIdempotent removes the surface once.
func TestDestroyIdempotent(t *testing.T) {
	t.Parallel()

	b := &recordingBackend{}
	r := ready(t, b)
	_ = r.Update(scenario(), nil)
	r.Destroy()
	r.Destroy()
	if r.IsInitialized() {
		t.Fatalf("still initialised")
	}
	if !b.surfaces[0].removed {
		t.Fatalf("surface not removed")
	}
	if _, ok := r.Viewport(); ok {
		t.Fatalf("viewport kept after destroy")
	}
}

// TestPopupDelete fires the callback once with the measurement id.
func TestPopupDelete(t *testing.T) {
	t.Parallel()

	r := ready(t, &recordingBackend{})
	var got []int64
	if err := r.Update(scenario(), func(id int64) { got = append(got, id) }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	p, ok := r.Popup(2)
	if !ok {
		t.Fatalf("no popup for 2")
	}
	if p.DoseRate != "0.300" || p.Position != "50.001000, 30.001000" || p.Timestamp != "2024-01-01 10:01:00" {
		t.Fatalf("popup=%+v", p)
	}
	if err := p.RequestDelete(); !errors.Is(err, ErrPopupClosed) {
		t.Fatalf("delete on closed popup err=%v", err)
	}
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.RequestDelete(); err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	if err := p.RequestDelete(); !errors.Is(err, ErrPopupClosed) {
		t.Fatalf("second delete err=%v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("callback ids=%v want [2]", got)
	}
}

// TestStalePopupNeverFires checks popups from a replaced overlay.
func TestStalePopupNeverFires(t *testing.T) {
	t.Parallel()

	r := ready(t, &recordingBackend{})
	fired := 0
	cb := func(int64) { fired++ }
	if err := r.Update(scenario(), cb); err != nil {
		t.Fatalf("Update: %v", err)
	}
	old, _ := r.Popup(1)
	if err := old.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Update(scenario(), cb); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if old.IsOpen() {
		t.Fatalf("stale popup reports open")
	}
	if err := old.RequestDelete(); !errors.Is(err, ErrPopupClosed) {
		t.Fatalf("stale delete err=%v", err)
	}
	if err := old.Open(); !errors.Is(err, ErrPopupClosed) {
		t.Fatalf("stale open err=%v", err)
	}
	if fired != 0 {
		t.Fatalf("stale popup fired %d times", fired)
	}
}

// TestPopupWithoutDelete hides the delete affordance.
func TestPopupWithoutDelete(t *testing.T) {
	t.Parallel()

	r := ready(t, &recordingBackend{})
	_ = r.Update(scenario(), nil)
	p, _ := r.Popup(1)
	if p.Deletable {
		t.Fatalf("read-only popup offers delete")
	}
	_ = p.Open()
	if err := p.RequestDelete(); err == nil {
		t.Fatalf("read-only popup accepted delete")
	}
}

// TestFeatureSurfaceDocument checks the GeoJSON the map page loads.
func TestFeatureSurfaceDocument(t *testing.T) {
	t.Parallel()

	r := ready(t, DefaultFeatureBackend)
	if err := r.Update(scenario(), func(int64) {}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := r.InvalidateSize(); err != nil {
		t.Fatalf("InvalidateSize: %v", err)
	}

	var doc FeatureCollection
	if err := r.Inspect(func(s Surface) { doc = s.(*FeatureSurface).Document() }); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(doc.Features) != 3 {
		t.Fatalf("features=%d want 3", len(doc.Features))
	}
	if doc.Features[2].Geometry.Type != "LineString" {
		t.Fatalf("last feature=%s want LineString", doc.Features[2].Geometry.Type)
	}
	want := []float64{30.0, 50.0, 30.001, 50.001}
	for i := range want {
		if doc.BBox[i] != want[i] {
			t.Fatalf("bbox=%v want %v", doc.BBox, want)
		}
	}
	if doc.View.Width != 800 || doc.View.SizeChecks != 1 {
		t.Fatalf("view=%+v", doc.View)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil || generic["type"] != "FeatureCollection" {
		t.Fatalf("round trip: %v %v", err, generic["type"])
	}
}
