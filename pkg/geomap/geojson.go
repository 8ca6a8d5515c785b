package geomap

// FeatureCollection is the GeoJSON document a FeatureSurface produces. BBox
// carries the fitted viewport as [west, south, east, north].
type FeatureCollection struct {
	Type     string    `json:"type"`
	BBox     []float64 `json:"bbox,omitempty"`
	Features []Feature `json:"features"`
	View     View      `json:"view"`
}

// Feature is a single GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry holds Point ([lon, lat]) or LineString ([][lon, lat]) coordinates.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// View describes the surface itself: where it starts and how big its
// container was the last time it was measured.
type View struct {
	Center     LatLng `json:"center"`
	Zoom       int    `json:"zoom"`
	MinZoom    int    `json:"minZoom"`
	MaxZoom    int    `json:"maxZoom"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SizeChecks int    `json:"sizeChecks"`
}

// FeatureBackend builds GeoJSON surfaces with a default world view.
type FeatureBackend struct {
	Center  LatLng
	Zoom    int
	MinZoom int
	MaxZoom int
}

// DefaultFeatureBackend matches the initial view of the map page.
var DefaultFeatureBackend = FeatureBackend{Zoom: 2, MinZoom: 2, MaxZoom: 18}

func (b FeatureBackend) NewSurface(c Container) (Surface, error) {
	w, h := c.Size()
	return &FeatureSurface{
		container: c,
		view: View{
			Center:  b.Center,
			Zoom:    b.Zoom,
			MinZoom: b.MinZoom,
			MaxZoom: b.MaxZoom,
			Width:   w,
			Height:  h,
		},
	}, nil
}

// FeatureSurface keeps the overlay as data and encodes it as GeoJSON for a
// browser-side map to draw. Read it through Renderer.Inspect.
type FeatureSurface struct {
	container Container
	markers   []*Marker
	path      []LatLng
	pathStyle PathStyle
	bounds    *Bounds
	view      View
	removed   bool
}

func (s *FeatureSurface) AddMarker(m *Marker) { s.markers = append(s.markers, m) }

func (s *FeatureSurface) RemoveMarker(m *Marker) {
	out := s.markers[:0]
	for _, existing := range s.markers {
		if existing != m {
			out = append(out, existing)
		}
	}
	s.markers = out
}

func (s *FeatureSurface) SetPath(points []LatLng, style PathStyle) {
	s.path = append([]LatLng(nil), points...)
	s.pathStyle = style
}

func (s *FeatureSurface) ClearPath() { s.path = nil }

func (s *FeatureSurface) FitBounds(b Bounds) {
	s.bounds = &b
	s.view.Center = LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lon: (b.SouthWest.Lon + b.NorthEast.Lon) / 2,
	}
}

func (s *FeatureSurface) InvalidateSize() {
	s.view.Width, s.view.Height = s.container.Size()
	s.view.SizeChecks++
}

func (s *FeatureSurface) Remove() {
	s.markers = nil
	s.path = nil
	s.bounds = nil
	s.removed = true
}

// Removed reports whether the surface was torn down.
func (s *FeatureSurface) Removed() bool { return s.removed }

// Document encodes markers, path and viewport.
func (s *FeatureSurface) Document() FeatureCollection {
	fc := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, len(s.markers)+1),
		View:     s.view,
	}
	if s.bounds != nil {
		fc.BBox = []float64{s.bounds.SouthWest.Lon, s.bounds.SouthWest.Lat, s.bounds.NorthEast.Lon, s.bounds.NorthEast.Lat}
	}
	for _, m := range s.markers {
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: []float64{m.Position.Lon, m.Position.Lat}},
			Properties: map[string]any{
				"kind":  "marker",
				"id":    m.ID,
				"style": m.Style,
				"popup": m.Popup,
			},
		})
	}
	if len(s.path) > 0 {
		coords := make([][]float64, len(s.path))
		for i, p := range s.path {
			coords[i] = []float64{p.Lon, p.Lat}
		}
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "LineString", Coordinates: coords},
			Properties: map[string]any{
				"kind":  "path",
				"style": s.pathStyle,
			},
		})
	}
	return fc
}
