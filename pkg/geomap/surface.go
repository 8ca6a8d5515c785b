package geomap

// Container is the layout slot a map surface lives in. A container that
// reports a zero width or height has not been laid out yet.
type Container interface {
	Key() string
	Size() (width, height int)
}

// Surface is a live map bound to a container.
type Surface interface {
	AddMarker(m *Marker)
	RemoveMarker(m *Marker)
	SetPath(points []LatLng, style PathStyle)
	ClearPath()
	FitBounds(b Bounds)
	// InvalidateSize re-reads the container size after layout settles.
	InvalidateSize()
	// Remove tears the surface down; it is not used again afterwards.
	Remove()
}

// Backend creates surfaces.
type Backend interface {
	NewSurface(c Container) (Surface, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(c Container) (Surface, error)

func (f BackendFunc) NewSurface(c Container) (Surface, error) { return f(c) }

// Viewport is a fixed-size Container, typically the map element size a
// browser reported for one page load.
type Viewport struct {
	Name          string
	Width, Height int
}

func (v Viewport) Key() string { return v.Name }
func (v Viewport) Size() (width, height int) { return v.Width, v.Height }
