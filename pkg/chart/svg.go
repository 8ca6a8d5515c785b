package chart

import (
	"bytes"
	"sync"
)

// SVGSurface renders an attached chart to an SVG document. A surface holds
// at most one chart; Detach empties it.
type SVGSurface struct {
	key    string
	width  int
	height int

	mu  sync.Mutex
	doc []byte
}

// NewSVGSurface creates a surface of the given pixel size. Zero sizes are
// allowed and make Render report ErrSurfaceNotReady.
func NewSVGSurface(key string, width, height int) *SVGSurface {
	return &SVGSurface{key: key, width: width, height: height}
}

func (s *SVGSurface) Key() string { return s.key }
func (s *SVGSurface) Size() (width, height int) { return s.width, s.height }

// Bytes returns the current SVG document, or nil when nothing is attached.
func (s *SVGSurface) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

func (s *SVGSurface) Attach(c *Chart) error {
	var buf bytes.Buffer
	if err := c.WriteSVG(&buf); err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = buf.Bytes()
	s.mu.Unlock()
	return nil
}

func (s *SVGSurface) Detach(*Chart) {
	s.mu.Lock()
	s.doc = nil
	s.mu.Unlock()
}
