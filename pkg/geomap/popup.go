package geomap

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"isotope-route-dashboard/pkg/route"
)

// ErrPopupClosed is returned when a popup is used after it was closed or
// after the marker it belongs to was cleared by a later update.
var ErrPopupClosed = errors.New("popup closed")

// Popup is the info box attached to a marker. The delete action is a
// capability handed over at marker construction; it fires at most once and
// only while the popup is open on a marker that is still on the map.
type Popup struct {
	MeasurementID int64  `json:"id"`
	Timestamp     string `json:"timestamp"`
	DoseRate      string `json:"doseRate"`
	CountRate     string `json:"countRate"`
	Position      string `json:"position"`
	Deletable     bool   `json:"deletable"`

	owner    *Renderer
	gen      uint64
	onDelete func(int64)
	open     bool
}

func newPopup(owner *Renderer, gen uint64, m route.Measurement, loc *time.Location, onDelete func(int64)) *Popup {
	return &Popup{
		MeasurementID: m.ID,
		Timestamp:     m.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
		DoseRate:      strconv.FormatFloat(m.DoseRate, 'f', 3, 64),
		CountRate:     strconv.FormatFloat(m.CountRate, 'f', -1, 64),
		Position:      fmt.Sprintf("%.6f, %.6f", m.Lat, m.Lon),
		Deletable:     onDelete != nil,
		owner:         owner,
		gen:           gen,
		onDelete:      onDelete,
	}
}

// Open shows the popup. Opening a popup whose marker is gone fails.
func (p *Popup) Open() error {
	var err error
	if loopErr := p.owner.loop.Do(func() {
		if !p.owner.current(p.gen) {
			err = ErrPopupClosed
			return
		}
		p.open = true
	}); loopErr != nil {
		return loopErr
	}
	return err
}

// Close hides the popup. Closing twice is harmless.
func (p *Popup) Close() {
	_ = p.owner.loop.Do(func() { p.open = false })
}

// IsOpen reports whether the popup is showing on a live marker.
func (p *Popup) IsOpen() bool {
	open := false
	_ = p.owner.loop.Do(func() { open = p.open && p.owner.current(p.gen) })
	return open
}

// RequestDelete closes the popup and passes the measurement id to the
// delete callback. The callback runs outside the renderer so it may call
// Update.
func (p *Popup) RequestDelete() error {
	if !p.Deletable {
		return fmt.Errorf("popup %d: delete not offered", p.MeasurementID)
	}
	var (
		fire bool
		err  error
	)
	if loopErr := p.owner.loop.Do(func() {
		if !p.open || !p.owner.current(p.gen) {
			err = ErrPopupClosed
			return
		}
		p.open = false
		fire = true
	}); loopErr != nil {
		return loopErr
	}
	if err != nil {
		return err
	}
	if fire {
		p.onDelete(p.MeasurementID)
	}
	return nil
}
