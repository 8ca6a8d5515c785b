package route

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// wireMeasurement mirrors the upstream JSON for GET /routes/{id}/data.
type wireMeasurement struct {
	ID         int64           `json:"id"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	UsvPerHour float64         `json:"usvPerHour"`
	CPM        float64         `json:"cpm"`
}

// UnmarshalJSON accepts the upstream field names and every timestamp
// shape the API has been seen to emit.
func (m *Measurement) UnmarshalJSON(b []byte) error {
	var w wireMeasurement
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := decodeTimestamp(w.Timestamp)
	if err != nil {
		return fmt.Errorf("measurement %d: %w", w.ID, err)
	}
	*m = Measurement{
		ID:        w.ID,
		Timestamp: ts,
		Lat:       w.Latitude,
		Lon:       w.Longitude,
		DoseRate:  w.UsvPerHour,
		CountRate: w.CPM,
	}
	return nil
}

// MarshalJSON writes the upstream shape back out with an RFC3339 timestamp.
func (m Measurement) MarshalJSON() ([]byte, error) {
	ts, _ := json.Marshal(m.Timestamp.Format(time.RFC3339Nano))
	return json.Marshal(wireMeasurement{
		ID:         m.ID,
		Timestamp:  ts,
		Latitude:   m.Lat,
		Longitude:  m.Lon,
		UsvPerHour: m.DoseRate,
		CPM:        m.CountRate,
	})
}

// zoneless layouts are read in time.Local, matching how a browser reads an
// ISO date-time without an offset.
var timestampLayouts = []struct {
	layout   string
	zoneless bool
}{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02T15:04:05.999999999", true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02 15:04:05", true},
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if raw[0] != '"' {
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %s: %w", raw, err)
		}
		return fromUnix(int64(n)), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	return ParseTimestamp(s)
}

// ParseTimestamp reads textual timestamps; all-digit strings are treated as
// unix seconds, or milliseconds when they are too large to be seconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromUnix(n), nil
	}
	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoneless {
			t, err = time.ParseInLocation(l.layout, s, time.Local)
		} else {
			t, err = time.Parse(l.layout, s)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func fromUnix(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
