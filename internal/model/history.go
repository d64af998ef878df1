package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// zone-less layouts are what the simulator emits via Python's isoformat().
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Timestamp is an instant decoded from either RFC 3339 or zone-less ISO-8601.
// Zone-less values are interpreted as UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses s with the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// HistoryPoint is one timestamped set of vital signs.
type HistoryPoint struct {
	Timestamp  Timestamp  `json:"timestamp"`
	VitalSigns VitalSigns `json:"vital_signs"`
}

// HistorySeries is ordered as returned by the service, oldest first.
type HistorySeries []HistoryPoint

// Ascending reports whether timestamps never decrease.
func (h HistorySeries) Ascending() bool {
	for i := 1; i < len(h); i++ {
		if h[i].Timestamp.Before(h[i-1].Timestamp.Time) {
			return false
		}
	}
	return true
}

// Latest returns the last point in the series.
func (h HistorySeries) Latest() (HistoryPoint, bool) {
	if len(h) == 0 {
		return HistoryPoint{}, false
	}
	return h[len(h)-1], true
}

// Span returns the time covered between the first and last points.
func (h HistorySeries) Span() time.Duration {
	if len(h) < 2 {
		return 0
	}
	return h[len(h)-1].Timestamp.Sub(h[0].Timestamp.Time)
}
