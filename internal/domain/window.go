package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidWindow  = errors.New("start must be before end")
	ErrMissingOffset  = errors.New("timestamp must include a UTC offset")
	ErrInvalidInstant = errors.New("timestamp must be RFC 3339")
)

// TimeWindow is a half-open interval [Start, End) of absolute instants.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	start = start.UTC()
	end = end.UTC()
	if !start.Before(end) {
		return TimeWindow{}, ErrInvalidWindow
	}
	return TimeWindow{Start: start, End: end}, nil
}

func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports strict interval overlap; windows that only touch do not overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w TimeWindow) Contains(o TimeWindow) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

func (w TimeWindow) Equal(o TimeWindow) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

// ParseInstant parses an RFC 3339 timestamp and rejects values without an explicit offset.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if _, naive := time.Parse("2006-01-02T15:04:05.999999999", s); naive == nil {
			return time.Time{}, ErrMissingOffset
		}
		return time.Time{}, ErrInvalidInstant
	}
	return t.UTC(), nil
}
