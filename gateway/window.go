// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gateway

import (
	"fmt"
	"time"
)

// TimeWindow is a half-open interval [Start, End) of UTC instants.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow returns the window between start and end, both converted to
// UTC. start must be before end.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	const op = "gateway.NewTimeWindow"
	if start.IsZero() || end.IsZero() {
		return TimeWindow{}, fmt.Errorf("%s: start and end must be set: %w", op, ErrInvalidParameter)
	}
	if !start.Before(end) {
		return TimeWindow{}, fmt.Errorf("%s: start %s is not before end %s: %w", op, start, end, ErrInvalidParameter)
	}
	return TimeWindow{Start: start.UTC(), End: end.UTC()}, nil
}

// WeekOf returns the seven day window starting at local midnight of the
// Sunday on or before t in loc. A nil loc means UTC.
func WeekOf(t time.Time, loc *time.Location) TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d-int(local.Weekday()), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 7)
	return TimeWindow{Start: start.UTC(), End: end.UTC()}
}

func (w TimeWindow) validate() error {
	if w.Start.IsZero() || w.End.IsZero() || !w.Start.Before(w.End) {
		return fmt.Errorf("window [%s, %s) is empty: %w", w.Start, w.End, ErrInvalidParameter)
	}
	return nil
}

// Overlaps reports whether an event running from start to end intersects the
// window. Zero length events overlap when they fall inside it.
func (w TimeWindow) Overlaps(start, end time.Time) bool {
	if !start.Before(w.End) {
		return false
	}
	if start.Equal(end) {
		return !start.Before(w.Start)
	}
	return end.After(w.Start)
}
