package availability

import (
	"errors"
	"slices"
	"time"
)

// Step is the spacing of the slot grid.
const Step = 15 * time.Minute

// DefaultWindow is used when a professional has no hours configured for the weekday.
var DefaultWindow = Window{StartMinute: 9 * 60, EndMinute: 18 * 60}

type Interval struct {
	Start time.Time
	End   time.Time
}

// Window is a working window expressed as minutes after local midnight.
type Window struct {
	StartMinute int
	EndMinute   int
}

func (w Window) valid() bool {
	return w.StartMinute >= 0 && w.EndMinute <= 24*60 && w.StartMinute < w.EndMinute
}

// Reason explains why a slot is not bookable. Empty means available.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonTooSoon Reason = "too_soon"
	ReasonBusy    Reason = "busy"
	ReasonNoFit   Reason = "exceeds_window"
)

type TimeSlot struct {
	Start     time.Time
	End       time.Time
	Available bool
	Reason    Reason
}

// SlotRequest is everything needed to lay out one day for one professional.
// Busy must already be filtered to the professional's non-cancelled appointments.
type SlotRequest struct {
	Date      time.Time
	Duration  time.Duration
	Window    Window
	Busy      []Interval
	MinNotice time.Duration
	Now       time.Time
	Location  *time.Location
}

var (
	ErrOffGrid       = errors.New("start time is not on the slot grid")
	ErrOutsideWindow = errors.New("start time is outside working hours")
	ErrTooSoon       = errors.New("start time is inside the minimum notice period")
	ErrOverlap       = errors.New("start time overlaps an existing appointment")
	ErrNoService     = errors.New("service duration is required")
)

// ComputeSlots returns every grid start in the working window in ascending
// order, flagged available or not. A missing service or date yields nil.
func ComputeSlots(req SlotRequest) []TimeSlot {
	if req.Duration <= 0 || req.Date.IsZero() {
		return nil
	}
	start, end, ok := req.bounds()
	if !ok {
		return nil
	}

	slots := make([]TimeSlot, 0, int(end.Sub(start)/Step))
	for t := start; t.Before(end); t = t.Add(Step) {
		reason := req.evaluate(t, end)
		slots = append(slots, TimeSlot{
			Start:     t,
			End:       t.Add(req.Duration),
			Available: reason == ReasonNone,
			Reason:    reason,
		})
	}
	return slots
}

// CheckSlot applies the same predicate ComputeSlots uses to a single start.
func CheckSlot(req SlotRequest, start time.Time) error {
	if req.Duration <= 0 {
		return ErrNoService
	}
	wStart, wEnd, ok := req.bounds()
	if !ok || start.Before(wStart) || !start.Before(wEnd) {
		return ErrOutsideWindow
	}
	if start.Sub(wStart)%Step != 0 {
		return ErrOffGrid
	}
	switch req.evaluate(start, wEnd) {
	case ReasonNoFit:
		return ErrOutsideWindow
	case ReasonTooSoon:
		return ErrTooSoon
	case ReasonBusy:
		return ErrOverlap
	default:
		return nil
	}
}

func (req SlotRequest) bounds() (time.Time, time.Time, bool) {
	w := req.Window
	if w == (Window{}) {
		w = DefaultWindow
	}
	if !w.valid() {
		return time.Time{}, time.Time{}, false
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	d := req.Date.In(loc)
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, w.StartMinute, 0, 0, loc),
		time.Date(y, m, day, 0, w.EndMinute, 0, 0, loc),
		true
}

func (req SlotRequest) evaluate(start, windowEnd time.Time) Reason {
	end := start.Add(req.Duration)
	if end.After(windowEnd) {
		return ReasonNoFit
	}
	if start.Before(req.Now.Add(req.MinNotice)) {
		return ReasonTooSoon
	}
	if overlapsAny(Interval{Start: start, End: end}, req.Busy) {
		return ReasonBusy
	}
	return ReasonNone
}

// Overlaps reports whether two half-open intervals [Start, End) intersect.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func overlapsAny(slot Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(slot, b) {
			return true
		}
	}
	return false
}

// MergeAny combines per-professional grids of the same day: a start is
// available when at least one grid has it available.
func MergeAny(grids ...[]TimeSlot) []TimeSlot {
	if len(grids) == 0 {
		return nil
	}
	index := map[int64]int{}
	var out []TimeSlot
	for _, grid := range grids {
		for _, s := range grid {
			key := s.Start.UnixNano()
			i, seen := index[key]
			if !seen {
				index[key] = len(out)
				out = append(out, s)
				continue
			}
			if s.Available && !out[i].Available {
				out[i] = s
			}
		}
	}
	slices.SortFunc(out, func(a, b TimeSlot) int { return a.Start.Compare(b.Start) })
	return out
}
