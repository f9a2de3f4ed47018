// Package timeline holds the notion of "today" used by every date decision:
// either the real clock or a user-advanceable simulated date.
package timeline

import (
	"errors"
	"sort"
	"time"

	"prophetic/internal/model"
)

// Mode selects where the current date comes from.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeReal      Mode = "real"
)

var (
	ErrRealMode    = errors.New("timeline: cannot change the date in real mode")
	ErrInvalidDays = errors.New("timeline: days must be a positive whole number")
	ErrInvalidMode = errors.New("timeline: unknown mode")
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSimulated, ModeReal:
		return Mode(s), nil
	}
	return "", ErrInvalidMode
}

// Clock returns the real current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now.
var SystemClock Clock = ClockFunc(time.Now)

// State is an immutable timeline value. Every operation returns a new State.
type State struct {
	Current time.Time `json:"current"` // midnight in the display zone
	Mode    Mode      `json:"mode"`
}

// New builds a State for today's date according to clock, in loc.
func New(clock Clock, loc *time.Location, mode Mode) State {
	return State{Current: Midnight(clock.Now(), loc), Mode: mode}
}

// Midnight truncates t to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Advance moves a simulated timeline forward by whole days.
func (s State) Advance(days int) (State, error) {
	if s.Mode != ModeSimulated {
		return s, ErrRealMode
	}
	if days < 1 {
		return s, ErrInvalidDays
	}
	s.Current = s.Current.AddDate(0, 0, days)
	return s, nil
}

// SetDate jumps a simulated timeline to the calendar date of t.
func (s State) SetDate(t time.Time) (State, error) {
	if s.Mode != ModeSimulated {
		return s, ErrRealMode
	}
	s.Current = Midnight(t, s.Current.Location())
	return s, nil
}

// Reset returns the real current date, whatever happened before. The mode
// is kept.
func (s State) Reset(clock Clock) State {
	s.Current = Midnight(clock.Now(), s.Current.Location())
	return s
}

// WithMode switches mode. Entering real mode snaps to the real date;
// entering simulated mode starts from wherever the timeline currently is.
func (s State) WithMode(m Mode, clock Clock) State {
	s.Mode = m
	if m == ModeReal {
		return s.Reset(clock)
	}
	return s
}

// Refresh re-reads the clock in real mode so a long-running process follows
// midnight. Simulated timelines are returned unchanged.
func (s State) Refresh(clock Clock) State {
	if s.Mode == ModeReal {
		return s.Reset(clock)
	}
	return s
}

// DaysUntil is the number of whole calendar days from the current date to
// the event's start date. Negative once the event has passed.
func (s State) DaysUntil(ev model.Event) int {
	return daysBetween(s.Current, Midnight(ev.Start, s.Current.Location()))
}

// daysBetween counts calendar days from a to b (both midnights) without
// being thrown off by DST transitions.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// NeedsDetails reports whether an event that is days away falls inside the
// detail-collection window.
func NeedsDetails(days, window int) bool {
	return days > 0 && days <= window
}

// AlertDue reports whether days matches one of the alert leads.
func AlertDue(days int, leads []int) bool {
	for _, l := range leads {
		if days == l {
			return true
		}
	}
	return false
}

// Upcoming returns events whose start falls between the current date and
// daysAhead days later (inclusive), sorted by start.
func (s State) Upcoming(events []model.Event, daysAhead int) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range events {
		d := s.DaysUntil(ev)
		if d >= 0 && d <= daysAhead {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
