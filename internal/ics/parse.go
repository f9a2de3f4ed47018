package ics

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "prophetic/internal/log"
	"prophetic/internal/model"
)

const untitledEvent = "Untitled Event"

// ParseError reports a calendar payload that could not be turned into events.
type ParseError struct {
	Source string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "ics: parse " + e.Source + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParsedEvent is the normalized representation of a VEVENT before
// recurrence expansion.
type ParsedEvent struct {
	Source Source

	UID string

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides one instance
	IsOverride bool
}

// ParseICS parses a single ICS payload into ParsedEvents.
//
//   - Date-only DTSTART/DTEND values become midnight in loc and mark the
//     event all-day.
//   - A missing DTEND yields End == Start (all-day: one day later).
//   - RRULE/EXDATE/RECURRENCE-ID are recorded; expansion lives in expand.go.
//
// Any structural problem, or a VEVENT without a usable DTSTART or with an
// end before its start, fails the whole payload with *ParseError.
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Source: src.ID, Reason: "empty calendar payload"}
	}
	if !bytes.Contains(bytes.ToUpper(body), []byte("BEGIN:VCALENDAR")) {
		return nil, &ParseError{Source: src.ID, Reason: "missing BEGIN:VCALENDAR"}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID)
		return nil, &ParseError{Source: src.ID, Reason: "malformed calendar", Err: err}
	}

	vevents := cal.Events()
	events := make([]ParsedEvent, 0, len(vevents))
	for i, comp := range vevents {
		ev, perr := parseVEvent(src, comp, loc)
		if perr != nil {
			return nil, &ParseError{Source: src.ID, Reason: fmt.Sprintf("event %d", i+1), Err: perr}
		}
		if ev.UID == "" {
			// Without a UID overrides cannot be matched; give every such
			// event its own group.
			ev.UID = fmt.Sprintf("%s-anon-%d", src.ID, i)
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

// Parse parses and expands a payload into a start-sorted event list.
// Recurring events are expanded into the window given by cfg.
func Parse(src Source, body []byte, cfg ExpandConfig) ([]model.Event, error) {
	parsed, err := ParseICS(src, body, cfg.DisplayLocation)
	if err != nil {
		return nil, err
	}
	res, err := ExpandOccurrences(parsed, cfg)
	if err != nil {
		return nil, err
	}
	events := res.Occurrences
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	appLog.Info("calendar parsed", "id", src.ID, "vevents", len(parsed), "events", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}

	out.Summary = untitledEvent
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && strings.TrimSpace(p.Value) != "" {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := propTime(dtStart, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && strings.TrimSpace(dtEnd.Value) != "" {
		end, _, err := propTime(dtEnd, loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	} else if allDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start
	}
	if out.End.Before(out.Start) {
		return out, fmt.Errorf("DTEND %s is before DTSTART %s", out.End.Format(time.RFC3339), out.Start.Format(time.RFC3339))
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		exLoc := paramLocation(p, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, _, err := parseICSTime(part, exLoc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, _, err := propTime(rid, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// propTime parses a DATE / DATE-TIME property, honouring its TZID parameter.
func propTime(p *ical.IANAProperty, def *time.Location) (time.Time, bool, error) {
	t, allDay, err := parseICSTime(p.Value, paramLocation(p, def))
	if err != nil {
		return t, allDay, err
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	return t, allDay, nil
}

func paramLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(strings.Trim(tzs[0], `"`)); err == nil {
			return loc
		}
		appLog.Warn("ics: unknown TZID, using display zone", "tzid", tzs[0])
	}
	return def
}

// parseICSTime parses the three iCalendar time shapes: UTC date-time
// (20250101T090000Z), floating/TZID date-time (20250101T090000) and date
// (20250101). The bool result is true for date-only values.
func parseICSTime(v string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}
	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	}
	t, err := time.ParseInLocation("20060102", v, loc)
	return t, true, err
}
