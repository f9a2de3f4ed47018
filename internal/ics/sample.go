package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// SampleSet names one of the built-in demo calendars.
type SampleSet string

const (
	SampleDefault SampleSet = "default"
	SampleIsraeli SampleSet = "israeli"
)

// ErrUnknownSample is returned for a sample set name we do not ship.
var ErrUnknownSample = errors.New("ics: unknown sample set")

// ParseSampleSet validates a sample set name ("" means default).
func ParseSampleSet(s string) (SampleSet, error) {
	switch SampleSet(strings.ToLower(strings.TrimSpace(s))) {
	case "", SampleDefault:
		return SampleDefault, nil
	case SampleIsraeli:
		return SampleIsraeli, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSample, s)
}

type sampleEvent struct {
	name        string
	dayOffset   int
	hour, min   int
	duration    time.Duration
	description string
	location    string
}

var sampleSets = map[SampleSet][]sampleEvent{
	SampleDefault: {
		{name: "Team Meeting", dayOffset: 5, hour: 10, duration: 2 * time.Hour, description: "Weekly team sync"},
		{name: "Client Presentation", dayOffset: 10, hour: 14, duration: 3 * time.Hour, description: "Q4 results presentation"},
		{name: "Conference", dayOffset: 15, hour: 9, duration: 8 * time.Hour, description: "Annual tech conference", location: "Moscone Center, San Francisco"},
		{name: "Workshop", dayOffset: 20, hour: 13, duration: 4 * time.Hour, description: "AI/ML workshop"},
	},
	SampleIsraeli: {
		{name: "Family Shabbat Dinner", dayOffset: 3, hour: 19, duration: 3 * time.Hour, description: "Dinner at the grandparents", location: "Rehavia, Jerusalem"},
		{name: "Tel Aviv Tech Meetup", dayOffset: 8, hour: 18, min: 30, duration: 2 * time.Hour, description: "Startup founders meetup", location: "Rothschild Blvd, Tel Aviv"},
		{name: "Haifa Port Tour", dayOffset: 12, hour: 10, duration: 4 * time.Hour, description: "Guided tour of the old port"},
	},
}

// Sample builds an iCalendar document for the named set with events placed
// relative to base (only its calendar date is used).
func Sample(set SampleSet, base time.Time) ([]byte, error) {
	events, ok := sampleSets[set]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSample, set)
	}

	day := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, base.Location())

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//Prophetic Calendar//EN")

	for i, se := range events {
		start := day.AddDate(0, 0, se.dayOffset).Add(time.Duration(se.hour)*time.Hour + time.Duration(se.min)*time.Minute)
		ev := cal.AddEvent(fmt.Sprintf("%s-%d@prophetic", set, i+1))
		ev.SetDtStampTime(day)
		ev.SetSummary(se.name)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(se.duration))
		ev.SetDescription(se.description)
		if se.location != "" {
			ev.SetLocation(se.location)
		}
	}

	return []byte(cal.Serialize()), nil
}
