package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"prophetic/internal/ics"
	appLog "prophetic/internal/log"
	"prophetic/internal/model"
	"prophetic/internal/store"
)

// expandBackDays keeps recurring instances from the recent past so that a
// timeline moved backwards still finds them.
const expandBackDays = 30

// ImportResult describes a calendar load.
type ImportResult struct {
	Source     string `json:"source"`
	EventCount int    `json:"event_count"`
	FromCache  bool   `json:"from_cache,omitempty"`
	// Fallback is set when the payload was rejected and the sample set was
	// loaded in its place.
	Fallback  bool   `json:"fallback,omitempty"`
	SampleSet string `json:"sample_set,omitempty"`
}

// LoadSample replaces the events with a built-in sample set placed relative
// to the current timeline date.
func (s *Service) LoadSample(ctx context.Context, set ics.SampleSet) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSampleLocked(ctx, set)
}

func (s *Service) loadSampleLocked(ctx context.Context, set ics.SampleSet) (ImportResult, error) {
	st := s.current()
	body, err := ics.Sample(set, st.Current)
	if err != nil {
		return ImportResult{}, err
	}
	n, err := s.loadCalendarLocked(ctx, "sample:"+string(set), ics.Source{ID: "sample"}, body)
	if err != nil {
		return ImportResult{}, fmt.Errorf("app: sample set %s: %w", set, err)
	}
	s.logEvent("calendar_load", "Sample Calendar", map[string]any{
		"sample_set":  string(set),
		"event_count": n,
		"base_date":   st.Current.Format(time.DateOnly),
	})
	return ImportResult{Source: s.source, EventCount: n, SampleSet: string(set)}, nil
}

// ImportCalendar replaces the events with the contents of an iCalendar
// payload. A payload that cannot be parsed is reported through the returned
// *ics.ParseError; in that case the sample set is loaded instead and the
// returned ImportResult describes it.
func (s *Service) ImportCalendar(ctx context.Context, name string, body []byte) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importLocked(ctx, ics.Source{ID: sourceID(name, "upload")}, body, false)
}

func (s *Service) importLocked(ctx context.Context, src ics.Source, body []byte, fromCache bool) (ImportResult, error) {
	n, err := s.loadCalendarLocked(ctx, src.ID, src, body)
	if err != nil {
		var perr *ics.ParseError
		if !errors.As(err, &perr) {
			return ImportResult{}, err
		}
		appLog.Warn("calendar rejected, loading sample set", "source", src.ID, "reason", perr.Reason)
		s.logEvent("calendar_error", src.ID, map[string]any{"error": perr.Error()})

		res, ferr := s.loadSampleLocked(ctx, s.opts.Sample)
		if ferr != nil {
			return ImportResult{}, errors.Join(err, ferr)
		}
		res.Fallback = true
		return res, err
	}

	s.logEvent("calendar_load", src.ID, map[string]any{"event_count": n, "from_cache": fromCache})
	return ImportResult{Source: src.ID, EventCount: n, FromCache: fromCache}, nil
}

// FetchCalendar downloads an ICS URL and imports it. Network failures are
// returned as-is; a downloaded payload that does not parse falls back to the
// sample set like ImportCalendar.
func (s *Service) FetchCalendar(ctx context.Context, rawURL string) (ImportResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ImportResult{}, ErrNoCalendarURL
	}
	if s.fetcher == nil {
		return ImportResult{}, errors.New("app: calendar fetching is disabled")
	}

	// The download runs without the lock.
	fr, err := s.fetcher.FetchOne(ctx, ics.Source{ID: "url", URL: rawURL})
	if err != nil {
		return ImportResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importLocked(ctx, fr.Source, fr.Body, fr.FromCache)
}

// Initial selects the calendar loaded at startup.
type Initial struct {
	Path   string
	URL    string
	Sample string
	// Force reloads even when events were restored from the store.
	Force bool
}

// Bootstrap loads the startup calendar: a file, then a URL, then a sample
// set ("none" disables the sample). Restored events are kept unless Force is
// set or an explicit file or URL is given.
func (s *Service) Bootstrap(ctx context.Context, in Initial) (ImportResult, error) {
	switch {
	case in.Path != "":
		body, err := os.ReadFile(in.Path)
		if err != nil {
			return ImportResult{}, fmt.Errorf("app: read calendar: %w", err)
		}
		return s.ImportCalendar(ctx, filepath.Base(in.Path), body)
	case in.URL != "":
		return s.FetchCalendar(ctx, in.URL)
	}

	s.mu.Lock()
	restored := len(s.events)
	source := s.source
	s.mu.Unlock()
	if restored > 0 && !in.Force {
		appLog.Info("keeping restored calendar", "source", source, "events", restored)
		return ImportResult{Source: source, EventCount: restored}, nil
	}
	if strings.EqualFold(strings.TrimSpace(in.Sample), "none") {
		return ImportResult{}, nil
	}
	set, err := ics.ParseSampleSet(in.Sample)
	if err != nil {
		return ImportResult{}, err
	}
	return s.LoadSample(ctx, set)
}

// loadCalendarLocked parses body, expands it around the current date and
// makes it the session's calendar. It returns the number of events.
func (s *Service) loadCalendarLocked(ctx context.Context, label string, src ics.Source, body []byte) (int, error) {
	parsed, err := ics.ParseICS(src, body, s.opts.Location)
	if err != nil {
		return 0, err
	}
	events, window, err := s.expand(parsed, s.current().Current)
	if err != nil {
		return 0, err
	}
	if err := s.store.SaveCalendar(ctx, store.Calendar{Label: label, SourceID: src.ID, Body: body}); err != nil {
		return 0, err
	}
	if err := s.replaceEvents(ctx, label, events); err != nil {
		return 0, err
	}
	s.parsed, s.window = parsed, window
	appLog.Info("calendar parsed", "id", src.ID, "vevents", len(parsed), "events", len(events))
	return len(events), nil
}

// restoreCalendar reloads the saved payload so recurring events keep
// following the timeline after a restart. A payload that no longer parses
// leaves the stored events as they are.
func (s *Service) restoreCalendar(ctx context.Context, cal store.Calendar) error {
	parsed, err := ics.ParseICS(ics.Source{ID: cal.SourceID}, cal.Body, s.opts.Location)
	if err != nil {
		appLog.Warn("saved calendar no longer parses, keeping stored events", "source", cal.Label, "reason", err.Error())
		return nil
	}
	s.parsed = parsed
	s.source = cal.Label
	return s.refreshOccurrences(ctx, s.state.Current)
}

func (s *Service) expand(parsed []ics.ParsedEvent, day time.Time) ([]model.Event, ics.ExpandConfig, error) {
	cfg := ics.WindowAround(day, expandBackDays, s.opts.HorizonDays, s.opts.Location)
	res, err := ics.ExpandOccurrences(parsed, cfg)
	if err != nil {
		return nil, cfg, err
	}
	if len(res.TruncatedEvents) > 0 {
		appLog.Warn("recurrence truncated", "uids", res.TruncatedEvents)
	}
	events := res.Occurrences
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, cfg, nil
}

// refreshOccurrences expands recurring events again once day has left the
// window they were expanded over. Event keys of surviving occurrences do not
// change, so saved details and cached findings stay attached.
func (s *Service) refreshOccurrences(ctx context.Context, day time.Time) error {
	if !hasRecurrence(s.parsed) || s.windowCovers(day) {
		return nil
	}
	events, window, err := s.expand(s.parsed, day)
	if err != nil {
		return err
	}
	if err := s.store.SaveEvents(ctx, events); err != nil {
		return err
	}
	s.events, s.window = events, window
	appLog.Debug("recurring events expanded",
		"from", window.RangeStart.Format(time.DateOnly),
		"to", window.RangeEnd.Format(time.DateOnly),
		"events", len(events),
	)
	return nil
}

// windowCovers reports whether the expanded range still spans the look-back
// and the upcoming list as seen from day.
func (s *Service) windowCovers(day time.Time) bool {
	ahead := min(s.opts.UpcomingDays, s.opts.HorizonDays)
	return !day.AddDate(0, 0, -expandBackDays).Before(s.window.RangeStart) &&
		!day.AddDate(0, 0, ahead+1).After(s.window.RangeEnd)
}

func hasRecurrence(parsed []ics.ParsedEvent) bool {
	for _, ev := range parsed {
		if ev.RawRRule != "" {
			return true
		}
	}
	return false
}

// replaceEvents swaps the event set. Saved details stay keyed by event key,
// so re-importing the same calendar keeps them attached.
func (s *Service) replaceEvents(ctx context.Context, source string, events []model.Event) error {
	if err := s.store.SaveEvents(ctx, events); err != nil {
		return err
	}
	s.events = events
	s.source = source
	s.findings = make(map[string][]model.Issue)
	s.travel = make(map[string]*model.TravelEstimate)
	s.questions = make(map[string]cachedQuestions)
	return nil
}

func sourceID(name, def string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return def
	}
	return name
}
