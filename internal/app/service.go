// Package app owns the demo session: imported events, the timeline, saved
// event details, acknowledged alerts and cached issue findings. Every HTTP
// handler, the CLI simulation and the daily sweep go through Service.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prophetic/internal/ics"
	"prophetic/internal/issues"
	"prophetic/internal/journal"
	"prophetic/internal/llm"
	appLog "prophetic/internal/log"
	"prophetic/internal/model"
	"prophetic/internal/scheduler"
	"prophetic/internal/store"
	"prophetic/internal/timeline"
)

// Options carries the configuration Service needs.
type Options struct {
	Clock    timeline.Clock
	Location *time.Location
	Mode     timeline.Mode
	// StartDate seeds a fresh simulated timeline. Ignored when a timeline
	// was restored from the store.
	StartDate time.Time

	DetailWindowDays int
	AlertLeads       []int
	UpcomingDays     int
	HorizonDays      int

	// Sample is the set loaded as a fallback after a failed import.
	Sample ics.SampleSet
}

func (o *Options) normalize() {
	if o.Clock == nil {
		o.Clock = timeline.SystemClock
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Mode == "" {
		o.Mode = timeline.ModeSimulated
	}
	if o.DetailWindowDays <= 0 {
		o.DetailWindowDays = 7
	}
	if len(o.AlertLeads) == 0 {
		o.AlertLeads = []int{7, 1}
	}
	if o.UpcomingDays <= 0 {
		o.UpcomingDays = 60
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = 90
	}
	if o.Sample == "" {
		o.Sample = ics.SampleDefault
	}
}

// Deps are the collaborators of Service. Store, Questioner and Checker are
// required; a nil Journal disables activity logging and a nil Fetcher
// disables URL imports.
type Deps struct {
	Store      store.Store
	Journal    *journal.Journal
	Questioner llm.Questioner
	Checker    issues.Checker
	Fetcher    *ics.Fetcher
}

// Service is safe for concurrent use.
type Service struct {
	mu   sync.Mutex
	opts Options

	store      store.Store
	journal    *journal.Journal
	questioner llm.Questioner
	checker    issues.Checker
	fetcher    *ics.Fetcher

	state   timeline.State
	events  []model.Event
	source  string
	details map[string]model.EventDetails
	acks    map[string]bool

	// parsed holds the VEVENTs behind events; window is the range their
	// recurrences were last expanded over.
	parsed []ics.ParsedEvent
	window ics.ExpandConfig

	// findings and travel are keyed by alert key and live until reset or
	// until the event set is replaced.
	findings map[string][]model.Issue
	travel   map[string]*model.TravelEstimate
	// questions caches generated prompts per event key.
	questions map[string]cachedQuestions

	sweeps SweepReporter
}

// SweepReporter exposes the state of the scheduled sweep.
type SweepReporter interface {
	Status() scheduler.Status
}

type cachedQuestions struct {
	missing string
	qs      []llm.Question
}

// New builds a Service and restores whatever the store holds.
func New(ctx context.Context, opts Options, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Questioner == nil || deps.Checker == nil {
		return nil, errors.New("app: store, questioner and checker are required")
	}
	opts.normalize()

	s := &Service{
		opts:       opts,
		store:      deps.Store,
		journal:    deps.Journal,
		questioner: deps.Questioner,
		checker:    deps.Checker,
		fetcher:    deps.Fetcher,
		findings:   make(map[string][]model.Issue),
		travel:     make(map[string]*model.TravelEstimate),
		questions:  make(map[string]cachedQuestions),
	}

	st, err := s.store.LoadTimeline(ctx)
	switch {
	case err == nil:
		st.Current = timeline.Midnight(st.Current, opts.Location)
		s.state = st.Refresh(opts.Clock)
		appLog.Info("timeline restored", "date", s.state.Current.Format(time.DateOnly), "mode", s.state.Mode)
	case errors.Is(err, store.ErrNoTimeline):
		s.state = timeline.New(opts.Clock, opts.Location, opts.Mode)
		if !opts.StartDate.IsZero() && opts.Mode == timeline.ModeSimulated {
			s.state, _ = s.state.SetDate(opts.StartDate)
		}
	default:
		return nil, fmt.Errorf("app: restore timeline: %w", err)
	}

	if s.details, err = s.store.LoadDetails(ctx); err != nil {
		return nil, fmt.Errorf("app: restore details: %w", err)
	}
	if s.acks, err = s.store.LoadAcks(ctx); err != nil {
		return nil, fmt.Errorf("app: restore acks: %w", err)
	}
	if s.events, err = s.store.LoadEvents(ctx); err != nil {
		return nil, fmt.Errorf("app: restore events: %w", err)
	}
	if len(s.events) > 0 {
		s.source = s.events[0].Source
	}

	cal, err := s.store.LoadCalendar(ctx)
	switch {
	case err == nil:
		if err := s.restoreCalendar(ctx, cal); err != nil {
			return nil, fmt.Errorf("app: restore calendar: %w", err)
		}
	case !errors.Is(err, store.ErrNoCalendar):
		return nil, fmt.Errorf("app: restore calendar: %w", err)
	}
	return s, nil
}

// SetSweepReporter makes the scheduled sweep visible in Session.
func (s *Service) SetSweepReporter(r SweepReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = r
}

func (s *Service) logEvent(typ, name string, details map[string]any) {
	if s.journal != nil {
		s.journal.LogEvent(typ, name, details)
	}
}

// current returns the timeline, re-reading the clock in real mode. Callers
// hold s.mu.
func (s *Service) current() timeline.State {
	s.state = s.state.Refresh(s.opts.Clock)
	return s.state
}

// Timeline returns the current timeline state.
func (s *Service) Timeline() timeline.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current()
}

// Advance moves the simulated date forward.
func (s *Service) Advance(ctx context.Context, days int) (timeline.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current()
	next, err := prev.Advance(days)
	if err != nil {
		return prev, err
	}
	if err := s.setState(ctx, next); err != nil {
		return prev, err
	}
	s.logEvent("timeline_advance", fmt.Sprintf("Advanced %d days", days), map[string]any{
		"from": prev.Current.Format(time.DateOnly),
		"to":   next.Current.Format(time.DateOnly),
	})
	return next, nil
}

// SetDate jumps the simulated timeline to a date.
func (s *Service) SetDate(ctx context.Context, day time.Time) (timeline.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current()
	next, err := prev.SetDate(day)
	if err != nil {
		return prev, err
	}
	if err := s.setState(ctx, next); err != nil {
		return prev, err
	}
	s.logEvent("timeline_set_date", next.Current.Format(time.DateOnly), nil)
	return next, nil
}

// Reset returns to the real current date, keeping the mode, and forgets
// acknowledgements and cached findings.
func (s *Service) Reset(ctx context.Context) (timeline.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Reset(s.opts.Clock)
	if err := s.store.ClearAcks(ctx); err != nil {
		return s.state, err
	}
	s.acks = make(map[string]bool)
	s.findings = make(map[string][]model.Issue)
	s.travel = make(map[string]*model.TravelEstimate)
	if err := s.setState(ctx, next); err != nil {
		return s.state, err
	}
	s.logEvent("timeline_reset", "Reset to real date", map[string]any{"date": next.Current.Format(time.DateOnly)})
	return next, nil
}

// SetMode switches between simulated and real time.
func (s *Service) SetMode(ctx context.Context, m timeline.Mode) (timeline.State, error) {
	if _, err := timeline.ParseMode(string(m)); err != nil {
		return s.Timeline(), err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.WithMode(m, s.opts.Clock)
	if err := s.setState(ctx, next); err != nil {
		return s.state, err
	}
	s.logEvent("timeline_mode", string(m), nil)
	return next, nil
}

func (s *Service) setState(ctx context.Context, next timeline.State) error {
	if err := s.refreshOccurrences(ctx, next.Current); err != nil {
		return err
	}
	if err := s.store.SaveTimeline(ctx, next); err != nil {
		return err
	}
	s.state = next
	appLog.Debug("timeline changed", "date", next.Current.Format(time.DateOnly), "mode", next.Mode)
	return nil
}

// EventStatus is one event as seen from the current date.
type EventStatus struct {
	Key          string             `json:"key"`
	Event        model.Event        `json:"event"`
	DaysUntil    int                `json:"days_until"`
	Details      model.EventDetails `json:"details"`
	Complete     bool               `json:"complete"`
	NeedsDetails bool               `json:"needs_details"`
	AlertDue     bool               `json:"alert_due"`
}

// Events lists every imported event, including past ones.
func (s *Service) Events() []EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.current()
	out := make([]EventStatus, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, s.status(st, ev))
	}
	return out
}

// Upcoming lists events between today and the configured horizon.
func (s *Service) Upcoming() []EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.current()
	up := st.Upcoming(s.events, s.opts.UpcomingDays)
	out := make([]EventStatus, 0, len(up))
	for _, ev := range up {
		out = append(out, s.status(st, ev))
	}
	return out
}

func (s *Service) status(st timeline.State, ev model.Event) EventStatus {
	days := st.DaysUntil(ev)
	d := s.effectiveDetails(ev)
	return EventStatus{
		Key:          ev.Key(),
		Event:        ev,
		DaysUntil:    days,
		Details:      d,
		Complete:     d.Complete(),
		NeedsDetails: timeline.NeedsDetails(days, s.opts.DetailWindowDays) && !d.Complete(),
		AlertDue:     timeline.AlertDue(days, s.opts.AlertLeads),
	}
}

// effectiveDetails falls back to the calendar's LOCATION when the user has
// not supplied one.
func (s *Service) effectiveDetails(ev model.Event) model.EventDetails {
	d := s.details[ev.Key()]
	if d.Location == "" {
		d.Location = ev.Location
	}
	return d
}

func (s *Service) findEvent(key string) (model.Event, bool) {
	for _, ev := range s.events {
		if ev.Key() == key {
			return ev, true
		}
	}
	return model.Event{}, false
}

// SessionInfo summarizes the running session.
type SessionInfo struct {
	Journal          journal.Summary   `json:"journal"`
	Timeline         timeline.State    `json:"timeline"`
	CalendarSource   string            `json:"calendar_source"`
	EventCount       int               `json:"event_count"`
	SavedDetails     int               `json:"saved_details"`
	Acknowledged     int               `json:"acknowledged"`
	LLMMode          string            `json:"llm_mode"`
	LLMKeyConfigured bool              `json:"llm_key_configured"`
	Sweep            *scheduler.Status `json:"sweep,omitempty"`
}

// Session reports counters plus the journal summary.
func (s *Service) Session() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		Timeline:       s.current(),
		CalendarSource: s.source,
		EventCount:     len(s.events),
		SavedDetails:   len(s.details),
		Acknowledged:   len(s.acks),
		LLMMode:        s.questioner.Mode(),
	}
	if kc, ok := s.questioner.(interface{ KeyConfigured() bool }); ok {
		info.LLMKeyConfigured = kc.KeyConfigured()
	}
	if s.journal != nil {
		info.Journal = s.journal.Summary()
	}
	if s.sweeps != nil {
		st := s.sweeps.Status()
		info.Sweep = &st
	}
	return info
}
