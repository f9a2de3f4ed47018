// Package store persists the state of the single demo session: saved event
// details, acknowledged alerts, the timeline and the imported events.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"prophetic/internal/model"
	"prophetic/internal/timeline"
)

var (
	// ErrNoTimeline is returned by LoadTimeline before anything was saved.
	ErrNoTimeline = errors.New("store: no timeline saved")
	// ErrNoCalendar is returned by LoadCalendar before a calendar was imported.
	ErrNoCalendar = errors.New("store: no calendar saved")
)

// Calendar is the raw payload behind the current event set. Keeping it lets
// recurring events be expanded again when the timeline moves.
type Calendar struct {
	Label    string `json:"label"`
	SourceID string `json:"source_id"`
	Body     []byte `json:"body"`
}

// Store is implemented by MemoryStore and SQLiteStore.
type Store interface {
	SaveDetails(ctx context.Context, eventKey string, d model.EventDetails) error
	LoadDetails(ctx context.Context) (map[string]model.EventDetails, error)

	SaveAck(ctx context.Context, alertKey string) error
	LoadAcks(ctx context.Context) (map[string]bool, error)
	ClearAcks(ctx context.Context) error

	SaveTimeline(ctx context.Context, st timeline.State) error
	LoadTimeline(ctx context.Context) (timeline.State, error)

	// SaveEvents replaces the stored event set.
	SaveEvents(ctx context.Context, events []model.Event) error
	LoadEvents(ctx context.Context) ([]model.Event, error)

	SaveCalendar(ctx context.Context, cal Calendar) error
	LoadCalendar(ctx context.Context) (Calendar, error)

	Close() error
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	details  map[string]model.EventDetails
	acks     map[string]bool
	timeline *timeline.State
	events   []model.Event
	calendar *Calendar
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		details: make(map[string]model.EventDetails),
		acks:    make(map[string]bool),
	}
}

func (m *MemoryStore) SaveDetails(_ context.Context, key string, d model.EventDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[key] = d
	return nil
}

func (m *MemoryStore) LoadDetails(_ context.Context) (map[string]model.EventDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.EventDetails, len(m.details))
	for k, v := range m.details {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveAck(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks[key] = true
	return nil
}

func (m *MemoryStore) LoadAcks(_ context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.acks))
	for k := range m.acks {
		out[k] = true
	}
	return out, nil
}

func (m *MemoryStore) ClearAcks(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = make(map[string]bool)
	return nil
}

func (m *MemoryStore) SaveTimeline(_ context.Context, st timeline.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = &st
	return nil
}

func (m *MemoryStore) LoadTimeline(_ context.Context) (timeline.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.timeline == nil {
		return timeline.State{}, ErrNoTimeline
	}
	return *m.timeline, nil
}

func (m *MemoryStore) SaveEvents(_ context.Context, events []model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]model.Event(nil), events...)
	return nil
}

func (m *MemoryStore) LoadEvents(_ context.Context) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.Event(nil), m.events...)
	sortEvents(out)
	return out, nil
}

func (m *MemoryStore) SaveCalendar(_ context.Context, cal Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cal.Body = append([]byte(nil), cal.Body...)
	m.calendar = &cal
	return nil
}

func (m *MemoryStore) LoadCalendar(_ context.Context) (Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.calendar == nil {
		return Calendar{}, ErrNoCalendar
	}
	return *m.calendar, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
