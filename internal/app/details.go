package app

import (
	"context"
	"fmt"
	"strings"

	"prophetic/internal/llm"
	"prophetic/internal/model"
)

// DetailsView is an event's details plus what is still missing.
type DetailsView struct {
	EventStatus
	Missing   []string       `json:"missing"`
	Questions []llm.Question `json:"questions"`
	Prompt    string         `json:"prompt,omitempty"`
}

// DetailsInput is a details submission. Empty fields keep whatever is
// already known.
type DetailsInput struct {
	Location      string `json:"location"`
	ArrivalTime   string `json:"arrival_time"`
	DepartureTime string `json:"departure_time"`
}

func (in DetailsInput) get(field string) string {
	switch field {
	case model.FieldLocation:
		return in.Location
	case model.FieldArrivalTime:
		return in.ArrivalTime
	case model.FieldDepartureTime:
		return in.DepartureTime
	}
	return ""
}

// PendingDetails lists events inside the detail window whose details are
// incomplete, with the questions to ask.
func (s *Service) PendingDetails() []DetailsView {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.current()
	out := make([]DetailsView, 0)
	for _, ev := range s.events {
		es := s.status(st, ev)
		if !es.NeedsDetails {
			continue
		}
		out = append(out, s.view(es))
	}
	return out
}

// Details returns the view for one event.
func (s *Service) Details(key string) (DetailsView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.findEvent(key)
	if !ok {
		return DetailsView{}, fmt.Errorf("%w: %s", ErrEventNotFound, key)
	}
	return s.view(s.status(s.current(), ev)), nil
}

func (s *Service) view(es EventStatus) DetailsView {
	v := DetailsView{EventStatus: es, Missing: es.Details.Missing(), Questions: []llm.Question{}}
	if len(v.Missing) == 0 {
		return v
	}
	v.Questions = s.questionsFor(es.Event, es.Details, v.Missing)
	v.Prompt = s.questioner.ContextualPrompt(es.Event, v.Missing)
	return v
}

// questionsFor generates prompts once per (event, missing set).
func (s *Service) questionsFor(ev model.Event, d model.EventDetails, missing []string) []llm.Question {
	key := ev.Key()
	sig := strings.Join(missing, ",")
	if c, ok := s.questions[key]; ok && c.missing == sig {
		return c.qs
	}
	qs := s.questioner.Questions(ev, d)
	s.questions[key] = cachedQuestions{missing: sig, qs: qs}
	return qs
}

// SubmitDetails validates and saves details for an event. Every field must
// end up non-empty, either from the input or from what is already known;
// otherwise a *MissingFieldsError re-prompts for the gaps. Resubmitting the
// same values is a no-op.
func (s *Service) SubmitDetails(ctx context.Context, key string, in DetailsInput) (model.EventDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.findEvent(key)
	if !ok {
		return model.EventDetails{}, fmt.Errorf("%w: %s", ErrEventNotFound, key)
	}

	current := s.effectiveDetails(ev)
	next := current
	for _, field := range model.DetailFields {
		raw := strings.TrimSpace(in.get(field))
		if raw == "" {
			continue
		}
		val, err := llm.ParseResponse(field, raw)
		if err != nil {
			return model.EventDetails{}, err
		}
		switch field {
		case model.FieldLocation:
			next.Location = val
		case model.FieldArrivalTime:
			next.ArrivalTime = val
		case model.FieldDepartureTime:
			next.DepartureTime = val
		}
	}

	if missing := next.Missing(); len(missing) > 0 {
		return model.EventDetails{}, &MissingFieldsError{
			EventKey:  key,
			Missing:   missing,
			Questions: s.questioner.Questions(ev, next),
		}
	}

	if stored, ok := s.details[key]; ok && stored.Complete() && stored.SameValues(next) {
		return stored, nil
	}

	next.SavedAt = s.opts.Clock.Now()
	if err := s.store.SaveDetails(ctx, key, next); err != nil {
		return model.EventDetails{}, err
	}
	s.details[key] = next
	delete(s.questions, key)
	if !current.SameValues(next) {
		for _, lead := range s.opts.AlertLeads {
			ak := model.AlertKey(key, lead)
			delete(s.findings, ak)
			delete(s.travel, ak)
		}
	}

	s.logEvent("details_saved", ev.Name, map[string]any{
		"event_key":      key,
		"location":       next.Location,
		"arrival_time":   next.ArrivalTime,
		"departure_time": next.DepartureTime,
	})
	return next, nil
}
