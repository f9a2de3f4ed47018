// Package llm generates the follow-up questions used to complete event
// details and validates the answers. Only the mock generator is shipped; a
// real model client would implement Questioner.
package llm

import (
	"fmt"
	"regexp"
	"strings"

	"prophetic/internal/model"
)

// ModeMock is the only supported generation mode.
const ModeMock = "mock"

// Question is one prompt for a missing detail field.
type Question struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
	// Placeholder hints the expected input format.
	Placeholder string `json:"placeholder,omitempty"`
}

// Usage describes one generation call for the session journal.
type Usage struct {
	Model        string
	Prompt       string
	Response     string
	InputTokens  int
	OutputTokens int
	Purpose      string
}

// Recorder receives a Usage for every generation call.
type Recorder interface {
	RecordLLMCall(u Usage)
}

// Questioner produces prompts for the fields still missing on an event.
type Questioner interface {
	// Questions returns at most one prompt per missing field, in
	// location / arrival / departure order.
	Questions(ev model.Event, details model.EventDetails) []Question
	// ContextualPrompt phrases a single free-form request for the first
	// missing field.
	ContextualPrompt(ev model.Event, missing []string) string
	Mode() string
}

// MockQuestioner builds prompts from templates.
type MockQuestioner struct {
	model         string
	keyConfigured bool
	recorder      Recorder
}

// NewMock returns the template-based Questioner. A configured apiKey is
// only reported through KeyConfigured; it does not switch on a real model.
func NewMock(modelName, apiKey string, rec Recorder) *MockQuestioner {
	if modelName == "" {
		modelName = ModeMock
	}
	return &MockQuestioner{model: modelName, keyConfigured: apiKey != "", recorder: rec}
}

// KeyConfigured reports whether an API key was supplied.
func (m *MockQuestioner) KeyConfigured() bool { return m.keyConfigured }

func (m *MockQuestioner) Mode() string { return ModeMock }

func (m *MockQuestioner) Questions(ev model.Event, details model.EventDetails) []Question {
	var out []Question
	if details.Location == "" && strings.TrimSpace(ev.Location) == "" {
		out = append(out, Question{
			Field:  model.FieldLocation,
			Prompt: fmt.Sprintf("Where will the event '%s' take place?", ev.Name),
		})
	}
	if details.ArrivalTime == "" {
		out = append(out, Question{
			Field:       model.FieldArrivalTime,
			Prompt:      fmt.Sprintf("What time do you need to arrive for '%s'? (HH:MM format)", ev.Name),
			Placeholder: "HH:MM (e.g., 09:30)",
		})
	}
	if details.DepartureTime == "" {
		out = append(out, Question{
			Field:       model.FieldDepartureTime,
			Prompt:      fmt.Sprintf("What time do you plan to depart for '%s'? (HH:MM format)", ev.Name),
			Placeholder: "HH:MM (e.g., 09:30)",
		})
	}
	if len(out) > 0 {
		m.record(ev, out)
	}
	return out
}

func (m *MockQuestioner) ContextualPrompt(ev model.Event, missing []string) string {
	field := "information"
	if len(missing) > 0 {
		field = strings.ReplaceAll(missing[0], "_", " ")
	}
	return fmt.Sprintf("Please provide %s for '%s'", field, ev.Name)
}

func (m *MockQuestioner) record(ev model.Event, qs []Question) {
	if m.recorder == nil {
		return
	}
	prompts := make([]string, len(qs))
	for i, q := range qs {
		prompts[i] = q.Prompt
	}
	m.recorder.RecordLLMCall(Usage{
		Model:    m.model,
		Prompt:   "questions for " + ev.Name,
		Response: strings.Join(prompts, "\n"),
		Purpose:  "generate_questions",
	})
}

// ValidationError rejects a user answer.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var timePattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// ParseResponse trims and validates an answer for field. Time fields accept
// H:MM and HH:MM; compact 3- or 4-digit forms ("930", "1430") are repaired.
func ParseResponse(field, value string) (string, error) {
	value = strings.TrimSpace(value)

	switch field {
	case model.FieldLocation:
		if value == "" {
			return "", &ValidationError{Field: field, Value: value, Message: "location must not be empty"}
		}
		return value, nil
	case model.FieldArrivalTime, model.FieldDepartureTime:
		if timePattern.MatchString(value) {
			return value, nil
		}
		if !strings.Contains(value, ":") && (len(value) == 3 || len(value) == 4) {
			repaired := value[:len(value)-2] + ":" + value[len(value)-2:]
			if timePattern.MatchString(repaired) {
				return repaired, nil
			}
		}
		return "", &ValidationError{
			Field:   field,
			Value:   value,
			Message: "invalid time format. Please use HH:MM format (e.g., 09:30 or 14:30)",
		}
	}
	return "", &ValidationError{Field: field, Value: value, Message: "unknown field"}
}
