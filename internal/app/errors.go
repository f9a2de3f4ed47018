package app

import (
	"errors"
	"strings"

	"prophetic/internal/llm"
)

var (
	ErrEventNotFound = errors.New("app: event not found")
	ErrAlertNotFound = errors.New("app: no such alert for the current date")
	ErrNoCalendarURL = errors.New("app: calendar url is required")
	ErrNoTarget      = errors.New("app: an event key or a location is required")
)

// MissingFieldsError blocks a details save until every field is answered.
// Questions re-prompts for exactly the missing fields.
type MissingFieldsError struct {
	EventKey  string
	Missing   []string
	Questions []llm.Question
}

func (e *MissingFieldsError) Error() string {
	return "app: missing required fields: " + strings.Join(e.Missing, ", ")
}
