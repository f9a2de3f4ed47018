package llm

import (
	"errors"
	"testing"
	"time"

	"prophetic/internal/model"
)

type captureRecorder struct{ calls []Usage }

func (c *captureRecorder) RecordLLMCall(u Usage) { c.calls = append(c.calls, u) }

func TestMockQuestioner_Questions(t *testing.T) {
	rec := &captureRecorder{}
	q := NewMock("", "ignored-key", rec)
	ev := model.Event{Name: "Workshop", Start: time.Date(2025, 12, 30, 13, 0, 0, 0, time.UTC)}

	got := q.Questions(ev, model.EventDetails{})
	if len(got) != 3 {
		t.Fatalf("got %d questions, want 3", len(got))
	}
	for i, f := range model.DetailFields {
		if got[i].Field != f {
			t.Errorf("[%d] Field = %q, want %q", i, got[i].Field, f)
		}
	}
	if got[0].Prompt != "Where will the event 'Workshop' take place?" {
		t.Errorf("location prompt = %q", got[0].Prompt)
	}
	if len(rec.calls) != 1 || rec.calls[0].Model != ModeMock {
		t.Errorf("recorded calls = %+v", rec.calls)
	}

	ev.Location = "Room 4"
	got = q.Questions(ev, model.EventDetails{ArrivalTime: "12:45"})
	if len(got) != 1 || got[0].Field != model.FieldDepartureTime {
		t.Errorf("questions = %+v", got)
	}

	got = q.Questions(ev, model.EventDetails{Location: "x", ArrivalTime: "1", DepartureTime: "2"})
	if len(got) != 0 {
		t.Errorf("complete details still asked: %+v", got)
	}
	if len(rec.calls) != 2 {
		t.Errorf("no-op generation should not be recorded, calls = %d", len(rec.calls))
	}
}

func TestMockQuestioner_ContextualPrompt(t *testing.T) {
	q := NewMock("mock", "", nil)
	ev := model.Event{Name: "Conference"}
	if got := q.ContextualPrompt(ev, []string{model.FieldArrivalTime}); got != "Please provide arrival time for 'Conference'" {
		t.Errorf("prompt = %q", got)
	}
	if got := q.ContextualPrompt(ev, nil); got != "Please provide information for 'Conference'" {
		t.Errorf("prompt = %q", got)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		field, in, want string
		wantErr         bool
	}{
		{model.FieldArrivalTime, "09:30", "09:30", false},
		{model.FieldArrivalTime, " 9:05 ", "9:05", false},
		{model.FieldDepartureTime, "23:59", "23:59", false},
		{model.FieldDepartureTime, "930", "9:30", false},
		{model.FieldDepartureTime, "1430", "14:30", false},
		{model.FieldArrivalTime, "24:00", "", true},
		{model.FieldArrivalTime, "2460", "", true},
		{model.FieldArrivalTime, "noon", "", true},
		{model.FieldArrivalTime, "12:5", "", true},
		{model.FieldLocation, "  Hall B ", "Hall B", false},
		{model.FieldLocation, "   ", "", true},
		{"shoe_size", "42", "", true},
	}
	for _, tt := range tests {
		got, err := ParseResponse(tt.field, tt.in)
		if tt.wantErr {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("ParseResponse(%q, %q) err = %v, want *ValidationError", tt.field, tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseResponse(%q, %q) = %q, %v; want %q", tt.field, tt.in, got, err, tt.want)
		}
	}
}
