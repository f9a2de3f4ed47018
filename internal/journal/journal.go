// Package journal keeps a per-session record of user actions and question
// generation calls, mirrored to JSON files under a day-stamped directory.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"prophetic/internal/llm"
	appLog "prophetic/internal/log"
)

// Record is one logged user-facing action.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Details   map[string]any `json:"details,omitempty"`
}

// LLMCall is one logged question-generation call.
type LLMCall struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	Purpose      string    `json:"purpose"`
}

// Tokens accumulates token usage.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Summary is the condensed view of a session.
type Summary struct {
	SessionName  string    `json:"session_name"`
	SessionStart time.Time `json:"session_start"`
	LLMCalls     int       `json:"llm_calls_count"`
	TotalTokens  Tokens    `json:"total_tokens"`
	Events       int       `json:"events_count"`
	Recent       []Record  `json:"recent_events"`
}

type sessionFile struct {
	SessionName  string    `json:"session_name"`
	SessionStart time.Time `json:"session_start"`
	SessionEnd   time.Time `json:"session_end"`
	LLMCalls     []LLMCall `json:"llm_calls"`
	Events       []Record  `json:"events"`
	TotalTokens  Tokens    `json:"total_tokens"`
}

const recentLimit = 20

// Journal is safe for concurrent use.
type Journal struct {
	mu sync.Mutex

	name  string
	start time.Time
	now   func() time.Time

	// dayDir is empty when the journal is memory-only.
	dayDir  string
	llmPath string

	records []Record
	calls   []LLMCall
	tokens  Tokens
}

// New opens a journal. An empty dir keeps everything in memory. An empty
// sessionName is replaced by "<timestamp>-<pid>-<short uuid>".
func New(dir, sessionName string, now func() time.Time) (*Journal, error) {
	if now == nil {
		now = time.Now
	}
	start := now()
	if sessionName == "" {
		sessionName = fmt.Sprintf("%s-%d-%s", start.Format("20060102_150405.000"), os.Getpid(), uuid.NewString()[:8])
	}
	j := &Journal{name: sessionName, start: start, now: now}

	if dir != "" {
		j.dayDir = filepath.Join(dir, start.Format(time.DateOnly))
		if err := os.MkdirAll(j.dayDir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create %s: %w", j.dayDir, err)
		}
		j.llmPath = filepath.Join(j.dayDir, "llm_"+start.Format("20060102_150405")+".jsonl")
	}

	appLog.Info("journal initialized", "session", sessionName, "dir", j.dayDir)
	return j, nil
}

// LogEvent records an action such as "calendar_load" or "details_saved".
func (j *Journal) LogEvent(typ, name string, details map[string]any) {
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: j.now(),
		Type:      typ,
		Name:      name,
		Details:   details,
	}
	j.mu.Lock()
	j.records = append(j.records, rec)
	j.mu.Unlock()
	appLog.Info("event: "+typ, "name", name)
}

// RecordLLMCall implements llm.Recorder.
func (j *Journal) RecordLLMCall(u llm.Usage) {
	call := LLMCall{
		Timestamp:    j.now(),
		Model:        u.Model,
		Prompt:       u.Prompt,
		Response:     u.Response,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
		Purpose:      u.Purpose,
	}
	if call.Purpose == "" {
		call.Purpose = "general"
	}

	j.mu.Lock()
	j.calls = append(j.calls, call)
	j.tokens.Input += call.InputTokens
	j.tokens.Output += call.OutputTokens
	j.tokens.Total += call.TotalTokens
	path := j.llmPath
	j.mu.Unlock()

	if path != "" {
		if err := appendJSONLine(path, call); err != nil {
			appLog.Error("journal: llm log write failed", err, "path", path)
		}
	}
	appLog.Debug("llm call", "model", call.Model, "purpose", call.Purpose, "tokens", call.TotalTokens)
}

// Summary returns counts plus the most recent records.
func (j *Journal) Summary() Summary {
	j.mu.Lock()
	defer j.mu.Unlock()

	from := 0
	if len(j.records) > recentLimit {
		from = len(j.records) - recentLimit
	}
	recent := make([]Record, len(j.records)-from)
	copy(recent, j.records[from:])

	return Summary{
		SessionName:  j.name,
		SessionStart: j.start,
		LLMCalls:     len(j.calls),
		TotalTokens:  j.tokens,
		Events:       len(j.records),
		Recent:       recent,
	}
}

// Close writes the session file. It is a no-op for memory-only journals.
func (j *Journal) Close() error {
	j.mu.Lock()
	sf := sessionFile{
		SessionName:  j.name,
		SessionStart: j.start,
		SessionEnd:   j.now(),
		LLMCalls:     append([]LLMCall(nil), j.calls...),
		Events:       append([]Record(nil), j.records...),
		TotalTokens:  j.tokens,
	}
	dir := j.dayDir
	j.mu.Unlock()

	if dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "session_"+j.name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("journal: write session: %w", err)
	}
	appLog.Info("session saved", "path", path, "events", len(sf.Events), "llm_calls", len(sf.LLMCalls))
	return nil
}

func appendJSONLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
