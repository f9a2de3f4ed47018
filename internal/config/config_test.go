package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	return path
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("Listen = %q", cfg.Listen)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if !reflect.DeepEqual(again.AlertLeads, []int{7, 1}) {
		t.Errorf("AlertLeads = %v", again.AlertLeads)
	}
}

func TestLoad_PartialConfigIsNormalized(t *testing.T) {
	path := writeTempConfig(t, `
listen: ":9000"
mode: bogus
alert_leads: [0, -3]
calendar:
  sample: israeli
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Mode != ModeSimulated {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeSimulated)
	}
	if !reflect.DeepEqual(cfg.AlertLeads, []int{7, 1}) {
		t.Errorf("AlertLeads = %v", cfg.AlertLeads)
	}
	if cfg.DetailWindowDays != 7 || cfg.UpcomingDays != 60 {
		t.Errorf("windows = %d/%d", cfg.DetailWindowDays, cfg.UpcomingDays)
	}
	if cfg.Calendar.Sample != "israeli" {
		t.Errorf("Sample = %q", cfg.Calendar.Sample)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad cron", "sweep: \"not a cron\"\n"},
		{"bad timezone", "timezone: Mars/Olympus\n"},
		{"bad start date", "start_date: 2025-13-45\n"},
		{"bad yaml", "listen: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PROPHETIC_LISTEN", ":7070")
	t.Setenv("GOOGLE_API_KEY", "k-123")
	t.Setenv("PROPHETIC_DB", "/tmp/p.db")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Listen != ":7070" || cfg.LLM.APIKey != "k-123" || cfg.Storage.DatabasePath != "/tmp/p.db" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("PROPHETIC_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PROPHETIC_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("PROPHETIC_TEST_DOTENV"); got != "from-file" {
		t.Errorf("PROPHETIC_TEST_DOTENV = %q", got)
	}
}
