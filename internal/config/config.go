package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Timeline modes.
const (
	ModeSimulated = "simulated"
	ModeReal      = "real"
)

// CalendarConfig describes where the initial event set comes from.
type CalendarConfig struct {
	// Path is a local .ics file loaded at startup. Empty means no file.
	Path string `yaml:"path" json:"path"`
	// URL is a remote ICS subscription fetched at startup, if set.
	URL string `yaml:"url" json:"url"`
	// Sample names the built-in sample set ("default" or "israeli") loaded
	// when neither Path nor URL is given. "none" disables it.
	Sample string `yaml:"sample" json:"sample"`
	// CacheDir stores conditional-GET metadata and bodies for URL sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// HorizonDays bounds recurrence expansion into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// IssuesConfig configures the mock issue checker.
type IssuesConfig struct {
	// Seed makes the mock findings reproducible. Zero seeds from the clock.
	Seed int64 `yaml:"seed" json:"seed"`
}

// LLMConfig configures the question generator. Only mock mode exists; an API
// key is accepted so that deployments can carry it, but it is not used.
type LLMConfig struct {
	APIKey string `yaml:"api_key" json:"-"`
	Model  string `yaml:"model" json:"model"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	// DatabasePath enables the SQLite store. Empty keeps state in memory.
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// JournalConfig controls the session activity log.
type JournalConfig struct {
	Dir     string `yaml:"dir" json:"dir"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to decide calendar dates.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Mode is "simulated" (user-advanceable timeline) or "real".
	Mode string `yaml:"mode" json:"mode"`

	// StartDate, if set (YYYY-MM-DD), seeds the simulated timeline instead of
	// today's date.
	StartDate string `yaml:"start_date" json:"start_date"`

	// DetailWindowDays is how many days ahead details are solicited.
	DetailWindowDays int `yaml:"detail_window_days" json:"detail_window_days"`

	// AlertLeads are the day offsets at which alerts are raised.
	AlertLeads []int `yaml:"alert_leads" json:"alert_leads"`

	// UpcomingDays bounds the event listing.
	UpcomingDays int `yaml:"upcoming_days" json:"upcoming_days"`

	// SweepCron is a cron-style schedule for the daily alert sweep. Empty
	// disables the sweep.
	SweepCron string `yaml:"sweep" json:"sweep"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Issues   IssuesConfig   `yaml:"issues" json:"issues"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Journal  JournalConfig  `yaml:"journal" json:"journal"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		Timezone:         "Local",
		LogLevel:         "info",
		Mode:             ModeSimulated,
		DetailWindowDays: 7,
		AlertLeads:       []int{7, 1},
		UpcomingDays:     60,
		SweepCron:        "0 8 * * *",
		CORSOrigins:      []string{"http://localhost:3000"},
		Calendar: CalendarConfig{
			Sample:      "default",
			CacheDir:    "./var/ics-cache",
			HorizonDays: 90,
		},
		LLM: LLMConfig{
			Model: "mock",
		},
		Journal: JournalConfig{
			Dir:     "logs",
			Enabled: true,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	switch c.Mode {
	case ModeSimulated, ModeReal:
	default:
		c.Mode = ModeSimulated
	}
	if c.DetailWindowDays <= 0 {
		c.DetailWindowDays = def.DetailWindowDays
	}
	leads := c.AlertLeads[:0:0]
	for _, l := range c.AlertLeads {
		if l > 0 {
			leads = append(leads, l)
		}
	}
	if len(leads) == 0 {
		leads = def.AlertLeads
	}
	c.AlertLeads = leads
	if c.UpcomingDays <= 0 {
		c.UpcomingDays = def.UpcomingDays
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.Calendar.Sample == "" {
		c.Calendar.Sample = def.Calendar.Sample
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = def.Calendar.CacheDir
	}
	if c.Calendar.HorizonDays <= 0 {
		c.Calendar.HorizonDays = def.Calendar.HorizonDays
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = def.Journal.Dir
	}
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.SweepCron != "" {
		if _, err := cron.ParseStandard(c.SweepCron); err != nil {
			return fmt.Errorf("config: invalid sweep schedule %q: %w", c.SweepCron, err)
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	if c.StartDate != "" {
		if _, err := time.Parse(time.DateOnly, c.StartDate); err != nil {
			return fmt.Errorf("config: invalid start_date %q: %w", c.StartDate, err)
		}
	}
	return nil
}

// Location resolves Timezone. "Local" maps to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values from environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("PROPHETIC_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := os.LookupEnv("PROPHETIC_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("PROPHETIC_DB"); ok {
		c.Storage.DatabasePath = v
	}
	if v, ok := os.LookupEnv("GOOGLE_API_KEY"); ok && v != "" {
		c.LLM.APIKey = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".prophetic-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
