package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source formats.
const (
	FormatICS  = "ics"
	FormatHTML = "html"
	FormatFeed = "feed"
)

// SourceConfig describes a single upstream source.
type SourceConfig struct {
	// ID is an internal identifier used for logging and fallback ids.
	ID string `yaml:"id" json:"id"`
	// Label is the human-friendly name; also the title of the synthetic
	// fallback event when every source comes back empty.
	Label string `yaml:"label" json:"label"`
	// URL is the ICS endpoint, event page or feed.
	URL string `yaml:"url" json:"url"`
	// Format is one of "ics", "html", "feed". Empty means the resource's
	// default (events: html, schedule: ics).
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	// Render fetches the page through a headless browser instead of a plain
	// GET, for pages that build their event list in JavaScript.
	Render bool `yaml:"render,omitempty" json:"render,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RateLimitConfig is a token bucket applied to all API requests.
// RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// IngestConfig holds the knobs of the ingestion pipeline.
type IngestConfig struct {
	RRuleHorizonDays  int `yaml:"rrule_horizon_days" json:"rrule_horizon_days"`
	RRuleMaxInstances int `yaml:"rrule_max_instances" json:"rrule_max_instances"`

	EventsTTL   time.Duration `yaml:"events_ttl" json:"events_ttl"`
	ScheduleTTL time.Duration `yaml:"schedule_ttl" json:"schedule_ttl"`

	// LoadTimeout bounds one whole aggregation run behind the cache.
	LoadTimeout time.Duration `yaml:"load_timeout" json:"load_timeout"`
	// FetchTimeout bounds each source request.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	// PerHostInterval spaces out requests to the same host. Zero disables.
	PerHostInterval time.Duration `yaml:"per_host_interval" json:"per_host_interval"`

	MaxEvents        int `yaml:"max_events" json:"max_events"`
	MaxScheduleItems int `yaml:"max_schedule_items" json:"max_schedule_items"`
	// Concurrency caps simultaneous source fetches. Zero (the default) means
	// every source of a resource is fetched at once. A cap too small for all
	// fetches to finish within LoadTimeout is raised by the aggregator.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *") for
	// background cache warm-up. "off" disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	Ingest IngestConfig `yaml:"ingest" json:"ingest"`

	// Events are the sources of the public events listing.
	Events []SourceConfig `yaml:"events" json:"events"`
	// Schedule are the calendar feeds of the schedule.
	Schedule []SourceConfig `yaml:"schedule" json:"schedule"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS) + 1
	}

	in := &c.Ingest
	if in.RRuleHorizonDays <= 0 {
		in.RRuleHorizonDays = 365
	}
	if in.RRuleMaxInstances <= 0 {
		in.RRuleMaxInstances = 100
	}
	if in.EventsTTL <= 0 {
		in.EventsTTL = 10 * time.Minute
	}
	if in.ScheduleTTL <= 0 {
		in.ScheduleTTL = 10 * time.Minute
	}
	if in.LoadTimeout <= 0 {
		in.LoadTimeout = 25 * time.Second
	}
	if in.FetchTimeout <= 0 {
		in.FetchTimeout = 8 * time.Second
	}
	if in.PerHostInterval < 0 {
		in.PerHostInterval = 0
	}
	if in.MaxEvents <= 0 {
		in.MaxEvents = 200
	}
	if in.MaxScheduleItems <= 0 {
		in.MaxScheduleItems = 500
	}
	if in.Concurrency < 0 {
		in.Concurrency = 0
	}

	if c.Events == nil {
		c.Events = []SourceConfig{}
	}
	if c.Schedule == nil {
		c.Schedule = []SourceConfig{}
	}
	for i := range c.Events {
		c.Events[i].normalize(FormatHTML)
	}
	for i := range c.Schedule {
		c.Schedule[i].normalize(FormatICS)
	}
}

func (s *SourceConfig) normalize(defaultFormat string) {
	s.URL = strings.TrimSpace(s.URL)
	if s.ID == "" {
		if s.Label != "" {
			s.ID = s.Label
		} else {
			s.ID = s.URL
		}
	}
	if s.Label == "" {
		s.Label = s.ID
	}
	s.Format = strings.ToLower(strings.TrimSpace(s.Format))
	if s.Format == "" {
		s.Format = defaultFormat
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
//   - normalize defaults
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
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically via a
// temp file in the same directory, with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".campuscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
