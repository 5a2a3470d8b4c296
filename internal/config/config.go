package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single holiday calendar subscription.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID is an internal identifier used for logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the editor and API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LabelsConfig is the text drawn on the card.
type LabelsConfig struct {
	// Weekdays are the Monday-first day names.
	Weekdays           []string `yaml:"weekdays" json:"weekdays" validate:"len=7"`
	Holiday            string   `yaml:"holiday" json:"holiday"`
	Title              string   `yaml:"title" json:"title"`
	ProfilePlaceholder string   `yaml:"profile_placeholder" json:"profile_placeholder"`
}

// LayoutConfig selects the editor variant.
type LayoutConfig struct {
	// Fields lists the entry fields a day cell shows: "time", "description".
	Fields []string `yaml:"fields" json:"fields" validate:"min=1,dive,oneof=time description"`
	// DefaultDescription seeds every entry at startup.
	DefaultDescription string `yaml:"default_description" json:"default_description"`
}

// RenderConfig selects how exports are rasterized.
type RenderConfig struct {
	// Engine is "native" (pure Go) or "chromium" (headless browser capture
	// of /canvas).
	Engine string `yaml:"engine" json:"engine" validate:"oneof=native chromium"`
	// FontPath is a TTF/OTF used by the native engine. Needed for Hangul.
	FontPath string  `yaml:"font_path" json:"font_path"`
	FontSize float64 `yaml:"font_size" json:"font_size" validate:"gte=0"`
	// ChromiumPath overrides the browser binary for the chromium engine.
	ChromiumPath string `yaml:"chromium_path" json:"chromium_path"`
	// ChromiumTimeout bounds one capture, e.g. "30s".
	ChromiumTimeout string `yaml:"chromium_timeout" json:"chromium_timeout"`
}

// ExportConfig tunes the export endpoint.
type ExportConfig struct {
	// RatePerMinute caps export starts; 0 disables the limit.
	RatePerMinute int `yaml:"rate_per_minute" json:"rate_per_minute" validate:"gte=0"`
}

// HolidaysConfig configures holiday calendar import.
type HolidaysConfig struct {
	// Refresh is a cron-style schedule (e.g. "0 * * * *"). Empty disables
	// periodic sync; POST /api/holidays/sync still works.
	Refresh string      `yaml:"refresh" json:"refresh"`
	ICS     []ICSConfig `yaml:"ics" json:"ics" validate:"dive"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the editor and API.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone is the IANA timezone whose midnight anchors weeks
	// (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	Labels   LabelsConfig   `yaml:"labels" json:"labels"`
	Layout   LayoutConfig   `yaml:"layout" json:"layout"`
	Render   RenderConfig   `yaml:"render" json:"render"`
	Export   ExportConfig   `yaml:"export" json:"export"`
	Holidays HolidaysConfig `yaml:"holidays" json:"holidays"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultWeekdays are the Monday-first day labels used when none are set.
var DefaultWeekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "Asia/Seoul",
		LogLevel: "info",
		Labels: LabelsConfig{
			Weekdays:           append([]string(nil), DefaultWeekdays...),
			Holiday:            "Holiday",
			Title:              "TITLE",
			ProfilePlaceholder: "Profile image",
		},
		Layout: LayoutConfig{
			Fields: []string{"time", "description"},
		},
		Render: RenderConfig{
			Engine:          "native",
			FontSize:        26,
			ChromiumTimeout: "30s",
		},
		Export: ExportConfig{
			RatePerMinute: 30,
		},
		Holidays: HolidaysConfig{
			Refresh: "0 * * * *",
			ICS:     []ICSConfig{},
		},
		BasicAuth: nil,
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
	if len(c.Labels.Weekdays) == 0 {
		c.Labels.Weekdays = def.Labels.Weekdays
	}
	if c.Labels.Holiday == "" {
		c.Labels.Holiday = def.Labels.Holiday
	}
	if c.Labels.Title == "" {
		c.Labels.Title = def.Labels.Title
	}
	if c.Labels.ProfilePlaceholder == "" {
		c.Labels.ProfilePlaceholder = def.Labels.ProfilePlaceholder
	}
	if len(c.Layout.Fields) == 0 {
		c.Layout.Fields = def.Layout.Fields
	}
	if c.Render.Engine == "" {
		c.Render.Engine = def.Render.Engine
	}
	if c.Render.FontSize == 0 {
		c.Render.FontSize = def.Render.FontSize
	}
	if c.Render.ChromiumTimeout == "" {
		c.Render.ChromiumTimeout = def.Render.ChromiumTimeout
	}
	if c.Holidays.ICS == nil {
		c.Holidays.ICS = []ICSConfig{}
	}
}

var validate = validator.New()

// Validate checks field constraints after Normalize.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := time.ParseDuration(c.Render.ChromiumTimeout); err != nil {
		return fmt.Errorf("config: render.chromium_timeout %q: %w", c.Render.ChromiumTimeout, err)
	}
	if c.Holidays.Refresh != "" {
		if _, err := cron.ParseStandard(c.Holidays.Refresh); err != nil {
			return fmt.Errorf("config: holidays.refresh %q: %w", c.Holidays.Refresh, err)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ChromiumTimeoutDuration parses Render.ChromiumTimeout; invalid values yield 0.
func (c *Config) ChromiumTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Render.ChromiumTimeout)
	if err != nil {
		return 0
	}
	return d
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
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename, final mode 0600.
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

	tmp, err := os.CreateTemp(dir, ".timetable-config-*.tmp")
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
