package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: Load creates a default config (0600) on first run, like Save it
// writes through a temp file + rename.

const (
	CalendarCalDAV = "caldav"
	CalendarICS    = "ics"
)

// FeedConfig describes a single ICS subscription used by the "ics" calendar
// type.
type FeedConfig struct {
	ID   string `yaml:"id" json:"id"`
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// CalendarConfig selects and configures the calendar gateway.
type CalendarConfig struct {
	// Type is "caldav" (default) or "ics".
	Type string `yaml:"type" json:"type"`

	// URL is the CalDAV endpoint, e.g. "https://dav.example.com/".
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// Name is the display name of the calendar holding the switch events.
	Name string `yaml:"name" json:"name"`

	// Feeds lists ICS subscriptions for the "ics" type.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`
	// CacheDir stores ICS bodies and HTTP cache validators.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// MaxStaleMinutes limits how old a cached feed may be when the feed
	// itself cannot be fetched.
	MaxStaleMinutes int `yaml:"max_stale_minutes" json:"max_stale_minutes"`
}

type LocationConfig struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format" json:"format"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// Timezone is the IANA zone used for window alignment and solar times.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// IntervalMinutes is the length of one polling window.
	IntervalMinutes int `yaml:"interval_minutes" json:"interval_minutes"`

	// RefreshCron is the cron schedule for watch mode. Derived from
	// IntervalMinutes when empty.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// WindowBasis is "nominal" (calendar times decide which cycle handles
	// an event) or "resolved" (sunrise/sunset substituted times decide).
	WindowBasis string `yaml:"window_basis" json:"window_basis"`

	Location LocationConfig `yaml:"location" json:"location"`

	// RF433 is the command used to send radio codes; it is invoked as
	// "<rf433> <code> <protocol> <pulse_length>".
	RF433 string `yaml:"rf433" json:"rf433"`

	// MaxPulse caps pulse switch durations, in seconds.
	MaxPulse float64 `yaml:"max_pulse" json:"max_pulse"`

	// Listen enables the status API in watch mode when non-empty.
	Listen    string           `yaml:"listen" json:"listen"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`

	// Switches is the switch registry, keyed by the name calendar events
	// put in their LOCATION.
	Switches map[string]SwitchConfig `yaml:"switches" json:"switches"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	pin := 17
	return &Config{
		Calendar: CalendarConfig{
			Type:            CalendarCalDAV,
			URL:             "https://dav.example.com/",
			Name:            "Timer",
			Feeds:           []FeedConfig{},
			CacheDir:        "/var/lib/caltimer/ics-cache",
			MaxStaleMinutes: 60,
		},
		Timezone:        "",
		IntervalMinutes: 15,
		RefreshCron:     "*/15 * * * *",
		WindowBasis:     "nominal",
		Location:        LocationConfig{Latitude: 52.52, Longitude: 13.40},
		RF433:           "/usr/local/bin/codesend",
		MaxPulse:        10,
		Log:             LogConfig{Level: "info", Format: "console"},
		Switches: map[string]SwitchConfig{
			"dummy":  {Type: TypeDummy},
			"heater": {Type: TypeGPIO, Pin: &pin},
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Calendar.Type == "" {
		c.Calendar.Type = CalendarCalDAV
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = "/var/lib/caltimer/ics-cache"
	}
	if c.Calendar.MaxStaleMinutes <= 0 {
		c.Calendar.MaxStaleMinutes = 60
	}
	if c.Calendar.Feeds == nil {
		c.Calendar.Feeds = []FeedConfig{}
	}
	if c.IntervalMinutes <= 0 {
		c.IntervalMinutes = 15
	}
	if c.RefreshCron == "" {
		c.RefreshCron = deriveCron(c.IntervalMinutes)
	}
	switch c.WindowBasis {
	case "nominal", "resolved":
	default:
		// Unknown values keep the calendar-time behavior.
		c.WindowBasis = "nominal"
	}
	if c.MaxPulse <= 0 {
		c.MaxPulse = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Switches == nil {
		c.Switches = map[string]SwitchConfig{}
	}
}

func deriveCron(minutes int) string {
	if minutes < 60 && 60%minutes == 0 {
		return fmt.Sprintf("*/%d * * * *", minutes)
	}
	return fmt.Sprintf("@every %dm", minutes)
}

// Interval is the polling window length.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// MaxPulseDuration is the pulse cap.
func (c *Config) MaxPulseDuration() time.Duration {
	return seconds(c.MaxPulse)
}

// TimeLocation resolves Timezone; empty means time.Local.
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ApplyEnv overrides CalDAV credentials from the environment
// (CALTIMER_CALDAV_USERNAME, CALTIMER_CALDAV_PASSWORD).
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CALTIMER_CALDAV_USERNAME"); v != "" {
		c.Calendar.Username = v
	}
	if v := getenv("CALTIMER_CALDAV_PASSWORD"); v != "" {
		c.Calendar.Password = v
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

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".caltimer-config-*.tmp")
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
