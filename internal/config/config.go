// ABOUTME: Configuration loading and parsing for the marketdesk workbench
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultRequestTimeout    = 15 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultPageSize          = 100
	DefaultDedupeTTL         = 2 * time.Minute
	DefaultDedupeSize        = 1000
)

// Config represents the complete marketdesk configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	Feed      FeedConfig      `yaml:"feed" toml:"feed"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Workbench WorkbenchConfig `yaml:"workbench" toml:"workbench"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// BackendConfig locates the REST backend and its live feed endpoint.
type BackendConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// WSURL overrides the websocket base; derived from BaseURL when empty
	WSURL string `yaml:"ws_url" toml:"ws_url"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// FeedConfig holds live feed connection timing
type FeedConfig struct {
	// AutoReconnect is a pointer so an omitted key keeps the default (true)
	AutoReconnect *bool `yaml:"auto_reconnect" toml:"auto_reconnect"`

	ReconnectDelay    time.Duration `yaml:"-" toml:"-"`
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	DialTimeout       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectDelayRaw    string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	DialTimeoutRaw       string `yaml:"dial_timeout" toml:"dial_timeout"`
}

// Reconnect reports whether the feed should reconnect after a drop.
func (f FeedConfig) Reconnect() bool {
	return f.AutoReconnect == nil || *f.AutoReconnect
}

// AuthConfig holds the bearer credentials used against the backend
type AuthConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// WorkbenchConfig holds session workbench behavior
type WorkbenchConfig struct {
	AccountID       string `yaml:"account_id" toml:"account_id"`
	DeepLinkBuyerID string `yaml:"deep_link_buyer_id" toml:"deep_link_buyer_id"`
	DeepLinkItemID  string `yaml:"deep_link_item_id" toml:"deep_link_item_id"`
	PageSize        int    `yaml:"page_size" toml:"page_size"`
	DedupeSize      int    `yaml:"dedupe_size" toml:"dedupe_size"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes, applies defaults and validates.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feed.HeartbeatInterval == 0 {
		c.Feed.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Feed.DialTimeout == 0 {
		c.Feed.DialTimeout = DefaultDialTimeout
	}
	if c.Workbench.PageSize == 0 {
		c.Workbench.PageSize = DefaultPageSize
	}
	if c.Workbench.DedupeTTL == 0 {
		c.Workbench.DedupeTTL = DefaultDedupeTTL
	}
	if c.Workbench.DedupeSize == 0 {
		c.Workbench.DedupeSize = DefaultDedupeSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https scheme")
	}

	if c.Backend.WSURL != "" {
		wu, err := url.Parse(c.Backend.WSURL)
		if err != nil {
			return fmt.Errorf("backend.ws_url is not a valid URL: %w", err)
		}
		if wu.Scheme != "ws" && wu.Scheme != "wss" {
			return fmt.Errorf("backend.ws_url must use ws or wss scheme")
		}
	}

	if c.Workbench.PageSize < 0 {
		return fmt.Errorf("workbench.page_size must not be negative")
	}
	if c.Workbench.DedupeSize < 0 {
		return fmt.Errorf("workbench.dedupe_size must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// FeedURL returns the websocket base URL for the live feed.
func (c *Config) FeedURL() string {
	if c.Backend.WSURL != "" {
		return strings.TrimSuffix(c.Backend.WSURL, "/")
	}
	base := strings.TrimSuffix(c.Backend.BaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	return strings.Replace(base, "http://", "ws://", 1)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.request_timeout", cfg.Backend.RequestTimeoutRaw, &cfg.Backend.RequestTimeout},
		{"feed.reconnect_delay", cfg.Feed.ReconnectDelayRaw, &cfg.Feed.ReconnectDelay},
		{"feed.heartbeat_interval", cfg.Feed.HeartbeatIntervalRaw, &cfg.Feed.HeartbeatInterval},
		{"feed.dial_timeout", cfg.Feed.DialTimeoutRaw, &cfg.Feed.DialTimeout},
		{"workbench.dedupe_ttl", cfg.Workbench.DedupeTTLRaw, &cfg.Workbench.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
