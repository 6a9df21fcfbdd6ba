package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingEntity is returned when a lock has no entity id.
	ErrMissingEntity = errors.New("lock entity is required")
	// ErrDuplicateLock is returned when two locks share an id.
	ErrDuplicateLock = errors.New("duplicate lock id")
)

// Config represents the application configuration
type Config struct {
	HomeAssistant   HomeAssistantConfig `yaml:"home_assistant"`
	Database        DatabaseConfig      `yaml:"database"`
	Log             LogConfig           `yaml:"log"`
	Ledger          LedgerConfig        `yaml:"ledger"`
	Healthcheck     HealthcheckConfig   `yaml:"healthcheck"`
	Server          ServerConfig        `yaml:"server"`
	Redis           RedisConfig         `yaml:"redis"`
	EventBus        EventBusConfig      `yaml:"eventbus"`
	Battery         BatteryConfig       `yaml:"battery"`
	Locks           []LockConfig        `yaml:"locks"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HomeAssistantConfig contains Home Assistant websocket settings
type HomeAssistantConfig struct {
	URL     string   `yaml:"url"`   // e.g. ws://homeassistant.local:8123/api/websocket
	Token   string   `yaml:"token"` // Long-lived access token
	Timeout Duration `yaml:"timeout"`

	// Reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)

	ServiceRateLimitRPS float64 `yaml:"service_rate_limit_rps"` // Service calls per second (default: 5)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ServerConfig contains the lock API server settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// RedisConfig contains optional Redis publishing settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"` // Key and channel prefix (default: "lock:")
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// BatteryConfig contains battery indicator colors
type BatteryConfig struct {
	LowColor string `yaml:"low_color"`
	OKColor  string `yaml:"ok_color"`
}

// ActionConfig is a configured tap or hold action
type ActionConfig struct {
	Action  string         `yaml:"action"`  // toggle, lock, unlock, call-service, script, more-info, none
	Service string         `yaml:"service"` // domain.service, for call-service
	Data    map[string]any `yaml:"data"`
	Script  string         `yaml:"script"` // Lua source, for script
}

// IsSet reports whether an action was configured
func (a *ActionConfig) IsSet() bool {
	return a != nil && a.Action != ""
}

// LockConfig contains per-lock settings
type LockConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Entity string `yaml:"entity"`

	TapAction         *ActionConfig `yaml:"tap_action"`
	LockedTapAction   *ActionConfig `yaml:"locked_tap_action"`
	UnlockedTapAction *ActionConfig `yaml:"unlocked_tap_action"`
	HoldAction        *ActionConfig `yaml:"hold_action"`

	AnimationDuration Duration `yaml:"animation_duration"`
	RotationDuration  Duration `yaml:"rotation_duration"`
	SlideDuration     Duration `yaml:"slide_duration"`
	UnlockDirection   string   `yaml:"unlock_direction"` // clockwise or counterclockwise

	RequestedTimeout Duration `yaml:"requested_timeout"`
	Debounce         Duration `yaml:"debounce"`

	DoorEntity       string  `yaml:"door_entity"`
	BatteryEntity    string  `yaml:"battery_entity"`
	BatteryThreshold float64 `yaml:"battery_threshold"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
// Bare numbers are read as milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lockd.sqlite"
	}

	// Home Assistant defaults
	if cfg.HomeAssistant.URL == "" {
		cfg.HomeAssistant.URL = "ws://homeassistant.local:8123/api/websocket"
	}
	if cfg.HomeAssistant.Timeout == 0 {
		cfg.HomeAssistant.Timeout = Duration(10 * time.Second)
	}
	if cfg.HomeAssistant.MinRetryBackoff == 0 {
		cfg.HomeAssistant.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.HomeAssistant.MaxRetryBackoff == 0 {
		cfg.HomeAssistant.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.HomeAssistant.RetryMultiplier == 0 {
		cfg.HomeAssistant.RetryMultiplier = 2.0
	}
	if cfg.HomeAssistant.ServiceRateLimitRPS == 0 {
		cfg.HomeAssistant.ServiceRateLimitRPS = 5.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// API server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "lock:"
	}

	for i := range cfg.Locks {
		l := &cfg.Locks[i]
		if l.ID == "" {
			l.ID = entityObjectID(l.Entity)
		}
		if l.Name == "" {
			l.Name = l.ID
		}
		l.UnlockDirection = strings.ToLower(strings.TrimSpace(l.UnlockDirection))
		if l.UnlockDirection == "" {
			l.UnlockDirection = "clockwise"
		}
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks lock definitions
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Locks))
	for i, l := range c.Locks {
		if strings.TrimSpace(l.Entity) == "" {
			return fmt.Errorf("locks[%d]: %w", i, ErrMissingEntity)
		}
		if seen[l.ID] {
			return fmt.Errorf("locks[%d] %q: %w", i, l.ID, ErrDuplicateLock)
		}
		seen[l.ID] = true

		switch l.UnlockDirection {
		case "clockwise", "counterclockwise":
		default:
			return fmt.Errorf("locks[%d] %q: invalid unlock_direction %q", i, l.ID, l.UnlockDirection)
		}
	}
	return nil
}

// entityObjectID returns the part of an entity id after the domain.
func entityObjectID(entity string) string {
	if _, objectID, ok := strings.Cut(entity, "."); ok {
		return objectID
	}
	return entity
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
