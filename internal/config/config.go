// Package config handles configuration loading and validation
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/durable-streams/osfinger/internal/target"
)

// EnvPath names the environment variable that overrides the config file path.
const EnvPath = "OSFINGER_CONFIG"

// ErrInvalid indicates a configuration value is out of range.
var ErrInvalid = errors.New("config: invalid value")

// Config is the tool configuration. Zero values are filled in by defaults.
type Config struct {
	// Host is used when the build argument is not a URL.
	Host string `yaml:"host"`

	// Port is the finger port.
	Port int `yaml:"port"`

	// Lnav is the log viewer the transcript is piped to. Empty disables it.
	// Nil means auto-detect on PATH.
	Lnav *string `yaml:"lnav"`

	// BufferLimit bounds bytes held while reassembling split characters.
	BufferLimit int `yaml:"buffer_limit"`

	DialTimeout time.Duration `yaml:"dial_timeout"`

	// IdleTimeout drops a silent connection; zero waits forever.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	Retry RetryConfig `yaml:"retry"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// RetryConfig mirrors osfinger.RetryPolicy.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = target.DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = 79
	}
	if cfg.BufferLimit == 0 {
		cfg.BufferLimit = 1024
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	}
	if c.BufferLimit < 0 {
		return fmt.Errorf("%w: buffer_limit %d", ErrInvalid, c.BufferLimit)
	}
	if c.DialTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries %d", ErrInvalid, c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("%w: negative retry delay", ErrInvalid)
	}
	if c.Retry.Multiplier < 0 {
		return fmt.Errorf("%w: retry.multiplier %v", ErrInvalid, c.Retry.Multiplier)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Load loads configuration from a specific file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault loads the file named by path, or by $OSFINGER_CONFIG, or
// ~/.config/osfinger/config.yaml. A missing default file is not an error;
// an explicitly named file must exist.
func LoadDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path != "" {
		return Load(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), nil
	}
	userPath := filepath.Join(home, ".config", "osfinger", "config.yaml")
	if _, err := os.Stat(userPath); err != nil {
		return Default(), nil
	}
	return Load(userPath)
}

// LnavPath returns the log viewer to use, detecting lnav on PATH when the
// configuration does not say.
func (c *Config) LnavPath() string {
	if c.Lnav != nil {
		return *c.Lnav
	}
	path, err := exec.LookPath("lnav")
	if err != nil {
		return ""
	}
	return path
}
