// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds the daemon's runtime configuration.
type Config struct {
	// HTTPAddr is the listen address; empty disables HTTP.
	HTTPAddr string `yaml:"http_addr"`
	// Broker is the MQTT broker URL; empty disables MQTT.
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	// Heartbeat is the system heartbeat interval; 0 disables it.
	Heartbeat time.Duration `yaml:"heartbeat"`
	// JournalPath is the SQLite event journal; empty disables it.
	JournalPath  string `yaml:"journal_path"`
	NativeScroll bool   `yaml:"native_scroll"`
	AutoStart    bool   `yaml:"auto_start"`
	LogLevel     string `yaml:"log_level"`
	// Seed fixes the engine's randomness; 0 seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTPAddr:     ":8080",
		Broker:       "tcp://localhost:1883",
		ClientID:     "experience-degrader",
		Heartbeat:    15 * time.Minute,
		NativeScroll: true,
		AutoStart:    true,
		LogLevel:     "info",
	}
}

// Load reads a YAML config file over the defaults, then validates.
// An empty path yields the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "experience-degrader"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []string

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log_level %q is not a valid level", c.LogLevel))
	}
	if c.Heartbeat < 0 {
		problems = append(problems, "heartbeat must not be negative")
	}
	if c.Broker != "" {
		u, err := url.Parse(c.Broker)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("broker %q: %v", c.Broker, err))
		case u.Host == "":
			problems = append(problems, fmt.Sprintf("broker %q has no host", c.Broker))
		case !validScheme(u.Scheme):
			problems = append(problems, fmt.Sprintf("broker scheme %q is not one of tcp, ssl, ws, wss, mqtt", u.Scheme))
		}
	}
	if c.NativeScroll && c.HTTPAddr == "" {
		problems = append(problems, "native_scroll requires http_addr")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func validScheme(s string) bool {
	switch s {
	case "tcp", "ssl", "ws", "wss", "mqtt":
		return true
	}
	return false
}
