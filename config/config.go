// Package config loads the proxy's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML strings like "30s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return trace.Wrap(err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return trace.BadParameter("bad duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Value() time.Duration {
	return time.Duration(d)
}

// Config is the proxy's full configuration surface.
type Config struct {
	// ListenAddr is where the proxy accepts client connections.
	ListenAddr string `yaml:"listen_addr"`
	// BackendAddr is the single backend store, host:port.
	BackendAddr string `yaml:"backend_addr"`
	// BackendPassword, when set, is replayed as AUTH on every backend
	// connection before any client bytes.
	BackendPassword string `yaml:"backend_password"`
	// Denylist overrides the built-in blocked command set when non-empty.
	Denylist []string `yaml:"denylist"`
	// IdleTimeout force-closes silent connection pairs. Zero disables.
	IdleTimeout Duration `yaml:"idle_timeout"`
	// MaxLineLen caps RESP line scanning in bytes.
	MaxLineLen int `yaml:"max_line_len"`
	// AuditQueueSize bounds the audit queue; events beyond it are dropped.
	AuditQueueSize int `yaml:"audit_queue_size"`
	// AuditWorkers drain the audit queue.
	AuditWorkers int `yaml:"audit_workers"`
	// HealthInterval is the pause between backend health probes.
	HealthInterval Duration `yaml:"health_interval"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:6380",
		LogLevel:   "info",
	}
}

// Load reads and parses a YAML config file. Unknown keys are rejected, a
// typo in a policy knob should not silently disable it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	cfg := Default()
	if err := unmarshalStrict(data, cfg); err != nil {
		return nil, trace.Wrap(err, "parsing %v", path)
	}
	return cfg, nil
}

func unmarshalStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		// io.EOF means an empty file, which keeps the defaults.
		return trace.Wrap(err)
	}
	return nil
}

// CheckAndSetDefaults validates the config and fills the optional knobs.
func (c *Config) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:6380"
	}
	if c.BackendAddr == "" {
		return trace.BadParameter("backend_addr is required")
	}
	if c.MaxLineLen < 0 {
		return trace.BadParameter("max_line_len must not be negative")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return trace.BadParameter("unknown log_level %q", c.LogLevel)
	}
	return nil
}
