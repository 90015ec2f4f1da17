package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Worker   WorkerConfig   `yaml:"worker" toml:"worker"`
	Protocol ProtocolConfig `yaml:"protocol" toml:"protocol"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Artifact ArtifactConfig `yaml:"artifact" toml:"artifact"`
	Logging  LogConfig      `yaml:"logging" toml:"logging"`
	Status   StatusConfig   `yaml:"status" toml:"status"`
}

// WorkerConfig describes how to locate and launch the worker.
type WorkerConfig struct {
	// Executable, when set, bypasses platform resolution.
	Executable    string   `envconfig:"XSBUG_WORKER" yaml:"executable" toml:"executable"`
	BuildRoot     string   `envconfig:"XSBUG_BUILD_ROOT" default:"../build" yaml:"build_root" toml:"build_root"`
	Configuration string   `envconfig:"XSBUG_BUILD_CONFIG" default:"debug" yaml:"configuration" toml:"configuration"`
	Name          string   `envconfig:"XSBUG_WORKER_NAME" default:"xsnap-worker" yaml:"name" toml:"name"`
	Args          []string `envconfig:"XSBUG_WORKER_ARGS" yaml:"args" toml:"args"`
	Stdio         string   `envconfig:"XSBUG_STDIO" default:"inherit" yaml:"stdio" toml:"stdio"`
}

// ProtocolConfig holds framing limits.
type ProtocolConfig struct {
	MaxFrameSize int `envconfig:"XSBUG_MAX_FRAME_SIZE" default:"999999999" yaml:"max_frame_size" toml:"max_frame_size"`
}

// SessionConfig holds profiling session behavior.
type SessionConfig struct {
	CompletionTimeout Duration `envconfig:"XSBUG_COMPLETION_TIMEOUT" default:"10s" yaml:"completion_timeout" toml:"completion_timeout"`
	// StopOn selects what on the acknowledgment channel stops capture:
	// "any" for any data, "reply" for a successful reply frame.
	StopOn string `envconfig:"XSBUG_STOP_ON" default:"any" yaml:"stop_on" toml:"stop_on"`
}

// ArtifactConfig holds profile output settings.
type ArtifactConfig struct {
	Path    string `envconfig:"XSBUG_ARTIFACT" default:"./test.cpuprofile" yaml:"path" toml:"path"`
	TopHits int    `envconfig:"XSBUG_TOP_HITS" default:"10" yaml:"top_hits" toml:"top_hits"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// StatusConfig holds the optional status endpoint. An empty address
// disables it.
type StatusConfig struct {
	Addr              string   `envconfig:"XSBUG_STATUS_ADDR" yaml:"addr" toml:"addr"`
	AllowOrigins      []string `envconfig:"XSBUG_STATUS_ORIGINS" default:"*" yaml:"allow_origins" toml:"allow_origins"`
	RequestsPerSecond float64  `envconfig:"XSBUG_STATUS_RPS" default:"20" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `envconfig:"XSBUG_STATUS_BURST" default:"40" yaml:"burst" toml:"burst"`
}

// Duration is a time.Duration read from text such as "10s" in environment
// variables, YAML and TOML alike.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

const (
	StopOnAny   = "any"
	StopOnReply = "reply"

	StdioInherit = "inherit"
	StdioPTY     = "pty"
	StdioDiscard = "discard"
)

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, cfg.Validate()
}

// LoadFile loads environment configuration and overlays the YAML or TOML
// file at path on top of it.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, cfg.Validate()
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			BuildRoot:     "../build",
			Configuration: "debug",
			Name:          "xsnap-worker",
			Stdio:         StdioInherit,
		},
		Protocol: ProtocolConfig{
			MaxFrameSize: 999999999,
		},
		Session: SessionConfig{
			CompletionTimeout: Duration(10 * time.Second),
			StopOn:            StopOnAny,
		},
		Artifact: ArtifactConfig{
			Path:    "./test.cpuprofile",
			TopHits: 10,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Status: StatusConfig{
			AllowOrigins:      []string{"*"},
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	switch c.Session.StopOn {
	case StopOnAny, StopOnReply:
	default:
		return fmt.Errorf("invalid stop_on %q: want %q or %q", c.Session.StopOn, StopOnAny, StopOnReply)
	}
	switch c.Worker.Stdio {
	case StdioInherit, StdioPTY, StdioDiscard:
	default:
		return fmt.Errorf("invalid stdio mode %q", c.Worker.Stdio)
	}
	if c.Protocol.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size must be positive, got %d", c.Protocol.MaxFrameSize)
	}
	if c.Session.CompletionTimeout <= 0 {
		return fmt.Errorf("completion timeout must be positive, got %s", c.Session.CompletionTimeout.Std())
	}
	return nil
}
