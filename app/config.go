package app

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"DriveDecoder/core"
	"DriveDecoder/decoder"
	"DriveDecoder/internal/logrotate"
	"DriveDecoder/output"
)

// Common errors
var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrInvalidInput      = errors.New("invalid input path")
	ErrInvalidOutput     = errors.New("invalid output path")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
	// MaxConcurrent bounds requests served at the same time
	MaxConcurrent int `yaml:"max_concurrent"`
	// RequireToken enables bearer-token auth on /api routes
	RequireToken bool `yaml:"require_token"`
}

// Config holds the configuration for DriveDecoder
type Config struct {
	// Input/Output settings
	Inputs     []string `yaml:"inputs"`
	OutputPath string   `yaml:"output"`
	Format     string   `yaml:"format"`

	// Processing settings
	Workers int `yaml:"workers"`
	// EventKinds maps extra event IDs to "insertion" or "removal"
	EventKinds map[int]string `yaml:"event_kinds"`

	// Query settings
	Kind   string `yaml:"kind"`
	Search string `yaml:"search"`

	// Console output
	Verbose    bool `yaml:"verbose"`
	Silent     bool `yaml:"silent"`
	JSONStatus bool `yaml:"json_status"`

	// Logging
	LogFile     string           `yaml:"log_file"`
	LogRotation logrotate.Config `yaml:"log_rotation"`

	Server ServerConfig `yaml:"server"`

	kinds      decoder.KindTable
	kindFilter *core.EventKind
}

// NewDefaultConfig returns the settings used when no config file is given
func NewDefaultConfig() *Config {
	return &Config{
		Format:      "csv",
		Workers:     runtime.NumCPU(),
		LogRotation: logrotate.DefaultConfig,
		Server: ServerConfig{
			Addr:          "127.0.0.1",
			Port:          8765,
			MaxConcurrent: 16,
		},
	}
}

// LoadConfig reads a YAML file over the defaults
func LoadConfig(path string) (*Config, error) {
	config := NewDefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return config, nil
}

// Validate normalizes the configuration
func (c *Config) Validate() error {
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "csv"
	}
	validFormat := false
	for _, format := range output.Formats {
		if c.Format == format {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return fmt.Errorf("%w: %s (supported formats: %s)",
			ErrUnsupportedFormat, c.Format, strings.Join(output.Formats, ", "))
	}

	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}

	c.kindFilter = nil
	if strings.TrimSpace(c.Kind) != "" && !strings.EqualFold(strings.TrimSpace(c.Kind), "all") {
		kind, ok := core.ParseEventKind(c.Kind)
		if !ok {
			return fmt.Errorf("%w: unknown event kind %q", ErrInvalidConfig, c.Kind)
		}
		c.kindFilter = &kind
	}

	extra := make(map[int]core.EventKind, len(c.EventKinds))
	for id, name := range c.EventKinds {
		kind, ok := core.ParseEventKind(name)
		if !ok {
			return fmt.Errorf("%w: event_kinds[%d]: unknown event kind %q", ErrInvalidConfig, id, name)
		}
		extra[id] = kind
	}
	c.kinds = decoder.DefaultKindTable().With(extra)

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.MaxConcurrent <= 0 {
		c.Server.MaxConcurrent = 16
	}
	return nil
}

// Kinds returns the event ID table, valid after Validate
func (c *Config) Kinds() decoder.KindTable {
	if c.kinds == nil {
		return decoder.DefaultKindTable()
	}
	return c.kinds
}

// KindFilter returns the selected kind, or nil for all kinds
func (c *Config) KindFilter() *core.EventKind {
	return c.kindFilter
}
