// Package config handles rmap configuration loading and validation.
// Configuration comes from an optional YAML file plus RMAP_* environment
// variables; command-line flags override both.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/anstrom/rmap/internal/logging"
)

// Output format names accepted by the emitter layer.
const (
	FormatAuto  = "auto"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatYAML  = "yaml"
	FormatTable = "table"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// RMAP_NMAP_PATH for the nmap.path key.
const EnvPrefix = "RMAP"

// Config represents the complete rmap configuration.
type Config struct {
	// Nmap holds child process settings
	Nmap NmapConfig `yaml:"nmap" json:"nmap" mapstructure:"nmap"`

	// Output holds emitter settings
	Output OutputConfig `yaml:"output" json:"output" mapstructure:"output"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging" mapstructure:"logging"`
}

// NmapConfig holds settings for the scanner child process.
type NmapConfig struct {
	// Binary path or name; resolved through PATH when not absolute
	Path string `yaml:"path" json:"path" mapstructure:"path" validate:"required"`

	// Pass --privileged and preflight-check raw socket capability
	Privileged bool `yaml:"privileged" json:"privileged" mapstructure:"privileged"`
}

// OutputConfig holds emitter settings.
type OutputConfig struct {
	// Output format: auto, jsonl, csv, yaml, table
	Format string `yaml:"format" json:"format" mapstructure:"format" validate:"oneof=auto jsonl csv yaml table"`

	// File to write records to; empty means stdout
	Path string `yaml:"path" json:"path" mapstructure:"path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Nmap: NmapConfig{
			Path:       "nmap",
			Privileged: true,
		},
		Output: OutputConfig{
			Format: FormatAuto,
		},
		Logging: logging.DefaultConfig(),
	}
}

// setDefaults registers every config key so environment overrides
// resolve during Unmarshal even when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("nmap.path", def.Nmap.Path)
	v.SetDefault("nmap.privileged", def.Nmap.Privileged)
	v.SetDefault("output.format", def.Output.Format)
	v.SetDefault("output.path", def.Output.Path)
	v.SetDefault("logging.level", string(def.Logging.Level))
	v.SetDefault("logging.format", string(def.Logging.Format))
	v.SetDefault("logging.output", def.Logging.Output)
	v.SetDefault("logging.add_source", def.Logging.AddSource)
}

// Load merges defaults, the optional YAML file at path, and RMAP_*
// environment variables, in ascending precedence. A missing file falls
// back to defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if c.Logging.Level != "" && !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
