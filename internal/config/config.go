package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultPrompt is shown when neither $PROMPT nor the config sets one.
const DefaultPrompt = "myshell>"

// Config holds the global msh configuration.
type Config struct {
	Prompt     string        `yaml:"prompt" validate:"required"`
	Startup    StartupConfig `yaml:"startup"`
	History    HistoryConfig `yaml:"history"`
	Audit      AuditConfig   `yaml:"audit"`
	Color      bool          `yaml:"color"`
	Debug      bool          `yaml:"debug"`
	PrintTable bool          `yaml:"print_table"`
}

// StartupConfig controls the file sourced before input is read.
type StartupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// HistoryConfig controls the line editor's history.
type HistoryConfig struct {
	Path  string `yaml:"path"`
	Limit int    `yaml:"limit" validate:"gte=0"`
}

// AuditConfig controls the execution journal.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Prompt: DefaultPrompt,
		Startup: StartupConfig{
			Enabled: true,
			Path:    ".shellrc",
		},
		History: HistoryConfig{
			Path:  filepath.Join(home, ".local", "share", "msh", "history"),
			Limit: 1000,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".local", "share", "msh", "journal.jsonl"),
		},
		Color: true,
	}
}

// Validate checks the configuration for semantic errors.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
	return validate.Struct(c)
}

// Load reads the config from the standard location (~/.config/msh/config.yaml).
// If the file doesn't exist, returns the default config.
func Load(fs afero.Fs) (*Config, error) {
	return LoadFrom(fs, ConfigPath())
}

// LoadFrom reads the config from the given path.
func LoadFrom(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	cfg.History.Path = expandHome(cfg.History.Path)
	cfg.Audit.Path = expandHome(cfg.Audit.Path)
	cfg.Startup.Path = expandHome(cfg.Startup.Path)
	return cfg, nil
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, path[1:])
}

// ConfigPath returns the standard config file path.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "msh", "config.yaml")
}
