package player

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/stylemutate"
)

// Config configures a Player for exactly one target tab (§6's consumer
// contract). Mirrors recorder.Config's shape and defaulting conventions.
type Config struct {
	// PageID is an opaque label carried into log lines only.
	PageID string `yaml:"page_id"`

	Browser domtab.Config `yaml:"browser"`

	StyleSheet stylemutate.Config `yaml:"stylesheet"`

	Logger *slog.Logger `yaml:"-"`
}

// LoadConfigFile reads a YAML configuration file for a Player, mirroring
// recorder.LoadConfigFile's convention.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("player: read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("player: parse config file: %w", err)
	}
	cfg.defaults()
	return &cfg, nil
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Browser.Logger == nil {
		c.Browser.Logger = c.Logger
	}
	if c.StyleSheet.Logger == nil {
		c.StyleSheet.Logger = c.Logger
	}
}
