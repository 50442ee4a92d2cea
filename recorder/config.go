package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domrec/domtab"
)

// Config configures a Recorder for exactly one page (§2, §6's producer
// contract). The teacher's domwatch splits this across BrowserConfig and
// a slice of PageConfig since one Watcher serves many pages; a Recorder
// serves one document, so the two collapse onto a single struct.
type Config struct {
	// PageURL is the document to record.
	PageURL string `yaml:"page_url"`
	// PageID is an opaque label carried into log lines, not onto the wire.
	PageID string `yaml:"page_id"`

	// StealthLevel selects domtab's automation mode: "0"/"http" (no
	// browser, single HTTP snapshot, no live tracking), "1"/"headless",
	// "2"/"headful", or "auto" (try HTTP first, escalate to headless if
	// fetch.IsSufficient says the fetched HTML looks like an SPA shell).
	// Default "auto".
	StealthLevel string `yaml:"stealth_level"`

	Browser domtab.Config `yaml:"browser"`

	// Interval is the change detector's processing cadence. Default 100ms.
	Interval time.Duration `yaml:"interval"`

	// Concurrency bounds simultaneous out-of-band asset fetches, both at
	// keyframe time and for assets discovered later by live operations.
	// Default 6.
	Concurrency int `yaml:"concurrency"`

	// CrossOriginInline enables fetching assets whose origin differs from
	// the page's own. Default false: cross-origin assets are still
	// interned and placeholder-rewritten, but resolve to their original
	// URL on the player side instead of inlined bytes.
	CrossOriginInline bool `yaml:"cross_origin_inline"`

	// TimestampInterval between Timestamp frames. Default 1s.
	TimestampInterval time.Duration `yaml:"timestamp_interval"`

	Logger *slog.Logger `yaml:"-"`
}

// LoadConfigFile reads a YAML configuration file for a Recorder, mirroring
// domwatch's own per-page YAML config convention (domwatch/internal/config)
// collapsed onto a Recorder's single page.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("recorder: parse config file: %w", err)
	}
	cfg.defaults()
	return &cfg, nil
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 6
	}
	if c.TimestampInterval <= 0 {
		c.TimestampInterval = time.Second
	}
	if c.StealthLevel == "" {
		c.StealthLevel = "auto"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Browser.Logger == nil {
		c.Browser.Logger = c.Logger
	}
}

// resolveStealthLevel maps a non-"auto" StealthLevel string to the
// domtab constant. "auto" is handled separately by Recorder.resolveLevel
// since it needs a live HTTP probe.
func resolveStealthLevel(s string) domtab.StealthLevel {
	switch s {
	case "0", "http":
		return domtab.LevelHTTP
	case "2", "headful":
		return domtab.LevelHeadful
	default:
		return domtab.LevelHeadless
	}
}
