// Package config loads pageboot settings from a yaml, toml or json file with
// PAGEBOOT_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dusk-indust/pageboot/internal/condition"
	"github.com/dusk-indust/pageboot/internal/plugin"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by Validate errors.
var ErrInvalid = errors.New("config: invalid")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAGEBOOT_"

// DiscoverNames are the file names Discover looks for, in order.
var DiscoverNames = []string{"pageboot.yml", "pageboot.yaml", "pageboot.toml", "pageboot.json"}

// Duration is a time.Duration written as a string such as "3s" or "100ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the settings of a bootstrap run and of the collector.
type Config struct {
	Site      SiteConfig      `json:"site" yaml:"site" toml:"site"`
	Fonts     FontsConfig     `json:"fonts" yaml:"fonts" toml:"fonts"`
	Timing    TimingConfig    `json:"timing" yaml:"timing" toml:"timing"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics" toml:"analytics"`
	Log       LogConfig       `json:"log" yaml:"log" toml:"log"`
	Plugins   []PluginConfig  `json:"plugins,omitempty" yaml:"plugins,omitempty" toml:"plugins,omitempty"`
}

type SiteConfig struct {
	CodeBasePath string `json:"codeBasePath" yaml:"codeBasePath" toml:"codeBasePath" env:"CODE_BASE_PATH"`
	Lang         string `json:"lang" yaml:"lang" toml:"lang"`
	Host         string `json:"host" yaml:"host" toml:"host"`
}

type FontsConfig struct {
	MinViewport int `json:"minViewport" yaml:"minViewport" toml:"minViewport"`
}

type TimingConfig struct {
	DelayedAfter     Duration `json:"delayedAfter" yaml:"delayedAfter" toml:"delayedAfter" env:"DELAYED_AFTER"`
	ConversionWindow Duration `json:"conversionWindow" yaml:"conversionWindow" toml:"conversionWindow" env:"CONVERSION_WINDOW"`
}

type AnalyticsConfig struct {
	Endpoint string   `json:"endpoint" yaml:"endpoint" toml:"endpoint" env:"ANALYTICS_ENDPOINT"`
	Timeout  Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" toml:"format" env:"LOG_FORMAT"`
}

// PluginConfig declares a plugin. Load names its stage (eager when empty)
// and Condition a built-in condition (none when empty).
type PluginConfig struct {
	Name      string         `json:"name" yaml:"name" toml:"name"`
	URL       string         `json:"url" yaml:"url" toml:"url"`
	Load      string         `json:"load,omitempty" yaml:"load,omitempty" toml:"load,omitempty"`
	Condition string         `json:"condition,omitempty" yaml:"condition,omitempty" toml:"condition,omitempty"`
	Options   map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Site:  SiteConfig{Lang: "en"},
		Fonts: FontsConfig{MinViewport: 900},
		Timing: TimingConfig{
			DelayedAfter:     Duration{3 * time.Second},
			ConversionWindow: Duration{100 * time.Millisecond},
		},
		Analytics: AnalyticsConfig{Timeout: Duration{5 * time.Second}},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file over the defaults, choosing the decoder
// by extension. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("config: unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Discover loads the first pageboot.* file found in dir. It returns the
// defaults and an empty path (not an error) when none exists.
func Discover(dir string) (Config, string, error) {
	for _, name := range DiscoverNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		return cfg, path, err
	}
	return Default(), "", nil
}

// ApplyEnv overrides cfg from PAGEBOOT_* environment variables. Unset
// variables leave the current values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Validate reports every problem found, joined, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Timing.DelayedAfter.Duration < 0 {
		bad("timing.delayedAfter is negative")
	}
	if c.Timing.ConversionWindow.Duration < 0 {
		bad("timing.conversionWindow is negative")
	}
	if c.Analytics.Timeout.Duration < 0 {
		bad("analytics.timeout is negative")
	}
	if c.Fonts.MinViewport < 0 {
		bad("fonts.minViewport is negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		bad("log.format %q is not text or json", c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.Name == "" {
			bad("plugins[%d] has no name", i)
			continue
		}
		if seen[p.Name] {
			bad("plugin %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if _, err := plugin.ParseStage(p.Load); err != nil {
			bad("plugin %q: %v", p.Name, err)
		}
		if p.Condition != "" {
			if _, ok := condition.Lookup(p.Condition); !ok {
				bad("plugin %q: unknown condition %q", p.Name, p.Condition)
			}
		}
	}
	return errors.Join(errs...)
}
