// Package config loads engine configuration from YAML with defaults for
// every tunable.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the engine needs at construction. The zero value
// is not usable; start from Default and override.
type Config struct {
	// RemoteBaseURL is the backend origin, e.g. "http://localhost:1337".
	RemoteBaseURL string `yaml:"remote_base_url"`

	// StorePath is the SQLite file for the record store.
	StorePath string `yaml:"store_path"`

	// CachePath is the SQLite file for the response cache. Empty disables
	// response caching.
	CachePath string `yaml:"cache_path,omitempty"`

	// CacheGeneration versions the response cache. Deployers bump it to
	// invalidate every previously cached asset on the next activation.
	CacheGeneration string `yaml:"cache_generation,omitempty"`

	// PrecacheURLs are fetched into the response cache at startup.
	PrecacheURLs []string `yaml:"precache_urls,omitempty"`

	// RequestTimeout bounds every remote call.
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`

	// BackoffBase and BackoffMax bound the replay retry delay.
	BackoffBase Duration `yaml:"backoff_base,omitempty"`
	BackoffMax  Duration `yaml:"backoff_max,omitempty"`

	// ReplayConcurrency caps concurrent replays of distinct pending writes.
	ReplayConcurrency int `yaml:"replay_concurrency,omitempty"`

	// MaxRejects bounds attempts for server-rejected writes.
	MaxRejects int `yaml:"max_rejects,omitempty"`

	// ReplayInterval adds a periodic replay pass. Zero leaves only the
	// online-transition trigger.
	ReplayInterval Duration `yaml:"replay_interval,omitempty"`

	// ProbeURL, when set, enables connectivity probing against that URL.
	ProbeURL      string   `yaml:"probe_url,omitempty"`
	ProbeInterval Duration `yaml:"probe_interval,omitempty"`
}

// Default returns the baseline configuration. RemoteBaseURL and StorePath
// have no sensible defaults and must be set by the caller or the file.
func Default() Config {
	return Config{
		CacheGeneration:   "v1",
		RequestTimeout:    Duration(10 * time.Second),
		BackoffBase:       Duration(time.Second),
		BackoffMax:        Duration(5 * time.Minute),
		ReplayConcurrency: 4,
		MaxRejects:        3,
		ProbeInterval:     Duration(30 * time.Second),
	}
}

// Load reads a YAML config file over the defaults. Unknown fields are
// rejected so typos fail loudly instead of silently using a default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the required fields and value ranges.
func (c Config) Validate() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("remote_base_url is required")
	}
	if _, err := url.ParseRequestURI(c.RemoteBaseURL); err != nil {
		return fmt.Errorf("remote_base_url: %w", err)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.CachePath != "" && c.CacheGeneration == "" {
		return fmt.Errorf("cache_generation is required when cache_path is set")
	}
	if c.ReplayConcurrency < 0 {
		return fmt.Errorf("replay_concurrency must not be negative")
	}
	if c.MaxRejects < 0 {
		return fmt.Errorf("max_rejects must not be negative")
	}
	if c.BackoffBase < 0 || c.BackoffMax < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.BackoffMax > 0 && c.BackoffBase > c.BackoffMax {
		return fmt.Errorf("backoff_base exceeds backoff_max")
	}
	return nil
}
