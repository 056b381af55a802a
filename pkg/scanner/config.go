package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MikhailDrugie/se-attack-modeling/internal/urlutil"
)

// Config holds crawler configuration.
type Config struct {
	// Target is the base URL to crawl.
	Target string `json:"target" yaml:"target"`
	// MaxDepth limits how deep link recursion goes from the target.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
	// Fetcher holds HTTP client settings.
	Fetcher FetcherConfig `json:"fetcher" yaml:"fetcher"`
	// Verbose enables debug logging.
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultConfig returns the default crawler configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth: 3,
		Fetcher:  DefaultFetcherConfig(),
	}
}

// LoadFromFile loads a configuration from a YAML or JSON file.
// YAML is tried first, JSON as fallback.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	if yamlErr := yaml.Unmarshal(data, config); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config as YAML (%v) or JSON (%v)", yamlErr, jsonErr)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Target != "" && !urlutil.IsHTTP(c.Target) {
		return fmt.Errorf("target must be an absolute http(s) URL, got %q", c.Target)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if c.Fetcher.MaxConcurrent < 0 {
		return fmt.Errorf("fetcher.max_concurrent must not be negative, got %d", c.Fetcher.MaxConcurrent)
	}
	if c.Fetcher.Timeout < 0 {
		return fmt.Errorf("fetcher.timeout must not be negative, got %v", c.Fetcher.Timeout)
	}
	if c.Fetcher.MinDelay < 0 {
		return fmt.Errorf("fetcher.min_delay must not be negative, got %v", c.Fetcher.MinDelay)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// NormalizedTarget returns the target with a trailing slash trimmed
// from the host root, for display purposes.
func (c *Config) NormalizedTarget() string {
	return strings.TrimSuffix(c.Target, "/")
}

// EffectiveTimeout returns the fetcher timeout, defaulted when unset.
func (c *Config) EffectiveTimeout() time.Duration {
	if c.Fetcher.Timeout > 0 {
		return c.Fetcher.Timeout
	}
	return 10 * time.Second
}
