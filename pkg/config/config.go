package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/killer-ai/killer/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the generateContent endpoint used when none is configured.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1/models/gemini-1.5-flash:generateContent"

// Config holds all killer configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	DBPath    string          `yaml:"db_path"`
	API       APIConfig       `yaml:"api"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Quota     QuotaConfig     `yaml:"quota"`
	Log       LogConfig       `yaml:"log"`

	// AllowedOrigins lists web origins accepted besides browser extensions.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ExtensionIDs pins the browser extensions allowed to call the API.
	// Empty accepts any chrome-extension:// or moz-extension:// origin.
	ExtensionIDs []string `yaml:"extension_ids"`
}

// APIConfig defines the remote generative API.
type APIConfig struct {
	Key        string                  `yaml:"key"`
	Endpoint   string                  `yaml:"endpoint"`
	Timeout    time.Duration           `yaml:"timeout"`
	Generation models.GenerationConfig `yaml:"generation"`
	Safety     []models.SafetySetting  `yaml:"safety"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// RateLimitConfig controls per-minute backpressure.
type RateLimitConfig struct {
	MaxPerMinute int           `yaml:"max_per_minute"`
	Window       time.Duration `yaml:"window"`
	Delay        time.Duration `yaml:"delay"`
}

// QuotaConfig controls the daily remote call ceiling.
type QuotaConfig struct {
	DailyLimit    int `yaml:"daily_limit"`
	WarnThreshold int `yaml:"warn_threshold"`
}

// LogConfig controls logger construction.
// Format is "json" (default) or "console".
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8787",
		DBPath: "killer.db",
		API: APIConfig{
			Endpoint: DefaultEndpoint,
			Timeout:  10 * time.Second,
			Generation: models.GenerationConfig{
				Temperature:     0.3,
				TopK:            20,
				TopP:            0.8,
				MaxOutputTokens: 300,
				CandidateCount:  1,
			},
			Safety: []models.SafetySetting{
				{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
				{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
				{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
				{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
			},
		},
		Cache: CacheConfig{
			Capacity: 10,
		},
		RateLimit: RateLimitConfig{
			MaxPerMinute: 10,
			Window:       time.Minute,
			Delay:        500 * time.Millisecond,
		},
		Quota: QuotaConfig{
			DailyLimit:    45,
			WarnThreshold: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults when path does not exist.
// GOOGLE_API_KEY fills the API key when the file leaves it empty.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
	} else if err != nil {
		return nil, err
	}
	if cfg.API.Key == "" {
		cfg.API.Key = os.Getenv("GOOGLE_API_KEY")
	}
	return cfg, nil
}

// Validate rejects limits the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Cache.Capacity <= 0:
		return fmt.Errorf("invalid config: cache.capacity must be positive, got %d", c.Cache.Capacity)
	case c.RateLimit.MaxPerMinute <= 0:
		return fmt.Errorf("invalid config: rate_limit.max_per_minute must be positive, got %d", c.RateLimit.MaxPerMinute)
	case c.RateLimit.Window <= 0:
		return fmt.Errorf("invalid config: rate_limit.window must be positive, got %s", c.RateLimit.Window)
	case c.RateLimit.Delay < 0:
		return fmt.Errorf("invalid config: rate_limit.delay must not be negative, got %s", c.RateLimit.Delay)
	case c.Quota.DailyLimit <= 0:
		return fmt.Errorf("invalid config: quota.daily_limit must be positive, got %d", c.Quota.DailyLimit)
	case c.API.Timeout <= 0:
		return fmt.Errorf("invalid config: api.timeout must be positive, got %s", c.API.Timeout)
	}
	return nil
}

// Settings returns the configured API settings, falling back to the default endpoint.
func (c *Config) Settings() models.Settings {
	return models.Settings{APIKey: c.API.Key, APIEndpoint: c.API.Endpoint}.
		Merge(models.Settings{APIEndpoint: DefaultEndpoint})
}
