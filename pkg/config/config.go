package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "eventdesk"
	configFile = "config.yaml"
)

type Config struct {
	DataDir   string          `yaml:"data_dir" env:"EVENTDESK_DATA_DIR"`
	Backend   BackendConfig   `yaml:"backend"`
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// BackendConfig points at the hosted backend project.
type BackendConfig struct {
	URL     string        `yaml:"url" env:"EVENTDESK_BACKEND_URL"`
	AnonKey string        `yaml:"anon_key" env:"EVENTDESK_ANON_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"EVENTDESK_BACKEND_TIMEOUT"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl" env:"EVENTDESK_CACHE_TTL"`
	MaxEntries int           `yaml:"max_entries" env:"EVENTDESK_CACHE_MAX_ENTRIES"`
	Persist    bool          `yaml:"persist" env:"EVENTDESK_CACHE_PERSIST"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"EVENTDESK_RETRY_MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"EVENTDESK_RETRY_INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"EVENTDESK_RETRY_MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"EVENTDESK_RETRY_MULTIPLIER"`
}

type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" env:"EVENTDESK_RATE_LIMIT_MAX_REQUESTS"`
	Window      time.Duration `yaml:"window" env:"EVENTDESK_RATE_LIMIT_WINDOW"`
}

// CalendarConfig configures the Google Calendar export.
type CalendarConfig struct {
	Name            string `yaml:"name" env:"EVENTDESK_CALENDAR"`
	CredentialsFile string `yaml:"credentials_file" env:"EVENTDESK_GOOGLE_CREDENTIALS"`
	AuthPort        string `yaml:"auth_port" env:"EVENTDESK_GOOGLE_AUTH_PORT"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"EVENTDESK_LOG_LEVEL"`
	Format string `yaml:"format" env:"EVENTDESK_LOG_FORMAT"`
}

type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"EVENTDESK_OTLP_ENDPOINT"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := GetXdgHome()
	return &Config{
		DataDir: home,
		Backend: BackendConfig{Timeout: 15 * time.Second},
		Cache: CacheConfig{
			TTL:        30 * time.Second,
			MaxEntries: 256,
			Persist:    true,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
		RateLimit: RateLimitConfig{MaxRequests: 60, Window: time.Minute},
		Calendar: CalendarConfig{
			Name:            "Event Agenda",
			CredentialsFile: "credentials.json",
			AuthPort:        "6789",
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// GetXdgHome returns $HOME/.config/eventdesk.
func GetXdgHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetXdgHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the config at path (or the default path when empty), then
// applies EVENTDESK_* environment overrides. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env overrides: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports the first setting that would make the client unusable.
func (c *Config) Validate() error {
	switch {
	case c.Backend.URL == "":
		return errors.New("backend.url is required")
	case c.Backend.Timeout <= 0:
		return errors.New("backend.timeout must be positive")
	case c.Retry.MaxAttempts < 1:
		return errors.New("retry.max_attempts must be at least 1")
	case c.Retry.Multiplier < 1:
		return errors.New("retry.multiplier must be at least 1")
	case c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay:
		return errors.New("retry delays must be positive and max_delay >= initial_delay")
	case c.RateLimit.MaxRequests < 1 || c.RateLimit.Window <= 0:
		return errors.New("rate_limit.max_requests and rate_limit.window must be positive")
	case c.Cache.MaxEntries < 1:
		return errors.New("cache.max_entries must be positive")
	}
	return nil
}
