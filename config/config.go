package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/freshen/models"
	"goflare.io/freshen/pkg/serialization"
)

const (
	// ProductionBaseURL is the hosted school API.
	ProductionBaseURL = "https://api.schoolhub.app/api"
	// DevelopmentBaseURL is the backend started locally by developers.
	DevelopmentBaseURL = "http://localhost:5000/api"
)

var (
	ErrStaleExceedsHardExpiry = errors.New("stale window must not exceed hard expiry")
	ErrNegativeDuration       = errors.New("expiry durations must not be negative")
	ErrInvalidBaseURL         = errors.New("base url must be an absolute http(s) url")
)

// Config holds everything the data layer needs to wire itself.
type Config struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration // zero leaves requests unbounded

	Policies map[string]ExpiryPolicy

	ResilienceConfig ResilienceConfig
	NetworkConfig    NetworkConfig
	Serialization    SerializationConfig
	Logger           *zap.Logger
}

// ExpiryPolicy pairs the hard expiry of a cache key with its stale window.
type ExpiryPolicy struct {
	HardExpiry time.Duration // entries older than this are deleted on read; zero disables
	Stale      time.Duration // entries older than this are served but revalidated
}

// Validate checks that the stale window can fire before hard deletion.
func (p ExpiryPolicy) Validate() error {
	if p.HardExpiry < 0 || p.Stale < 0 {
		return ErrNegativeDuration
	}
	if p.HardExpiry > 0 && p.Stale > p.HardExpiry {
		return ErrStaleExceedsHardExpiry
	}
	return nil
}

// ResilienceConfig configures breakers and retries around I/O.
type ResilienceConfig struct {
	EnableFetchBreaker bool
	FetchBreaker       gobreaker.Settings
	StoreBreaker       gobreaker.Settings

	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// NetworkConfig configures the reachability poller. A zero ProbeInterval
// disables polling and leaves the observer to be fed by the host platform.
type NetworkConfig struct {
	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// SerializationConfig selects the cache envelope codec.
type SerializationConfig struct {
	Type  string
	Codec serialization.Codec
}

// Option 函數類型
type Option func(*Config) error

// DefaultPolicies returns the expiry policy of every resource key.
func DefaultPolicies() map[string]ExpiryPolicy {
	return map[string]ExpiryPolicy{
		models.KeyEvents:     {HardExpiry: 24 * time.Hour, Stale: 5 * time.Minute},
		models.KeyNews:       {HardExpiry: 24 * time.Hour, Stale: 5 * time.Minute},
		models.KeySchoolInfo: {HardExpiry: 7 * 24 * time.Hour, Stale: time.Hour},
		models.KeyUsers:      {HardExpiry: 24 * time.Hour, Stale: 10 * time.Minute},
	}
}

// NewConfig creates a Config with defaults, then applies options.
func NewConfig(options ...Option) (*Config, error) {
	cfg := &Config{
		BaseURL:   ProductionBaseURL,
		UserAgent: "freshen/1.0",
		Policies:  DefaultPolicies(),
		ResilienceConfig: ResilienceConfig{
			EnableFetchBreaker: true,
			FetchBreaker: gobreaker.Settings{
				Name:        "FetchCircuitBreaker",
				MaxRequests: 1,
				Interval:    60 * time.Second,
				Timeout:     15 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			StoreBreaker: gobreaker.Settings{
				Name:        "StoreCircuitBreaker",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 3
				},
			},
			MaxRetries:          3,
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.1,
		},
		NetworkConfig: NetworkConfig{
			ProbeTimeout: 5 * time.Second,
		},
		Serialization: SerializationConfig{
			Type:  serialization.JSONType,
			Codec: serialization.JSON{},
		},
		Logger: zap.NewNop(),
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the whole configuration. It runs at startup so a
// misconfigured policy fails loudly instead of silently skipping revalidation.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	for key, policy := range c.Policies {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("policy %s: %w", key, err)
		}
	}
	return nil
}

// Policy returns the policy registered for key, or a zero policy.
func (c *Config) Policy(key string) ExpiryPolicy {
	return c.Policies[key]
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithBaseURL points the fetch wrapper at another backend.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) error {
		c.BaseURL = baseURL
		return nil
	}
}

// WithDevelopment targets DevelopmentBaseURL.
func WithDevelopment() Option {
	return WithBaseURL(DevelopmentBaseURL)
}

// WithPolicy overrides the expiry policy of one key.
func WithPolicy(key string, policy ExpiryPolicy) Option {
	return func(c *Config) error {
		if key == "" {
			return errors.New("policy key must not be empty")
		}
		c.Policies[key] = policy
		return nil
	}
}

// WithRequestTimeout bounds every outbound request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return ErrNegativeDuration
		}
		c.RequestTimeout = d
		return nil
	}
}

// WithSerialization selects the envelope codec by name.
func WithSerialization(name string) Option {
	return func(c *Config) error {
		codec, err := serialization.ByType(name)
		if err != nil {
			return err
		}
		c.Serialization = SerializationConfig{Type: codec.Type(), Codec: codec}
		return nil
	}
}

// WithProbe enables the reachability poller.
func WithProbe(probeURL string, interval time.Duration) Option {
	return func(c *Config) error {
		if interval < 0 {
			return ErrNegativeDuration
		}
		c.NetworkConfig.ProbeURL = probeURL
		c.NetworkConfig.ProbeInterval = interval
		return nil
	}
}

// WithFetchBreaker replaces the transport circuit breaker settings. A nil
// ReadyToTrip keeps gobreaker's default.
func WithFetchBreaker(enabled bool, settings gobreaker.Settings) Option {
	return func(c *Config) error {
		c.ResilienceConfig.EnableFetchBreaker = enabled
		c.ResilienceConfig.FetchBreaker = settings
		return nil
	}
}

// envConfig holds raw environment overrides.
type envConfig struct {
	BaseURL        string        `env:"FRESHEN_BASE_URL"`
	RequestTimeout time.Duration `env:"FRESHEN_REQUEST_TIMEOUT"`
	ProbeURL       string        `env:"FRESHEN_PROBE_URL"`
	ProbeInterval  time.Duration `env:"FRESHEN_PROBE_INTERVAL"`
	Serialization  string        `env:"FRESHEN_SERIALIZATION"`
}

// WithEnv applies FRESHEN_* environment variables that are set.
func WithEnv() Option {
	return func(c *Config) error {
		var raw envConfig
		if err := env.Parse(&raw); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
		if raw.BaseURL != "" {
			c.BaseURL = raw.BaseURL
		}
		if raw.RequestTimeout > 0 {
			c.RequestTimeout = raw.RequestTimeout
		}
		if raw.ProbeURL != "" {
			c.NetworkConfig.ProbeURL = raw.ProbeURL
		}
		if raw.ProbeInterval > 0 {
			c.NetworkConfig.ProbeInterval = raw.ProbeInterval
		}
		if raw.Serialization != "" {
			return WithSerialization(raw.Serialization)(c)
		}
		return nil
	}
}
