// Package config loads rpckit server settings from a TOML file, a .env file and
// RPCKIT_* environment variables, in that order of precedence from lowest to
// highest, and turns them into engine options, middleware and transport settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/n-car/rpckit"
)

// Rate limit strategies.
const (
	StrategySlidingWindow = "sliding_window"
	StrategyTokenBucket   = "token_bucket"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Batch     BatchConfig
	RateLimit RateLimitConfig
	Filter    FilterConfig
	Auth      AuthConfig
	Timing    TimingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	HTTPPath        string
	WebSocketPath   string
	MaxRequestSize  int64
	AllowedOrigins  []string
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

type EngineConfig struct {
	Name                string
	Version             string
	SafeMode            bool
	SanitizeErrors      bool
	Introspection       bool
	IntrospectionPrefix string
	// SchemaDir holds <method>.json schema files loaded at startup.
	SchemaDir string
}

type BatchConfig struct {
	MaxSize         int
	Parallel        bool
	MaxParallelism  int
	ContinueOnError bool
	Timeout         time.Duration
	EnableMetrics   bool
}

type RateLimitConfig struct {
	Enabled  bool
	Strategy string
	// MaxRequests per Window, for the sliding window strategy.
	MaxRequests int
	Window      time.Duration
	// Rate per second and Burst, for the token bucket strategy.
	Rate  float64
	Burst int
}

type FilterConfig struct {
	Allow []string
	Deny  []string
}

type AuthConfig struct {
	Enabled bool
	Bypass  []string
}

type TimingConfig struct {
	Enabled       bool
	SlowThreshold time.Duration
}

type LogConfig struct {
	// Backend is one of logrus, zap, zerolog, slog, std or none.
	Backend string
	Level   string
	// Format is text or json; backends without a text encoder ignore it.
	Format   string
	Requests bool
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	batch := rpckit.DefaultBatchOptions()
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			HTTPPath:        "/rpc",
			WebSocketPath:   "/ws",
			MaxRequestSize:  1024 * 1024,
			ShutdownTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{
			Name:                "rpckit",
			Version:             "0.1.0",
			Introspection:       true,
			IntrospectionPrefix: rpckit.DefaultReservedPrefix,
		},
		Batch: BatchConfig{
			MaxSize:         batch.MaxSize,
			ContinueOnError: batch.ContinueOnError,
		},
		RateLimit: RateLimitConfig{
			Strategy:    StrategySlidingWindow,
			MaxRequests: 100,
			Window:      time.Minute,
			Rate:        10,
			Burst:       20,
		},
		Timing: TimingConfig{
			Enabled:       true,
			SlowThreshold: time.Second,
		},
		Log: LogConfig{
			Backend: "logrus",
			Level:   "info",
			Format:  "text",
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.MaxRequestSize <= 0 {
		errs = append(errs, errors.New("server.max_request_size must be positive"))
	}
	if c.Batch.MaxSize < 0 {
		errs = append(errs, errors.New("batch.max_size must not be negative"))
	}
	if c.Batch.MaxParallelism < 0 {
		errs = append(errs, errors.New("batch.max_parallelism must not be negative"))
	}
	if c.Batch.Timeout < 0 {
		errs = append(errs, errors.New("batch.timeout must not be negative"))
	}
	if strings.TrimSpace(c.Engine.IntrospectionPrefix) == "" {
		errs = append(errs, errors.New("engine.introspection_prefix must not be empty"))
	}
	if c.RateLimit.Enabled {
		switch c.RateLimit.Strategy {
		case StrategySlidingWindow:
			if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
				errs = append(errs, errors.New("rate_limit.max_requests and rate_limit.window must be positive"))
			}
		case StrategyTokenBucket:
			if c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0 {
				errs = append(errs, errors.New("rate_limit.rate and rate_limit.burst must be positive"))
			}
		default:
			errs = append(errs, fmt.Errorf("rate_limit.strategy %q is not supported", c.RateLimit.Strategy))
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BatchOptions converts the batch settings.
func (c Config) BatchOptions() rpckit.BatchOptions {
	return rpckit.BatchOptions{
		MaxSize:         c.Batch.MaxSize,
		Parallel:        c.Batch.Parallel,
		MaxParallelism:  c.Batch.MaxParallelism,
		ContinueOnError: c.Batch.ContinueOnError,
		Timeout:         c.Batch.Timeout,
		EnableMetrics:   c.Batch.EnableMetrics,
	}
}
