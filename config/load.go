package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RPCKIT_"

type fileConfig struct {
	Server struct {
		Address         string   `toml:"address"`
		HTTPPath        string   `toml:"http_path"`
		WebSocketPath   string   `toml:"websocket_path"`
		MaxRequestSize  int64    `toml:"max_request_size"`
		AllowedOrigins  []string `toml:"allowed_origins"`
		TrustProxy      bool     `toml:"trust_proxy"`
		ShutdownTimeout string   `toml:"shutdown_timeout"`
	} `toml:"server"`
	Engine struct {
		Name                string `toml:"name"`
		Version             string `toml:"version"`
		SafeMode            bool   `toml:"safe_mode"`
		SanitizeErrors      bool   `toml:"sanitize_errors"`
		Introspection       bool   `toml:"introspection"`
		IntrospectionPrefix string `toml:"introspection_prefix"`
		SchemaDir           string `toml:"schema_dir"`
	} `toml:"engine"`
	Batch struct {
		MaxSize         int    `toml:"max_size"`
		Parallel        bool   `toml:"parallel"`
		MaxParallelism  int    `toml:"max_parallelism"`
		ContinueOnError bool   `toml:"continue_on_error"`
		Timeout         string `toml:"timeout"`
		EnableMetrics   bool   `toml:"enable_metrics"`
	} `toml:"batch"`
	RateLimit struct {
		Enabled     bool    `toml:"enabled"`
		Strategy    string  `toml:"strategy"`
		MaxRequests int     `toml:"max_requests"`
		Window      string  `toml:"window"`
		Rate        float64 `toml:"rate"`
		Burst       int     `toml:"burst"`
	} `toml:"rate_limit"`
	Filter struct {
		Allow []string `toml:"allow"`
		Deny  []string `toml:"deny"`
	} `toml:"filter"`
	Auth struct {
		Enabled bool     `toml:"enabled"`
		Bypass  []string `toml:"bypass"`
	} `toml:"auth"`
	Timing struct {
		Enabled       bool   `toml:"enabled"`
		SlowThreshold string `toml:"slow_threshold"`
	} `toml:"timing"`
	Log struct {
		Backend  string `toml:"backend"`
		Level    string `toml:"level"`
		Format   string `toml:"format"`
		Requests bool   `toml:"requests"`
	} `toml:"log"`
}

// Load builds the configuration: defaults, then the TOML file at path when path is
// not empty, then the .env file in the working directory if present, then
// RPCKIT_* environment variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path, cfg); err != nil {
			return Config{}, err
		}
	}
	if err := LoadEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the keys defined in the TOML file at path onto base. Keys
// absent from the file keep their base value.
func LoadFile(path string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	cfg := base
	d := durationSetter{meta: meta}

	if meta.IsDefined("server", "address") {
		cfg.Server.Address = strings.TrimSpace(raw.Server.Address)
	}
	if meta.IsDefined("server", "http_path") {
		cfg.Server.HTTPPath = strings.TrimSpace(raw.Server.HTTPPath)
	}
	if meta.IsDefined("server", "websocket_path") {
		cfg.Server.WebSocketPath = strings.TrimSpace(raw.Server.WebSocketPath)
	}
	if meta.IsDefined("server", "max_request_size") {
		cfg.Server.MaxRequestSize = raw.Server.MaxRequestSize
	}
	if meta.IsDefined("server", "allowed_origins") {
		cfg.Server.AllowedOrigins = normalizeList(raw.Server.AllowedOrigins)
	}
	if meta.IsDefined("server", "trust_proxy") {
		cfg.Server.TrustProxy = raw.Server.TrustProxy
	}
	d.set(&cfg.Server.ShutdownTimeout, raw.Server.ShutdownTimeout, "server", "shutdown_timeout")

	if meta.IsDefined("engine", "name") {
		cfg.Engine.Name = strings.TrimSpace(raw.Engine.Name)
	}
	if meta.IsDefined("engine", "version") {
		cfg.Engine.Version = strings.TrimSpace(raw.Engine.Version)
	}
	if meta.IsDefined("engine", "safe_mode") {
		cfg.Engine.SafeMode = raw.Engine.SafeMode
	}
	if meta.IsDefined("engine", "sanitize_errors") {
		cfg.Engine.SanitizeErrors = raw.Engine.SanitizeErrors
	}
	if meta.IsDefined("engine", "introspection") {
		cfg.Engine.Introspection = raw.Engine.Introspection
	}
	if meta.IsDefined("engine", "introspection_prefix") {
		cfg.Engine.IntrospectionPrefix = strings.TrimSpace(raw.Engine.IntrospectionPrefix)
	}
	if meta.IsDefined("engine", "schema_dir") {
		cfg.Engine.SchemaDir = strings.TrimSpace(raw.Engine.SchemaDir)
	}

	if meta.IsDefined("batch", "max_size") {
		cfg.Batch.MaxSize = raw.Batch.MaxSize
	}
	if meta.IsDefined("batch", "parallel") {
		cfg.Batch.Parallel = raw.Batch.Parallel
	}
	if meta.IsDefined("batch", "max_parallelism") {
		cfg.Batch.MaxParallelism = raw.Batch.MaxParallelism
	}
	if meta.IsDefined("batch", "continue_on_error") {
		cfg.Batch.ContinueOnError = raw.Batch.ContinueOnError
	}
	d.set(&cfg.Batch.Timeout, raw.Batch.Timeout, "batch", "timeout")
	if meta.IsDefined("batch", "enable_metrics") {
		cfg.Batch.EnableMetrics = raw.Batch.EnableMetrics
	}

	if meta.IsDefined("rate_limit", "enabled") {
		cfg.RateLimit.Enabled = raw.RateLimit.Enabled
	}
	if meta.IsDefined("rate_limit", "strategy") {
		cfg.RateLimit.Strategy = strings.TrimSpace(raw.RateLimit.Strategy)
	}
	if meta.IsDefined("rate_limit", "max_requests") {
		cfg.RateLimit.MaxRequests = raw.RateLimit.MaxRequests
	}
	d.set(&cfg.RateLimit.Window, raw.RateLimit.Window, "rate_limit", "window")
	if meta.IsDefined("rate_limit", "rate") {
		cfg.RateLimit.Rate = raw.RateLimit.Rate
	}
	if meta.IsDefined("rate_limit", "burst") {
		cfg.RateLimit.Burst = raw.RateLimit.Burst
	}

	if meta.IsDefined("filter", "allow") {
		cfg.Filter.Allow = normalizeList(raw.Filter.Allow)
	}
	if meta.IsDefined("filter", "deny") {
		cfg.Filter.Deny = normalizeList(raw.Filter.Deny)
	}

	if meta.IsDefined("auth", "enabled") {
		cfg.Auth.Enabled = raw.Auth.Enabled
	}
	if meta.IsDefined("auth", "bypass") {
		cfg.Auth.Bypass = normalizeList(raw.Auth.Bypass)
	}

	if meta.IsDefined("timing", "enabled") {
		cfg.Timing.Enabled = raw.Timing.Enabled
	}
	d.set(&cfg.Timing.SlowThreshold, raw.Timing.SlowThreshold, "timing", "slow_threshold")

	if meta.IsDefined("log", "backend") {
		cfg.Log.Backend = strings.TrimSpace(raw.Log.Backend)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("log", "requests") {
		cfg.Log.Requests = raw.Log.Requests
	}

	if d.err != nil {
		return Config{}, d.err
	}
	return cfg, nil
}

// durationSetter parses duration strings for defined keys and keeps the first
// parse error.
type durationSetter struct {
	meta toml.MetaData
	err  error
}

func (d *durationSetter) set(dst *time.Duration, value string, key ...string) {
	if d.err != nil || !d.meta.IsDefined(key...) {
		return
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		d.err = fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		return
	}
	*dst = parsed
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. With no files it loads ".env" and ignores its
// absence.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays RPCKIT_* variables read through lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.setStr("ADDRESS", &c.Server.Address)
	e.setStr("HTTP_PATH", &c.Server.HTTPPath)
	e.setStr("WEBSOCKET_PATH", &c.Server.WebSocketPath)
	e.setInt64("MAX_REQUEST_SIZE", &c.Server.MaxRequestSize)
	e.setList("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	e.setBool("TRUST_PROXY", &c.Server.TrustProxy)

	e.setBool("SAFE_MODE", &c.Engine.SafeMode)
	e.setBool("SANITIZE_ERRORS", &c.Engine.SanitizeErrors)
	e.setBool("INTROSPECTION", &c.Engine.Introspection)
	e.setStr("SCHEMA_DIR", &c.Engine.SchemaDir)

	e.setInt("BATCH_MAX_SIZE", &c.Batch.MaxSize)
	e.setBool("BATCH_PARALLEL", &c.Batch.Parallel)
	e.setInt("BATCH_MAX_PARALLELISM", &c.Batch.MaxParallelism)
	e.setBool("BATCH_CONTINUE_ON_ERROR", &c.Batch.ContinueOnError)
	e.setDuration("BATCH_TIMEOUT", &c.Batch.Timeout)
	e.setBool("BATCH_METRICS", &c.Batch.EnableMetrics)

	e.setBool("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	e.setStr("RATE_LIMIT_STRATEGY", &c.RateLimit.Strategy)
	e.setInt("RATE_LIMIT_MAX_REQUESTS", &c.RateLimit.MaxRequests)
	e.setDuration("RATE_LIMIT_WINDOW", &c.RateLimit.Window)

	e.setBool("AUTH_ENABLED", &c.Auth.Enabled)

	e.setStr("LOG_BACKEND", &c.Log.Backend)
	e.setStr("LOG_LEVEL", &c.Log.Level)
	e.setStr("LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) setStr(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) setList(name string, dst *[]string) {
	if v, ok := e.get(name); ok {
		*dst = normalizeList(strings.Split(v, ","))
	}
}

func (e *envReader) setBool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

func (e *envReader) setInt(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) setInt64(name string, dst *int64) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) setDuration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}
