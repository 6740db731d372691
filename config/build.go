package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/middleware"
	"github.com/n-car/rpckit/observability"
	"github.com/n-car/rpckit/schema"
	"github.com/n-car/rpckit/transport"
)

// Log backends.
const (
	BackendLogrus  = "logrus"
	BackendZap     = "zap"
	BackendZerolog = "zerolog"
	BackendSlog    = "slog"
	BackendStd     = "std"
	BackendNone    = "none"
)

func parseLevel(level string) (logrus.Level, error) {
	if strings.TrimSpace(level) == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the logger selected by cfg, writing to standard error.
func NewLogger(cfg LogConfig) (observability.Logger, error) {
	return NewLoggerTo(cfg, os.Stderr)
}

// NewLoggerTo builds the logger selected by cfg, writing to w.
func NewLoggerTo(cfg LogConfig, w io.Writer) (observability.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	jsonFormat := strings.EqualFold(cfg.Format, "json")

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLogrus:
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(level)
		if jsonFormat {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return observability.NewLogrusLogger(l), nil

	case BackendZap:
		encCfg := zap.NewProductionEncoderConfig()
		encoder := zapcore.NewConsoleEncoder(encCfg)
		if jsonFormat {
			encoder = zapcore.NewJSONEncoder(encCfg)
		}
		core := zapcore.NewCore(encoder, zapcore.AddSync(w), zapLevel(level))
		return observability.NewZapLogger(zap.New(core)), nil

	case BackendZerolog:
		var out io.Writer = w
		if !jsonFormat {
			out = zerolog.ConsoleWriter{Out: w, NoColor: true}
		}
		l := zerolog.New(out).Level(zerologLevel(level)).With().Timestamp().Logger()
		return observability.NewZerologLogger(&l), nil

	case BackendSlog:
		opts := &slog.HandlerOptions{Level: slogLevel(level)}
		var handler slog.Handler = slog.NewTextHandler(w, opts)
		if jsonFormat {
			handler = slog.NewJSONHandler(w, opts)
		}
		return observability.NewSlogLogger(slog.New(handler)), nil

	case BackendStd:
		return observability.NewWriterLogger(w), nil

	case BackendNone:
		return observability.NewNullLogger(), nil
	}
	return nil, fmt.Errorf("log.backend %q is not supported", cfg.Backend)
}

func zapLevel(l logrus.Level) zapcore.Level {
	switch l {
	case logrus.TraceLevel, logrus.DebugLevel:
		return zapcore.DebugLevel
	case logrus.WarnLevel:
		return zapcore.WarnLevel
	case logrus.ErrorLevel:
		return zapcore.ErrorLevel
	case logrus.FatalLevel, logrus.PanicLevel:
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func zerologLevel(l logrus.Level) zerolog.Level {
	switch l {
	case logrus.TraceLevel:
		return zerolog.TraceLevel
	case logrus.DebugLevel:
		return zerolog.DebugLevel
	case logrus.WarnLevel:
		return zerolog.WarnLevel
	case logrus.ErrorLevel:
		return zerolog.ErrorLevel
	case logrus.FatalLevel:
		return zerolog.FatalLevel
	case logrus.PanicLevel:
		return zerolog.PanicLevel
	}
	return zerolog.InfoLevel
}

func slogLevel(l logrus.Level) slog.Level {
	switch l {
	case logrus.TraceLevel, logrus.DebugLevel:
		return slog.LevelDebug
	case logrus.WarnLevel:
		return slog.LevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Validator builds a schema validator, loading SchemaDir when set.
func (c Config) Validator() (*schema.Validator, error) {
	v := schema.NewValidator()
	if c.Engine.SchemaDir == "" {
		return v, nil
	}
	if err := v.LoadDir(c.Engine.SchemaDir); err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return v, nil
}

// EngineOptions converts the engine and batch settings. A nil validator leaves
// validation off.
func (c Config) EngineOptions(logger observability.Logger, validator rpckit.Validator) []rpckit.Option {
	opts := []rpckit.Option{
		rpckit.WithLogger(logger),
		rpckit.WithServerInfo(c.Engine.Name, c.Engine.Version),
		rpckit.WithSafeMode(c.Engine.SafeMode),
		rpckit.WithSanitizeErrors(c.Engine.SanitizeErrors),
		rpckit.WithIntrospection(c.Engine.Introspection),
		rpckit.WithIntrospectionPrefix(c.Engine.IntrospectionPrefix),
		rpckit.WithBatchOptions(c.BatchOptions()),
	}
	if validator != nil {
		opts = append(opts, rpckit.WithValidator(validator))
	}
	return opts
}

// ApplyMiddleware installs the configured middleware on e in this order: request
// logging, timing, method filter, auth, rate limit. Auth requires a verifier.
func (c Config) ApplyMiddleware(e *rpckit.Engine, logger observability.Logger, verifier middleware.Verifier) error {
	if c.Log.Requests {
		e.Use(middleware.NewLogging(logger))
	}
	if c.Timing.Enabled {
		e.Use(middleware.NewTiming(c.Timing.SlowThreshold, logger))
	}
	if len(c.Filter.Allow) > 0 || len(c.Filter.Deny) > 0 {
		e.AddBefore(middleware.NewMethodFilter(c.Filter.Allow, c.Filter.Deny))
	}
	if c.Auth.Enabled {
		if verifier == nil {
			return errors.New("auth is enabled but no verifier was supplied")
		}
		e.AddBefore(middleware.NewAuth(verifier,
			middleware.WithBypass(c.Auth.Bypass...),
			middleware.WithAuthLogger(logger),
		))
	}
	if c.RateLimit.Enabled {
		var limiter middleware.Limiter
		switch c.RateLimit.Strategy {
		case StrategyTokenBucket:
			limiter = middleware.NewTokenBucket(rate.Limit(c.RateLimit.Rate), c.RateLimit.Burst)
		case StrategySlidingWindow:
			limiter = middleware.NewSlidingWindow(c.RateLimit.MaxRequests, c.RateLimit.Window)
		default:
			return fmt.Errorf("rate_limit.strategy %q is not supported", c.RateLimit.Strategy)
		}
		e.AddBefore(middleware.RateLimit(limiter, middleware.DefaultKey))
	}
	return nil
}

// TransportConfig converts the server settings.
func (c Config) TransportConfig() transport.ServerConfig {
	return transport.ServerConfig{
		Address:         c.Server.Address,
		HTTPPath:        c.Server.HTTPPath,
		WebSocketPath:   c.Server.WebSocketPath,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}

// TransportOptions converts the handler settings shared by HTTP and WebSocket.
func (c Config) TransportOptions(logger observability.Logger) []transport.Option {
	return []transport.Option{
		transport.WithLogger(logger),
		transport.WithMaxRequestSize(c.Server.MaxRequestSize),
		transport.WithAllowedOrigins(c.Server.AllowedOrigins...),
		transport.WithTrustProxy(c.Server.TrustProxy),
	}
}
