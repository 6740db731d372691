package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// SlogLogger adapts a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

// NewSlogLogger wraps logger, falling back to slog.Default when nil.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger, ctx: context.Background()}
}

func (l *SlogLogger) Debug(args ...interface{}) { l.logger.DebugContext(l.ctx, fmt.Sprint(args...)) }
func (l *SlogLogger) Info(args ...interface{})  { l.logger.InfoContext(l.ctx, fmt.Sprint(args...)) }
func (l *SlogLogger) Warn(args ...interface{})  { l.logger.WarnContext(l.ctx, fmt.Sprint(args...)) }
func (l *SlogLogger) Error(args ...interface{}) { l.logger.ErrorContext(l.ctx, fmt.Sprint(args...)) }

func (l *SlogLogger) WithFields(fields map[string]interface{}) Logger {
	attrs := make([]any, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return &SlogLogger{logger: l.logger.With(attrs...), ctx: l.ctx}
}

func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	return &SlogLogger{logger: l.logger, ctx: ctx}
}

func (l *SlogLogger) WithErr(err error) Logger {
	return &SlogLogger{logger: l.logger.With(slog.Any(ErrorLogField, err)), ctx: l.ctx}
}

// LogrusLogger adapts logrus.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps logger, falling back to the logrus standard logger when nil.
func NewLogrusLogger(logger *logrus.Logger) Logger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(logger)}
}

func (l *LogrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *LogrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *LogrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *LogrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	return &LogrusLogger{entry: l.entry.WithContext(ctx)}
}

func (l *LogrusLogger) WithErr(err error) Logger {
	return &LogrusLogger{entry: l.entry.WithError(err)}
}

// ZapLogger adapts uber-go/zap through its sugared API.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps logger, building a production logger when nil.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

func (l *ZapLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *ZapLogger) Info(args ...interface{})  { l.sugar.Info(args...) }
func (l *ZapLogger) Warn(args ...interface{})  { l.sugar.Warn(args...) }
func (l *ZapLogger) Error(args ...interface{}) { l.sugar.Error(args...) }

func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &ZapLogger{sugar: l.sugar.With(kv...)}
}

func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	return l
}

func (l *ZapLogger) WithErr(err error) Logger {
	return &ZapLogger{sugar: l.sugar.With(zap.Error(err))}
}

// ZerologLogger adapts rs/zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps logger. A nil logger writes JSON lines to standard error.
func NewZerologLogger(logger *zerolog.Logger) Logger {
	if logger == nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger = &l
	}
	return &ZerologLogger{logger: *logger}
}

func (l *ZerologLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l *ZerologLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l *ZerologLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l *ZerologLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }

func (l *ZerologLogger) WithFields(fields map[string]interface{}) Logger {
	return &ZerologLogger{logger: l.logger.With().Fields(fields).Logger()}
}

func (l *ZerologLogger) WithContext(ctx context.Context) Logger {
	return &ZerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

func (l *ZerologLogger) WithErr(err error) Logger {
	return &ZerologLogger{logger: l.logger.With().Err(err).Logger()}
}
