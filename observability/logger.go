package observability

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
)

const (
	// ErrorLogField is the key used for error fields in logs
	ErrorLogField string = "error"
)

// Logger is the logging contract used throughout rpckit. The engine logs only at
// initialization, batch start/end and per-request failures.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithErr(err error) Logger
}

// DefaultLogger writes plain text lines through the standard log package.
type DefaultLogger struct {
	out    *log.Logger
	fields map[string]interface{}
	err    error
}

// NewDefaultLogger creates a DefaultLogger that writes to standard error.
func NewDefaultLogger() Logger {
	return NewWriterLogger(os.Stderr)
}

// NewWriterLogger creates a DefaultLogger that writes to w.
func NewWriterLogger(w io.Writer) Logger {
	return &DefaultLogger{
		out:    log.New(w, "", log.LstdFlags),
		fields: make(map[string]interface{}),
	}
}

func (l *DefaultLogger) Debug(args ...interface{}) { l.write("DEBUG", args...) }
func (l *DefaultLogger) Info(args ...interface{})  { l.write("INFO", args...) }
func (l *DefaultLogger) Warn(args ...interface{})  { l.write("WARN", args...) }
func (l *DefaultLogger) Error(args ...interface{}) { l.write("ERROR", args...) }

// WithFields returns a copy of the logger carrying the merged fields.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &DefaultLogger{out: l.out, fields: merged, err: l.err}
}

// WithContext is a no-op for DefaultLogger.
func (l *DefaultLogger) WithContext(ctx context.Context) Logger {
	return l
}

// WithErr returns a copy of the logger that appends err to every line.
func (l *DefaultLogger) WithErr(err error) Logger {
	return &DefaultLogger{out: l.out, fields: l.fields, err: err}
}

func (l *DefaultLogger) write(level string, args ...interface{}) {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	if l.err != nil {
		parts = append(parts, fmt.Sprintf("%s=%v", ErrorLogField, l.err))
	}

	line := "[" + level + "] " + fmt.Sprint(args...)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}
	l.out.Print(line)
}

// NullLogger discards everything.
type NullLogger struct{}

// NewNullLogger creates a new NullLogger
func NewNullLogger() Logger {
	return &NullLogger{}
}

func (l *NullLogger) Debug(args ...interface{}) {}
func (l *NullLogger) Info(args ...interface{})  {}
func (l *NullLogger) Warn(args ...interface{})  {}
func (l *NullLogger) Error(args ...interface{}) {}

func (l *NullLogger) WithFields(fields map[string]interface{}) Logger { return l }
func (l *NullLogger) WithContext(ctx context.Context) Logger          { return l }
func (l *NullLogger) WithErr(err error) Logger                        { return l }
