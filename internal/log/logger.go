// Package log wraps log/slog with a component-scoped logger and the request
// logging middleware used by the HTTP API.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger and tags every record with its component.
type Logger struct {
	*slog.Logger
	component string
	// base has no component attribute so WithComponent can replace it.
	base slog.Handler
}

type Config struct {
	Level     slog.Level
	Component string
	// Format is "text" (default) or "json".
	Format string
	Output io.Writer
	// Handler overrides Format and Output when set.
	Handler slog.Handler
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
		Format:    "text",
		Output:    os.Stdout,
	}
}

func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		out := config.Output
		if out == nil {
			out = os.Stdout
		}
		opts := &slog.HandlerOptions{Level: config.Level}
		if strings.EqualFold(config.Format, "json") {
			handler = slog.NewJSONHandler(out, opts)
		} else {
			handler = slog.NewTextHandler(out, opts)
		}
	}
	component := config.Component
	if component == "" {
		component = ComponentApp
	}
	return &Logger{
		Logger:    slog.New(handler).With(FieldComponent, component),
		component: component,
		base:      handler,
	}
}

// ParseLevel maps LOG_LEVEL values (debug, info, warn, error) to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// With returns a new logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	out := &Logger{Logger: l.Logger.With(args...), component: l.component}
	if l.base != nil {
		out.base = l.base.WithAttrs(argsToAttrs(args))
	}
	return out
}

// WithComponent returns a logger for another component sharing the same handler.
func (l *Logger) WithComponent(component string) *Logger {
	base := l.base
	if base == nil {
		base = l.Logger.Handler()
	}
	return &Logger{
		Logger:    slog.New(base).With(FieldComponent, component),
		component: component,
		base:      base,
	}
}

func argsToAttrs(args []any) []slog.Attr {
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(args...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return attrs
}

// LogFields logs msg at level with the builder's fields.
func (l *Logger) LogFields(ctx context.Context, level slog.Level, msg string, fields LogFields) {
	l.Logger.Log(ctx, level, msg, fields.ToSlice()...)
}

// SetDefault sets the default logger for the application
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}

func (l *Logger) Component() string {
	return l.component
}
