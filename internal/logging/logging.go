// Package logging provides the structured Logger used across the store,
// and a slog.Handler that renders records the same tab-separated way
// across every component (collection engine, lock manager, session).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger is the interface the store depends on. Args follow slog
// conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards all output; used by tests and by callers that
// don't want the store to log.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// storeHandler formats records as:
//
//	<timestamp>\t<level>\t<component>\t<message>\t<key=value ...>
type storeHandler struct {
	w         io.Writer
	component string
	attrs     []slog.Attr
}

func (h *storeHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *storeHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, level, h.component, r.Message); err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *storeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &storeHandler{
		w:         h.w,
		component: h.component,
		attrs:     append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *storeHandler) WithGroup(string) slog.Handler { return h }

// slogAdapter wraps *slog.Logger to satisfy Logger.
type slogAdapter struct{ l *slog.Logger }

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// New creates a Logger that writes to both logDir/store.log and stderr.
// It returns the Logger and the open log file (the caller must Close it
// when the session ends).
func New(logDir, component string) (Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "store.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	handler := &storeHandler{w: w, component: component}
	return &slogAdapter{l: slog.New(handler)}, f, nil
}
