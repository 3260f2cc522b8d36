// Package logging provides the leveled slog loggers used by the loader and
// the commands.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LevelTrace is a custom slog level below Debug for per-column assembly
// output.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a level name to a slog.Level.
// Supported values: "error", "warn", "info", "debug", "trace"
// (case-insensitive). Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(level string) *slog.HandlerOptions {
	lvl := ParseLevel(level)
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
}

// NewLogger creates a leveled text logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, handlerOptions(level)))
}

// NewJSONLogger creates a leveled JSON logger writing to w.
func NewJSONLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, handlerOptions(level)))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Notices collects the messages of warning records while forwarding every
// record to an inner handler. Safe for concurrent use.
type Notices struct {
	inner slog.Handler
	mu    *sync.Mutex
	msgs  *[]string
}

// NewNotices wraps inner; a nil inner discards.
func NewNotices(inner slog.Handler) *Notices {
	if inner == nil {
		inner = Discard().Handler()
	}
	return &Notices{inner: inner, mu: &sync.Mutex{}, msgs: new([]string)}
}

func (n *Notices) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= slog.LevelWarn || n.inner.Enabled(ctx, l)
}

func (n *Notices) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		n.mu.Lock()
		*n.msgs = append(*n.msgs, r.Message)
		n.mu.Unlock()
	}
	if n.inner.Enabled(ctx, r.Level) {
		return n.inner.Handle(ctx, r)
	}
	return nil
}

func (n *Notices) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Notices{inner: n.inner.WithAttrs(attrs), mu: n.mu, msgs: n.msgs}
}

func (n *Notices) WithGroup(name string) slog.Handler {
	return &Notices{inner: n.inner.WithGroup(name), mu: n.mu, msgs: n.msgs}
}

// Messages returns a copy of the collected warning messages.
func (n *Notices) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), *n.msgs...)
}
