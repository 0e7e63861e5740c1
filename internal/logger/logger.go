// Package logger provides the process-wide structured logger and a
// request-scoped context for correlating a dispatched wire message or
// admin RPC call with its outcome.
package logger

import (
	"context"
	"log/slog"
	"os"
)

var global atomicLogger

type atomicLogger struct {
	l *slog.Logger
}

func init() {
	global.l = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Format selects the slog handler used by Init.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Init replaces the global logger. Called once at startup from cmd/mgmtd.
func Init(level slog.Level, format Format) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch format {
	case FormatJSON:
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	global.l = slog.New(h)
}

// L returns the current global logger.
func L() *slog.Logger { return global.l }

type ctxKey struct{}

// LogContext carries per-call correlation fields through context.Context.
type LogContext struct {
	Peer      string
	MsgID     uint16
	Operation string
	RequestID string
}

// WithContext attaches a LogContext to ctx, returning a derived context
// whose Logger() call yields a logger enriched with lc's fields.
func WithContext(ctx context.Context, lc LogContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, lc)
}

// FromContext extracts the LogContext previously attached, or a zero value.
func FromContext(ctx context.Context) LogContext {
	lc, _ := ctx.Value(ctxKey{}).(LogContext)
	return lc
}

// Logger returns a slog.Logger enriched with the LogContext fields found
// in ctx, falling back to the global logger when none is present.
func Logger(ctx context.Context) *slog.Logger {
	lc := FromContext(ctx)
	l := L()
	if lc.RequestID != "" {
		l = l.With("request_id", lc.RequestID)
	}
	if lc.Peer != "" {
		l = l.With("peer", lc.Peer)
	}
	if lc.MsgID != 0 {
		l = l.With("msg_id", lc.MsgID)
	}
	if lc.Operation != "" {
		l = l.With("op", lc.Operation)
	}
	return l
}

func Info(ctx context.Context, msg string, args ...any)  { Logger(ctx).Info(msg, args...) }
func Warn(ctx context.Context, msg string, args ...any)  { Logger(ctx).Warn(msg, args...) }
func Error(ctx context.Context, msg string, args ...any) { Logger(ctx).Error(msg, args...) }
func Debug(ctx context.Context, msg string, args ...any) { Logger(ctx).Debug(msg, args...) }
