// Package slogutil configures the process logger and carries log attributes
// through contexts so every record emitted during a job tick is tagged with
// the job's session id.
package slogutil

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"

	"github.com/sidepull/sidepull/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures slog with optional file rotation using lumberjack.
// With an empty file path it logs to console only; otherwise it logs to both
// console and the rotated file. The returned logger is also installed as the
// slog default.
func Setup(logConfig config.LogConfig) *slog.Logger {
	var writer io.Writer = os.Stdout

	if logConfig.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   logConfig.File,
			MaxSize:    logConfig.MaxSize,
			MaxBackups: logConfig.MaxBackups,
			MaxAge:     logConfig.MaxAge,
			Compress:   logConfig.Compress,
		}
		writer = io.MultiWriter(os.Stdout, fileWriter)
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: ParseLevel(logConfig.Level),
	})

	logger := slog.New(contextHandler{handler: handler})
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config level string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type attrData map[string]slog.Attr

type attrKey struct{}

func cloneAttrs(ctx context.Context) attrData {
	d, ok := ctx.Value(attrKey{}).(attrData)
	if !ok {
		return attrData{}
	}
	return maps.Clone(d)
}

// With returns a new context carrying the given key-value pairs. Records
// logged with the *Context slog methods pick them up automatically.
func With(ctx context.Context, kvargs ...any) context.Context {
	if len(kvargs) == 0 {
		return ctx
	}

	d := cloneAttrs(ctx)

	var r slog.Record
	r.Add(kvargs...)
	r.Attrs(func(a slog.Attr) bool {
		d[a.Key] = a
		return true
	})

	return context.WithValue(ctx, attrKey{}, d)
}

// Attrs returns the attributes carried by the context, if any.
func Attrs(ctx context.Context) []slog.Attr {
	d, ok := ctx.Value(attrKey{}).(attrData)
	if !ok {
		return nil
	}

	attrs := make([]slog.Attr, 0, len(d))
	for _, v := range d {
		attrs = append(attrs, v)
	}
	return attrs
}

// contextHandler appends context-carried attributes to every record.
type contextHandler struct {
	handler slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := Attrs(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{handler: h.handler.WithGroup(name)}
}
