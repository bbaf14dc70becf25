package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance configured for the application.
var Logger *slog.Logger

// FileOptions configures the optional rotated log file written alongside stdout.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// InitLogger configures the global logger using a Datadog-friendly JSON handler.
// When file.Path is set, records are also written to a size-rotated file.
func InitLogger(level string, service string, file FileOptions) {
	var out io.Writer = os.Stdout
	if path := strings.TrimSpace(file.Path); path != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   true,
		})
	}

	Logger = NewLogger(out, level, service)
	slog.SetDefault(Logger)
}

// NewLogger builds a logger writing Datadog-friendly JSON to w without touching
// the global instance.
func NewLogger(w io.Writer, level string, service string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	return slog.New(&datadogHandler{
		next:    slog.NewJSONHandler(w, options),
		service: service,
	})
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return Logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type datadogHandler struct {
	next    slog.Handler
	service string
}

func (h *datadogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *datadogHandler) Handle(ctx context.Context, record slog.Record) error {
	clone := record.Clone()
	clone.AddAttrs(
		slog.String("service", h.service),
		slog.String("status", levelToStatus(clone.Level)),
		slog.String("dd.trace_id", ""),
		slog.String("dd.span_id", ""),
		slog.String("message", clone.Message),
	)
	return h.next.Handle(ctx, clone)
}

func (h *datadogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &datadogHandler{
		next:    h.next.WithAttrs(attrs),
		service: h.service,
	}
}

func (h *datadogHandler) WithGroup(name string) slog.Handler {
	return &datadogHandler{
		next:    h.next.WithGroup(name),
		service: h.service,
	}
}

func levelToStatus(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warning"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}
