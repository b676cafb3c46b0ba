// Package logging provides structured logging for the Coheara core.
//
// Architecture mirrors a layered design familiar from CLI-first Go
// tools: stderr by default, an optional per-profile log file, and an
// extension point for shipping redacted log entries elsewhere.
//
//	┌───────────────────────────────────────────────────┐
//	│                     Logger                     │
//	│  ┌──────────┐  ┌──────────┐  ┌─────────────┐ │
//	│  │  stderr  │  │ log file │  │  LogExporter  │ │
//	│  └──────────┘  └──────────┘  └─────────────┘ │
//	└───────────────────────────────────────────────────┘
//
// Every profile directory gets its own logs/ subdirectory (spec §6.3); the
// core never writes PHI to a log line — callers pass entity ids, not
// clinical content, as log attributes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the logger's own level type, decoupled from slog.Level so the
// public API doesn't leak the backing implementation.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls a Logger's destinations and behavior.
type Config struct {
	Level  Level
	LogDir  string // "" disables file logging
	Service string // attached as the "service" attribute on every entry
	JSON   bool  // file/non-tty output always JSON regardless of this flag
	Quiet  bool  // suppress stderr entirely (file/exporter only)
	Exporter LogExporter
}

// LogExporter receives every log entry for out-of-process delivery
// (e.g. a future redacted-log shipper). Implementations must not block the
// calling goroutine for long; buffer internally.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the structured record handed to a LogExporter.
type LogEntry struct {
	Timestamp time.Time
	Level   Level
	Message  string
	Service  string
	Attrs   map[string]any
}

// Logger wraps slog with multi-destination fan-out and an exporter hook.
type Logger struct {
	slog   *slog.Logger
	config  Config
	file   *os.File
	exporter LogExporter
	mu    sync.Mutex
}

// New constructs a Logger per config. The returned Logger's Close method
// must be called to flush and release the file handle and exporter.
func New(config Config) *Logger {
	var handlers []slog.Handler
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	if !config.Quiet {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
	}

	var file *os.File
	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			name := fmt.Sprintf("%s_%s.log", config.Service, time.Now().UTC().Format("2006-01-02"))
			f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err == nil {
				file = f
				handlers = append(handlers, slog.NewJSONHandler(f, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewJSONHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	l := slog.New(handler).With("service", config.Service)
	return &Logger{slog: l, config: config, file: file, exporter: config.Exporter}
}

// Default returns a Logger writing JSON to stderr at Info level, service
// name "core".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "core"})
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// With returns a derived Logger whose every entry carries args.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), config: l.config, file: l.file, exporter: l.exporter}
}

// Slog exposes the backing *slog.Logger for libraries that require one.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close flushes the exporter (if any) and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	if l.exporter != nil {
		if err := l.exporter.Flush(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := l.exporter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) log(level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		l.slog.Debug(msg, args...)
	case LevelWarn:
		l.slog.Warn(msg, args...)
	case LevelError:
		l.slog.Error(msg, args...)
	default:
		l.slog.Info(msg, args...)
	}
	if l.exporter != nil {
		entry := LogEntry{
			Timestamp: time.Now().UTC(),
			Level:   level,
			Message:  msg,
			Service:  l.config.Service,
			Attrs:   argsToMap(args),
		}
		_ = l.exporter.Export(context.Background(), entry)
	}
}

// multiHandler fans out a single slog.Record to every backing handler.
type multiHandler struct{ handlers []slog.Handler }

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hd := range h.handlers {
		if hd.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hd := range h.handlers {
		if err := hd.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hd := range h.handlers {
		next[i] = hd.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hd := range h.handlers {
		next[i] = hd.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func argsToMap(args []any) map[string]any {
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		m[key] = args[i+1]
	}
	return m
}

// NopExporter discards every entry. Used when no exporter is configured.
type NopExporter struct{}

func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *NopExporter) Flush(ctx context.Context) error         { return nil }
func (e *NopExporter) Close() error                     { return nil }

// BufferedExporter accumulates entries in memory; useful in tests.
type BufferedExporter struct {
	mu   sync.Mutex
	entries []LogEntry
}

func NewBufferedExporter() *BufferedExporter { return &BufferedExporter{} }

func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }
func (e *BufferedExporter) Close() error           { return nil }

// Entries returns a snapshot of every entry recorded so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}
