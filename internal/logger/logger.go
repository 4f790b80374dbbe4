// Package logger provides logging for Sercha.
//
// Two layers share one configuration. The printf-style helpers (Debug,
// Info, Warn, Section) print human-readable lines to stderr when verbose
// mode is enabled via the --verbose flag. Component loggers returned by
// ForComponent emit structured slog records to a rotating log file, and
// to stderr as text when verbose.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used with ForComponent.
const (
	CompIndex   = "index"
	CompSearch  = "search"
	CompEmbed   = "embed"
	CompOCR     = "ocr"
	CompIPC     = "ipc"
	CompStorage = "storage"
	CompSync    = "sync"
	CompConfig  = "config"
	CompMCP     = "mcp"
)

// Config holds structured logging configuration.
type Config struct {
	// Dir is the directory for the log file. Empty disables file logging.
	Dir string

	// File is the log file name inside Dir (default: sercha.log).
	File string

	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// MaxSizeMB is the size in MB before rotation (default: 10).
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep (default: 3).
	MaxBackups int

	// MaxAgeDays is the number of days to keep rotated files (default: 14).
	MaxAgeDays int
}

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	level   slog.Level
	file    *lumberjack.Logger
	handler slog.Handler = discardHandler{}
)

// Init configures structured logging. It may be called again to reconfigure.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if cfg.File == "" {
		cfg.File = "sercha.log"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	level = ParseLevel(cfg.Level)

	if file != nil {
		_ = file.Close()
		file = nil
	}
	if cfg.Dir != "" {
		file = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, cfg.File),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	rebuild()
}

// Close flushes and closes the log file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	rebuild()
	return err
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
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

// rebuild recomputes the active handler. Callers hold mu.
func rebuild() {
	var handlers []slog.Handler
	if file != nil {
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	}
	if verbose {
		handlers = append(handlers, slog.NewTextHandler(output, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	switch len(handlers) {
	case 0:
		handler = discardHandler{}
	case 1:
		handler = handlers[0]
	default:
		handler = fanoutHandler(handlers)
	}
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	rebuild()
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for verbose logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "[DEBUG] "+format+"\n", args...)
	}
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "[INFO] "+format+"\n", args...)
	}
}

// Warn prints a warning message if verbose mode is enabled.
func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "[WARN] "+format+"\n", args...)
	}
}

// ForComponent returns a structured logger tagged with the component name.
// The handler is resolved at log time, so package-level loggers created
// before Init still reach the configured outputs.
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{component: name})
}

func current() slog.Handler {
	mu.RLock()
	defer mu.RUnlock()
	return handler
}

type dynamicHandler struct {
	component string
	attrs     []slog.Attr
	groups    []string
}

func (h *dynamicHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return current().Enabled(ctx, l)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	target := current().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		target = target.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		target = target.WithGroup(g)
	}
	return target.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &dynamicHandler{component: h.component, attrs: merged, groups: h.groups}
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string{}, h.groups...), name)
	return &dynamicHandler{component: h.component, attrs: h.attrs, groups: groups}
}

type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
