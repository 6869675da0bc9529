// Package logging configures the process-wide slog handler and hands out
// module loggers. Output always goes to stderr because stdout carries the MCP
// stdio transport.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config selects level and format of the root handler
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

var (
	mu   sync.RWMutex
	root *slog.Logger
)

// ConfigFromEnv reads LOG_LEVEL and LOG_FORMAT
func ConfigFromEnv() Config {
	return Config{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "text"),
	}
}

// Init installs the root logger writing to stderr
func Init(cfg Config) *slog.Logger {
	return InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter installs the root logger writing to w
func InitWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	l := slog.New(h.WithAttrs([]slog.Attr{slog.String("service", "gocontext")}))

	mu.Lock()
	root = l
	mu.Unlock()

	slog.SetDefault(l)
	return l
}

// Logger returns the root logger, initializing it from the environment on first use
func Logger() *slog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init(ConfigFromEnv())
}

// NewModuleLogger returns a logger tagged with module and component attributes
func NewModuleLogger(module, component string) *slog.Logger {
	return Logger().With(
		slog.String("module", module),
		slog.String("component", component),
	)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level name to slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
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

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
