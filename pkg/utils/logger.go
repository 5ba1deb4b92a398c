package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	loggerMu   sync.RWMutex
)

// InitLogger configures the process-wide logger. Level is one of debug, info,
// warn, error (default info); format is "json" or "text" (default text).
func InitLogger(opts ...LoggerOption) {
	cfg := loggerConfig{level: "info", format: "text", out: os.Stderr}
	for _, opt := range opts {
		opt(&cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(cfg.level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.format, "json") {
		handler = slog.NewJSONHandler(cfg.out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(cfg.out, handlerOpts)
	}

	loggerMu.Lock()
	logger = slog.New(handler)
	loggerMu.Unlock()
	loggerOnce.Do(func() {})
}

// GetLogger returns the process-wide logger, initialising defaults on first use.
func GetLogger() *slog.Logger {
	loggerOnce.Do(func() {
		loggerMu.Lock()
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		}
		loggerMu.Unlock()
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

type loggerConfig struct {
	level  string
	format string
	out    io.Writer
}

// LoggerOption customises InitLogger.
type LoggerOption func(*loggerConfig)

func WithLevel(level string) LoggerOption {
	return func(c *loggerConfig) {
		if level != "" {
			c.level = level
		}
	}
}

func WithFormat(format string) LoggerOption {
	return func(c *loggerConfig) {
		if format != "" {
			c.format = format
		}
	}
}

func WithOutput(w io.Writer) LoggerOption {
	return func(c *loggerConfig) {
		if w != nil {
			c.out = w
		}
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// MaskSensitiveString hides all but the first and last four characters.
func MaskSensitiveString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
