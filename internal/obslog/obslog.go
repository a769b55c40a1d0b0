// Package obslog configures the process-wide structured logger. It is
// the ambient logging concern: every component gets a child logger
// through WithComponent rather than reaching for a global default.
package obslog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls global logger construction.
type Config struct {
	// Level is a zerolog level string ("debug", "info", "warn", "error").
	Level string
	// Console switches to a human-readable console writer instead of
	// newline-delimited JSON.
	Console bool
	// Output overrides the destination writer (defaults to os.Stderr so
	// stdout stays reserved for command output/envelopes).
	Output io.Writer
}

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
)

// Configure initializes the global logger. Safe to call more than once;
// the latest configuration wins.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	if cfg.Console {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	base = zerolog.New(writer).With().Timestamp().Str("service", "surfwright").Logger()
	initialized = true
}

func ensureInitialized() {
	mu.RLock()
	if initialized {
		mu.RUnlock()
		return
	}
	mu.RUnlock()
	Configure(Config{})
}

// L returns the base logger.
func L() zerolog.Logger {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger tagged with the given component
// name, e.g. obslog.WithComponent("scheduler").
func WithComponent(component string) zerolog.Logger {
	return L().With().Str("component", component).Logger()
}
