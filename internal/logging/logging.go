// Package logging holds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	EnvLevel = "TABSERVE_LOG_LEVEL"
	EnvJSON  = "TABSERVE_LOG_JSON"
)

type Options struct {
	Level string
	JSON  bool
	// Output defaults to stderr; stdout is left to inference log sinks.
	Output io.Writer
}

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(build(Options{}))
}

func build(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, ho))
	}
	return slog.New(slog.NewTextHandler(out, ho))
}

func Configure(opts Options) {
	current.Store(build(opts))
}

// ParseLevel maps debug/warn/error to their slog level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func L() *slog.Logger { return current.Load() }

// Component returns the process logger tagged with a component name.
func Component(name string) *slog.Logger { return L().With("component", name) }

// InitFromEnv configures the logger from TABSERVE_LOG_LEVEL and
// TABSERVE_LOG_JSON.
func InitFromEnv() {
	json, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvJSON)))
	Configure(Options{Level: os.Getenv(EnvLevel), JSON: json})
}
