// Package logging builds the zap-backed logr.Logger used across the module.
package logging

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for logger.V(...)
const (
	DEFAULT = 0
	VERBOSE = 1
	DEBUG   = 2
	TRACE   = 3
)

// Options configures the root logger
type Options struct {
	Level       string // debug, info, warn, error
	Development bool
	// OutputPaths defaults to stderr
	OutputPaths []string
}

// ParseLevel maps a level name to a zap level. logr verbosity V(n) maps to
// zap level -n, so "debug" enables V(1) and "trace" enables everything.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.Level(-VERBOSE), nil
	case "trace":
		return zapcore.Level(-TRACE), nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger plus a flush function to defer
func New(opts Options) (logr.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}

	zl, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("building logger: %w", err)
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
