// Package logging builds the structured logr.Logger every package in
// this module takes as a dependency, backed by zap.
package logging

import (
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger Build produces.
type Config struct {
	// Level is a zap level name ("debug", "info", "warn", "error").
	// Defaults to "info".
	Level string
	// Development enables human-readable console output instead of
	// JSON, for local runs.
	Development bool
	// OutputPaths are zap sink URLs ("stdout", a file path, …).
	// Defaults to ["stdout"].
	OutputPaths []string
}

func (c Config) zapConfig() zap.Config {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if c.Level != "" {
		level = lo.Must(zap.ParseAtomicLevel(c.Level))
	}
	outputPaths := c.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}
	encoding := "json"
	if c.Development {
		encoding = "console"
	}
	return zap.Config{
		Level:             level,
		Development:       c.Development,
		DisableCaller:     !c.Development,
		DisableStacktrace: true,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "time",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
}

// Build constructs a logr.Logger named component, bridging zap into
// logr via zapr.
func Build(cfg Config, component string) logr.Logger {
	zl := lo.Must(cfg.zapConfig().Build())
	return zapr.NewLogger(zl).WithName(component)
}

// ParseLevel validates a level string without building a logger,
// useful for flag validation at startup.
func ParseLevel(level string) error {
	if level == "" {
		return nil
	}
	if !lo.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(level)) {
		return zapcore.ErrInvalidLogLevel
	}
	return nil
}
