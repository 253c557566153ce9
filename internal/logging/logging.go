// Package logging builds the process logger and installs it in the
// packages that keep a package-level logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/datenlord/wbpf-userspace/infrastructure/wazero"
	"github.com/datenlord/wbpf-userspace/infrastructure/wbpf"
	"github.com/datenlord/wbpf-userspace/linker"
)

// Format selects the log encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

type loggerConfig struct {
	format Format
	fields []zap.Field
}

// Option configures New.
type Option func(*loggerConfig)

// WithFormat sets the encoding (default: console).
func WithFormat(f Format) Option {
	return func(c *loggerConfig) {
		c.format = f
	}
}

// WithFields attaches fields to every entry.
func WithFields(fields ...zap.Field) Option {
	return func(c *loggerConfig) {
		c.fields = append(c.fields, fields...)
	}
}

// New builds a logger writing to stderr at level ("" means info).
func New(level string, opts ...Option) (*zap.Logger, error) {
	cfg := loggerConfig{format: FormatConsole}
	for _, opt := range opts {
		opt(&cfg)
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}

	var zc zap.Config
	switch cfg.format {
	case FormatJSON:
		zc = zap.NewProductionConfig()
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.With(cfg.fields...), nil
}

// Install sets l as the logger of the engine and linker packages.
func Install(l *zap.Logger) {
	wbpf.SetLogger(l.Named("wbpf"))
	wazero.SetLogger(l.Named("wazero"))
	linker.SetLogger(l.Named("linker"))
}
