// Package logger builds the zerolog logger shared by every component of a run.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Standard field keys.
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldKey       = "key"
	FieldAttempt   = "attempt"
	FieldStatus    = "status"
)

// Config contains logging configuration.
type Config struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"`
	Output  string `mapstructure:"output" yaml:"output"`
	NoColor bool   `mapstructure:"no_color" yaml:"no_color"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// Validate validates logging configuration.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging.level %q is not a valid level", c.Level)
	}
	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of [console json] (got: %s)", c.Format)
	}
	return nil
}

// New creates a logger from cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	cfg.ApplyDefaults()
	return NewWithWriter(cfg, outputWriter(cfg.Output))
}

// NewWithWriter creates a logger that writes to w instead of stdout/stderr.
func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	cfg.ApplyDefaults()
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var zl zerolog.Logger
	if strings.ToLower(cfg.Format) == "json" {
		zl = zerolog.New(w)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
			NoColor:    cfg.NoColor,
		})
	}
	return zl.Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(FieldComponent, name).Logger()
}

func outputWriter(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}
