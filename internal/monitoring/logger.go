// Package monitoring provides structured logging via zerolog.
//
// DESIGN: Thin wrapper around zerolog with configurable level, format
// (json/console) and output (stdout/stderr/file). Global() sets the
// default logger for the entire process; packages log through
// zerolog/log after that.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig controls the process logger.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// New creates a logger with the given configuration.
func New(cfg LoggerConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer io.Writer
	switch cfg.Output {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			writer = os.Stdout
		} else {
			writer = f
		}
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Global installs the configured logger as the process-wide default.
func Global(cfg LoggerConfig) {
	log.Logger = New(cfg)
}
