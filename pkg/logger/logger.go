// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level  string
	Pretty bool
}

// New builds a zerolog.Logger from cfg and sets the zerolog global level
// as a side effect, matching how the rest of the process reads it.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer = os.Stdout
	logger := zerolog.New(writer).With().Timestamp().Logger()

	if cfg.Pretty {
		console := zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
		logger = zerolog.New(console).With().Timestamp().Logger()
	}

	logger = logger.Level(level).With().Caller().Logger()

	return logger
}

// SetGlobalLogger installs logger as zerolog.DefaultContextLogger, the logger
// zerolog.Ctx returns for a context that carries none. The zerolog/log
// package's global logger is left unchanged.
func SetGlobalLogger(logger zerolog.Logger) {
	zerolog.DefaultContextLogger = &logger
}
