// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"helpdesk/backend/internal/config"
)

// New builds the service logger and installs it as the global logger.
func New(cfg *config.Config) zerolog.Logger {
	level := parseLevel(cfg.LogLevel)

	var base zerolog.Logger
	if cfg.LogPretty {
		base = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		base = zerolog.New(os.Stdout)
	}

	logger := base.With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger().
		Level(level)

	log.Logger = logger
	return logger
}

func parseLevel(raw string) zerolog.Level {
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
