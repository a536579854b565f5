// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the configured root logger. Init must run before use.
var Log zerolog.Logger

// Config controls log level and output format.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
}

// DefaultConfig returns JSON logging at info level, overridable through
// LOG_LEVEL and LOG_FORMAT.
func DefaultConfig() *Config {
	cfg := &Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	return cfg
}

// Init builds the root logger and installs it as the zerolog global.
func Init(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	var l zerolog.Logger
	if cfg.Format == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFormat})
	} else {
		l = zerolog.New(os.Stdout)
	}

	Log = l.Level(level).With().Timestamp().Logger()
	log.Logger = Log
}
