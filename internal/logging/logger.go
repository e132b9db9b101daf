package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/sorenh/backupd/internal/config"
)

// NewLogger creates the root structured logger. Components derive their
// own sub-loggers with a "component" field.
func NewLogger(cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
