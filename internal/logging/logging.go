package logging

import (
	"io"
	"os"
	"time"

	"matchbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup points the global zerolog logger at stderr with the configured level.
func Setup(cfg config.LogConfig) error {
	return SetupWriter(cfg, os.Stderr)
}

func SetupWriter(cfg config.LogConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}
