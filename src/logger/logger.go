package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"spot-engine/src/config"
)

var logFile *os.File

// InitLogger configures the global zerolog logger from cfg. The process
// name is attached to every line so engine and gateway logs can share a sink.
func InitLogger(cfg config.LogConfig, process string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Format == "pretty" {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		writers = append(writers, os.Stdout)
	}

	switch cfg.File {
	case "", "none", "disabled":
	default:
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			log.Error().Err(err).Str("log_file", cfg.File).Msg("Failed to open log file, using stdout only")
		} else {
			logFile = f
			writers = append(writers, f)
		}
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Str("process", process).
		Logger()

	event := log.Info().Str("log_level", level.String())
	if logFile != nil {
		event.Str("log_file", cfg.File).Msg("Logger initialized - writing to console and file")
		return
	}
	event.Msg("Logger initialized - writing to console only")
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}
