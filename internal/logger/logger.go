// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger and returns it. The level is taken from
// FILEDROP_LOG_LEVEL (debug, info, warn, error); FILEDROP_LOG_PRETTY switches
// to the human-readable console writer.
func Init() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw, ok := os.LookupEnv("FILEDROP_LOG_LEVEL"); ok {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw))); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	if pretty, ok := os.LookupEnv("FILEDROP_LOG_PRETTY"); ok && (pretty == "1" || strings.EqualFold(pretty, "true")) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return log.Logger
}
