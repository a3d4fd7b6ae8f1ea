// Package pglog configures the process-wide zerolog logger from PG_LOG.
package pglog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global zerolog level from the PG_LOG environment variable.
// Recognized levels: error, warn, info, debug, trace. Defaults to info.
func Init() {
	level := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(os.Getenv("PG_LOG"))) {
	case "error":
		level = zerolog.ErrorLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "debug":
		level = zerolog.DebugLevel
	case "trace":
		level = zerolog.TraceLevel
	case "", "info":
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}
