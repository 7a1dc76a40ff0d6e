// Package logging builds the zerolog loggers used across pageboot.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger writing to w. It does not touch the global logger, so
// every run gets an isolated instance. Unknown levels fall back to info;
// format "json" writes raw JSON lines and anything else a console format.
func New(levelStr, formatStr string, w io.Writer) zerolog.Logger {
	var level zerolog.Level
	switch levelStr {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "off":
		level = zerolog.Disabled
	default:
		level = zerolog.InfoLevel
	}

	if formatStr != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: true}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
