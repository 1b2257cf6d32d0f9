// Package logger provides the structured zerolog logger used by every basenode component.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init creates a console logger on stderr at the given level.
// Supported levels: debug, info, warn, error. Unknown values fall back to info.
func Init(level string) zerolog.Logger {
	return New(os.Stderr, level)
}

// New creates a console logger writing to w. Useful when stderr is shared
// with a raw-mode terminal.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(
		zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		},
	).Level(lvl).With().Timestamp().Logger()
}

// WithBoot tags every event with the identifiers of the current boot.
func WithBoot(log zerolog.Logger, bootID string, nodeID uint8) zerolog.Logger {
	return log.With().
		Str("boot_id", bootID).
		Uint8("node_id", nodeID).
		Logger()
}
