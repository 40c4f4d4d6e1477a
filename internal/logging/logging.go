package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns the process logger. Components receive it by value and may
// attach their own context fields.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
