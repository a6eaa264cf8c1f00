package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func New(environment string) zerolog.Logger {
	return NewWithWriter(environment, os.Stdout)
}

// NewWithWriter logs JSON in production and human-readable lines
// everywhere else.
func NewWithWriter(environment string, out io.Writer) zerolog.Logger {
	production := environment == "production"

	var w io.Writer = out
	if !production {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	level := zerolog.DebugLevel
	if production {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("env", environment).
		Logger()
}
