// Package logger builds the process logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a JSON logger writing to stderr. In development the output
// is human readable and debug messages are enabled.
func Setup(dev bool) zerolog.Logger {
	return setup(os.Stderr, dev)
}

func setup(out io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}
