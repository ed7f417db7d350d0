package bloggart

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a colored console logger in development and a JSON
// logger otherwise.
func NewLogger(env string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if env == "production" {
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Logger returns the application logger.
func (a *App) Logger() zerolog.Logger {
	return a.log
}
