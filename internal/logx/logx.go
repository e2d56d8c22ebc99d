// Package logx builds the package-wide zerolog.Logger used across the
// pool, operation and factory packages.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger. In dev mode it writes a human-readable console
// format; otherwise it writes structured JSON to w.
func New(w io.Writer, dev bool) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}
