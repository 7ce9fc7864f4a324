package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-wide logger. Before Init it discards everything,
// so library code may log unconditionally and tests stay quiet.
var Logger = zerolog.New(io.Discard)

// Options configures Init. Verbosity is the repository's debug knob:
// 0 silent, 1 errors only, 2 adds warnings, 3 adds informational and
// debug detail.
type Options struct {
	Verbosity int
	JSON      bool
	Output    io.Writer
}

// Init builds the package logger. The level is carried on the logger
// itself rather than zerolog's global level, so an embedding process
// that also uses zerolog keeps its own levels untouched.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = out
	if !opts.JSON {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(w).With().Timestamp().Logger().Level(verbosityLevel(opts.Verbosity))
}

func verbosityLevel(verbosity int) zerolog.Level {
	if verbosity <= 0 {
		return zerolog.Disabled
	}
	if verbosity == 1 {
		return zerolog.ErrorLevel
	}
	if verbosity == 2 {
		return zerolog.WarnLevel
	}
	return zerolog.DebugLevel
}

// WithComponent derives a child logger carrying a "component" field, e.g.
// "storage.localfs" or "repository".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// ForBag derives a child logger scoped to one bag's message traffic.
func ForBag(component, bag string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("bag", bag).Logger()
}
