// Package logging configures the process-wide zerolog logger, including the
// one gnark writes its compile and prove traces to.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Options selects level and output format. Format is "console" or "json".
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logger and installs it as gnark's logger. gnark only logs
// when the level is debug or lower.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		gnarklogger.Set(log.With().Str("component", "gnark").Logger())
	} else {
		gnarklogger.Disable()
	}
	return log
}

// Silence turns off gnark's own output. Tests and benchmarks call it.
func Silence() {
	gnarklogger.Disable()
}
