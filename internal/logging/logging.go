// Package logging centralizes zerolog setup so every hub component logs in
// the same shape: console-friendly in a TTY, JSON lines otherwise, each
// line tagged with its owning component the way the teacher tags log lines
// with a bracketed [component] prefix.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New returns a logger tagged with component, e.g. "bridge", "ingestion".
func New(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	if isTerminal(os.Stderr) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
