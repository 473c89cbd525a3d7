// Package flog wraps the scheduler's logging sink: a concrete adapter built
// on zerolog. It is intentionally tiny: a constructed value passed into the
// scheduler, never a package-level global, favoring small, explicitly-owned
// internal collaborators over ambient state.
package flog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stderr in production, a
// bytes.Buffer in tests) at the given minimum level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for call sites that accept
// an optional logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
