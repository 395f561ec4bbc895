// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

// Package logging sets up the diagnostic (non-architectural) log
// stream. cmd/river configures L; no other package logs through it,
// so cache fills, TLB misses, traps and halts are not logged here.
// It is deliberately separate
// from internal/trace, which emits the fixed-format architectural
// retire log.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// L is the process-wide logger. Tests redirect it with New to capture
// output instead of writing to stderr.
var L = New(os.Stderr, false)

// New builds a zerolog.Logger writing to w. When pretty is true,
// output uses zerolog's console writer (for interactive runs);
// otherwise it emits one JSON object per line (for batch/CI runs).
func New(w io.Writer, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the subsystem name,
// e.g. logging.Component("dcache").
func Component(name string) zerolog.Logger {
	return L.With().Str("component", name).Logger()
}
