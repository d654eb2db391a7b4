// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log wraps the standard logger with a process-wide verbosity
// switch.
package log

import (
	"log"
	"sync/atomic"
)

var verbose atomic.Bool

// EnableVerbose enables the printing of verbose logs.
func EnableVerbose() {
	verbose.Store(true)
}

// Printf prints to the standard logger regardless of whether verbose
// logging is enabled.
func Printf(format string, v ...any) {
	log.Printf(format, v...)
}

// Verbosef prints to the standard logger if verbose logging is enabled.
func Verbosef(format string, v ...any) {
	if verbose.Load() {
		log.Printf(format, v...)
	}
}
