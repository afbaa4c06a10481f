// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logging provides the structured logger shared by every shmipc
// component. It is a thin wrapper around zerolog so call sites depend on
// a small surface (Default, SetDefault, Component) rather than the zerolog
// package directly.
package logging

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var def atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
	def.Store(&l)
}

// Default returns the process-wide logger used when a component is not
// constructed with an explicit one.
func Default() zerolog.Logger {
	return *def.Load()
}

// SetDefault replaces the process-wide logger, e.g. to switch to JSON
// output in production or to raise the level. Safe for concurrent use.
func SetDefault(l zerolog.Logger) {
	def.Store(&l)
}

// Component returns a child logger tagged with a component name, the
// convention used throughout this module instead of ad-hoc prefixes.
func Component(name string) zerolog.Logger {
	return Default().With().Str("component", name).Logger()
}
