// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package debug provides a build-tag-gated assertion used on conditions
// that are fatal by spec but, in a release build, are logged and
// tolerated rather than crashing a process that may own other live
// chunks or subscribers. Build with -tags shmipc_debug to turn these
// back into panics during development, the same split the teacher uses
// for RaceEnabled (race.go / race_off.go).
package debug

// Assert panics with msg if ok is false and this binary was built with
// -tags shmipc_debug; otherwise it is a no-op and the caller is
// responsible for logging and degrading gracefully.
func Assert(ok bool, msg string) {
	assert(ok, msg)
}
