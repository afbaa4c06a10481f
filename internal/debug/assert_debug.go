// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build shmipc_debug

package debug

func assert(ok bool, msg string) {
	if !ok {
		panic(msg)
	}
}
