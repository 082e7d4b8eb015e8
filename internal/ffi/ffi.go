// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package ffi is the unsafe boundary between Go and loaded foreign code.
//
// Entry points in a loaded image are plain machine-code addresses with a
// C calling convention. Calling them gives up every safety guarantee Go
// provides: a crash inside the callee takes down the process. Callers that
// need crash containment must isolate invocation behind a process or sandbox
// boundary; nothing in this package can recover it.
//
// The callee also runs on the calling goroutine's stack with no split-stack
// support, so it must keep its stack usage small and bounded. Compiler-
// produced dispatch functions satisfy this.
package ffi

import "unsafe"

// CallIP invokes fn as `int32 fn(void* arg)`.
func CallIP(fn uintptr, arg unsafe.Pointer) int32 {
	return callIP(fn, arg)
}

// CallVV invokes fn as `void fn(void)`.
func CallVV(fn uintptr) {
	callVV(fn)
}
