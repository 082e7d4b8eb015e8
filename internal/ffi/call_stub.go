// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

//go:build !amd64 && !arm64

package ffi

import (
	"unsafe"

	"github.com/gomlx/exceptions"
)

// Supported reports whether this build can invoke foreign entry points.
func Supported() bool { return false }

func callIP(fn uintptr, arg unsafe.Pointer) int32 {
	exceptions.Panicf("ffi: foreign calls not supported on this architecture")
	return 0
}

func callVV(fn uintptr) {
	exceptions.Panicf("ffi: foreign calls not supported on this architecture")
}
