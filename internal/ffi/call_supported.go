// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64 || arm64

package ffi

import "unsafe"

// Supported reports whether this build can invoke foreign entry points.
func Supported() bool { return true }

// Implemented in call_amd64.s / call_arm64.s.

func callIP(fn uintptr, arg unsafe.Pointer) int32

func callVV(fn uintptr)
