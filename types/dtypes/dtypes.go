// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes enumerates the element types understood by the micro-kernel
// engine and provides size/stride arithmetic shared by kernels and buffers.
package dtypes

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType is an element type tag. Element sizes are powers of two so strides in
// bytes can be computed with shifts.
type DType int

const (
	// InvalidDType is the zero value, never valid in kernel parameters.
	InvalidDType DType = iota
	Int8
	Float16
	Int32
	Float32
)

// SizeLog2 returns log2 of the element size in bytes.
func (d DType) SizeLog2() int {
	switch d {
	case Int8:
		return 0
	case Float16:
		return 1
	case Int32, Float32:
		return 2
	}
	return 0
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	return 1 << d.SizeLog2()
}

// String implements fmt.Stringer.
func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// FormatElement renders one element (little-endian bytes) for diagnostics.
func (d DType) FormatElement(elem []byte) string {
	if len(elem) < d.Size() {
		return "<short>"
	}
	switch d {
	case Int8:
		return fmt.Sprintf("%d", int8(elem[0]))
	case Float16:
		return float16.Frombits(binary.LittleEndian.Uint16(elem)).String()
	case Int32:
		return fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(elem)))
	case Float32:
		return fmt.Sprintf("%g", math.Float32frombits(binary.LittleEndian.Uint32(elem)))
	}
	return "<?>"
}
