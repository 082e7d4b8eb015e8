// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package ukernel

import (
	"fmt"

	"github.com/scottamain/iree-sub001/types/dtypes"
)

// Mmt4dType tags the (lhs, rhs, out) element-type triple of a matmul.
type Mmt4dType int

const (
	Mmt4dInvalid Mmt4dType = iota
	Mmt4dF32F32F32
	Mmt4dF16F16F32
	Mmt4dI8I8I32
)

// LhsType returns the left operand element type.
func (t Mmt4dType) LhsType() dtypes.DType {
	switch t {
	case Mmt4dF32F32F32:
		return dtypes.Float32
	case Mmt4dF16F16F32:
		return dtypes.Float16
	case Mmt4dI8I8I32:
		return dtypes.Int8
	}
	return dtypes.InvalidDType
}

// RhsType returns the right operand element type.
func (t Mmt4dType) RhsType() dtypes.DType {
	return t.LhsType()
}

// OutType returns the accumulator/output element type.
func (t Mmt4dType) OutType() dtypes.DType {
	switch t {
	case Mmt4dF32F32F32, Mmt4dF16F16F32:
		return dtypes.Float32
	case Mmt4dI8I8I32:
		return dtypes.Int32
	}
	return dtypes.InvalidDType
}

// String implements fmt.Stringer.
func (t Mmt4dType) String() string {
	switch t {
	case Mmt4dF32F32F32:
		return "f32f32f32"
	case Mmt4dF16F16F32:
		return "f16f16f32"
	case Mmt4dI8I8I32:
		return "i8i8i32"
	}
	return fmt.Sprintf("Mmt4dType(%d)", int(t))
}

// Mmt4dFlags is the flag set accepted by Mmt4d.
type Mmt4dFlags uint32

const (
	// Mmt4dFlagAccumulate adds into the output instead of overwriting it.
	Mmt4dFlagAccumulate Mmt4dFlags = 1 << iota
)

const mmt4dAllFlags = Mmt4dFlagAccumulate

// PackType tags the element type of a pack/unpack; input and output types
// are always the same.
type PackType int

const (
	PackInvalid PackType = iota
	PackF32F32
	PackF16F16
	PackI8I8
	PackI32I32
)

// ElemType returns the element type packed by this op.
func (t PackType) ElemType() dtypes.DType {
	switch t {
	case PackF32F32:
		return dtypes.Float32
	case PackF16F16:
		return dtypes.Float16
	case PackI8I8:
		return dtypes.Int8
	case PackI32I32:
		return dtypes.Int32
	}
	return dtypes.InvalidDType
}

// String implements fmt.Stringer.
func (t PackType) String() string {
	switch t {
	case PackF32F32:
		return "f32f32"
	case PackF16F16:
		return "f16f16"
	case PackI8I8:
		return "i8i8"
	case PackI32I32:
		return "i32i32"
	}
	return fmt.Sprintf("PackType(%d)", int(t))
}

// PackFlags is the flag set accepted by Pack and Unpack.
type PackFlags uint32

const (
	// PackFlagTransposeInner swaps the two inner (tile) dimensions.
	PackFlagTransposeInner PackFlags = 1 << iota
	// PackFlagTransposeOuter swaps the two outer (tile-grid) dimensions.
	PackFlagTransposeOuter
)

const packAllFlags = PackFlagTransposeInner | PackFlagTransposeOuter
