// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package ukernel

import (
	"github.com/scottamain/iree-sub001/types/status"
)

// mmt4dTileMaxBytes bounds one output tile so the generic tile routine's
// fixed accumulator always fits. Architecture routines share the bound.
const mmt4dTileMaxBytes = 4096

// Mmt4dParams describes one tiled matmul-accumulate call: an MxK by KxN
// product blocked into M0xN0 output tiles, with the RHS panels stored
// transposed (hence "mmt"). All strides are in elements; buffers are raw
// bytes. The struct is a value descriptor, stack-allocated per call.
type Mmt4dParams struct {
	Type  Mmt4dType
	Flags Mmt4dFlags

	// Outer tile-grid dimensions and the reduction length.
	M, N, K int
	// Inner tile dimensions.
	M0, N0, K0 int

	// Lhs holds M panels of K M0xK0 tiles, panels LhsStride elements apart.
	Lhs       []byte
	LhsStride int
	// Rhs holds N panels of K N0xK0 tiles, panels RhsStride elements apart.
	Rhs       []byte
	RhsStride int
	// Out holds MxN M0xN0 tiles, tile rows OutStride elements apart.
	Out       []byte
	OutStride int
}

// Mmt4d runs one tiled matmul-accumulate. Parameters are validated
// exhaustively before the loop nest; the loop itself cannot fail.
func (e *Engine) Mmt4d(p *Mmt4dParams) error {
	if err := validateMmt4d(p); err != nil {
		return err
	}
	// Degenerate shapes are an early-exit policy, not a fallback through
	// the general loop.
	if p.M == 0 || p.N == 0 {
		return nil
	}
	if p.K == 0 {
		if p.Flags&Mmt4dFlagAccumulate == 0 {
			mmt4dZeroOut(p)
		}
		return nil
	}
	tile := e.tiles.selectMmt4dTile(p)
	e.mmt4dUsingTile(p, tile)
	return nil
}

// The K dimension is the innermost loop bound; 31/15-bit ranges keep the
// panel arithmetic comfortably inside int on 32-bit hosts too.
const (
	mmt4dMaxDim  = 1<<31 - 1
	mmt4dMaxTile = 1<<15 - 1
)

func validateMmt4d(p *Mmt4dParams) error {
	if p.Flags&^mmt4dAllFlags != 0 {
		return status.Errorf(status.InvalidArgument, "mmt4d: unknown flag bits 0x%x", uint32(p.Flags&^mmt4dAllFlags))
	}
	switch p.Type {
	case Mmt4dF32F32F32, Mmt4dF16F16F32, Mmt4dI8I8I32:
	default:
		return status.Errorf(status.InvalidArgument, "mmt4d: unsupported type %s", p.Type)
	}
	for _, d := range [...]struct {
		name string
		v    int
		max  int
	}{
		{"M", p.M, mmt4dMaxDim}, {"N", p.N, mmt4dMaxDim}, {"K", p.K, mmt4dMaxDim},
		{"M0", p.M0, mmt4dMaxTile}, {"N0", p.N0, mmt4dMaxTile}, {"K0", p.K0, mmt4dMaxTile},
	} {
		if d.v < 0 || d.v > d.max {
			return status.Errorf(status.InvalidArgument, "mmt4d: %s=%d outside [0,%d]", d.name, d.v, d.max)
		}
	}
	for _, s := range [...]struct {
		name string
		v    int
	}{
		{"LhsStride", p.LhsStride}, {"RhsStride", p.RhsStride}, {"OutStride", p.OutStride},
	} {
		if s.v < 0 || s.v > mmt4dMaxDim {
			return status.Errorf(status.InvalidArgument, "mmt4d: %s=%d outside [0,%d]", s.name, s.v, mmt4dMaxDim)
		}
	}
	outSize := p.Type.OutType().Size()
	if tileBytes := p.M0 * p.N0 * outSize; tileBytes > mmt4dTileMaxBytes {
		return status.Errorf(status.ResourceExhausted, "mmt4d: %dx%d tile needs %d bytes, scratch limit is %d", p.M0, p.N0, tileBytes, mmt4dTileMaxBytes)
	}
	// Bound every access of the loop nest so it needs no checks of its own.
	// Extents are compared in elements and computed in int64: with dims and
	// strides capped at 31 bits and tiles at 15, no product here can wrap.
	if p.M > 0 && p.N > 0 {
		need := int64(p.M-1)*int64(p.OutStride) + int64(p.N)*int64(p.M0)*int64(p.N0)
		if have := int64(len(p.Out)) >> p.Type.OutType().SizeLog2(); have < need {
			return status.Errorf(status.InvalidArgument, "mmt4d: out buffer holds %d elements, shape needs %d", have, need)
		}
		if p.K > 0 {
			needLhs := int64(p.M-1)*int64(p.LhsStride) + int64(p.K)*int64(p.M0)*int64(p.K0)
			if have := int64(len(p.Lhs)) >> p.Type.LhsType().SizeLog2(); have < needLhs {
				return status.Errorf(status.InvalidArgument, "mmt4d: lhs buffer holds %d elements, shape needs %d", have, needLhs)
			}
			needRhs := int64(p.N-1)*int64(p.RhsStride) + int64(p.K)*int64(p.N0)*int64(p.K0)
			if have := int64(len(p.Rhs)) >> p.Type.RhsType().SizeLog2(); have < needRhs {
				return status.Errorf(status.InvalidArgument, "mmt4d: rhs buffer holds %d elements, shape needs %d", have, needRhs)
			}
		}
	}
	return nil
}

// mmt4dZeroOut clears the strided output region for the K==0, no-accumulate
// early exit.
func mmt4dZeroOut(p *Mmt4dParams) {
	log2 := p.Type.OutType().SizeLog2()
	contiguous := (p.N * p.M0 * p.N0) << log2
	stride := p.OutStride << log2
	for i := 0; i < p.M; i++ {
		row := p.Out[i*stride:]
		clear(row[:contiguous])
	}
}

// mmt4dUsingTile drives the shared outer loops around the selected tile
// routine. Sharing the loop nest across every type/architecture combination
// keeps code size bounded; only the tile routine is specialized. Byte
// strides are computed with shifts since element sizes are powers of two.
func (e *Engine) mmt4dUsingTile(p *Mmt4dParams, tile mmt4dTileFunc) {
	outTileBytes := (p.M0 * p.N0) << p.Type.OutType().SizeLog2()
	lhsPanelBytes := p.LhsStride << p.Type.LhsType().SizeLog2()
	rhsPanelBytes := p.RhsStride << p.Type.RhsType().SizeLog2()
	outRowBytes := p.OutStride << p.Type.OutType().SizeLog2()

	rowOfTiles := func(i int) {
		outRow := p.Out[i*outRowBytes:]
		lhsPanel := p.Lhs[i*lhsPanelBytes:]
		for j := 0; j < p.N; j++ {
			tile(outRow[j*outTileBytes:], lhsPanel, p.Rhs[j*rhsPanelBytes:], p.K, p.Flags, p)
		}
	}

	// Distinct i never touch the same output row, so rows can run in
	// parallel when the engine has a pool.
	if e.pool != nil && p.M >= 2*e.pool.MaxParallelism() {
		e.pool.ParallelFor(p.M, rowOfTiles)
		return
	}
	for i := 0; i < p.M; i++ {
		rowOfTiles(i)
	}
}
