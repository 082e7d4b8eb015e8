// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package ukernel

import (
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Generic tile routines: portable fallbacks that match every validated
// parameter set. Architecture-specific routines register above these in
// priority.

func registerGenericTiles(r *tileRegistry) {
	r.registerMmt4d(Mmt4dF32F32F32, priorityGeneric, nil, mmt4dTileGenericF32)
	r.registerMmt4d(Mmt4dF16F16F32, priorityGeneric, nil, mmt4dTileGenericF16)
	r.registerMmt4d(Mmt4dI8I8I32, priorityGeneric, nil, mmt4dTileGenericI8)
	for _, t := range [...]PackType{PackF32F32, PackF16F16, PackI8I8, PackI32I32} {
		r.registerPack(t, priorityFast, packLayoutIsDirect, packTileDirect)
		r.registerPack(t, priorityGeneric, nil, packTileGeneric)
	}
}

// priorityFast sits between generic and arch: portable fast paths that only
// match favorable layouts.
const priorityFast = 50

type number interface {
	constraints.Integer | constraints.Float
}

// mmt4dTileTyped is the shared tile kernel: one M0xN0 tile accumulated over
// k steps of K0, with the RHS panel transposed (N0xK0 tiles).
func mmt4dTileTyped[S, A number](out []A, lhs, rhs []S, k int, flags Mmt4dFlags, p *Mmt4dParams) {
	m0, n0, k0 := p.M0, p.N0, p.K0
	out = out[:m0*n0]
	acc := make([]A, m0*n0)
	if flags&Mmt4dFlagAccumulate != 0 {
		copy(acc, out)
	}
	for kk := 0; kk < k; kk++ {
		lhsT := lhs[kk*m0*k0:]
		rhsT := rhs[kk*n0*k0:]
		for i0 := 0; i0 < m0; i0++ {
			for j0 := 0; j0 < n0; j0++ {
				var s A
				for c := 0; c < k0; c++ {
					s += A(lhsT[i0*k0+c]) * A(rhsT[j0*k0+c])
				}
				acc[i0*n0+j0] += s
			}
		}
	}
	copy(out, acc)
}

func mmt4dTileGenericF32(out, lhs, rhs []byte, k int, flags Mmt4dFlags, p *Mmt4dParams) {
	mmt4dTileTyped[float32, float32](f32view(out), f32view(lhs), f32view(rhs), k, flags, p)
}

func mmt4dTileGenericI8(out, lhs, rhs []byte, k int, flags Mmt4dFlags, p *Mmt4dParams) {
	mmt4dTileTyped[int8, int32](i32view(out), i8view(lhs), i8view(rhs), k, flags, p)
}

// mmt4dTileGenericF16 accumulates in float32; inputs are IEEE binary16 bits.
func mmt4dTileGenericF16(out, lhs, rhs []byte, k int, flags Mmt4dFlags, p *Mmt4dParams) {
	m0, n0, k0 := p.M0, p.N0, p.K0
	outF := f32view(out)[:m0*n0]
	lhsU := u16view(lhs)
	rhsU := u16view(rhs)
	acc := make([]float32, m0*n0)
	if flags&Mmt4dFlagAccumulate != 0 {
		copy(acc, outF)
	}
	for kk := 0; kk < k; kk++ {
		lhsT := lhsU[kk*m0*k0:]
		rhsT := rhsU[kk*n0*k0:]
		for i0 := 0; i0 < m0; i0++ {
			for j0 := 0; j0 < n0; j0++ {
				var s float32
				for c := 0; c < k0; c++ {
					s += float16.Frombits(lhsT[i0*k0+c]).Float32() * float16.Frombits(rhsT[j0*k0+c]).Float32()
				}
				acc[i0*n0+j0] += s
			}
		}
	}
	copy(outF, acc)
}

// packLayoutIsDirect reports whether the tile interior is laid out in source
// order, allowing whole rows to be copied at once.
func packLayoutIsDirect(l *packLayout) bool {
	return l.innerStride0 == l.tileSize1 && l.innerStride1 == 1
}

// packTileDirect copies tiles row by row.
func packTileDirect(out, in []byte, numTiles, outTileStride, inStride0, elemSize, tileSize0, tileSize1, _, _ int) {
	rowBytes := tileSize1 * elemSize
	for t := 0; t < numTiles; t++ {
		outTile := out[t*outTileStride*elemSize:]
		inTile := in[t*rowBytes:]
		for i0 := 0; i0 < tileSize0; i0++ {
			copy(outTile[i0*rowBytes:][:rowBytes], inTile[i0*inStride0*elemSize:][:rowBytes])
		}
	}
}

// packTileGeneric handles any interior layout, element by element.
func packTileGeneric(out, in []byte, numTiles, outTileStride, inStride0, elemSize, tileSize0, tileSize1, innerStride0, innerStride1 int) {
	for t := 0; t < numTiles; t++ {
		outTile := out[t*outTileStride*elemSize:]
		inTile := in[t*tileSize1*elemSize:]
		for i0 := 0; i0 < tileSize0; i0++ {
			for i1 := 0; i1 < tileSize1; i1++ {
				src := inTile[(i0*inStride0+i1)*elemSize:]
				dst := outTile[(i0*innerStride0+i1*innerStride1)*elemSize:]
				copy(dst[:elemSize], src[:elemSize])
			}
		}
	}
}
