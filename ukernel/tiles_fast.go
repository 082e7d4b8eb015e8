// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64 || arm64

package ukernel

// Unrolled f32 tile for K0==1, the layout the compiler emits for plain
// matmuls. Uses "broadcast A, stream B": each LHS element is broadcast
// against a contiguous run of RHS, which the compiler auto-vectorizes well
// on these targets. Other builds fall back to the generic routine.

func registerArchTiles(r *tileRegistry) {
	r.registerMmt4d(Mmt4dF32F32F32, priorityArch,
		func(p *Mmt4dParams) bool { return p.K0 == 1 },
		mmt4dTileF32K0Is1)
}

func mmt4dTileF32K0Is1(out, lhs, rhs []byte, k int, flags Mmt4dFlags, p *Mmt4dParams) {
	m0, n0 := p.M0, p.N0
	outF := f32view(out)[:m0*n0]
	lhsF := f32view(lhs)
	rhsF := f32view(rhs)

	var accBuf [mmt4dTileMaxBytes / 4]float32
	acc := accBuf[:m0*n0]
	if flags&Mmt4dFlagAccumulate != 0 {
		copy(acc, outF)
	} else {
		clear(acc)
	}
	for kk := 0; kk < k; kk++ {
		lhsK := lhsF[kk*m0 : kk*m0+m0]
		rhsK := rhsF[kk*n0 : kk*n0+n0]
		for i0, a := range lhsK {
			row := acc[i0*n0 : i0*n0+n0]
			for j0, b := range rhsK {
				row[j0] += a * b
			}
		}
	}
	copy(outF, acc)
}
