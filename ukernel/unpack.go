// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package ukernel

import (
	"github.com/scottamain/iree-sub001/types/status"
)

// UnpackParams describes one unpack call, the inverse of Pack: an
// InSize0xInSize1 grid of InSize2xInSize3 tiles flattened back into a
// row-major OutSize0xOutSize1 matrix. Tile regions beyond the output bounds
// are dropped. Strides are in elements.
type UnpackParams struct {
	Type  PackType
	Flags PackFlags

	// Input tile grid, shaped like PackParams.Out.
	InSize0, InSize1, InSize2, InSize3 int
	In                                 []byte
	InStride0                          int

	// Output matrix, OutSize0 rows of OutSize1 elements, rows OutStride0
	// elements apart.
	OutSize0, OutSize1 int
	Out                []byte
	OutStride0         int
}

// Unpack runs one tiled unpack. Writes are clipped to the output bounds, so
// padding introduced by Pack never escapes.
func (e *Engine) Unpack(p *UnpackParams) error {
	if err := validateUnpack(p); err != nil {
		return err
	}
	l := unpackResolveLayout(p)
	if l.outerSize0 == 0 || l.outerSize1 == 0 {
		return nil
	}
	unpackTiles(p, l)
	return nil
}

func validateUnpack(p *UnpackParams) error {
	if p.Flags&^packAllFlags != 0 {
		return status.Errorf(status.InvalidArgument, "unpack: unknown flag bits 0x%x", uint32(p.Flags&^packAllFlags))
	}
	switch p.Type {
	case PackF32F32, PackF16F16, PackI8I8, PackI32I32:
	default:
		return status.Errorf(status.InvalidArgument, "unpack: unsupported type %s", p.Type)
	}
	for _, d := range [...]struct {
		name string
		v    int
	}{
		{"in_size0", p.InSize0}, {"in_size1", p.InSize1},
		{"in_size2", p.InSize2}, {"in_size3", p.InSize3},
		{"out_size0", p.OutSize0}, {"out_size1", p.OutSize1},
	} {
		if d.v < 0 || d.v > mmt4dMaxDim {
			return status.Errorf(status.InvalidArgument, "unpack: %s=%d outside [0,%d]", d.name, d.v, mmt4dMaxDim)
		}
	}
	if p.InStride0 < 0 || p.InStride0 > mmt4dMaxDim || p.OutStride0 < 0 || p.OutStride0 > mmt4dMaxDim {
		return status.Errorf(status.InvalidArgument, "unpack: stride outside [0,%d]", mmt4dMaxDim)
	}
	es := p.Type.ElemType().Size()
	l := unpackResolveLayout(p)
	for _, d := range [...]struct {
		name        string
		out         int
		outer, tile int
	}{
		{"dim0", p.OutSize0, l.outerSize0, l.tileSize0},
		{"dim1", p.OutSize1, l.outerSize1, l.tileSize1},
	} {
		if d.outer == 0 {
			if d.out != 0 {
				return status.Errorf(status.InvalidArgument, "unpack: %s output size %d with empty tile grid", d.name, d.out)
			}
			continue
		}
		if d.tile == 0 || d.out > d.outer*d.tile || (d.outer-1)*d.tile >= d.out {
			return status.Errorf(status.InvalidArgument, "unpack: %s tile grid %dx%d does not cover output size %d", d.name, d.outer, d.tile, d.out)
		}
	}
	// Element-count comparisons in int64, as in validatePack: capped sizes
	// and strides keep the extent arithmetic from wrapping.
	tileElems := p.InSize2 * p.InSize3
	if l.outerSize0 > 0 && l.outerSize1 > 0 {
		need := int64(l.outerSize0-1)*int64(l.outStride0) + int64(l.outerSize1-1)*int64(l.outStride1) + int64(tileElems)
		if have := int64(len(p.In) / es); have < need {
			return status.Errorf(status.InvalidArgument, "unpack: in buffer holds %d elements, shape needs %d", have, need)
		}
	}
	if p.OutSize0 > 0 && p.OutSize1 > 0 {
		need := int64(p.OutSize0-1)*int64(p.OutStride0) + int64(p.OutSize1)
		if have := int64(len(p.Out) / es); have < need {
			return status.Errorf(status.InvalidArgument, "unpack: out buffer holds %d elements, shape needs %d", have, need)
		}
	}
	return nil
}

// unpackResolveLayout reuses packLayout with the roles reversed: outer and
// inner strides describe the tiled INPUT, sizes stay in output-dimension
// order so clipping against OutSize is direct.
func unpackResolveLayout(p *UnpackParams) *packLayout {
	l := &packLayout{elemSize: p.Type.ElemType().Size()}
	tileElems := p.InSize2 * p.InSize3
	if p.Flags&PackFlagTransposeOuter != 0 {
		l.outerSize0, l.outerSize1 = p.InSize1, p.InSize0
		l.outStride0, l.outStride1 = tileElems, p.InStride0
	} else {
		l.outerSize0, l.outerSize1 = p.InSize0, p.InSize1
		l.outStride0, l.outStride1 = p.InStride0, tileElems
	}
	if p.Flags&PackFlagTransposeInner != 0 {
		l.tileSize0, l.tileSize1 = p.InSize3, p.InSize2
		l.innerStride0, l.innerStride1 = 1, l.tileSize0
	} else {
		l.tileSize0, l.tileSize1 = p.InSize2, p.InSize3
		l.innerStride0, l.innerStride1 = l.tileSize1, 1
	}
	return l
}

// unpackTiles is the whole loop nest. Unpack is bandwidth-bound and clips at
// the edges only, so it runs one shared routine with a row-copy fast path
// instead of a registry of tile routines.
func unpackTiles(p *UnpackParams, l *packLayout) {
	es := l.elemSize
	direct := l.innerStride0 == l.tileSize1 && l.innerStride1 == 1
	for i0 := 0; i0 < l.outerSize0; i0++ {
		inRow := p.In[i0*l.outStride0*es:]
		outRow := p.Out[i0*l.tileSize0*p.OutStride0*es:]
		validRows := clampInt(p.OutSize0-i0*l.tileSize0, 0, l.tileSize0)
		for j := 0; j < l.outerSize1; j++ {
			inTile := inRow[j*l.outStride1*es:]
			outTile := outRow[j*l.tileSize1*es:]
			validCols := clampInt(p.OutSize1-j*l.tileSize1, 0, l.tileSize1)
			if direct {
				rowBytes := validCols * es
				for r := 0; r < validRows; r++ {
					copy(outTile[r*p.OutStride0*es:][:rowBytes], inTile[r*l.tileSize1*es:][:rowBytes])
				}
				continue
			}
			for r := 0; r < validRows; r++ {
				for c := 0; c < validCols; c++ {
					src := inTile[(r*l.innerStride0+c*l.innerStride1)*es:]
					copy(outTile[(r*p.OutStride0+c)*es:][:es], src[:es])
				}
			}
		}
	}
}
