// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package ukernel

import (
	"encoding/binary"

	"github.com/scottamain/iree-sub001/types/status"
)

// packScratchSize bounds the stack scratch used to pad edge tiles. One
// padded tile must fit, which validation enforces.
const packScratchSize = 4096

// PackParams describes one pack call: a row-major Size0xSize1 input matrix
// rearranged into an OutSize0xOutSize1 grid of OutSize2xOutSize3 tiles,
// padding tile regions that fall outside the input. Strides are in elements.
type PackParams struct {
	Type  PackType
	Flags PackFlags

	// Input matrix, InSize0 rows of InSize1 elements, rows InStride0
	// elements apart.
	InSize0, InSize1 int
	In               []byte
	InStride0        int

	// Output tile grid. OutSize0/OutSize1 count tiles, OutSize2/OutSize3
	// are the tile shape. Tiles within an outer row are contiguous; outer
	// rows are OutStride0 elements apart.
	OutSize0, OutSize1, OutSize2, OutSize3 int
	Out                                    []byte
	OutStride0                             int

	// PaddingValue is the element written outside the input region, in its
	// little-endian bit pattern. Only the low element-size bytes are used.
	PaddingValue uint64
}

// packLayout is the flag-resolved geometry a pack call operates on. Every
// size and stride is expressed in input-dimension order: applying the
// transpose flags swaps sizes and strides here once, so the loop nest and
// tile routines never branch on flags.
type packLayout struct {
	elemSize               int
	outerSize0, outerSize1 int // tile-grid shape
	tileSize0, tileSize1   int // tile shape
	outStride0, outStride1 int // element strides between adjacent tiles
	innerStride0, innerStride1 int // element strides inside one tile
}

// Pack runs one tiled pack-with-padding.
func (e *Engine) Pack(p *PackParams) error {
	if err := validatePack(p); err != nil {
		return err
	}
	l := packResolveLayout(p)
	if l.outerSize0 == 0 || l.outerSize1 == 0 {
		return nil
	}
	tile := e.tiles.selectPackTile(p.Type, l)
	packUsingTile(p, l, tile)
	return nil
}

func validatePack(p *PackParams) error {
	if p.Flags&^packAllFlags != 0 {
		return status.Errorf(status.InvalidArgument, "pack: unknown flag bits 0x%x", uint32(p.Flags&^packAllFlags))
	}
	switch p.Type {
	case PackF32F32, PackF16F16, PackI8I8, PackI32I32:
	default:
		return status.Errorf(status.InvalidArgument, "pack: unsupported type %s", p.Type)
	}
	for _, d := range [...]struct {
		name string
		v    int
	}{
		{"in_size0", p.InSize0}, {"in_size1", p.InSize1},
		{"out_size0", p.OutSize0}, {"out_size1", p.OutSize1},
		{"out_size2", p.OutSize2}, {"out_size3", p.OutSize3},
	} {
		if d.v < 0 || d.v > mmt4dMaxDim {
			return status.Errorf(status.InvalidArgument, "pack: %s=%d outside [0,%d]", d.name, d.v, mmt4dMaxDim)
		}
	}
	if p.InStride0 < 0 || p.InStride0 > mmt4dMaxDim || p.OutStride0 < 0 || p.OutStride0 > mmt4dMaxDim {
		return status.Errorf(status.InvalidArgument, "pack: stride outside [0,%d]", mmt4dMaxDim)
	}
	es := p.Type.ElemType().Size()
	// Compared as element counts so huge tile dims cannot wrap the product.
	if int64(p.OutSize2)*int64(p.OutSize3) > int64(packScratchSize/es) {
		return status.Errorf(status.ResourceExhausted, "pack: %dx%d tile of %d-byte elements exceeds the %d-byte scratch", p.OutSize2, p.OutSize3, es, packScratchSize)
	}
	tileElems := p.OutSize2 * p.OutSize3
	l := packResolveLayout(p)
	// The tile grid must cover the input exactly: no input left over, and
	// no fully padded tile rows or columns.
	for _, d := range [...]struct {
		name        string
		in          int
		outer, tile int
	}{
		{"dim0", p.InSize0, l.outerSize0, l.tileSize0},
		{"dim1", p.InSize1, l.outerSize1, l.tileSize1},
	} {
		if d.outer == 0 {
			if d.in != 0 {
				return status.Errorf(status.InvalidArgument, "pack: %s input size %d with empty tile grid", d.name, d.in)
			}
			continue
		}
		if d.tile == 0 || d.in > d.outer*d.tile || (d.outer-1)*d.tile >= d.in {
			return status.Errorf(status.InvalidArgument, "pack: %s tile grid %dx%d does not cover input size %d", d.name, d.outer, d.tile, d.in)
		}
	}
	// Element-count comparisons in int64: sizes and strides are capped at
	// 31 bits, so the extent arithmetic cannot wrap.
	if p.InSize0 > 0 && p.InSize1 > 0 {
		need := int64(p.InSize0-1)*int64(p.InStride0) + int64(p.InSize1)
		if have := int64(len(p.In) / es); have < need {
			return status.Errorf(status.InvalidArgument, "pack: in buffer holds %d elements, shape needs %d", have, need)
		}
	}
	if l.outerSize0 > 0 && l.outerSize1 > 0 {
		need := int64(l.outerSize0-1)*int64(l.outStride0) + int64(l.outerSize1-1)*int64(l.outStride1) + int64(tileElems)
		if have := int64(len(p.Out) / es); have < need {
			return status.Errorf(status.InvalidArgument, "pack: out buffer holds %d elements, shape needs %d", have, need)
		}
	}
	return nil
}

func packResolveLayout(p *PackParams) *packLayout {
	l := &packLayout{elemSize: p.Type.ElemType().Size()}
	tileElems := p.OutSize2 * p.OutSize3
	if p.Flags&PackFlagTransposeOuter != 0 {
		l.outerSize0, l.outerSize1 = p.OutSize1, p.OutSize0
		l.outStride0, l.outStride1 = tileElems, p.OutStride0
	} else {
		l.outerSize0, l.outerSize1 = p.OutSize0, p.OutSize1
		l.outStride0, l.outStride1 = p.OutStride0, tileElems
	}
	if p.Flags&PackFlagTransposeInner != 0 {
		l.tileSize0, l.tileSize1 = p.OutSize3, p.OutSize2
		l.innerStride0, l.innerStride1 = 1, l.tileSize0
	} else {
		l.tileSize0, l.tileSize1 = p.OutSize2, p.OutSize3
		l.innerStride0, l.innerStride1 = l.tileSize1, 1
	}
	return l
}

// packUsingTile walks the tile grid. Interior tiles, whose footprint lies
// entirely inside the input, go to the tile routine in whole rows; edge
// tiles are padded into a dense scratch tile first and packed from there.
func packUsingTile(p *PackParams, l *packLayout, tile packTileFunc) {
	es := l.elemSize
	tileBytes := l.tileSize0 * l.tileSize1 * es
	var scratchBuf [packScratchSize]byte
	scratch := scratchBuf[:tileBytes]

	wholeTiles1 := p.InSize1 / l.tileSize1
	rem1 := p.InSize1 - wholeTiles1*l.tileSize1

	for i0 := 0; i0 < l.outerSize0; i0++ {
		outRow := p.Out[i0*l.outStride0*es:]
		inRow := p.In[i0*l.tileSize0*p.InStride0*es:]
		validRows := clampInt(p.InSize0-i0*l.tileSize0, 0, l.tileSize0)
		if validRows == l.tileSize0 {
			if wholeTiles1 > 0 {
				tile(outRow, inRow, wholeTiles1, l.outStride1, p.InStride0, es,
					l.tileSize0, l.tileSize1, l.innerStride0, l.innerStride1)
			}
			if wholeTiles1 < l.outerSize1 {
				packPadTile(scratch, inRow[wholeTiles1*l.tileSize1*es:], p.InStride0,
					l.tileSize0, rem1, l, p.PaddingValue)
				tile(outRow[wholeTiles1*l.outStride1*es:], scratch, 1, l.outStride1,
					l.tileSize1, es, l.tileSize0, l.tileSize1, l.innerStride0, l.innerStride1)
			}
			continue
		}
		// Bottom edge: every tile in the row needs row padding.
		for j := 0; j < l.outerSize1; j++ {
			validCols := clampInt(p.InSize1-j*l.tileSize1, 0, l.tileSize1)
			packPadTile(scratch, inRow[j*l.tileSize1*es:], p.InStride0,
				validRows, validCols, l, p.PaddingValue)
			tile(outRow[j*l.outStride1*es:], scratch, 1, l.outStride1,
				l.tileSize1, es, l.tileSize0, l.tileSize1, l.innerStride0, l.innerStride1)
		}
	}
}

// packPadTile fills dst with the padding value and copies the valid
// validRows x validCols region of src over it, densely at the tile shape.
func packPadTile(dst, src []byte, srcStride0, validRows, validCols int, l *packLayout, padding uint64) {
	packFill(dst, padding, l.elemSize)
	rowBytes := validCols * l.elemSize
	for r := 0; r < validRows; r++ {
		copy(dst[r*l.tileSize1*l.elemSize:][:rowBytes], src[r*srcStride0*l.elemSize:][:rowBytes])
	}
}

// packFill writes the padding element across b. Patterns whose bytes are all
// equal, zero included, reduce to a byte fill which the compiler turns into
// a memset.
func packFill(b []byte, pattern uint64, elemSize int) {
	var elem [8]byte
	binary.LittleEndian.PutUint64(elem[:], pattern)
	single := true
	for i := 1; i < elemSize; i++ {
		if elem[i] != elem[0] {
			single = false
			break
		}
	}
	if single {
		if elem[0] == 0 {
			clear(b)
			return
		}
		for i := range b {
			b[i] = elem[0]
		}
		return
	}
	for off := 0; off+elemSize <= len(b); off += elemSize {
		copy(b[off:off+elemSize], elem[:elemSize])
	}
}
