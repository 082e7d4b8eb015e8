// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"encoding/binary"
	"math"

	"github.com/scottamain/iree-sub001/types/status"
)

// x86Relocs returns the relocation kinds valid for x86-64 images.
func x86Relocs() map[RelocKind]applyFunc {
	return map[RelocKind]applyFunc{
		RelocAbs32:   applyAbs32,
		RelocAbs64:   applyAbs64,
		RelocPCRel32: applyPCRel32,
	}
}

// The following appliers are shared by every architecture whose table
// includes them; the encodings are identical.

func applyAbs32(c *relocContext, r *Relocation, symAddr uint64) error {
	off := c.segVirt[r.Segment] + r.Offset
	v := symAddr + uint64(r.Addend)
	if v>>32 != 0 {
		return status.Errorf(status.MalformedRelocation, "ABS32 value 0x%x does not fit in 32 bits", v)
	}
	binary.LittleEndian.PutUint32(c.mem[off:], uint32(v))
	return nil
}

func applyAbs64(c *relocContext, r *Relocation, symAddr uint64) error {
	off := c.segVirt[r.Segment] + r.Offset
	binary.LittleEndian.PutUint64(c.mem[off:], symAddr+uint64(r.Addend))
	return nil
}

func applyPCRel32(c *relocContext, r *Relocation, symAddr uint64) error {
	off := c.segVirt[r.Segment] + r.Offset
	p := uint64(c.base) + off
	d := int64(symAddr+uint64(r.Addend)) - int64(p)
	if d < math.MinInt32 || d > math.MaxInt32 {
		return status.Errorf(status.MalformedRelocation,
			"PCREL32 displacement %d out of range at %s", d, describeInstruction(c.arch, c.mem[off:]))
	}
	binary.LittleEndian.PutUint32(c.mem[off:], uint32(int32(d)))
	return nil
}
