// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"encoding/binary"

	"github.com/scottamain/iree-sub001/types/status"
)

// RISC-V materializes 32-bit constants as a lui/addi pair: HI20 rewrites the
// upper 20 bits of the U-type instruction, LO12_I the 12-bit immediate of
// the following I-type instruction. The +0x800 rounding in HI20 compensates
// for LO12's sign extension.
//
// Reference: riscv-elf-psabi.

const (
	riscvOpcodeLUI   = 0x37
	riscvOpcodeAUIPC = 0x17
)

// riscvRelocs returns the relocation kinds valid for RISC-V images.
// RelocAbs64 is accepted here for both widths; the riscv32 loader never
// sees one because the patch would overrun the 4-byte slots its compiler
// emits, and 64-bit data relocations simply do not appear in rv32 images.
func riscvRelocs() map[RelocKind]applyFunc {
	return map[RelocKind]applyFunc{
		RelocAbs32:      applyAbs32,
		RelocAbs64:      applyAbs64,
		RelocRISCVHI20:  applyRISCVHI20,
		RelocRISCVLO12I: applyRISCVLO12I,
	}
}

func applyRISCVHI20(c *relocContext, r *Relocation, symAddr uint64) error {
	off := c.segVirt[r.Segment] + r.Offset
	v := symAddr + uint64(r.Addend)
	if (v+0x800)>>32 != 0 {
		return status.Errorf(status.MalformedRelocation, "HI20 address 0x%x out of lui range", v)
	}
	insn := binary.LittleEndian.Uint32(c.mem[off:])
	if op := insn & 0x7F; op != riscvOpcodeLUI && op != riscvOpcodeAUIPC {
		return status.Errorf(status.MalformedRelocation,
			"HI20 target is not a U-type instruction: %s", describeInstruction(c.arch, c.mem[off:]))
	}
	hi := uint32((v + 0x800) >> 12)
	binary.LittleEndian.PutUint32(c.mem[off:], insn&0xFFF|hi<<12)
	return nil
}

func applyRISCVLO12I(c *relocContext, r *Relocation, symAddr uint64) error {
	off := c.segVirt[r.Segment] + r.Offset
	v := symAddr + uint64(r.Addend)
	lo := uint32(v & 0xFFF)
	insn := binary.LittleEndian.Uint32(c.mem[off:])
	binary.LittleEndian.PutUint32(c.mem[off:], insn&^(uint32(0xFFF)<<20)|lo<<20)
	return nil
}
