// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"fmt"

	"github.com/scottamain/iree-sub001/types/status"
)

// relocContext is the state shared by every relocation applied to one
// mapping: the writable memory, its base address and per-segment placement.
type relocContext struct {
	arch      Arch
	mem       []byte
	base      uintptr
	segVirt   []uint64
	segSize   []uint64
	externals map[string]uintptr
}

// applyFunc patches one location. symAddr is the symbol's fully resolved
// absolute address (plus nothing: the addend is applied per kind).
type applyFunc func(c *relocContext, r *Relocation, symAddr uint64) error

// patchWidth returns the number of bytes a relocation kind writes.
func (k RelocKind) patchWidth() uint64 {
	if k == RelocAbs64 {
		return 8
	}
	return 4
}

// relocators maps each architecture to its supported relocation kinds.
// Built once, read-only afterwards: dispatch is an explicit table, not
// scattered conditionals.
var relocators = buildRelocators()

func buildRelocators() map[Arch]map[RelocKind]applyFunc {
	return map[Arch]map[RelocKind]applyFunc{
		ArchX86_64:  x86Relocs(),
		ArchARM32:   arm32Relocs(),
		ArchARM64:   arm64Relocs(),
		ArchRISCV32: riscvRelocs(),
		ArchRISCV64: riscvRelocs(),
	}
}

// applyRelocations patches every relocation in table order.
func applyRelocations(c *relocContext, relocs []Relocation) error {
	table := relocators[c.arch]
	if table == nil {
		return status.Errorf(status.UnsupportedArchitecture, "no relocator for %s", c.arch)
	}
	for i := range relocs {
		r := &relocs[i]
		apply, ok := table[r.Kind]
		if !ok {
			return status.Errorf(status.MalformedRelocation, "relocation %d: kind %s not valid for %s", i, r.Kind, c.arch)
		}
		if r.Offset+r.Kind.patchWidth() > c.segSize[r.Segment] {
			return status.Errorf(status.MalformedRelocation, "relocation %d: %s patch at offset %d overruns segment of size %d", i, r.Kind, r.Offset, c.segSize[r.Segment])
		}
		symAddr, err := c.resolve(r.Sym)
		if err != nil {
			return status.Wrapf(status.MalformedRelocation, err, "relocation %d", i)
		}
		if err := apply(c, r, symAddr); err != nil {
			return status.Wrapf(status.MalformedRelocation, err, "relocation %d", i)
		}
	}
	return nil
}

// resolve returns the absolute runtime address of a symbol reference.
func (c *relocContext) resolve(sym SymbolRef) (uint64, error) {
	if sym.Internal {
		return uint64(c.base) + c.segVirt[sym.Segment] + sym.Offset, nil
	}
	addr, ok := c.externals[sym.Name]
	if !ok {
		return 0, status.Errorf(status.MalformedRelocation, "unresolved external symbol %q", sym.Name)
	}
	return uint64(addr), nil
}

// checkRISCVPairs enforces that every HI20 relocation has a LO12 partner
// referencing the same symbol (and addend), and vice versa. Runs before any
// memory is mapped so a malformed table leaves no state behind.
func checkRISCVPairs(relocs []Relocation) error {
	type pairCount struct{ hi, lo int }
	counts := make(map[symbolPairKey]*pairCount)
	at := func(r *Relocation) *pairCount {
		key := r.Sym.pairKey(r.Addend)
		pc := counts[key]
		if pc == nil {
			pc = &pairCount{}
			counts[key] = pc
		}
		return pc
	}
	for i := range relocs {
		switch relocs[i].Kind {
		case RelocRISCVHI20:
			at(&relocs[i]).hi++
		case RelocRISCVLO12I:
			at(&relocs[i]).lo++
		}
	}
	for key, pc := range counts {
		if pc.hi > 0 && pc.lo == 0 {
			return status.Errorf(status.MalformedRelocation, "HI20 relocation for symbol %s has no paired LO12", pairKeyName(key))
		}
		if pc.lo > 0 && pc.hi == 0 {
			return status.Errorf(status.MalformedRelocation, "LO12 relocation for symbol %s has no paired HI20", pairKeyName(key))
		}
	}
	return nil
}

func pairKeyName(key symbolPairKey) string {
	if key.internal {
		return fmt.Sprintf("segment %d+0x%x", key.segment, key.offset)
	}
	return fmt.Sprintf("%q", key.name)
}
