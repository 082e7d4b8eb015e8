// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"encoding/binary"

	"github.com/scottamain/iree-sub001/types/status"
)

// The relocatable image format, produced by the compiler and consumed here.
//
// All integers are little-endian. The file starts with a fixed 64-byte
// header followed by the segment, entry-point and relocation tables and a
// string table; segment payload bytes may live anywhere in the file, located
// by the segment table. Nothing in an image is interpreted until the header,
// the architecture tag and every declared table range have been validated
// against the buffer length.
const (
	imageMagic   = 0x474d4952 // "RIMG"
	imageVersion = 1

	headerSize     = 64
	segmentSize    = 32
	exportSize     = 24
	relocSize      = 48
	externalSymSeg = 0xFFFFFFFF
)

// Perm is a segment permission bit set.
type Perm uint32

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// String implements fmt.Stringer, in the usual "rwx" form.
func (p Perm) String() string {
	buf := []byte("---")
	if p&PermRead != 0 {
		buf[0] = 'r'
	}
	if p&PermWrite != 0 {
		buf[1] = 'w'
	}
	if p&PermExec != 0 {
		buf[2] = 'x'
	}
	return string(buf)
}

// Segment describes one loadable range of an image.
type Segment struct {
	// VirtOffset is the segment's offset within the loaded mapping.
	// Must be page-aligned.
	VirtOffset uint64
	// MemSize is the mapped size; any tail beyond FileSize is zero-filled.
	MemSize uint64
	// FileOffset/FileSize locate the segment's initialized bytes in the
	// image buffer.
	FileOffset uint32
	FileSize   uint32
	Perms      Perm
}

// Export is an entry point exported by the image: a named offset into an
// executable segment. Its ordinal is its index in the export table.
type Export struct {
	Name    string
	Segment uint32
	Offset  uint64
}

// RelocKind selects how a relocation patches its target location.
type RelocKind uint32

const (
	RelocInvalid RelocKind = iota
	// RelocAbs32/RelocAbs64 store the absolute symbol address.
	RelocAbs32
	RelocAbs64
	// RelocPCRel32 stores a signed 32-bit displacement from the patch site.
	RelocPCRel32
	// RelocRISCVHI20 patches the upper 20 bits of a U-type instruction
	// (lui/auipc). Every HI20 must be paired with a RelocRISCVLO12I for the
	// same symbol, and vice versa.
	RelocRISCVHI20
	// RelocRISCVLO12I patches the 12-bit immediate of an I-type instruction.
	RelocRISCVLO12I
)

// String implements fmt.Stringer.
func (k RelocKind) String() string {
	switch k {
	case RelocAbs32:
		return "ABS32"
	case RelocAbs64:
		return "ABS64"
	case RelocPCRel32:
		return "PCREL32"
	case RelocRISCVHI20:
		return "RISCV_HI20"
	case RelocRISCVLO12I:
		return "RISCV_LO12_I"
	}
	return "INVALID"
}

// SymbolRef names the symbol a relocation resolves: either a location inside
// the image (segment+offset) or an external symbol looked up in the
// caller-provided symbol table.
type SymbolRef struct {
	Internal bool
	Segment  uint32 // Internal only.
	Offset   uint64 // Internal only.
	Name     string // External only.
}

// pairKey identifies a symbol reference for HI20/LO12 pairing.
func (s SymbolRef) pairKey(addend int64) symbolPairKey {
	return symbolPairKey{internal: s.Internal, segment: s.Segment,
		offset: s.Offset, name: s.Name, addend: addend}
}

type symbolPairKey struct {
	internal bool
	segment  uint32
	offset   uint64
	name     string
	addend   int64
}

// Relocation patches one location in a loaded segment once the final address
// of its symbol is known.
type Relocation struct {
	Kind    RelocKind
	Segment uint32
	Offset  uint64
	Sym     SymbolRef
	Addend  int64
}

// Image is the parsed, validated form of a relocatable image. It only
// borrows the underlying buffer; nothing is mapped yet.
type Image struct {
	Arch     Arch
	Segments []Segment
	Exports  []Export
	Relocs   []Relocation

	raw []byte
}

// ParseImage validates the header and every table of an image against the
// buffer length. It fails with InvalidFormat (or UnsupportedArchitecture for
// an unknown architecture tag) before any byte beyond the validated ranges
// is interpreted.
func ParseImage(b []byte) (*Image, error) {
	if len(b) < headerSize {
		return nil, status.Errorf(status.InvalidFormat, "image too short: %d bytes, header needs %d", len(b), headerSize)
	}
	le := binary.LittleEndian
	if magic := le.Uint32(b[0:]); magic != imageMagic {
		return nil, status.Errorf(status.InvalidFormat, "bad magic 0x%08x", magic)
	}
	if version := le.Uint16(b[4:]); version != imageVersion {
		return nil, status.Errorf(status.InvalidFormat, "unsupported image version %d", version)
	}
	arch := Arch(le.Uint16(b[6:]))
	if arch == ArchInvalid || arch > ArchRISCV64 {
		return nil, status.Errorf(status.UnsupportedArchitecture, "unknown architecture tag %d", uint16(arch))
	}

	segOff, segCount := le.Uint32(b[8:]), le.Uint32(b[12:])
	expOff, expCount := le.Uint32(b[16:]), le.Uint32(b[20:])
	relOff, relCount := le.Uint32(b[24:]), le.Uint32(b[28:])
	strOff, strLen := le.Uint32(b[32:]), le.Uint32(b[36:])

	if err := checkTable("segment", segOff, segCount, segmentSize, len(b)); err != nil {
		return nil, err
	}
	if err := checkTable("entry-point", expOff, expCount, exportSize, len(b)); err != nil {
		return nil, err
	}
	if err := checkTable("relocation", relOff, relCount, relocSize, len(b)); err != nil {
		return nil, err
	}
	if uint64(strOff)+uint64(strLen) > uint64(len(b)) {
		return nil, status.Errorf(status.InvalidFormat, "string table [%d,%d) out of bounds (%d bytes)", strOff, uint64(strOff)+uint64(strLen), len(b))
	}
	strTab := b[strOff : uint64(strOff)+uint64(strLen)]

	img := &Image{Arch: arch, raw: b}

	img.Segments = make([]Segment, segCount)
	for i := range img.Segments {
		e := b[uint64(segOff)+uint64(i)*segmentSize:]
		seg := Segment{
			VirtOffset: le.Uint64(e[0:]),
			MemSize:    le.Uint64(e[8:]),
			FileOffset: le.Uint32(e[16:]),
			FileSize:   le.Uint32(e[20:]),
			Perms:      Perm(le.Uint32(e[24:])),
		}
		if err := validateSegment(i, seg, len(b)); err != nil {
			return nil, err
		}
		img.Segments[i] = seg
	}
	if err := checkSegmentOverlap(img.Segments); err != nil {
		return nil, err
	}

	img.Exports = make([]Export, expCount)
	for i := range img.Exports {
		e := b[uint64(expOff)+uint64(i)*exportSize:]
		name, err := stringRef(strTab, le.Uint32(e[0:]), le.Uint32(e[4:]))
		if err != nil {
			return nil, err
		}
		exp := Export{Name: name, Segment: le.Uint32(e[8:]), Offset: le.Uint64(e[16:])}
		if int(exp.Segment) >= len(img.Segments) {
			return nil, status.Errorf(status.InvalidFormat, "entry point %q references segment %d of %d", exp.Name, exp.Segment, len(img.Segments))
		}
		seg := img.Segments[exp.Segment]
		if exp.Offset >= seg.MemSize {
			return nil, status.Errorf(status.InvalidFormat, "entry point %q offset %d outside segment of size %d", exp.Name, exp.Offset, seg.MemSize)
		}
		if seg.Perms&PermExec == 0 {
			return nil, status.Errorf(status.InvalidFormat, "entry point %q in non-executable segment %d", exp.Name, exp.Segment)
		}
		img.Exports[i] = exp
	}

	img.Relocs = make([]Relocation, relCount)
	for i := range img.Relocs {
		e := b[uint64(relOff)+uint64(i)*relocSize:]
		rel := Relocation{
			Kind:    RelocKind(le.Uint32(e[0:])),
			Segment: le.Uint32(e[4:]),
			Offset:  le.Uint64(e[8:]),
			Addend:  int64(le.Uint64(e[40:])),
		}
		symSeg := le.Uint32(e[16:])
		if symSeg == externalSymSeg {
			name, err := stringRef(strTab, le.Uint32(e[20:]), le.Uint32(e[24:]))
			if err != nil {
				return nil, err
			}
			if name == "" {
				return nil, status.Errorf(status.InvalidFormat, "relocation %d has empty external symbol name", i)
			}
			rel.Sym = SymbolRef{Name: name}
		} else {
			rel.Sym = SymbolRef{Internal: true, Segment: symSeg, Offset: le.Uint64(e[32:])}
			if int(symSeg) >= len(img.Segments) {
				return nil, status.Errorf(status.InvalidFormat, "relocation %d symbol references segment %d of %d", i, symSeg, len(img.Segments))
			}
			if rel.Sym.Offset > img.Segments[symSeg].MemSize {
				return nil, status.Errorf(status.InvalidFormat, "relocation %d symbol offset %d outside segment of size %d", i, rel.Sym.Offset, img.Segments[symSeg].MemSize)
			}
		}
		if rel.Kind == RelocInvalid || rel.Kind > RelocRISCVLO12I {
			return nil, status.Errorf(status.InvalidFormat, "relocation %d has unknown kind %d", i, uint32(rel.Kind))
		}
		if int(rel.Segment) >= len(img.Segments) {
			return nil, status.Errorf(status.InvalidFormat, "relocation %d targets segment %d of %d", i, rel.Segment, len(img.Segments))
		}
		if rel.Offset >= img.Segments[rel.Segment].MemSize {
			return nil, status.Errorf(status.InvalidFormat, "relocation %d offset %d outside segment of size %d", i, rel.Offset, img.Segments[rel.Segment].MemSize)
		}
		img.Relocs[i] = rel
	}

	return img, nil
}

// MappedSize returns the total size of the mapping the image requires,
// i.e. the end of the highest segment.
func (img *Image) MappedSize() uint64 {
	var end uint64
	for _, seg := range img.Segments {
		if segEnd := seg.VirtOffset + seg.MemSize; segEnd > end {
			end = segEnd
		}
	}
	return end
}

func checkTable(what string, off, count, entrySize uint32, bufLen int) error {
	end := uint64(off) + uint64(count)*uint64(entrySize)
	if end > uint64(bufLen) {
		return status.Errorf(status.InvalidFormat, "%s table [%d,%d) out of bounds (%d bytes)", what, off, end, bufLen)
	}
	return nil
}

func validateSegment(i int, seg Segment, bufLen int) error {
	if seg.MemSize == 0 {
		return status.Errorf(status.InvalidFormat, "segment %d has zero size", i)
	}
	// The end address feeds MappedSize and the overlap check; a wrapping
	// range would slip past both and index the mapping out of bounds.
	if seg.VirtOffset+seg.MemSize < seg.VirtOffset {
		return status.Errorf(status.InvalidFormat, "segment %d range 0x%x+0x%x overflows", i, seg.VirtOffset, seg.MemSize)
	}
	if uint64(seg.FileSize) > seg.MemSize {
		return status.Errorf(status.InvalidFormat, "segment %d file size %d exceeds mem size %d", i, seg.FileSize, seg.MemSize)
	}
	if end := uint64(seg.FileOffset) + uint64(seg.FileSize); end > uint64(bufLen) {
		return status.Errorf(status.InvalidFormat, "segment %d bytes [%d,%d) out of bounds (%d bytes)", i, seg.FileOffset, end, bufLen)
	}
	if seg.Perms&^(PermRead|PermWrite|PermExec) != 0 {
		return status.Errorf(status.InvalidFormat, "segment %d has unknown permission bits 0x%x", i, uint32(seg.Perms))
	}
	// Writable+executable is rejected outright: the loader guarantees W^X
	// for the lifetime of the mapping.
	if seg.Perms&PermWrite != 0 && seg.Perms&PermExec != 0 {
		return status.Errorf(status.InvalidFormat, "segment %d is writable and executable", i)
	}
	return nil
}

func checkSegmentOverlap(segs []Segment) error {
	for i, a := range segs {
		for j, b := range segs[:i] {
			if a.VirtOffset < b.VirtOffset+b.MemSize && b.VirtOffset < a.VirtOffset+a.MemSize {
				return status.Errorf(status.InvalidFormat, "segments %d and %d overlap", j, i)
			}
		}
	}
	return nil
}

func stringRef(strTab []byte, off, length uint32) (string, error) {
	end := uint64(off) + uint64(length)
	if end > uint64(len(strTab)) {
		return "", status.Errorf(status.InvalidFormat, "string ref [%d,%d) outside string table (%d bytes)", off, end, len(strTab))
	}
	return string(strTab[off:end]), nil
}
