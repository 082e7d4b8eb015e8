// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"encoding/binary"
	"os"

	"github.com/gomlx/exceptions"
)

// ImageBuilder assembles a relocatable image in the format ParseImage
// consumes. The compiler emits images directly; this builder exists for
// runtime-side tooling and tests that need to synthesize small images.
type ImageBuilder struct {
	arch     Arch
	segments []Segment
	payloads [][]byte
	exports  []Export
	relocs   []Relocation
	nextVirt uint64
}

// NewImageBuilder returns a builder for the given target architecture.
func NewImageBuilder(arch Arch) *ImageBuilder {
	return &ImageBuilder{arch: arch}
}

// AddSegment appends a segment with the given initialized bytes, mapped
// size and permissions, and returns its index. A memSize of 0 uses
// len(data). Virtual offsets are assigned sequentially, page-aligned.
func (b *ImageBuilder) AddSegment(data []byte, memSize uint64, perms Perm) int {
	if memSize == 0 {
		memSize = uint64(len(data))
	}
	if memSize < uint64(len(data)) {
		exceptions.Panicf("ImageBuilder.AddSegment: memSize %d < %d data bytes", memSize, len(data))
	}
	page := uint64(os.Getpagesize())
	seg := Segment{
		VirtOffset: b.nextVirt,
		MemSize:    memSize,
		FileSize:   uint32(len(data)),
		Perms:      perms,
	}
	b.nextVirt += (memSize + page - 1) &^ (page - 1)
	b.segments = append(b.segments, seg)
	b.payloads = append(b.payloads, data)
	return len(b.segments) - 1
}

// AddExport registers an entry point. Ordinals follow insertion order.
func (b *ImageBuilder) AddExport(name string, segment int, offset uint64) {
	b.exports = append(b.exports, Export{Name: name, Segment: uint32(segment), Offset: offset})
}

// AddReloc appends a relocation. Relocations apply in insertion order.
func (b *ImageBuilder) AddReloc(r Relocation) {
	b.relocs = append(b.relocs, r)
}

// Build serializes the image.
func (b *ImageBuilder) Build() []byte {
	var strTab []byte
	strOffs := make(map[string]uint32)
	internString := func(s string) (off, length uint32) {
		if s == "" {
			return 0, 0
		}
		if off, ok := strOffs[s]; ok {
			return off, uint32(len(s))
		}
		off = uint32(len(strTab))
		strOffs[s] = off
		strTab = append(strTab, s...)
		return off, uint32(len(s))
	}
	for _, e := range b.exports {
		internString(e.Name)
	}
	for _, r := range b.relocs {
		internString(r.Sym.Name)
	}

	segOff := uint32(headerSize)
	expOff := segOff + uint32(len(b.segments))*segmentSize
	relOff := expOff + uint32(len(b.exports))*exportSize
	strOff := relOff + uint32(len(b.relocs))*relocSize
	payloadOff := strOff + uint32(len(strTab))

	size := uint64(payloadOff)
	for _, p := range b.payloads {
		size += uint64(len(p))
	}
	out := make([]byte, size)
	le := binary.LittleEndian

	le.PutUint32(out[0:], imageMagic)
	le.PutUint16(out[4:], imageVersion)
	le.PutUint16(out[6:], uint16(b.arch))
	le.PutUint32(out[8:], segOff)
	le.PutUint32(out[12:], uint32(len(b.segments)))
	le.PutUint32(out[16:], expOff)
	le.PutUint32(out[20:], uint32(len(b.exports)))
	le.PutUint32(out[24:], relOff)
	le.PutUint32(out[28:], uint32(len(b.relocs)))
	le.PutUint32(out[32:], strOff)
	le.PutUint32(out[36:], uint32(len(strTab)))

	fileOff := payloadOff
	for i, seg := range b.segments {
		e := out[uint64(segOff)+uint64(i)*segmentSize:]
		le.PutUint64(e[0:], seg.VirtOffset)
		le.PutUint64(e[8:], seg.MemSize)
		le.PutUint32(e[16:], fileOff)
		le.PutUint32(e[20:], seg.FileSize)
		le.PutUint32(e[24:], uint32(seg.Perms))
		copy(out[fileOff:], b.payloads[i])
		fileOff += seg.FileSize
	}

	for i, exp := range b.exports {
		e := out[uint64(expOff)+uint64(i)*exportSize:]
		nameOff, nameLen := internString(exp.Name)
		le.PutUint32(e[0:], nameOff)
		le.PutUint32(e[4:], nameLen)
		le.PutUint32(e[8:], exp.Segment)
		le.PutUint64(e[16:], exp.Offset)
	}

	for i, rel := range b.relocs {
		e := out[uint64(relOff)+uint64(i)*relocSize:]
		le.PutUint32(e[0:], uint32(rel.Kind))
		le.PutUint32(e[4:], rel.Segment)
		le.PutUint64(e[8:], rel.Offset)
		if rel.Sym.Internal {
			le.PutUint32(e[16:], rel.Sym.Segment)
			le.PutUint64(e[32:], rel.Sym.Offset)
		} else {
			nameOff, nameLen := internString(rel.Sym.Name)
			le.PutUint32(e[16:], externalSymSeg)
			le.PutUint32(e[20:], nameOff)
			le.PutUint32(e[24:], nameLen)
		}
		le.PutUint64(e[40:], uint64(rel.Addend))
	}

	copy(out[strOff:], strTab)
	return out
}
