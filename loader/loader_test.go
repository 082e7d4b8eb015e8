// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scottamain/iree-sub001/types/status"
)

// riscv64 lui t0, 0 / addi t0, t0, 0: the pair HI20/LO12 relocations patch.
var riscvLuiAddi = []byte{
	0xB7, 0x02, 0x00, 0x00,
	0x93, 0x82, 0x02, 0x00,
}

func buildSimpleImage(arch Arch, code []byte, perms Perm) []byte {
	b := NewImageBuilder(arch)
	b.AddSegment(code, 0, perms)
	return b.Build()
}

func TestParseImageRejectsCorruptImages(t *testing.T) {
	valid := buildSimpleImage(ArchX86_64, []byte{0xC3}, PermRead|PermExec)

	corrupt := func(mutate func(b []byte)) []byte {
		b := append([]byte(nil), valid...)
		mutate(b)
		return b
	}

	tests := []struct {
		name  string
		image []byte
		kind  status.Kind
	}{
		{"truncated", valid[:16], status.InvalidFormat},
		{"bad magic", corrupt(func(b []byte) { b[0] = 'X' }), status.InvalidFormat},
		{"bad version", corrupt(func(b []byte) { b[4] = 9 }), status.InvalidFormat},
		{"unknown arch", corrupt(func(b []byte) { b[6] = 0xEE }), status.UnsupportedArchitecture},
		{"segment table overrun", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint32(b[12:], 1<<20)
		}), status.InvalidFormat},
		{"string table overrun", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint32(b[36:], 1<<20)
		}), status.InvalidFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseImage(tc.image)
			require.Error(t, err)
			require.True(t, status.Is(err, tc.kind), "got %v", err)
		})
	}
}

func TestParseImageRejectsWritableExecutableSegment(t *testing.T) {
	image := buildSimpleImage(ArchX86_64, []byte{0xC3}, PermRead|PermWrite|PermExec)
	_, err := ParseImage(image)
	require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	require.ErrorContains(t, err, "writable and executable")
}

func TestParseImageRejectsOverlappingSegments(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment([]byte{0xC3}, 0, PermRead|PermExec)
	b.AddSegment([]byte{1, 2, 3}, 0, PermRead)
	image := b.Build()
	// Point the second segment at the first one's range.
	binary.LittleEndian.PutUint64(image[headerSize+segmentSize:], 0)
	_, err := ParseImage(image)
	require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	require.ErrorContains(t, err, "overlap")
}

func TestParseImageRejectsWrappingSegmentRange(t *testing.T) {
	image := buildSimpleImage(ArchX86_64, []byte{0xC3}, PermRead|PermExec)
	// A range whose end wraps around the address space would slip past the
	// mapping ceiling and the overlap check. VirtOffset stays page-aligned.
	binary.LittleEndian.PutUint64(image[headerSize:], 0xFFFFFFFFFFFFF000)
	binary.LittleEndian.PutUint64(image[headerSize+8:], 0x2000)
	_, err := ParseImage(image)
	require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	require.ErrorContains(t, err, "overflows")

	_, err = Load(image, Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
}

func TestParseImageRejectsBadExports(t *testing.T) {
	t.Run("non-executable segment", func(t *testing.T) {
		b := NewImageBuilder(ArchX86_64)
		b.AddSegment([]byte{1, 2, 3, 4}, 0, PermRead)
		b.AddExport("data_entry", 0, 0)
		_, err := ParseImage(b.Build())
		require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	})
	t.Run("offset outside segment", func(t *testing.T) {
		b := NewImageBuilder(ArchX86_64)
		b.AddSegment([]byte{0xC3}, 0, PermRead|PermExec)
		b.AddExport("main", 0, 4096)
		_, err := ParseImage(b.Build())
		require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	})
}

func TestParseImageRejectsBadRelocations(t *testing.T) {
	newBuilder := func() *ImageBuilder {
		b := NewImageBuilder(ArchX86_64)
		b.AddSegment(make([]byte, 16), 0, PermRead)
		return b
	}
	t.Run("unknown kind", func(t *testing.T) {
		b := newBuilder()
		b.AddReloc(Relocation{Kind: RelocKind(99), Segment: 0, Offset: 0,
			Sym: SymbolRef{Internal: true}})
		_, err := ParseImage(b.Build())
		require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	})
	t.Run("target segment out of range", func(t *testing.T) {
		b := newBuilder()
		b.AddReloc(Relocation{Kind: RelocAbs64, Segment: 7, Offset: 0,
			Sym: SymbolRef{Internal: true}})
		_, err := ParseImage(b.Build())
		require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	})
	t.Run("empty external symbol name", func(t *testing.T) {
		b := newBuilder()
		b.AddReloc(Relocation{Kind: RelocAbs64, Segment: 0, Offset: 0,
			Sym: SymbolRef{Name: ""}})
		_, err := ParseImage(b.Build())
		require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	})
}

// Every architecture's relocation table must be present on every host, or
// foreign images could not be inspected and verified.
func TestRelocatorsCoverAllArchitectures(t *testing.T) {
	for _, arch := range []Arch{ArchX86_64, ArchARM32, ArchARM64, ArchRISCV32, ArchRISCV64} {
		require.NotEmpty(t, relocators[arch], "%s", arch)
	}
}

func TestLoadRejectsArchMismatch(t *testing.T) {
	image := buildSimpleImage(ArchARM64, []byte{0xC0, 0x03, 0x5F, 0xD6}, PermRead|PermExec)
	_, err := Load(image, Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.UnsupportedArchitecture), "got %v", err)
}

func TestLoadRejectsEmptyImage(t *testing.T) {
	image := NewImageBuilder(ArchX86_64).Build()
	_, err := Load(image, Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
}

func TestLoadEnforcesMappingCeiling(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(nil, 1<<20, PermRead)
	_, err := Load(b.Build(), Options{Arch: ArchX86_64, MaxMappedSize: 4096})
	require.True(t, status.Is(err, status.ResourceExhausted), "got %v", err)
}

func TestLoadRejectsUnalignedSegment(t *testing.T) {
	image := buildSimpleImage(ArchX86_64, []byte{0xC3}, PermRead|PermExec)
	binary.LittleEndian.PutUint64(image[headerSize:], 8) // VirtOffset
	_, err := Load(image, Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.InvalidFormat), "got %v", err)
	require.ErrorContains(t, err, "aligned")
}

func TestLoadZeroFillsSegmentTail(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment([]byte{1, 2, 3}, 100, PermRead)
	exec, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.NoError(t, err)
	defer exec.Close()
	require.Equal(t, []byte{1, 2, 3}, exec.mem[:3])
	for i := 3; i < 100; i++ {
		require.Zero(t, exec.mem[i], "byte %d", i)
	}
}

func TestLoadAppliesAbs64(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(make([]byte, 16), 0, PermRead)
	b.AddReloc(Relocation{Kind: RelocAbs64, Segment: 0, Offset: 0,
		Sym: SymbolRef{Internal: true, Segment: 0, Offset: 0}, Addend: 16})
	exec, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.NoError(t, err)
	defer exec.Close()
	got := binary.LittleEndian.Uint64(exec.mem[0:])
	require.Equal(t, uint64(exec.base)+16, got)
}

func TestLoadAppliesAbs32External(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(make([]byte, 8), 0, PermRead)
	b.AddReloc(Relocation{Kind: RelocAbs32, Segment: 0, Offset: 4,
		Sym: SymbolRef{Name: "table_base"}, Addend: 8})
	exec, err := Load(b.Build(), Options{
		Arch:    ArchX86_64,
		Symbols: map[string]uintptr{"table_base": 0x1000},
	})
	require.NoError(t, err)
	defer exec.Close()
	require.Equal(t, uint32(0x1008), binary.LittleEndian.Uint32(exec.mem[4:]))
}

func TestLoadAbs32Overflow(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(make([]byte, 8), 0, PermRead)
	b.AddReloc(Relocation{Kind: RelocAbs32, Segment: 0, Offset: 0,
		Sym: SymbolRef{Name: "far"}})
	_, err := Load(b.Build(), Options{
		Arch:    ArchX86_64,
		Symbols: map[string]uintptr{"far": 1 << 33},
	})
	require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
}

func TestLoadAppliesPCRel32(t *testing.T) {
	// call rel32 at offset 0; the displacement patches bytes 1..5. With an
	// internal symbol the mapping base cancels out of the displacement.
	code := []byte{0xE8, 0, 0, 0, 0, 0xC3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xC3}
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(code, 0, PermRead|PermExec)
	b.AddReloc(Relocation{Kind: RelocPCRel32, Segment: 0, Offset: 1,
		Sym: SymbolRef{Internal: true, Segment: 0, Offset: 16}, Addend: -4})
	exec, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.NoError(t, err)
	defer exec.Close()
	got := int32(binary.LittleEndian.Uint32(exec.mem[1:]))
	require.Equal(t, int32(16-4-1), got)
}

func TestLoadPCRel32Overflow(t *testing.T) {
	code := []byte{0xE8, 0, 0, 0, 0, 0xC3}
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(code, 0, PermRead|PermExec)
	b.AddReloc(Relocation{Kind: RelocPCRel32, Segment: 0, Offset: 1,
		Sym: SymbolRef{Internal: true, Segment: 0, Offset: 0}, Addend: 1 << 40})
	_, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
	require.ErrorContains(t, err, "out of range")
}

func TestLoadRejectsPatchOverrun(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(make([]byte, 8), 0, PermRead)
	b.AddReloc(Relocation{Kind: RelocAbs64, Segment: 0, Offset: 4,
		Sym: SymbolRef{Internal: true}})
	_, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
	require.ErrorContains(t, err, "overruns")
}

func TestLoadRejectsKindForeignToArch(t *testing.T) {
	// HI20 is a RISC-V relocation; an x86-64 image carrying one is malformed.
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(make([]byte, 8), 0, PermRead)
	b.AddReloc(Relocation{Kind: RelocRISCVHI20, Segment: 0, Offset: 0,
		Sym: SymbolRef{Internal: true}})
	b.AddReloc(Relocation{Kind: RelocRISCVLO12I, Segment: 0, Offset: 4,
		Sym: SymbolRef{Internal: true}})
	_, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
	require.ErrorContains(t, err, "not valid for")
}

func buildRISCVPair(relocs ...Relocation) []byte {
	b := NewImageBuilder(ArchRISCV64)
	b.AddSegment(riscvLuiAddi, 0, PermRead|PermExec)
	b.AddExport("entry", 0, 0)
	for _, r := range relocs {
		b.AddReloc(r)
	}
	return b.Build()
}

func TestLoadAppliesRISCVHI20LO12Pair(t *testing.T) {
	const symAddr = 0x12345
	image := buildRISCVPair(
		Relocation{Kind: RelocRISCVHI20, Segment: 0, Offset: 0, Sym: SymbolRef{Name: "io_base"}},
		Relocation{Kind: RelocRISCVLO12I, Segment: 0, Offset: 4, Sym: SymbolRef{Name: "io_base"}},
	)
	exec, err := Load(image, Options{
		Arch:    ArchRISCV64,
		Symbols: map[string]uintptr{"io_base": symAddr},
	})
	require.NoError(t, err)
	defer exec.Close()

	lui := binary.LittleEndian.Uint32(exec.mem[0:])
	addi := binary.LittleEndian.Uint32(exec.mem[4:])
	wantHi := uint32((symAddr + 0x800) >> 12)
	require.Equal(t, uint32(0x2B7)|wantHi<<12, lui)
	wantLo := uint32(symAddr & 0xFFF)
	require.Equal(t, uint32(0x00028293)&^(uint32(0xFFF)<<20)|wantLo<<20, addi)

	// A foreign-architecture executable can be inspected but not invoked.
	if HostArch() != ArchRISCV64 {
		ep, err := exec.Lookup("entry")
		require.NoError(t, err)
		_, err = exec.Invoke(ep, nil)
		require.True(t, status.Is(err, status.UnsupportedArchitecture), "got %v", err)
	}
}

func TestLoadRejectsUnpairedRISCVRelocations(t *testing.T) {
	t.Run("HI20 without LO12", func(t *testing.T) {
		image := buildRISCVPair(
			Relocation{Kind: RelocRISCVHI20, Segment: 0, Offset: 0, Sym: SymbolRef{Name: "io_base"}},
		)
		_, err := Load(image, Options{Arch: ArchRISCV64,
			Symbols: map[string]uintptr{"io_base": 0x1000}})
		require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
		require.ErrorContains(t, err, "no paired LO12")
	})
	t.Run("LO12 without HI20", func(t *testing.T) {
		image := buildRISCVPair(
			Relocation{Kind: RelocRISCVLO12I, Segment: 0, Offset: 4, Sym: SymbolRef{Name: "io_base"}},
		)
		_, err := Load(image, Options{Arch: ArchRISCV64,
			Symbols: map[string]uintptr{"io_base": 0x1000}})
		require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
		require.ErrorContains(t, err, "no paired HI20")
	})
	t.Run("addend mismatch breaks the pair", func(t *testing.T) {
		image := buildRISCVPair(
			Relocation{Kind: RelocRISCVHI20, Segment: 0, Offset: 0, Sym: SymbolRef{Name: "io_base"}, Addend: 0},
			Relocation{Kind: RelocRISCVLO12I, Segment: 0, Offset: 4, Sym: SymbolRef{Name: "io_base"}, Addend: 4},
		)
		_, err := Load(image, Options{Arch: ArchRISCV64,
			Symbols: map[string]uintptr{"io_base": 0x1000}})
		require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
	})
}

func TestLoadRejectsHI20OnNonUTypeInstruction(t *testing.T) {
	b := NewImageBuilder(ArchRISCV64)
	// addi zero, zero, 0 (nop): not a lui/auipc, HI20 cannot target it.
	b.AddSegment([]byte{0x13, 0x00, 0x00, 0x00, 0x93, 0x82, 0x02, 0x00}, 0, PermRead|PermExec)
	b.AddReloc(Relocation{Kind: RelocRISCVHI20, Segment: 0, Offset: 0, Sym: SymbolRef{Name: "io_base"}})
	b.AddReloc(Relocation{Kind: RelocRISCVLO12I, Segment: 0, Offset: 4, Sym: SymbolRef{Name: "io_base"}})
	_, err := Load(b.Build(), Options{Arch: ArchRISCV64,
		Symbols: map[string]uintptr{"io_base": 0x1000}})
	require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
	require.ErrorContains(t, err, "U-type")
}

func TestLoadFailsOnUnresolvedExternalSymbol(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment(make([]byte, 8), 0, PermRead)
	b.AddReloc(Relocation{Kind: RelocAbs64, Segment: 0, Offset: 0,
		Sym: SymbolRef{Name: "missing_intrinsic"}})
	_, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.True(t, status.Is(err, status.MalformedRelocation), "got %v", err)
	require.ErrorContains(t, err, "missing_intrinsic")
}

func TestExecutableLookup(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment([]byte{0xC3, 0xC3}, 0, PermRead|PermExec)
	b.AddExport("first", 0, 0)
	b.AddExport("second", 0, 1)
	exec, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.NoError(t, err)
	defer exec.Close()

	require.Len(t, exec.EntryPoints(), 2)

	ep, err := exec.Lookup("second")
	require.NoError(t, err)
	require.Equal(t, 1, ep.Ordinal)
	require.Equal(t, exec.base+1, ep.Addr())

	byOrd, err := exec.LookupOrdinal(0)
	require.NoError(t, err)
	require.Equal(t, "first", byOrd.Name)

	_, err = exec.Lookup("third")
	require.True(t, status.Is(err, status.NotFound), "got %v", err)
	_, err = exec.LookupOrdinal(5)
	require.True(t, status.Is(err, status.NotFound), "got %v", err)
}

func TestLoadFinalizesPermissionStates(t *testing.T) {
	b := NewImageBuilder(ArchX86_64)
	b.AddSegment([]byte{0xC3}, 0, PermRead|PermExec)
	b.AddSegment([]byte{1, 2, 3}, 0, PermRead|PermWrite)
	exec, err := Load(b.Build(), Options{Arch: ArchX86_64})
	require.NoError(t, err)
	defer exec.Close()
	for i, seg := range exec.segments {
		require.Equal(t, segFinalized, seg.state, "segment %d", i)
		require.False(t, seg.perms&PermWrite != 0 && seg.perms&PermExec != 0, "segment %d is w+x", i)
	}
}

func TestExecutableCloseIsIdempotent(t *testing.T) {
	image := buildSimpleImage(ArchX86_64, []byte{0xC3}, PermRead|PermExec)
	exec, err := Load(image, Options{Arch: ArchX86_64})
	require.NoError(t, err)
	require.NoError(t, exec.Close())
	require.NoError(t, exec.Close())
}
