// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package loader loads compiler-produced relocatable images into the host
// process without touching the OS dynamic linker: no dlopen, no lazy
// binding, no search paths. An image is parsed and validated, its segments
// are mapped with W^X permission transitions, relocations are applied for
// the target architecture, and the result is an Executable whose entry
// points can be looked up and invoked.
//
// Loading is all-or-nothing: any failure, at any stage, leaves no memory
// mapped. Already-loaded Executables are safe for concurrent use; Load
// itself may be called concurrently for different images.
package loader

import (
	"os"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/scottamain/iree-sub001/types/status"
)

// DefaultMaxMappedSize bounds the total mapping of an image when the caller
// does not configure a ceiling, so a corrupt segment table cannot trigger an
// unbounded allocation.
const DefaultMaxMappedSize = 64 << 20

// Options configures a Load call.
type Options struct {
	// Arch the image must have been compiled for. Zero means the host
	// architecture; an Executable loaded for a foreign architecture can be
	// inspected but not invoked.
	Arch Arch

	// MaxMappedSize caps the total mapped size. Zero means
	// DefaultMaxMappedSize.
	MaxMappedSize uint64

	// Symbols resolves external symbol references (e.g. math intrinsics) to
	// runtime addresses. Consulted only during relocation.
	Symbols map[string]uintptr
}

// Load maps and relocates an image, returning an Executable that owns the
// mapping until Close.
func Load(image []byte, opts Options) (*Executable, error) {
	img, err := ParseImage(image)
	if err != nil {
		return nil, err
	}

	arch := opts.Arch
	if arch == ArchInvalid {
		arch = HostArch()
		if arch == ArchInvalid {
			return nil, status.Errorf(status.UnsupportedArchitecture, "host architecture cannot load images")
		}
	}
	if img.Arch != arch {
		return nil, status.Errorf(status.UnsupportedArchitecture, "image compiled for %s, loader expects %s", img.Arch, arch)
	}
	if len(img.Segments) == 0 {
		return nil, status.Errorf(status.InvalidFormat, "image has no segments")
	}

	// Relocation-table structural checks happen before any mapping so a
	// malformed table leaves nothing behind.
	if err := checkRISCVPairs(img.Relocs); err != nil {
		return nil, err
	}

	page := uint64(os.Getpagesize())
	for i, seg := range img.Segments {
		if seg.VirtOffset%page != 0 {
			return nil, status.Errorf(status.InvalidFormat, "segment %d virtual offset 0x%x not aligned to page size %d", i, seg.VirtOffset, page)
		}
	}

	maxMapped := opts.MaxMappedSize
	if maxMapped == 0 {
		maxMapped = DefaultMaxMappedSize
	}
	mappedSize := roundUp(img.MappedSize(), page)
	if mappedSize > maxMapped {
		return nil, status.Errorf(status.ResourceExhausted, "image maps %s, ceiling is %s",
			humanize.IBytes(mappedSize), humanize.IBytes(maxMapped))
	}

	// Map everything read-write; nothing is executable until all writes
	// are done (Unmapped -> Writable -> Finalized).
	mem, err := unix.Mmap(-1, 0, int(mappedSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, status.Wrapf(status.ResourceExhausted, err, "mapping %s", humanize.IBytes(mappedSize))
	}

	exec := &Executable{
		arch:     arch,
		mem:      mem,
		base:     uintptr(unsafe.Pointer(&mem[0])),
		segments: make([]loadedSegment, len(img.Segments)),
	}
	for i, seg := range img.Segments {
		copy(mem[seg.VirtOffset:seg.VirtOffset+uint64(seg.FileSize)],
			image[seg.FileOffset:uint64(seg.FileOffset)+uint64(seg.FileSize)])
		exec.segments[i] = loadedSegment{
			virt:  seg.VirtOffset,
			size:  seg.MemSize,
			perms: seg.Perms,
			state: segWritable,
		}
	}

	ctx := &relocContext{
		arch:      arch,
		mem:       mem,
		base:      exec.base,
		segVirt:   make([]uint64, len(img.Segments)),
		segSize:   make([]uint64, len(img.Segments)),
		externals: opts.Symbols,
	}
	for i, seg := range img.Segments {
		ctx.segVirt[i] = seg.VirtOffset
		ctx.segSize[i] = seg.MemSize
	}
	if err := applyRelocations(ctx, img.Relocs); err != nil {
		unmap(mem)
		return nil, err
	}

	if err := exec.finalizePermissions(page); err != nil {
		unmap(mem)
		return nil, err
	}

	exec.entries = make([]EntryPoint, len(img.Exports))
	exec.byName = make(map[string]int, len(img.Exports))
	for i, exp := range img.Exports {
		exec.entries[i] = EntryPoint{
			Name:    exp.Name,
			Ordinal: i,
			addr:    exec.base + uintptr(img.Segments[exp.Segment].VirtOffset+exp.Offset),
		}
		exec.byName[exp.Name] = i
	}

	klog.V(1).Infof("loader: loaded %s image: %d segments, %d relocations, %d entry points, %s mapped",
		arch, len(img.Segments), len(img.Relocs), len(img.Exports), humanize.IBytes(mappedSize))
	return exec, nil
}

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func unmap(mem []byte) {
	if err := unix.Munmap(mem); err != nil {
		klog.Errorf("loader: munmap failed: %v", err)
	}
}
