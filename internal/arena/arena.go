// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package arena implements a block-based bump allocator for transient
// allocations made while recording command buffers.
//
// Blocks of a fixed size are allocated on demand and reused after Reset, so
// the Go heap is not hit per recorded command. The arena is not safe for
// concurrent use; each command buffer owns its own.
package arena

import (
	"github.com/gomlx/exceptions"
)

// DefaultBlockSize is used when the caller does not configure one.
const DefaultBlockSize = 32 * 1024

// alignment for all allocations.
const alignment = 8

// Arena allocates byte slices by bumping an offset within fixed-size blocks.
type Arena struct {
	blockSize int
	blocks    [][]byte
	current   int // Index of the block being bumped.
	offset    int // Bump offset within the current block.

	// oversized holds dedicated blocks for requests larger than blockSize.
	// They are dropped on Reset rather than reused.
	oversized [][]byte
}

// New returns an Arena with the given block size. Sizes <= 0 use
// DefaultBlockSize.
func New(blockSize int) *Arena {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Arena{blockSize: blockSize, current: -1}
}

// BlockSize returns the configured block size.
func (a *Arena) BlockSize() int {
	return a.blockSize
}

// Allocate returns a zeroed slice of the given size from the arena.
// Requests larger than the block size get a dedicated block.
func (a *Arena) Allocate(size int) []byte {
	if size < 0 {
		exceptions.Panicf("arena.Allocate: negative size %d", size)
	}
	if size > a.blockSize {
		block := make([]byte, size)
		a.oversized = append(a.oversized, block)
		return block
	}
	aligned := (a.offset + alignment - 1) &^ (alignment - 1)
	if a.current < 0 || aligned+size > a.blockSize {
		a.grow()
		aligned = 0
	}
	buf := a.blocks[a.current][aligned : aligned+size : aligned+size]
	a.offset = aligned + size
	clear(buf)
	return buf
}

// grow moves to the next block, allocating one if none is free for reuse.
func (a *Arena) grow() {
	a.current++
	a.offset = 0
	if a.current == len(a.blocks) {
		a.blocks = append(a.blocks, make([]byte, a.blockSize))
	}
}

// Reset makes all blocks available for reuse. Slices returned by Allocate
// must not be used after Reset.
func (a *Arena) Reset() {
	a.current = -1
	a.offset = 0
	a.oversized = nil
}

// AllocatedBytes returns the total capacity currently held by the arena.
func (a *Arena) AllocatedBytes() int {
	total := 0
	for _, b := range a.blocks {
		total += len(b)
	}
	for _, b := range a.oversized {
		total += len(b)
	}
	return total
}
