// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package ukernel

import (
	"sort"

	"github.com/gomlx/exceptions"
)

// Tile routine selection is a pure function of the validated parameters:
// entries are consulted in descending priority and the first match wins. The
// generic routines match everything, so selection never fails after
// validation.

const (
	priorityGeneric = 0
	priorityArch    = 100
)

// mmt4dTileFunc computes one M0xN0 output tile: out += (or =) lhsPanel times
// rhsPanel transposed, reducing over k steps of K0. Slices start at the
// tile/panel base and extend to the end of their buffer.
type mmt4dTileFunc func(out, lhsPanel, rhsPanel []byte, k int, flags Mmt4dFlags, p *Mmt4dParams)

type mmt4dTileEntry struct {
	priority int
	matches  func(p *Mmt4dParams) bool
	fn       mmt4dTileFunc
}

// packTileFunc packs numTiles consecutive tiles from one row chunk.
// in holds tileSize0 rows of numTiles*tileSize1 valid elements with row
// stride inStride0 (all element counts); tile t goes to
// out[t*outTileStride*elemSize:], each element (t0,t1) of the tile landing
// at interior offset t0*innerStride0 + t1*innerStride1.
type packTileFunc func(out, in []byte, numTiles, outTileStride, inStride0, elemSize, tileSize0, tileSize1, innerStride0, innerStride1 int)

type packTileEntry struct {
	priority int
	matches  func(l *packLayout) bool
	fn       packTileFunc
}

type tileRegistry struct {
	mmt4d map[Mmt4dType][]mmt4dTileEntry
	pack  map[PackType][]packTileEntry
	done  bool
}

func newTileRegistry() *tileRegistry {
	return &tileRegistry{
		mmt4d: make(map[Mmt4dType][]mmt4dTileEntry),
		pack:  make(map[PackType][]packTileEntry),
	}
}

func (r *tileRegistry) registerMmt4d(t Mmt4dType, priority int, matches func(*Mmt4dParams) bool, fn mmt4dTileFunc) {
	if r.done {
		exceptions.Panicf("ukernel: tile registered after registry was sealed")
	}
	r.mmt4d[t] = append(r.mmt4d[t], mmt4dTileEntry{priority: priority, matches: matches, fn: fn})
}

func (r *tileRegistry) registerPack(t PackType, priority int, matches func(*packLayout) bool, fn packTileFunc) {
	if r.done {
		exceptions.Panicf("ukernel: tile registered after registry was sealed")
	}
	r.pack[t] = append(r.pack[t], packTileEntry{priority: priority, matches: matches, fn: fn})
}

// sort seals the registry, ordering entries by descending priority.
// Registration order breaks ties, so the generic fallback stays last.
func (r *tileRegistry) sort() {
	for _, entries := range r.mmt4d {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
	}
	for _, entries := range r.pack {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
	}
	r.done = true
}

// selectMmt4dTile resolves the tile routine for validated parameters.
func (r *tileRegistry) selectMmt4dTile(p *Mmt4dParams) mmt4dTileFunc {
	for _, e := range r.mmt4d[p.Type] {
		if e.matches == nil || e.matches(p) {
			return e.fn
		}
	}
	// Unreachable: validation guarantees a registered type and the generic
	// routine matches everything.
	exceptions.Panicf("ukernel: no mmt4d tile routine for %s", p.Type)
	return nil
}

// selectPackTile resolves the tile routine for a validated pack layout.
func (r *tileRegistry) selectPackTile(t PackType, l *packLayout) packTileFunc {
	for _, e := range r.pack[t] {
		if e.matches == nil || e.matches(l) {
			return e.fn
		}
	}
	exceptions.Panicf("ukernel: no pack tile routine for %s", t)
	return nil
}
