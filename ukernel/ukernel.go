// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package ukernel executes the performance-critical tensor primitives of the
// runtime: tiled matrix-multiply-accumulate (Mmt4d) and tiled pack/unpack
// with padding.
//
// Both operations share one design: exhaustive validation up front, an
// early-exit policy for degenerate shapes, then a shape-driven generic outer
// loop nest around an architecture-selected inner tile routine. The tile
// routine is the only architecture-specialized unit; it is resolved once per
// call from an explicit registry, never per tile, and the hot loop is
// infallible given validated parameters.
package ukernel

import (
	"github.com/scottamain/iree-sub001/internal/workerspool"
)

// Engine dispatches micro-kernel calls. Its tile registries are built once
// at construction and read-only afterwards, so a constructed Engine is safe
// for concurrent use.
type Engine struct {
	tiles *tileRegistry
	pool  *workerspool.Pool
}

// Option configures NewEngine.
type Option func(*Engine)

// WithParallelism lets Mmt4d split its outer loop across up to n OS
// threads. n <= 0 selects the CPU count. Without this option the engine
// runs single-threaded.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		e.pool = workerspool.New(n)
	}
}

// NewEngine builds an Engine with the generic tile routines plus whatever
// architecture-specific routines this build registers. Construction is not
// reentrant with use; share the constructed Engine instead.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{tiles: newTileRegistry()}
	registerGenericTiles(e.tiles)
	registerArchTiles(e.tiles)
	e.tiles.sort()
	for _, opt := range opts {
		opt(e)
	}
	return e
}
