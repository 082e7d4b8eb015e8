// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool bounds the parallelism used when the micro-kernel
// engine splits an outer loop nest across OS threads.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool is a soft limit on the number of concurrently running tasks.
type Pool struct {
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a Pool with the given soft parallelism target.
// maxParallelism <= 0 selects runtime.NumCPU().
func New(maxParallelism int) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the soft parallelism target.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// WaitToStart blocks until a worker slot is free, then runs task in its own
// goroutine. The caller is responsible for joining the task.
func (p *Pool) WaitToStart(task func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning >= p.maxParallelism {
		p.cond.Wait()
	}
	p.lockedStart(task)
}

// StartIfAvailable runs task in its own goroutine if a worker slot is free.
// It returns false, without running the task, if the pool is full.
func (p *Pool) StartIfAvailable(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.numRunning >= p.maxParallelism {
		return false
	}
	p.lockedStart(task)
	return true
}

// lockedStart must be called with p.mu held.
func (p *Pool) lockedStart(task func()) {
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}

// ParallelFor runs body(i) for i in [0, n) and returns when all calls are
// done. Iterations may run concurrently, bounded by the pool parallelism.
// With n <= 1 or a single-slot pool it runs inline.
func (p *Pool) ParallelFor(n int, body func(i int)) {
	if n <= 0 {
		return
	}
	if n == 1 || p.maxParallelism <= 1 {
		for i := 0; i < n; i++ {
			body(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		p.WaitToStart(func() {
			defer wg.Done()
			body(i)
		})
	}
	wg.Wait()
}
