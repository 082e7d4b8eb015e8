// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToNumCPU(t *testing.T) {
	require.Equal(t, runtime.NumCPU(), New(0).MaxParallelism())
	require.Equal(t, 3, New(3).MaxParallelism())
}

func TestParallelForRunsEveryIteration(t *testing.T) {
	p := New(4)
	const n = 100
	var hits [n]int32
	p.ParallelFor(n, func(i int) {
		atomic.AddInt32(&hits[i], 1)
	})
	for i, h := range hits {
		require.Equal(t, int32(1), h, "iteration %d", i)
	}
}

func TestParallelForBoundsConcurrency(t *testing.T) {
	const limit = 3
	p := New(limit)
	var running, peak int32
	p.ParallelFor(64, func(int) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
	})
	require.LessOrEqual(t, peak, int32(limit))
}

func TestSinglePoolRunsInline(t *testing.T) {
	p := New(1)
	var order []int
	p.ParallelFor(5, func(i int) { order = append(order, i) })
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestStartIfAvailable(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, p.StartIfAvailable(func() {
		defer wg.Done()
		<-block
	}))
	require.False(t, p.StartIfAvailable(func() {}))
	close(block)
	wg.Wait()
}
