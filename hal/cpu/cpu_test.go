// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/scottamain/iree-sub001/hal"
	"github.com/scottamain/iree-sub001/types/status"
	"github.com/scottamain/iree-sub001/ukernel"
)

const waitTimeout = 5 * time.Second

func newTestDevice(t *testing.T, mutate func(p *hal.DeviceParams)) hal.Device {
	t.Helper()
	params := hal.DefaultDeviceParams()
	if mutate != nil {
		mutate(&params)
	}
	d, err := NewDevice("", params)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newStreamBuffer(t *testing.T, d hal.Device) hal.CommandBuffer {
	t.Helper()
	cb, err := d.NewCommandBuffer(hal.CommandBufferStream, 0)
	require.NoError(t, err)
	return cb
}

func TestNewDeviceConfig(t *testing.T) {
	params := hal.DefaultDeviceParams()
	d, err := NewDevice("parallelism=2", params)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = NewDevice("bogus=1", params)
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
	_, err = NewDevice("parallelism=lots", params)
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)

	params.QueueCount = 0
	_, err = NewDevice("", params)
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
}

func TestSemaphoreSignalAndWait(t *testing.T) {
	d := newTestDevice(t, nil)
	sem, err := d.NewSemaphore(0)
	require.NoError(t, err)

	v, err := sem.Value()
	require.NoError(t, err)
	require.Zero(t, v)

	require.NoError(t, sem.Signal(3))
	v, err = sem.Value()
	require.NoError(t, err)
	require.Equal(t, uint64(3), v)

	// Already-reached targets return immediately.
	require.NoError(t, sem.Wait(2, waitTimeout))

	// The timeline never moves backwards or stalls in place.
	err = sem.Signal(3)
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
	err = sem.Signal(1)
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
}

func TestSemaphoreWaitTimeout(t *testing.T) {
	d := newTestDevice(t, nil)
	sem, err := d.NewSemaphore(0)
	require.NoError(t, err)

	err = sem.Wait(1, 20*time.Millisecond)
	require.True(t, status.Is(err, status.DeadlineExceeded), "got %v", err)
	// A timeout is not a failure; the semaphore keeps working.
	require.NoError(t, sem.Signal(1))
	require.NoError(t, sem.Wait(1, waitTimeout))
}

func TestSemaphoreFailPoisonsWaiters(t *testing.T) {
	d := newTestDevice(t, nil)
	sem, err := d.NewSemaphore(0)
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() { waitErr <- sem.Wait(10, waitTimeout) }()

	sem.Fail(errors.New("device lost"))
	err = <-waitErr
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
	require.ErrorContains(t, err, "device lost")

	// The poison is permanent and visible everywhere.
	err = sem.Wait(10, waitTimeout)
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
	err = sem.Signal(11)
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
	_, err = sem.Value()
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
}

func TestCommandBufferStateMachine(t *testing.T) {
	d := newTestDevice(t, nil)
	cb := newStreamBuffer(t, d)
	require.Equal(t, hal.CommandBufferRecording, cb.State())

	require.NoError(t, cb.Call("noop", func() error { return nil }))
	require.NoError(t, cb.Finalize())
	require.Equal(t, hal.CommandBufferFinalized, cb.State())

	err := cb.Call("late", func() error { return nil })
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
	err = cb.Finalize()
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)

	// Submitting an unfinalized buffer is rejected.
	raw := newStreamBuffer(t, d)
	err = d.Queue(0).Submit(hal.SubmitBatch{Buffers: []hal.CommandBuffer{raw}})
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
	require.NoError(t, raw.Discard())
	require.Equal(t, hal.CommandBufferDiscarded, raw.State())
}

func TestGraphBufferReplays(t *testing.T) {
	d := newTestDevice(t, nil)
	cb, err := d.NewCommandBuffer(hal.CommandBufferGraph, 0)
	require.NoError(t, err)

	count := 0
	require.NoError(t, cb.Call("count", func() error { count++; return nil }))
	require.NoError(t, cb.Finalize())

	q := d.Queue(0)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(hal.SubmitBatch{Buffers: []hal.CommandBuffer{cb}}))
		require.NoError(t, q.WaitIdle())
	}
	require.Equal(t, 3, count)
	require.Equal(t, hal.CommandBufferFinalized, cb.State())
}

func TestStreamBufferIsSingleUse(t *testing.T) {
	d := newTestDevice(t, nil)
	cb := newStreamBuffer(t, d)
	require.NoError(t, cb.Call("noop", func() error { return nil }))
	require.NoError(t, cb.Finalize())

	q := d.Queue(0)
	require.NoError(t, q.Submit(hal.SubmitBatch{Buffers: []hal.CommandBuffer{cb}}))
	require.NoError(t, q.WaitIdle())
	require.Equal(t, hal.CommandBufferCompleted, cb.State())

	err := q.Submit(hal.SubmitBatch{Buffers: []hal.CommandBuffer{cb}})
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
}

// Work submitted before a Signal must be visible to work submitted on
// another queue after the matching Wait.
func TestSemaphoreOrdersAcrossQueues(t *testing.T) {
	d := newTestDevice(t, func(p *hal.DeviceParams) { p.QueueCount = 2 })
	sem, err := d.NewSemaphore(0)
	require.NoError(t, err)
	done, err := d.NewSemaphore(0)
	require.NoError(t, err)

	data := make([]byte, 4)
	var snapshot []byte

	producer := newStreamBuffer(t, d)
	require.NoError(t, producer.Update(data, []byte{1, 2, 3, 4}))
	require.NoError(t, producer.Finalize())
	consumer := newStreamBuffer(t, d)
	require.NoError(t, consumer.Call("read", func() error {
		snapshot = append([]byte(nil), data...)
		return nil
	}))
	require.NoError(t, consumer.Finalize())

	// Submit the consumer first so it actually has to wait.
	require.NoError(t, d.Queue(1).Submit(hal.SubmitBatch{
		Waits:   []hal.SemaphoreValue{{Semaphore: sem, Value: 1}},
		Buffers: []hal.CommandBuffer{consumer},
		Signals: []hal.SemaphoreValue{{Semaphore: done, Value: 1}},
	}))
	require.NoError(t, d.Queue(0).Submit(hal.SubmitBatch{
		Buffers: []hal.CommandBuffer{producer},
		Signals: []hal.SemaphoreValue{{Semaphore: sem, Value: 1}},
	}))

	require.NoError(t, done.Wait(1, waitTimeout))
	require.Equal(t, []byte{1, 2, 3, 4}, snapshot)
}

func TestInlineExecution(t *testing.T) {
	d := newTestDevice(t, func(p *hal.DeviceParams) { p.AllowInlineExecution = true })
	cb, err := d.NewCommandBuffer(hal.CommandBufferStream, hal.CommandBufferFlagAllowInline)
	require.NoError(t, err)

	ran := false
	require.NoError(t, cb.Call("mark", func() error { ran = true; return nil }))
	require.NoError(t, cb.Finalize())
	require.NoError(t, d.Queue(0).Submit(hal.SubmitBatch{Buffers: []hal.CommandBuffer{cb}}))
	// Inline execution completes before Submit returns.
	require.True(t, ran)
	require.Equal(t, hal.CommandBufferCompleted, cb.State())
}

func TestBatchFailurePoisonsSignals(t *testing.T) {
	d := newTestDevice(t, nil)
	sem, err := d.NewSemaphore(0)
	require.NoError(t, err)

	cb := newStreamBuffer(t, d)
	require.NoError(t, cb.Call("explode", func() error { return errors.New("kaboom") }))
	require.NoError(t, cb.Finalize())

	require.NoError(t, d.Queue(0).Submit(hal.SubmitBatch{
		Buffers: []hal.CommandBuffer{cb},
		Signals: []hal.SemaphoreValue{{Semaphore: sem, Value: 1}},
	}))
	err = sem.Wait(1, waitTimeout)
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
	require.ErrorContains(t, err, "kaboom")
}

func TestDataCommands(t *testing.T) {
	d := newTestDevice(t, nil)
	cb, err := d.NewCommandBuffer(hal.CommandBufferGraph, 0)
	require.NoError(t, err)

	filled := make([]byte, 16)
	copied := make([]byte, 4)
	updated := make([]byte, 4)
	src := []byte{9, 9, 9, 9}
	staged := []byte{5, 6, 7, 8}

	require.NoError(t, cb.Fill(filled, uint64(math.Float32bits(1)), 4))
	require.NoError(t, cb.Copy(copied, src))
	require.NoError(t, cb.Update(updated, staged))
	// The update source is snapshotted at record time.
	staged[0] = 0xFF
	require.NoError(t, cb.Finalize())

	q := d.Queue(0)
	require.NoError(t, q.Submit(hal.SubmitBatch{Buffers: []hal.CommandBuffer{cb}}))
	require.NoError(t, q.WaitIdle())

	for off := 0; off < 16; off += 4 {
		require.Equal(t, []byte{0, 0, 0x80, 0x3F}, filled[off:off+4])
	}
	require.Equal(t, []byte{9, 9, 9, 9}, copied)
	require.Equal(t, []byte{5, 6, 7, 8}, updated)

	err = cb.Fill(make([]byte, 5), 0, 4)
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
	err = cb.Copy(make([]byte, 2), make([]byte, 3))
	require.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
}

func TestMmt4dCommand(t *testing.T) {
	d := newTestDevice(t, nil)
	mk := func() ukernel.Mmt4dParams {
		p := ukernel.Mmt4dParams{
			Type: ukernel.Mmt4dF32F32F32,
			M:    2, N: 2, K: 2,
			M0: 2, N0: 2, K0: 2,
		}
		p.LhsStride = p.K * p.M0 * p.K0
		p.RhsStride = p.K * p.N0 * p.K0
		p.OutStride = p.N * p.M0 * p.N0
		p.Lhs = make([]byte, 4*p.M*p.LhsStride)
		p.Rhs = make([]byte, 4*p.N*p.RhsStride)
		p.Out = make([]byte, 4*p.M*p.OutStride)
		for i := range p.Lhs {
			p.Lhs[i] = byte(i % 3)
			p.Rhs[i%len(p.Rhs)] = byte(i % 5)
		}
		return p
	}

	direct := mk()
	require.NoError(t, ukernel.NewEngine().Mmt4d(&direct))

	queued := mk()
	cb := newStreamBuffer(t, d)
	require.NoError(t, cb.Mmt4d(queued))
	require.NoError(t, cb.Finalize())
	q := d.Queue(0)
	require.NoError(t, q.Submit(hal.SubmitBatch{Buffers: []hal.CommandBuffer{cb}}))
	require.NoError(t, q.WaitIdle())
	require.Equal(t, direct.Out, queued.Out)
}

// A worker parked in an unbounded semaphore wait is released only by a
// signal or a failure; Close must fail the semaphores before it joins the
// workers, or an in-flight batch would deadlock it.
func TestCloseUnblocksBlockedWorker(t *testing.T) {
	d := newTestDevice(t, nil)
	gate, err := d.NewSemaphore(0)
	require.NoError(t, err)
	done, err := d.NewSemaphore(0)
	require.NoError(t, err)

	cb := newStreamBuffer(t, d)
	require.NoError(t, cb.Call("noop", func() error { return nil }))
	require.NoError(t, cb.Finalize())
	require.NoError(t, d.Queue(0).Submit(hal.SubmitBatch{
		Waits:   []hal.SemaphoreValue{{Semaphore: gate, Value: 1}},
		Buffers: []hal.CommandBuffer{cb},
		Signals: []hal.SemaphoreValue{{Semaphore: done, Value: 1}},
	}))

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Close did not return while a batch waited on an unsignaled semaphore")
	}

	// The batch's signal semaphore carries the failure instead of hanging.
	err = done.Wait(1, waitTimeout)
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
}

func TestDeviceCloseFailsResources(t *testing.T) {
	d := newTestDevice(t, nil)
	sem, err := d.NewSemaphore(0)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	err = sem.Wait(1, waitTimeout)
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
	err = d.Queue(0).Submit(hal.SubmitBatch{})
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
	_, err = d.NewSemaphore(0)
	require.True(t, status.Is(err, status.Fatal), "got %v", err)
	_, err = d.NewCommandBuffer(hal.CommandBufferStream, 0)
	require.True(t, status.Is(err, status.Fatal), "got %v", err)

	require.NoError(t, d.Close())
}
