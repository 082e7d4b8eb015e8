// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/scottamain/iree-sub001/hal"
	"github.com/scottamain/iree-sub001/types/status"
)

// queue executes submissions in FIFO order on a dedicated worker goroutine.
// Execution errors never surface through Submit; they propagate by failing
// the batch's signal semaphores.
type queue struct {
	dev   *device
	index int

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []submission
	pending int
	closed  bool

	done chan struct{}
}

type submission struct {
	batch   hal.SubmitBatch
	buffers []*commandBuffer
}

func newQueue(d *device, index int) *queue {
	q := &queue{dev: d, index: index, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

func (q *queue) Index() int { return q.index }

func (q *queue) Submit(batch hal.SubmitBatch) error {
	buffers := make([]*commandBuffer, len(batch.Buffers))
	for i, b := range batch.Buffers {
		cb, ok := b.(*commandBuffer)
		if !ok || cb.dev != q.dev {
			return status.Errorf(status.InvalidArgument, "batch buffer %d does not belong to this device", i)
		}
		buffers[i] = cb
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return status.Errorf(status.Fatal, "cpu: device is closed")
	}
	for i, cb := range buffers {
		if err := cb.reserve(); err != nil {
			for _, reserved := range buffers[:i] {
				reserved.unreserve()
			}
			q.mu.Unlock()
			return err
		}
	}
	sub := submission{batch: batch, buffers: buffers}

	// Inline execution may not overtake queued work, so it requires an
	// idle queue on top of device and buffer consent.
	inline := q.dev.params.AllowInlineExecution && q.pending == 0 &&
		allInlineEligible(buffers) && waitsSatisfied(batch.Waits)
	q.pending++
	if !inline {
		q.backlog = append(q.backlog, sub)
		q.cond.Signal()
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	q.run(sub)
	q.taskDone()
	return nil
}

func (q *queue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.cond.Wait()
	}
	return nil
}

// shutdown drains the backlog and stops the worker. Idempotent.
func (q *queue) shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *queue) worker() {
	for {
		q.mu.Lock()
		for len(q.backlog) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.backlog) == 0 {
			q.mu.Unlock()
			close(q.done)
			return
		}
		sub := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		q.run(sub)
		q.taskDone()
	}
}

func (q *queue) taskDone() {
	q.mu.Lock()
	q.pending--
	q.cond.Broadcast()
	q.mu.Unlock()
}

// run executes one submission: waits, buffers in order, then signals.
// Any failure fails the signal semaphores so downstream waiters unblock
// with the cause instead of hanging.
func (q *queue) run(sub submission) {
	for _, w := range sub.batch.Waits {
		if err := w.Semaphore.Wait(w.Value, 0); err != nil {
			q.fail(sub, 0, err)
			return
		}
	}
	for i, cb := range sub.buffers {
		err := cb.execute(q.dev)
		cb.finish()
		if err != nil {
			q.fail(sub, i+1, err)
			return
		}
	}
	for _, s := range sub.batch.Signals {
		if err := s.Semaphore.Signal(s.Value); err != nil {
			klog.ErrorS(err, "semaphore signal rejected", "queue", q.index, "value", s.Value)
		}
	}
}

// fail aborts a submission: buffers from index from on are released
// unexecuted and every signal semaphore is poisoned with cause.
func (q *queue) fail(sub submission, from int, cause error) {
	klog.ErrorS(cause, "batch execution failed", "queue", q.index)
	for _, cb := range sub.buffers[from:] {
		cb.unreserve()
	}
	for _, s := range sub.batch.Signals {
		s.Semaphore.Fail(cause)
	}
}

func allInlineEligible(buffers []*commandBuffer) bool {
	for _, cb := range buffers {
		if !cb.inlineEligible() {
			return false
		}
	}
	return true
}

func waitsSatisfied(waits []hal.SemaphoreValue) bool {
	for _, w := range waits {
		v, err := w.Semaphore.Value()
		if err != nil || v < w.Value {
			return false
		}
	}
	return true
}
