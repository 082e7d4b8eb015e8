// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"sync"
	"time"

	"github.com/scottamain/iree-sub001/types/status"
)

// semaphore is a host-side timeline semaphore. Waiters park on per-waiter
// channels so timeouts need no polling; Signal wakes exactly the waiters
// whose target has been reached.
type semaphore struct {
	mu      sync.Mutex
	value   uint64
	failure error
	waiters map[*semWaiter]struct{}
}

type semWaiter struct {
	target uint64
	done   chan struct{}
}

func newSemaphore(initial uint64) *semaphore {
	return &semaphore{
		value:   initial,
		waiters: make(map[*semWaiter]struct{}),
	}
}

func (s *semaphore) Value() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.failure
}

func (s *semaphore) Signal(value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if value <= s.value {
		return status.Errorf(status.InvalidArgument, "semaphore timeline cannot move from %d to %d", s.value, value)
	}
	s.value = value
	for w := range s.waiters {
		if w.target <= value {
			close(w.done)
			delete(s.waiters, w)
		}
	}
	return nil
}

func (s *semaphore) Fail(cause error) {
	if cause == nil {
		cause = status.Errorf(status.Fatal, "semaphore failed")
	} else if status.KindOf(cause) != status.Fatal {
		cause = status.Wrapf(status.Fatal, cause, "semaphore failed")
	}
	s.failIfLive(cause)
}

// failIfLive poisons the semaphore unless it already failed. cause must
// carry the Fatal kind.
func (s *semaphore) failIfLive(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return
	}
	s.failure = cause
	for w := range s.waiters {
		close(w.done)
		delete(s.waiters, w)
	}
}

func (s *semaphore) Wait(value uint64, timeout time.Duration) error {
	s.mu.Lock()
	if s.failure != nil {
		err := s.failure
		s.mu.Unlock()
		return err
	}
	if s.value >= value {
		s.mu.Unlock()
		return nil
	}
	w := &semWaiter{target: value, done: make(chan struct{})}
	s.waiters[w] = struct{}{}
	s.mu.Unlock()

	if timeout <= 0 {
		<-w.done
		return s.wakeResult()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return s.wakeResult()
	case <-timer.C:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-w.done:
		// Signaled or failed between timer fire and lock acquisition.
		if s.failure != nil {
			return s.failure
		}
		return nil
	default:
	}
	delete(s.waiters, w)
	return status.Errorf(status.DeadlineExceeded, "semaphore did not reach %d within %s (at %d)", value, timeout, s.value)
}

// wakeResult distinguishes a satisfied wake from a failure wake.
func (s *semaphore) wakeResult() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}
