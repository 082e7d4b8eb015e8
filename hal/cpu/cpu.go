// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements the hal driver that executes on the host CPU.
// Queues are backed by worker goroutines, micro-kernel commands run on a
// shared ukernel.Engine, and dispatch commands call into loaded executables.
//
// Import it for its side effect:
//
//	import _ "github.com/scottamain/iree-sub001/hal/cpu"
package cpu

import (
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/scottamain/iree-sub001/hal"
	"github.com/scottamain/iree-sub001/types/status"
	"github.com/scottamain/iree-sub001/ukernel"
)

// DriverName registers this driver with the hal registry.
const DriverName = "cpu"

func init() {
	hal.Register(DriverName, func(config string, params hal.DeviceParams) (hal.Device, error) {
		return NewDevice(config, params)
	})
}

type device struct {
	params hal.DeviceParams
	engine *ukernel.Engine
	queues []*queue

	mu         sync.Mutex
	closed     bool
	semaphores []*semaphore
}

// NewDevice creates a CPU device. config is a comma-separated key=value
// list; the only key is "parallelism", the worker-thread count of the
// micro-kernel engine (0 means one thread per CPU). Without it the engine
// runs micro-kernels on the queue worker alone.
func NewDevice(config string, params hal.DeviceParams) (hal.Device, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var engineOpts []ukernel.Option
	for _, kv := range strings.Split(config, ",") {
		if kv == "" {
			continue
		}
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case "parallelism":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, status.Errorf(status.InvalidArgument, "cpu: parallelism=%q is not a number", value)
			}
			engineOpts = append(engineOpts, ukernel.WithParallelism(n))
		default:
			return nil, status.Errorf(status.InvalidArgument, "cpu: unknown config key %q", key)
		}
	}
	d := &device{
		params: params,
		engine: ukernel.NewEngine(engineOpts...),
	}
	d.queues = make([]*queue, params.QueueCount)
	for i := range d.queues {
		d.queues[i] = newQueue(d, i)
	}
	klog.V(1).InfoS("cpu device created",
		"queues", params.QueueCount,
		"collectiveRank", params.CollectiveRank,
		"collectiveCount", params.CollectiveCount)
	return d, nil
}

func (d *device) Name() string { return DriverName }

func (d *device) Params() hal.DeviceParams { return d.params }

func (d *device) QueueCount() int { return len(d.queues) }

func (d *device) Queue(i int) hal.Queue {
	return d.queues[i]
}

func (d *device) NewSemaphore(initial uint64) (hal.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, status.Errorf(status.Fatal, "cpu: device is closed")
	}
	s := newSemaphore(initial)
	d.semaphores = append(d.semaphores, s)
	return s, nil
}

func (d *device) NewCommandBuffer(mode hal.CommandBufferMode, flags hal.CommandBufferFlags) (hal.CommandBuffer, error) {
	switch mode {
	case hal.CommandBufferGraph, hal.CommandBufferStream:
	default:
		return nil, status.Errorf(status.InvalidArgument, "cpu: unknown command buffer mode %s", mode)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, status.Errorf(status.Fatal, "cpu: device is closed")
	}
	return newCommandBuffer(d, mode, flags), nil
}

// Close fails all semaphores, drains every queue, and stops the workers so
// no waiter blocks forever.
func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	semaphores := d.semaphores
	d.semaphores = nil
	d.mu.Unlock()

	// Semaphores first: a worker parked in an unbounded wait is released
	// only by a signal or a failure, and shutdown joins the workers.
	cause := status.Errorf(status.Fatal, "cpu: device is closed")
	for _, s := range semaphores {
		s.failIfLive(cause)
	}
	for _, q := range d.queues {
		q.shutdown()
	}
	return nil
}

func (d *device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
