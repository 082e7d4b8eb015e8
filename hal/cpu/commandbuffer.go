// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"encoding/binary"
	"sync"
	"unsafe"

	pkgerrors "github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/scottamain/iree-sub001/hal"
	"github.com/scottamain/iree-sub001/internal/arena"
	"github.com/scottamain/iree-sub001/loader"
	"github.com/scottamain/iree-sub001/types/status"
	"github.com/scottamain/iree-sub001/ukernel"
)

type command struct {
	name string
	run  func(d *device) error
}

// commandBuffer records commands into a per-buffer arena and replays them on
// a queue worker. Validation happens at record time; execution only runs
// pre-validated closures.
type commandBuffer struct {
	dev   *device
	mode  hal.CommandBufferMode
	flags hal.CommandBufferFlags

	mu       sync.Mutex
	state    hal.CommandBufferState
	commands []command
	rec      *arena.Arena
}

func newCommandBuffer(d *device, mode hal.CommandBufferMode, flags hal.CommandBufferFlags) *commandBuffer {
	return &commandBuffer{
		dev:   d,
		mode:  mode,
		flags: flags,
		state: hal.CommandBufferRecording,
		rec:   arena.New(d.params.ArenaBlockSize),
	}
}

func (c *commandBuffer) Mode() hal.CommandBufferMode   { return c.mode }
func (c *commandBuffer) Flags() hal.CommandBufferFlags { return c.flags }

func (c *commandBuffer) State() hal.CommandBufferState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *commandBuffer) record(name string, run func(d *device) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != hal.CommandBufferRecording {
		return status.Errorf(status.InvalidArgument, "cannot record into a %s command buffer", c.state)
	}
	c.commands = append(c.commands, command{name: name, run: run})
	return nil
}

func (c *commandBuffer) Dispatch(exec *loader.Executable, ep loader.EntryPoint, arg unsafe.Pointer) error {
	if exec == nil {
		return status.Errorf(status.InvalidArgument, "dispatch: nil executable")
	}
	return c.record("dispatch "+ep.Name, func(*device) error {
		ret, err := exec.Invoke(ep, arg)
		if err != nil {
			return err
		}
		if ret != 0 {
			return status.Errorf(status.Unknown, "entry point %q returned %d", ep.Name, ret)
		}
		return nil
	})
}

func (c *commandBuffer) Mmt4d(p ukernel.Mmt4dParams) error {
	return c.record("mmt4d "+p.Type.String(), func(d *device) error {
		return d.engine.Mmt4d(&p)
	})
}

func (c *commandBuffer) Pack(p ukernel.PackParams) error {
	return c.record("pack "+p.Type.String(), func(d *device) error {
		return d.engine.Pack(&p)
	})
}

func (c *commandBuffer) Unpack(p ukernel.UnpackParams) error {
	return c.record("unpack "+p.Type.String(), func(d *device) error {
		return d.engine.Unpack(&p)
	})
}

func (c *commandBuffer) Fill(dst []byte, pattern uint64, elemSize int) error {
	switch elemSize {
	case 1, 2, 4, 8:
	default:
		return status.Errorf(status.InvalidArgument, "fill: element size %d not in {1,2,4,8}", elemSize)
	}
	if len(dst)%elemSize != 0 {
		return status.Errorf(status.InvalidArgument, "fill: %d bytes is not a multiple of element size %d", len(dst), elemSize)
	}
	return c.record("fill", func(*device) error {
		fillPattern(dst, pattern, elemSize)
		return nil
	})
}

func (c *commandBuffer) Copy(dst, src []byte) error {
	if len(dst) != len(src) {
		return status.Errorf(status.InvalidArgument, "copy: dst %d bytes, src %d bytes", len(dst), len(src))
	}
	return c.record("copy", func(*device) error {
		copy(dst, src)
		return nil
	})
}

func (c *commandBuffer) Update(dst, src []byte) error {
	if len(dst) != len(src) {
		return status.Errorf(status.InvalidArgument, "update: dst %d bytes, src %d bytes", len(dst), len(src))
	}
	c.mu.Lock()
	if c.state != hal.CommandBufferRecording {
		c.mu.Unlock()
		return status.Errorf(status.InvalidArgument, "cannot record into a %s command buffer", c.state)
	}
	// Snapshot into the recording arena so the caller may reuse src.
	snapshot := c.rec.Allocate(len(src))
	copy(snapshot, src)
	c.commands = append(c.commands, command{name: "update", run: func(*device) error {
		copy(dst, snapshot)
		return nil
	}})
	c.mu.Unlock()
	return nil
}

func (c *commandBuffer) Call(name string, fn func() error) error {
	if fn == nil {
		return status.Errorf(status.InvalidArgument, "call: nil function")
	}
	return c.record("call "+name, func(*device) error {
		return fn()
	})
}

func (c *commandBuffer) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != hal.CommandBufferRecording {
		return status.Errorf(status.InvalidArgument, "cannot finalize a %s command buffer", c.state)
	}
	c.state = hal.CommandBufferFinalized
	return nil
}

func (c *commandBuffer) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == hal.CommandBufferSubmitted {
		return status.Errorf(status.InvalidArgument, "cannot discard a command buffer in flight")
	}
	c.state = hal.CommandBufferDiscarded
	c.commands = nil
	c.rec.Reset()
	return nil
}

// reserve claims the buffer for one submission.
func (c *commandBuffer) reserve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case hal.CommandBufferFinalized:
		c.state = hal.CommandBufferSubmitted
		return nil
	case hal.CommandBufferRecording:
		return status.Errorf(status.InvalidArgument, "command buffer was not finalized")
	case hal.CommandBufferSubmitted:
		return status.Errorf(status.InvalidArgument, "command buffer is already in flight")
	case hal.CommandBufferCompleted:
		return status.Errorf(status.InvalidArgument, "stream command buffer was already executed")
	default:
		return status.Errorf(status.InvalidArgument, "cannot submit a %s command buffer", c.state)
	}
}

// unreserve returns a reserved buffer that never executed to Finalized.
func (c *commandBuffer) unreserve() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == hal.CommandBufferSubmitted {
		c.state = hal.CommandBufferFinalized
	}
}

// finish records execution completion: graph buffers become replayable
// again, stream buffers are spent and drop their recording storage.
func (c *commandBuffer) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != hal.CommandBufferSubmitted {
		return
	}
	if c.mode == hal.CommandBufferGraph {
		c.state = hal.CommandBufferFinalized
		return
	}
	c.state = hal.CommandBufferCompleted
	c.commands = nil
	c.rec.Reset()
}

// execute runs the recorded commands in order. The caller holds the
// buffer's Submitted reservation, so commands cannot change underneath.
func (c *commandBuffer) execute(d *device) error {
	c.mu.Lock()
	commands := c.commands
	c.mu.Unlock()
	for i, cmd := range commands {
		if d.params.StreamTracing {
			klog.V(2).InfoS("executing command", "index", i, "name", cmd.name, "mode", c.mode)
		}
		if err := cmd.run(d); err != nil {
			return pkgerrors.Wrapf(err, "command %d (%s)", i, cmd.name)
		}
	}
	return nil
}

// inlineEligible reports whether this buffer may run on the submitting
// goroutine.
func (c *commandBuffer) inlineEligible() bool {
	return c.mode == hal.CommandBufferStream && c.flags&hal.CommandBufferFlagAllowInline != 0
}

func fillPattern(dst []byte, pattern uint64, elemSize int) {
	var elem [8]byte
	binary.LittleEndian.PutUint64(elem[:], pattern)
	if elemSize == 1 || allBytesEqual(elem[:elemSize]) {
		b := elem[0]
		for i := range dst {
			dst[i] = b
		}
		return
	}
	for off := 0; off < len(dst); off += elemSize {
		copy(dst[off:off+elemSize], elem[:elemSize])
	}
}

func allBytesEqual(b []byte) bool {
	for _, v := range b[1:] {
		if v != b[0] {
			return false
		}
	}
	return true
}
