// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package hal

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/scottamain/iree-sub001/internal/arena"
	"github.com/scottamain/iree-sub001/types/status"
)

// CommandBufferMode selects how a command buffer may be executed.
type CommandBufferMode int

const (
	// CommandBufferGraph records once and replays any number of times
	// after Finalize.
	CommandBufferGraph CommandBufferMode = iota
	// CommandBufferStream is single-use: recorded, submitted once,
	// then spent.
	CommandBufferStream
)

// String implements fmt.Stringer.
func (m CommandBufferMode) String() string {
	switch m {
	case CommandBufferGraph:
		return "graph"
	case CommandBufferStream:
		return "stream"
	}
	return fmt.Sprintf("CommandBufferMode(%d)", int(m))
}

// CommandBufferFlags carry per-buffer execution hints.
type CommandBufferFlags uint32

const (
	// CommandBufferFlagAllowInline marks a stream buffer eligible for
	// inline execution on the submitting goroutine. It takes effect only
	// when the device also sets AllowInlineExecution.
	CommandBufferFlagAllowInline CommandBufferFlags = 1 << iota
)

// CommandBufferState is the lifecycle of a command buffer.
//
// Recording -> Finalized -> Submitted -> Completed. Graph buffers return to
// Finalized after completion and may be submitted again; stream buffers stay
// Completed. Discard is terminal from Recording, Finalized or Completed.
type CommandBufferState int

const (
	CommandBufferRecording CommandBufferState = iota
	CommandBufferFinalized
	CommandBufferSubmitted
	CommandBufferCompleted
	CommandBufferDiscarded
)

// String implements fmt.Stringer.
func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferRecording:
		return "recording"
	case CommandBufferFinalized:
		return "finalized"
	case CommandBufferSubmitted:
		return "submitted"
	case CommandBufferCompleted:
		return "completed"
	case CommandBufferDiscarded:
		return "discarded"
	}
	return fmt.Sprintf("CommandBufferState(%d)", int(s))
}

// CollectiveIDSize is the size of the opaque collective-group identifier,
// matching the wire size used by collective communication libraries.
const CollectiveIDSize = 128

// DeviceParams configures device creation. The zero value is not usable;
// start from DefaultDeviceParams.
type DeviceParams struct {
	// QueueCount is the number of independent submission queues.
	QueueCount int

	// ArenaBlockSize is the block size of the per-buffer recording arenas.
	ArenaBlockSize int

	// AllowInlineExecution permits eligible stream buffers to execute on
	// the submitting goroutine instead of a queue worker.
	AllowInlineExecution bool

	// StreamTracing logs each executed command at verbosity 2.
	StreamTracing bool

	// CollectiveID identifies the collective group this device joins.
	// Devices in one group must share the ID. The default is freshly
	// generated, placing the device in a group of its own.
	CollectiveID [CollectiveIDSize]byte

	// CollectiveRank and CollectiveCount position the device within its
	// group. Defaults are rank 0 of 1.
	CollectiveRank  int
	CollectiveCount int
}

// DefaultDeviceParams returns a single-queue configuration with a unique
// collective identity.
func DefaultDeviceParams() DeviceParams {
	p := DeviceParams{
		QueueCount:      1,
		ArenaBlockSize:  arena.DefaultBlockSize,
		CollectiveRank:  0,
		CollectiveCount: 1,
	}
	id := uuid.New()
	copy(p.CollectiveID[:], id[:])
	return p
}

// Validate reports the first invalid field as InvalidArgument.
func (p DeviceParams) Validate() error {
	if p.QueueCount < 1 {
		return status.Errorf(status.InvalidArgument, "device params: queue count %d < 1", p.QueueCount)
	}
	if p.ArenaBlockSize < 1 {
		return status.Errorf(status.InvalidArgument, "device params: arena block size %d < 1", p.ArenaBlockSize)
	}
	if p.CollectiveCount < 1 {
		return status.Errorf(status.InvalidArgument, "device params: collective count %d < 1", p.CollectiveCount)
	}
	if p.CollectiveRank < 0 || p.CollectiveRank >= p.CollectiveCount {
		return status.Errorf(status.InvalidArgument, "device params: collective rank %d outside [0,%d)", p.CollectiveRank, p.CollectiveCount)
	}
	return nil
}
