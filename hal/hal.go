// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package hal defines the device execution model of the runtime: devices
// expose ordered submission queues, work is recorded into command buffers,
// and cross-queue ordering is expressed exclusively through timeline
// semaphores.
//
// Drivers register themselves by name during package initialization; New
// resolves a driver from a configuration string or the RUNHAL_DRIVER
// environment variable. Importing a driver package for its side effect is
// how a binary opts into it:
//
//	import _ "github.com/scottamain/iree-sub001/hal/cpu"
package hal

import (
	"os"
	"strings"
	"time"
	"unsafe"

	"github.com/scottamain/iree-sub001/loader"
	"github.com/scottamain/iree-sub001/types/status"
	"github.com/scottamain/iree-sub001/ukernel"
)

// Device is one execution target. All methods are safe for concurrent use.
type Device interface {
	// Name returns the driver's short name, e.g. "cpu".
	Name() string

	// Params returns the validated parameters the device was created with.
	Params() DeviceParams

	// QueueCount returns the number of independent submission queues.
	QueueCount() int

	// Queue returns queue i in [0, QueueCount).
	Queue(i int) Queue

	// NewSemaphore creates a timeline semaphore at the given initial value.
	NewSemaphore(initial uint64) (Semaphore, error)

	// NewCommandBuffer creates an empty command buffer in the Recording
	// state.
	NewCommandBuffer(mode CommandBufferMode, flags CommandBufferFlags) (CommandBuffer, error)

	// Close drains the queues and releases device resources. Semaphores
	// created from the device fail permanently.
	Close() error
}

// Queue is one ordered submission stream of a device. Batches submitted to
// the same queue execute in FIFO order; batches on different queues are
// unordered except through semaphores.
type Queue interface {
	// Index returns the queue's position within its device.
	Index() int

	// Submit enqueues a batch. It returns once the batch is queued, not
	// once it has executed; completion is observed through the batch's
	// signal semaphores.
	Submit(batch SubmitBatch) error

	// WaitIdle blocks until every previously submitted batch has finished.
	WaitIdle() error
}

// SemaphoreValue pairs a semaphore with a timeline point.
type SemaphoreValue struct {
	Semaphore Semaphore
	Value     uint64
}

// SubmitBatch is one unit of queue submission: the batch's buffers execute
// in order after every wait is reached, then every signal is made visible.
// Work that happened before a Signal is visible to work after the
// corresponding Wait, on any queue.
type SubmitBatch struct {
	Waits   []SemaphoreValue
	Buffers []CommandBuffer
	Signals []SemaphoreValue
}

// Semaphore is a monotonic timeline counter shared between queues and the
// host.
type Semaphore interface {
	// Value returns the current payload, or the failure error if the
	// semaphore was failed.
	Value() (uint64, error)

	// Signal advances the payload to value. Signaling a value at or below
	// the current payload is an InvalidArgument error; the timeline never
	// moves backwards.
	Signal(value uint64) error

	// Fail poisons the semaphore permanently. Current and future waiters
	// observe a Fatal error carrying cause.
	Fail(cause error)

	// Wait blocks until the payload reaches value, the semaphore fails, or
	// timeout elapses. timeout <= 0 means wait forever. An elapsed timeout
	// is a DeadlineExceeded error, distinct from failure.
	Wait(value uint64, timeout time.Duration) error
}

// CommandBuffer records work for later execution on a queue. See
// CommandBufferState for the lifecycle. Recording methods return
// InvalidArgument once the buffer leaves Recording.
type CommandBuffer interface {
	Mode() CommandBufferMode
	Flags() CommandBufferFlags
	State() CommandBufferState

	// Dispatch records an entry-point call into exec with arg as its
	// argument block. arg must stay valid until execution completes.
	Dispatch(exec *loader.Executable, ep loader.EntryPoint, arg unsafe.Pointer) error

	// Mmt4d, Pack and Unpack record micro-kernel calls. Parameters are
	// captured by value at record time.
	Mmt4d(p ukernel.Mmt4dParams) error
	Pack(p ukernel.PackParams) error
	Unpack(p ukernel.UnpackParams) error

	// Fill writes the element pattern across dst; Copy copies src into dst.
	Fill(dst []byte, pattern uint64, elemSize int) error
	Copy(dst, src []byte) error

	// Update snapshots src into the buffer's recording storage at record
	// time and writes it to dst at execution time. src may be reused or
	// freed as soon as Update returns.
	Update(dst, src []byte) error

	// Call records an arbitrary host function. Mainly for tests and glue.
	Call(name string, fn func() error) error

	// Finalize ends recording. Graph buffers become immutable and
	// replayable; stream buffers become submittable exactly once.
	Finalize() error

	// Discard abandons the buffer and releases its recording storage. A
	// submitted buffer cannot be discarded while in flight.
	Discard() error
}

// Constructor builds a device from a driver-specific configuration string
// and validated device parameters.
type Constructor func(config string, params DeviceParams) (Device, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register makes a driver available under name. Call it from the driver
// package's init; later registrations under the same name replace earlier
// ones.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DriverEnvVar selects the default driver configuration. The format is
// "<driver>:<driver config>"; the config part is optional.
const DriverEnvVar = "RUNHAL_DRIVER"

// DefaultConfig is used by NewFromEnv when DriverEnvVar is unset.
var DefaultConfig string

// New creates a device from a "<driver>:<driver config>" string. An empty
// driver name selects the first registered driver.
func New(config string, params DeviceParams) (Device, error) {
	if len(registeredConstructors) == 0 {
		return nil, status.Errorf(status.NotFound, `no drivers registered; import one such as _ "github.com/scottamain/iree-sub001/hal/cpu"`)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	name := firstRegistered
	driverConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		driverConfig = config[idx+1:]
	} else if config != "" {
		name = config
		driverConfig = ""
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, status.Errorf(status.NotFound, "no driver %q registered (configuration %q)", name, config)
	}
	return constructor(driverConfig, params)
}

// NewFromEnv creates a device from DriverEnvVar, falling back to
// DefaultConfig and then to the first registered driver.
func NewFromEnv(params DeviceParams) (Device, error) {
	if config, found := os.LookupEnv(DriverEnvVar); found {
		return New(config, params)
	}
	return New(DefaultConfig, params)
}
