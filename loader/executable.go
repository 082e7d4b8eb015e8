// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/scottamain/iree-sub001/internal/ffi"
	"github.com/scottamain/iree-sub001/types/status"
)

// segState tracks a segment through the W^X permission state machine.
// A segment is never writable and executable at the same time.
type segState int

const (
	segUnmapped segState = iota
	segWritable
	segFinalized
)

type loadedSegment struct {
	virt  uint64
	size  uint64
	perms Perm
	state segState
}

// EntryPoint is an exported, invocable address within a loaded image.
// It stays valid until the owning Executable is closed.
type EntryPoint struct {
	Name    string
	Ordinal int
	addr    uintptr
}

// Addr returns the entry point's absolute address. Useful when handing it to
// another loaded image as an external symbol.
func (ep EntryPoint) Addr() uintptr {
	return ep.addr
}

// Executable owns one loaded image: its mapped segments and resolved entry
// points. Lookups and invocations of different entry points may run
// concurrently; code segments are immutable after load. Close releases the
// mapping exactly once.
type Executable struct {
	arch     Arch
	mem      []byte
	base     uintptr
	segments []loadedSegment
	entries  []EntryPoint
	byName   map[string]int

	mu     sync.Mutex
	closed bool
}

// Arch returns the architecture the image was loaded for.
func (e *Executable) Arch() Arch {
	return e.arch
}

// EntryPoints returns the full export table in ordinal order.
func (e *Executable) EntryPoints() []EntryPoint {
	return e.entries
}

// Lookup finds an entry point by name.
func (e *Executable) Lookup(name string) (EntryPoint, error) {
	if i, ok := e.byName[name]; ok {
		return e.entries[i], nil
	}
	return EntryPoint{}, status.Errorf(status.NotFound, "no entry point %q", name)
}

// LookupOrdinal finds an entry point by its export-table index.
func (e *Executable) LookupOrdinal(ordinal int) (EntryPoint, error) {
	if ordinal < 0 || ordinal >= len(e.entries) {
		return EntryPoint{}, status.Errorf(status.NotFound, "no entry point with ordinal %d (have %d)", ordinal, len(e.entries))
	}
	return e.entries[ordinal], nil
}

// Invoke calls an entry point as `int32 fn(void* arg)` and returns the
// callee's result.
//
// This crosses into foreign machine code: a crash inside the callee is fatal
// to the process, not a recoverable error. Callers needing crash containment
// must sandbox at the process boundary. Invoking entry points of an image
// loaded for a foreign architecture fails with UnsupportedArchitecture.
func (e *Executable) Invoke(ep EntryPoint, arg unsafe.Pointer) (int32, error) {
	if e.arch != HostArch() || !ffi.Supported() {
		return 0, status.Errorf(status.UnsupportedArchitecture, "cannot invoke %s code on this host", e.arch)
	}
	if e.isClosed() {
		return 0, status.Errorf(status.Fatal, "executable is closed")
	}
	return ffi.CallIP(ep.addr, arg), nil
}

// Close releases the mapped segments. The Executable and all its entry
// points are invalid afterwards. Close is idempotent.
func (e *Executable) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for i := range e.segments {
		e.segments[i].state = segUnmapped
	}
	mem := e.mem
	e.mem = nil
	return unix.Munmap(mem)
}

func (e *Executable) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// finalizePermissions moves every segment from Writable to its final
// protection. Executable segments become read-execute only after all
// relocation writes are done; no segment is ever writable and executable
// simultaneously.
func (e *Executable) finalizePermissions(page uint64) error {
	for i := range e.segments {
		seg := &e.segments[i]
		if seg.state != segWritable {
			return status.Errorf(status.Fatal, "segment %d finalized from state %d", i, seg.state)
		}
		prot := unix.PROT_READ
		if seg.perms&PermWrite != 0 {
			prot |= unix.PROT_WRITE
		}
		if seg.perms&PermExec != 0 {
			prot |= unix.PROT_EXEC
		}
		window := e.mem[seg.virt : seg.virt+roundUp(seg.size, page)]
		if err := unix.Mprotect(window, prot); err != nil {
			return status.Wrapf(status.ResourceExhausted, err, "protecting segment %d as %s", i, seg.perms)
		}
		seg.state = segFinalized
	}
	return nil
}
