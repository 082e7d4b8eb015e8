// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the typed error taxonomy shared by the loader, the
// micro-kernel engine and the HAL.
//
// Errors carry a Kind that callers can branch on, plus a stack trace courtesy
// of github.com/pkg/errors. All loading and validation failures in this
// module are reported through this package before any side effect happens.
package status

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error. The set is closed: new kinds require a design
// review since callers branch on them.
type Kind int

const (
	// Unknown is the kind of errors that did not originate in this module.
	Unknown Kind = iota

	// InvalidFormat indicates a malformed image or header.
	InvalidFormat

	// UnsupportedArchitecture indicates an image built for an architecture
	// this runtime cannot load or invoke.
	UnsupportedArchitecture

	// MalformedRelocation indicates an unpaired or unresolvable relocation.
	MalformedRelocation

	// ResourceExhausted indicates a mapping or scratch-buffer limit was hit.
	ResourceExhausted

	// InvalidArgument indicates kernel-parameter validation failed.
	InvalidArgument

	// NotFound indicates an entry-point lookup miss.
	NotFound

	// DeadlineExceeded indicates a bounded wait timed out. It is transient:
	// the wait may be retried, unlike a Fatal failure.
	DeadlineExceeded

	// Fatal indicates a non-recoverable failure, e.g. a poisoned semaphore
	// or a crash boundary that cannot be retried in-process.
	Fatal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case InvalidFormat:
		return "InvalidFormat"
	case UnsupportedArchitecture:
		return "UnsupportedArchitecture"
	case MalformedRelocation:
		return "MalformedRelocation"
	case ResourceExhausted:
		return "ResourceExhausted"
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	case Fatal:
		return "Fatal"
	}
	return "Kind(?)"
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return e.kind.String() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

// Errorf returns an error of the given kind with a formatted message and an
// attached stack trace.
func Errorf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: pkgerrors.Errorf(format, args...)}
}

// Wrapf annotates err with a kind and a message. If err is nil it returns nil.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: pkgerrors.Wrapf(err, format, args...)}
}

// KindOf returns the kind attached to err, walking the wrapping chain.
// It returns Unknown for nil or foreign errors.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
