// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"runtime"
)

// Arch identifies the instruction-set architecture an image was compiled
// for. The set is closed: the loader never guesses about unknown tags.
type Arch uint16

const (
	ArchInvalid Arch = iota
	ArchX86_64
	ArchARM32
	ArchARM64
	ArchRISCV32
	ArchRISCV64
)

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM32:
		return "arm32"
	case ArchARM64:
		return "arm64"
	case ArchRISCV32:
		return "riscv32"
	case ArchRISCV64:
		return "riscv64"
	}
	return "invalid"
}

// PointerSize returns the target pointer size in bytes.
func (a Arch) PointerSize() int {
	switch a {
	case ArchARM32, ArchRISCV32:
		return 4
	default:
		return 8
	}
}

// HostArch returns the architecture this runtime was compiled for, or
// ArchInvalid if images cannot be executed on this host at all.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return ArchX86_64
	case "arm":
		return ArchARM32
	case "arm64":
		return ArchARM64
	case "riscv64":
		return ArchRISCV64
	}
	return ArchInvalid
}
