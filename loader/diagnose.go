// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"encoding/hex"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/riscv64/riscv64asm"
	"golang.org/x/arch/x86/x86asm"
)

// describeInstruction decodes the instruction at the start of code for error
// messages, falling back to a hex dump when decoding fails. Only used on
// failure paths; never in the load fast path.
func describeInstruction(arch Arch, code []byte) string {
	if len(code) > 16 {
		code = code[:16]
	}
	switch arch {
	case ArchX86_64:
		if inst, err := x86asm.Decode(code, 64); err == nil {
			return inst.String()
		}
	case ArchARM64:
		if len(code) >= 4 {
			if inst, err := arm64asm.Decode(code[:4]); err == nil {
				return inst.String()
			}
		}
	case ArchRISCV32, ArchRISCV64:
		if len(code) >= 4 {
			if inst, err := riscv64asm.Decode(code[:4]); err == nil {
				return inst.String()
			}
		}
	}
	return "bytes " + hex.EncodeToString(code)
}
