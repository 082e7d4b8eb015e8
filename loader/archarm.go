// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

package loader

// arm64Relocs returns the relocation kinds valid for ARM64 images.
// Compiler output is position independent; absolute addresses flow through
// data-section relocations, PC-relative through code.
func arm64Relocs() map[RelocKind]applyFunc {
	return map[RelocKind]applyFunc{
		RelocAbs32:   applyAbs32,
		RelocAbs64:   applyAbs64,
		RelocPCRel32: applyPCRel32,
	}
}

// arm32Relocs returns the relocation kinds valid for ARM32 images.
// No 64-bit stores on a 32-bit target.
func arm32Relocs() map[RelocKind]applyFunc {
	return map[RelocKind]applyFunc{
		RelocAbs32:   applyAbs32,
		RelocPCRel32: applyPCRel32,
	}
}
