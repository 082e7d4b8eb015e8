// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

//go:build !amd64 && !arm64

package ukernel

func registerArchTiles(r *tileRegistry) {}
