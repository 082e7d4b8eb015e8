// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// Package must provides error-checking helpers for command-line tools that
// should fail loudly instead of propagating errors.
package must

import (
	"k8s.io/klog/v2"
)

// M logs and panics if `err` is not nil.
//
// M1 and M2 route through this variable, so a tool that prefers a different
// failure mode (os.Exit, log.Fatalf) can reassign it once.
var M = func(err error) {
	if err != nil {
		klog.Errorf("Must not error: %+v\nPanicking ...\n\n", err)
		panic(err)
	}
}

// M1 checks that there is no error with `M(err)` and then simply returns the value given.
func M1[T1 any](value1 T1, err error) T1 {
	M(err)
	return value1
}

// M2 checks that there is no error with `M(err)` and then simply returns the values given.
func M2[T1 any, T2 any](value1 T1, value2 T2, err error) (T1, T2) {
	M(err)
	return value1, value2
}
