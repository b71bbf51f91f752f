// Package testutil provides the small assertion helpers the test suite
// uses throughout, in the same style as the teacher's
// tutils/tassert package (see fs/mountfs_test.go's usage).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package testutil

import (
	"testing"
)

// Errorf calls t.Errorf(msg, args...) unless cond is true.
func Errorf(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Errorf(msg, args...)
	}
}

// Fatalf calls t.Fatalf(msg, args...) unless cond is true.
func Fatalf(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

// CheckFatal fails the test immediately if err is non-nil, matching the
// teacher's own tassert.CheckFatal(t, err) signature.
func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
