// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := WriteFile(t, dir, "a/b/c.lua", "return 1")
	if path != filepath.Join(dir, "a", "b", "c.lua") {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "return 1" {
		t.Errorf("content = %q, %v", data, err)
	}
}

func TestTempFile(t *testing.T) {
	path := TempFile(t, []byte("x"))
	if data, err := os.ReadFile(path); err != nil || string(data) != "x" {
		t.Errorf("content = %q, %v", data, err)
	}
}

func TestAssertErrorPasses(t *testing.T) {
	AssertError(t, errors.New("could not find require('x')"), true, "could not find")
	AssertError(t, nil, false, "")
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	WaitFor(t, time.Second, func() bool { return time.Since(start) > 20*time.Millisecond })
}
