// Copyright 2014 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package vfs_test

import (
	"bytes"
	"flag"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/slotdb/vfs"
	"github.com/stretchr/testify/require"
)

var lockFilename = flag.String("lockfile", "", "File to lock. A non-empty value implies a child process.")

func spawn(prog, filename string) ([]byte, error) {
	return exec.Command(prog, "-lockfile", filename, "-test.v",
		"-test.run=TestLockAcrossProcesses$").CombinedOutput()
}

// TestLockAcrossProcesses holds the lock of a database file while a child
// process tries to take it, then releases it and has another child take it.
func TestLockAcrossProcesses(t *testing.T) {
	child := *lockFilename != ""
	var filename string
	if child {
		filename = *lockFilename
	} else {
		filename = filepath.Join(t.TempDir(), "objects.lock")
	}

	t.Logf("Locking: %s", filename)
	lock, err := vfs.Default.Lock(filename)
	if err != nil {
		t.Fatalf("Could not lock %s: %v", filename, err)
	}

	if !child {
		t.Logf("Spawning child, should fail to grab lock.")
		out, err := spawn(os.Args[0], filename)
		if err == nil {
			t.Fatalf("Attempt to grab open lock should have failed.\n%s", out)
		}
		if !bytes.Contains(out, []byte("Could not lock")) {
			t.Fatalf("Child failed with unexpected output: %s", out)
		}
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Could not unlock %s: %v", filename, err)
	}

	if !child {
		if out, err := spawn(os.Args[0], filename); err != nil {
			t.Fatalf("Attempt to re-open lock should have succeeded: %v\n%s", err, out)
		}
	}
}

func TestLockSameProcess(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "objects.lock")
	lock1, err := vfs.Default.Lock(filename)
	require.NoError(t, err)

	// fcntl would grant this; the process-wide table must not.
	_, err = vfs.Default.Lock(filename)
	require.Error(t, err)

	require.NoError(t, lock1.Close())
	lock2, err := vfs.Default.Lock(filename)
	require.NoError(t, err)
	require.NoError(t, lock2.Close())
}

func TestMemFSLock(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("db", 0755))
	lock, err := fs.Lock("db/objects.lock")
	require.NoError(t, err)
	_, err = fs.Lock("db/objects.lock")
	require.Error(t, err)
	other, err := fs.Lock("db/other.lock")
	require.NoError(t, err)
	require.NoError(t, other.Close())

	require.NoError(t, lock.Close())
	lock, err = fs.Lock("db/objects.lock")
	require.NoError(t, err)
	require.NoError(t, lock.Close())
}
