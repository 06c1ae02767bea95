// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/stretchr/testify/require"
)

func TestLoggingEventListener(t *testing.T) {
	var log base.InMemLogger
	fs := vfs.NewMem()
	listener := MakeLoggingEventListener(&log)
	opts := &Options{EventListener: &listener}

	d := openTestDB(t, fs, opts)
	_, err := d.Store(&item{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	require.NoError(t, d.Rollback())
	require.NoError(t, d.Close())
	d = openTestDB(t, fs, opts)
	require.NoError(t, d.Close())

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	for _, prefix := range []string{
		"created db/objects: block size 8, freespace ram",
		"commit: ",
		"rollback: 0 changes, 0 new references dropped",
		"closed db/objects (",
		"freespace loaded: ",
		"opened db/objects: block size 8",
	} {
		found := false
		for _, l := range lines {
			if strings.HasPrefix(l, prefix) {
				found = true
				break
			}
		}
		require.True(t, found, "no line starting with %q in\n%s", prefix, log.String())
	}
	require.True(t, strings.HasPrefix(lines[0], "created "), lines[0])
	require.True(t, strings.HasPrefix(lines[len(lines)-1], "closed "), lines[len(lines)-1])
}

func TestEventInfoStrings(t *testing.T) {
	testCases := []struct {
		info     interface{ String() string }
		expected string
	}{
		{
			RecoveryInfo{Path: "x", LogAddress: 12, Pointers: 3},
			"recovered x: replayed 3 pointers from log at 12",
		},
		{
			RecoveryInfo{Path: "x", LogAddress: 12, Err: errors.New("bad log")},
			"recovery of x from log at 12 failed: bad log",
		},
		{
			CommitInfo{Pointers: 2, LogBytes: 24, Participants: 1},
			"commit: 2 pointers, log 24 B, 1 participants",
		},
		{
			CommitInfo{Err: errors.New("boom")},
			"commit error: boom",
		},
		{
			RollbackInfo{Changes: 4, References: 2},
			"rollback: 4 changes, 2 new references dropped",
		},
		{
			FreespaceInfo{Runs: 3, FreeBytes: 2048},
			"freespace loaded: 3 runs, 2.0 KB free",
		},
		{
			CloseInfo{Path: "x", FileSize: 100},
			"closed x (100 B)",
		},
	}
	for _, c := range testCases {
		require.Equal(t, c.expected, c.info.String())
	}
}

func TestTeeEventListener(t *testing.T) {
	var a, b []string
	tee := TeeEventListener(
		EventListener{
			Opened:    func(info OpenInfo) { a = append(a, "opened") },
			CommitEnd: func(info CommitInfo) { a = append(a, "commit") },
		},
		EventListener{
			Opened: func(info OpenInfo) { b = append(b, "opened") },
			Closed: func(info CloseInfo) { b = append(b, "closed") },
		},
	)
	d := openTestDB(t, vfs.NewMem(), &Options{EventListener: &tee})
	_, err := d.Store(&item{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	require.NoError(t, d.Close())
	// Close commits the default transaction once more.
	require.Equal(t, []string{"opened", "commit", "commit"}, a)
	require.Equal(t, []string{"opened", "closed"}, b)
}
