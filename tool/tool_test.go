// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/cockroachdb/slotdb"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

type toolItem struct {
	Name string
	Next *toolItem
}

const toolTestPath = "db/objects"

func makeToolTestDB(t *testing.T, fs vfs.FS) []int32 {
	require.NoError(t, fs.MkdirAll("db", 0755))
	d, err := slotdb.Open(toolTestPath, &slotdb.Options{FS: fs, Logger: base.NoopLogger{}})
	require.NoError(t, err)
	head := &toolItem{Name: "a", Next: &toolItem{Name: "b", Next: &toolItem{Name: "c"}}}
	_, err = d.Store(head)
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	head.Name = "aa"
	_, err = d.Store(head)
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	ids, err := d.InstanceIDs(&toolItem{})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	return ids
}

type toolResult struct {
	stdout, stderr string
	exitCode       int
}

func runTool(t *testing.T, fs vfs.FS, args ...string) toolResult {
	return runToolWith(t, []Option{FS(fs)}, args...)
}

func runToolWith(t *testing.T, opts []Option, args ...string) toolResult {
	var outBuf, errBuf bytes.Buffer
	var res toolResult
	origStdout, origStderr, origExit := stdout, stderr, osExit
	stdout, stderr = &outBuf, &errBuf
	osExit = func(code int) { res.exitCode = code }
	defer func() { stdout, stderr, osExit = origStdout, origStderr, origExit }()

	tool := New(append(opts, Logger(base.NoopLogger{}))...)
	cmd := &cobra.Command{Use: "slotdb"}
	cmd.AddCommand(tool.Commands...)
	cmd.SetArgs(args)
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	require.NoError(t, cmd.Execute())
	res.stdout, res.stderr = outBuf.String(), errBuf.String()
	return res
}

func TestTool(t *testing.T) {
	fs := vfs.NewMem()
	ids := makeToolTestDB(t, fs)
	require.Len(t, ids, 3)

	t.Run("header", func(t *testing.T) {
		res := runTool(t, fs, "db", "header", toolTestPath)
		require.Zero(t, res.exitCode, res.stderr)
		require.Contains(t, res.stdout, "block size:       8")
		require.Contains(t, res.stdout, "freespace:        ram")
		require.NotContains(t, res.stdout, "interrupted commit")

		res = runTool(t, fs, "db", "header", "-v", toolTestPath)
		require.Contains(t, res.stdout, "ClassCollectionID:")

		res = runTool(t, fs, "db", "header", "missing")
		require.Equal(t, 1, res.exitCode)
		require.Contains(t, res.stderr, "missing")
	})

	t.Run("classes", func(t *testing.T) {
		res := runTool(t, fs, "db", "classes", toolTestPath)
		require.Zero(t, res.exitCode, res.stderr)
		require.Contains(t, res.stdout, "CLASS")
		require.Contains(t, res.stdout, "github.com/cockroachdb/slotdb/tool.toolItem")
	})

	t.Run("freespace", func(t *testing.T) {
		res := runTool(t, fs, "db", "freespace", toolTestPath)
		require.Zero(t, res.exitCode, res.stderr)
		require.Contains(t, res.stdout, "ADDRESS")
		require.Contains(t, res.stdout, " free\n")
	})

	t.Run("pointer", func(t *testing.T) {
		args := []string{"db", "pointer", toolTestPath}
		for _, id := range ids {
			args = append(args, fmt.Sprint(id))
		}
		res := runTool(t, fs, args...)
		require.Zero(t, res.exitCode, res.stderr)
		for _, id := range ids {
			require.Regexp(t, fmt.Sprintf(`(?m)^%d: \d+\+\d+$`, id), res.stdout)
		}

		res = runTool(t, fs, "db", "pointer", toolTestPath, "x")
		require.Equal(t, 1, res.exitCode)
		require.Contains(t, res.stderr, `invalid id "x"`)
	})

	t.Run("metrics", func(t *testing.T) {
		res := runTool(t, fs, "db", "metrics", toolTestPath)
		require.Zero(t, res.exitCode, res.stderr)
		require.Contains(t, res.stdout, "SUBSYSTEM")
		require.Contains(t, res.stdout, "freespace")
	})

	t.Run("compact", func(t *testing.T) {
		res := runTool(t, fs, "db", "compact", toolTestPath, "db/unregistered")
		require.Equal(t, 1, res.exitCode)
		require.Contains(t, res.stderr, "no Go type registered")

		types := slotdb.NewTypeRegistry()
		require.NoError(t, types.Register(&toolItem{}))
		res = runToolWith(t, []Option{FS(fs), Types(types)}, "db", "compact", toolTestPath, "db/compacted")
		require.Zero(t, res.exitCode, res.stderr)
		require.Contains(t, res.stdout, "db/compacted: 3 objects of 1 classes")

		res = runTool(t, fs, "db", "check", "db/compacted")
		require.Zero(t, res.exitCode, res.stderr)
		require.Contains(t, res.stdout, "db/compacted: 3 objects")
	})

	t.Run("check", func(t *testing.T) {
		res := runTool(t, fs, "db", "check", "--rate", "1048576", toolTestPath)
		require.Zero(t, res.exitCode, res.stderr)
		require.Contains(t, res.stdout, toolTestPath+": 3 objects")

		res = runTool(t, fs, "db", "check", "-c", "2", toolTestPath, "missing")
		require.Equal(t, 1, res.exitCode)
		require.Contains(t, res.stdout, toolTestPath+": 3 objects")
		require.Contains(t, res.stdout, "missing: ")
	})
}

func TestParseID(t *testing.T) {
	id, err := parseID("17")
	require.NoError(t, err)
	require.Equal(t, int32(17), id)
	for _, s := range []string{"", "x", "0", "-3", "4294967296"} {
		_, err := parseID(s)
		require.Error(t, err, s)
	}
}
