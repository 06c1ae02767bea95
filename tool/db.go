// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/slotdb"
	"github.com/cockroachdb/slotdb/internal/humanize"
	"github.com/cockroachdb/tokenbucket"
	"github.com/kr/pretty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// dbT implements db-level tools, including both configuration state and the
// commands themselves.
type dbT struct {
	Root      *cobra.Command
	Check     *cobra.Command
	Classes   *cobra.Command
	Compact   *cobra.Command
	Freespace *cobra.Command
	Header    *cobra.Command
	Metrics   *cobra.Command
	Pointer   *cobra.Command

	opts *slotdb.Options

	// Flags.
	verbose     bool
	concurrency int
	rate        int64
}

func newDB(opts *slotdb.Options) *dbT {
	d := &dbT{opts: opts}

	d.Root = &cobra.Command{
		Use:   "db",
		Short: "DB introspection tools",
	}
	d.Check = &cobra.Command{
		Use:   "check <file>...",
		Short: "verify the committed state of database files",
		Long: `
Verify that every stored object has a valid pointer to a frame of its class
and that no live slot overlaps another slot or a free run. The files are
opened read-only and may not hold an interrupted commit.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  d.runCheck,
	}
	d.Classes = &cobra.Command{
		Use:   "classes <file>",
		Short: "print the stored classes",
		Args:  cobra.ExactArgs(1),
		Run:   d.runClasses,
	}
	d.Compact = &cobra.Command{
		Use:   "compact <src> <dst>",
		Short: "copy the live objects of a file into a new file",
		Long: `
Copy the committed objects of <src> into the new file <dst>, leaving out free
space and deleted objects. Objects are assigned new IDs in <dst>. Every
stored class must be bound to a Go type, so the command only copies files
whose classes were registered with the tool's options.
`,
		Args: cobra.ExactArgs(2),
		Run:  d.runCompact,
	}
	d.Freespace = &cobra.Command{
		Use:   "freespace <file>",
		Short: "print the free runs",
		Long: `
Print the free runs persisted by the last close of the file.
`,
		Args: cobra.ExactArgs(1),
		Run:  d.runFreespace,
	}
	d.Header = &cobra.Command{
		Use:   "header <file>...",
		Short: "print file headers",
		Long: `
Print the header of each file. The files are not opened as databases, so
headers of files in use or holding an interrupted commit can be inspected.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  d.runHeader,
	}
	d.Metrics = &cobra.Command{
		Use:   "metrics <file>",
		Short: "print the metrics of a file opened read-only",
		Args:  cobra.ExactArgs(1),
		Run:   d.runMetrics,
	}
	d.Pointer = &cobra.Command{
		Use:   "pointer <file> <id>...",
		Short: "print the committed slots of object ids",
		Args:  cobra.MinimumNArgs(2),
		Run:   d.runPointer,
	}

	d.Root.AddCommand(d.Check, d.Classes, d.Compact, d.Freespace, d.Header, d.Metrics, d.Pointer)

	d.Check.Flags().IntVarP(
		&d.concurrency, "concurrency", "c", 4, "number of files checked concurrently")
	d.Check.Flags().Int64Var(
		&d.rate, "rate", 0, "bytes read per second and file (0 means unlimited)")
	d.Header.Flags().BoolVarP(
		&d.verbose, "verbose", "v", false, "print every header field")
	return d
}

func (d *dbT) openDB(path string) (*slotdb.DB, error) {
	return slotdb.Open(path, d.opts.Clone())
}

func (d *dbT) runCheck(cmd *cobra.Command, args []string) {
	results := make([]string, len(args))
	failed := make([]bool, len(args))
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(d.concurrency, 1))
	for i, path := range args {
		g.Go(func() error {
			results[i], failed[i] = d.check(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	ok := true
	for i := range args {
		fmt.Fprint(stdout, results[i])
		ok = ok && !failed[i]
	}
	if !ok {
		osExit(1)
	}
}

// check checks one file and returns its report and whether it failed.
func (d *dbT) check(ctx context.Context, path string) (string, bool) {
	db, err := d.openDB(path)
	if err != nil {
		return fmt.Sprintf("%s: %s\n", path, err), true
	}
	defer db.Close()

	var limiter *tokenbucket.TokenBucket
	if d.rate > 0 {
		limiter = &tokenbucket.TokenBucket{}
		limiter.Init(tokenbucket.TokensPerSecond(d.rate), tokenbucket.Tokens(d.rate))
	}
	report, err := db.Check(ctx, limiter)
	var buf strings.Builder
	if report != nil {
		fmt.Fprintf(&buf, "%s: %d objects, %s\n", path, report.Objects, humanize.Bytes.Int64(report.Bytes))
		for _, p := range report.Problems {
			fmt.Fprintf(&buf, "  %s\n", p)
		}
	}
	if err != nil {
		fmt.Fprintf(&buf, "%s: %s\n", path, err)
		return buf.String(), true
	}
	return buf.String(), false
}

func (d *dbT) runClasses(cmd *cobra.Command, args []string) {
	db, err := d.openDB(args[0])
	if err != nil {
		fail("%s", err)
		return
	}
	defer db.Close()

	tbl := newTable(stdout, "id", "class", "instances")
	for _, c := range db.Classes() {
		name := c.Name
		if c.Stale {
			name += " (stale)"
		}
		tbl.Append([]string{fmt.Sprint(c.ID), name, fmt.Sprint(c.Instances)})
	}
	tbl.Render()
}

func (d *dbT) runCompact(cmd *cobra.Command, args []string) {
	info, err := slotdb.Compact(args[0], args[1], d.opts)
	if err != nil {
		fail("%s", err)
		return
	}
	fmt.Fprintf(stdout, "%s: %d objects of %d classes, %s -> %s\n", args[1],
		info.Objects, info.Classes,
		humanize.Bytes.Int64(info.SizeBefore), humanize.Bytes.Int64(info.SizeAfter))
}

func (d *dbT) runFreespace(cmd *cobra.Command, args []string) {
	db, err := d.openDB(args[0])
	if err != nil {
		fail("%s", err)
		return
	}
	defer db.Close()

	runs := db.FreeRuns()
	blockSize := int64(db.Header().BlockSize)
	var total int64
	tbl := newTable(stdout, "address", "blocks", "bytes")
	for _, r := range runs {
		total += int64(r.Blocks)
		tbl.Append([]string{
			fmt.Sprint(r.Address),
			fmt.Sprint(r.Blocks),
			string(humanize.Bytes.Int64(int64(r.Blocks) * blockSize)),
		})
	}
	tbl.Render()
	fmt.Fprintf(stdout, "%d runs, %s free\n", len(runs), humanize.Bytes.Int64(total*blockSize))
}

func (d *dbT) runHeader(cmd *cobra.Command, args []string) {
	for _, path := range args {
		h, err := slotdb.ReadHeader(d.opts.FS, path)
		if err != nil {
			fail("%s: %s", path, err)
			return
		}
		fmt.Fprintf(stdout, "%s\n", path)
		if d.verbose {
			fmt.Fprintf(stdout, "%# v\n", pretty.Formatter(h))
			continue
		}
		fmt.Fprintf(stdout, "  block size:       %d\n", h.BlockSize)
		fmt.Fprintf(stdout, "  freespace:        %s\n", h.Freespace)
		fmt.Fprintf(stdout, "  class collection: %d\n", h.ClassCollectionID)
		fmt.Fprintf(stdout, "  freespace record: %d (%d bytes)\n", h.FreespaceID, h.FreespaceLength)
		if h.TxPointer1 != 0 || h.TxPointer2 != 0 {
			fmt.Fprintf(stdout, "  interrupted commit: log at %d/%d\n", h.TxPointer1, h.TxPointer2)
		}
	}
}

func (d *dbT) runMetrics(cmd *cobra.Command, args []string) {
	db, err := d.openDB(args[0])
	if err != nil {
		fail("%s", err)
		return
	}
	defer db.Close()
	fmt.Fprint(stdout, db.Metrics().String())
}

func (d *dbT) runPointer(cmd *cobra.Command, args []string) {
	db, err := d.openDB(args[0])
	if err != nil {
		fail("%s", err)
		return
	}
	defer db.Close()

	for _, arg := range args[1:] {
		id, err := parseID(arg)
		if err != nil {
			fail("%s", err)
			return
		}
		address, length, err := db.Pointer(id)
		switch {
		case err != nil:
			fmt.Fprintf(stdout, "%d: %s\n", id, err)
		case address == 0:
			fmt.Fprintf(stdout, "%d: deleted\n", id)
		default:
			fmt.Fprintf(stdout, "%d: %d+%d\n", id, address, length)
		}
	}
}
