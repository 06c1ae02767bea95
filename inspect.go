// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/btree"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/cockroachdb/tokenbucket"
)

// ReadHeader decodes the header of the database file at path without
// opening it.
func ReadHeader(fs vfs.FS, path string) (HeaderInfo, error) {
	f, err := fs.Open(path)
	if err != nil {
		return HeaderInfo{}, err
	}
	defer f.Close()
	var buf [headerLength]byte
	if err := vfs.ReadFull(f, buf[:], 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return HeaderInfo{}, errors.Wrapf(ErrIncompatibleFormat, "slotdb: %s is too short", errors.Safe(path))
		}
		return HeaderInfo{}, err
	}
	h, err := decodeHeader(buf[:])
	if err != nil {
		return HeaderInfo{}, errorWithPath(err, path)
	}
	return h.info(), nil
}

// Header returns the current header of the open file.
func (d *DB) Header() HeaderInfo {
	d.mustLock()
	defer d.mu.Unlock()
	return d.mu.hdr.info()
}

// Pointer returns the committed slot bound to id. A deleted object has a
// zero address.
func (d *DB) Pointer(id int32) (address, length int32, err error) {
	if err := d.lock(); err != nil {
		return 0, 0, err
	}
	defer d.mu.Unlock()
	if d.mu.closed {
		return 0, 0, ErrClosed
	}
	s, err := d.readPointer(id)
	return s.Address, s.Length, err
}

// FreeRun is a run of free blocks.
type FreeRun struct {
	Address int32
	Blocks  int32
}

func (r FreeRun) String() string {
	return fmt.Sprintf("%d+%d", r.Address, r.Blocks)
}

// FreeRuns returns the free runs of the allocator in address order.
func (d *DB) FreeRuns() []FreeRun {
	d.mustLock()
	defer d.mu.Unlock()
	var runs []FreeRun
	d.mu.freespace.Traverse(func(s slot.Slot) {
		runs = append(runs, FreeRun{Address: s.Address, Blocks: s.Length})
	})
	return runs
}

// ClassInfo describes a stored class.
type ClassInfo struct {
	ID        int32
	Name      string
	Bound     bool
	Stale     bool
	Instances int
}

// Classes returns the stored classes in ID order.
func (d *DB) Classes() []ClassInfo {
	d.mustLock()
	defer d.mu.Unlock()
	var infos []ClassInfo
	for _, c := range d.mu.classes.sorted() {
		infos = append(infos, ClassInfo{
			ID:        c.id,
			Name:      c.name,
			Bound:     c.state != classUnbound,
			Stale:     c.state == classStale,
			Instances: c.extent.Len(),
		})
	}
	return infos
}

// CheckReport summarizes a consistency check of the committed state.
type CheckReport struct {
	// Objects is the number of class instances checked.
	Objects int
	// Bytes is the total length of the checked slots.
	Bytes int64
	// Problems lists the inconsistencies found, if any.
	Problems []string
}

// OK returns true if the check found no inconsistency.
func (r *CheckReport) OK() bool {
	return len(r.Problems) == 0
}

func (r *CheckReport) problemf(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// checkedRun is a region of the file accounted for by the check, in blocks.
type checkedRun struct {
	start, end int64
	what       string
}

// Check verifies the committed state of the file: every instance of every
// class must have a valid pointer to a well-formed frame of its class, and
// no live slot may overlap another live slot or a free run. When limiter is
// non-nil the check waits for one token per byte read.
func (d *DB) Check(ctx context.Context, limiter *tokenbucket.TokenBucket) (*CheckReport, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	if d.mu.closed {
		return nil, ErrClosed
	}
	report := &CheckReport{}
	runs := btree.New[checkedRun](func(a, b checkedRun) int { return cmp.Compare(a.start, b.start) })
	claim := func(s slot.Slot, what string) {
		if s.IsNull() {
			return
		}
		r := checkedRun{
			start: int64(s.Address),
			end:   int64(s.Address) + int64(d.blocks.BytesToBlocks(int64(max(s.Length, 1)))),
			what:  what,
		}
		if prev, ok := runs.Get(r); ok {
			report.problemf("%s and %s both start at block %d", prev.what, what, r.start)
			return
		}
		runs.Set(r)
	}
	claim(slot.Slot{Address: 0, Length: headerLength}, "header")

	pointer := func(id int32, what string) (slot.Slot, bool) {
		claim(slot.Slot{Address: id, Length: slot.PointerLength}, fmt.Sprintf("pointer %d", id))
		s, err := d.readPointer(id)
		if err != nil {
			report.problemf("%s: %v", what, err)
			return slot.Zero, false
		}
		claim(s, what)
		return s, true
	}
	pointer(d.mu.classes.id, "class collection")

	for _, c := range d.mu.classes.sorted() {
		var ids []int32
		c.extent.Ascend(func(id int32) bool {
			ids = append(ids, id)
			return true
		})
		for _, id := range ids {
			what := fmt.Sprintf("%s object %d", c.name, id)
			s, ok := pointer(id, what)
			if !ok {
				continue
			}
			report.Objects++
			if s.IsNull() {
				report.problemf("%s: listed in its class but deleted", what)
				continue
			}
			if limiter != nil {
				if err := limiter.WaitCtx(ctx, tokenbucket.Tokens(s.Length)); err != nil {
					return report, err
				}
			} else if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Bytes += int64(s.Length)
			f, _, err := d.readFrame(s)
			if err != nil {
				report.problemf("%s: %v", what, err)
				continue
			}
			if f.ClassID != c.id {
				report.problemf("%s: frame holds class %d", what, f.ClassID)
			}
		}
	}

	d.mu.freespace.Traverse(func(s slot.Slot) {
		r := checkedRun{
			start: int64(s.Address),
			end:   int64(s.Address) + int64(s.Length),
			what:  fmt.Sprintf("free run %d+%d", s.Address, s.Length),
		}
		if prev, ok := runs.Get(r); ok {
			report.problemf("%s and %s both start at block %d", prev.what, r.what, r.start)
			return
		}
		runs.Set(r)
	})

	// Runs sharing a start block were reported when claimed; the remaining
	// overlaps are found by comparing neighbors.
	var prev *checkedRun
	runs.Ascend(func(r checkedRun) bool {
		if prev != nil && r.start < prev.end {
			report.problemf("%s overlaps %s", r.what, prev.what)
		}
		if prev == nil || r.end > prev.end {
			prev = &r
		}
		return true
	})
	if end := d.mu.fileLen / int64(d.blocks.Size()); prev != nil && prev.end > end {
		report.problemf("%s extends past the end of the file", prev.what)
	}
	slices.Sort(report.Problems)
	if !report.OK() {
		return report, base.CorruptionErrorf("slotdb: check found %d problems", errors.Safe(len(report.Problems)))
	}
	return report, nil
}
