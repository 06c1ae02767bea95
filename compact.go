// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/slotdb/internal/humanize"
	"github.com/cockroachdb/slotdb/internal/invariants"
)

// CompactInfo describes a completed Compact.
type CompactInfo struct {
	// Classes is the number of classes with live instances.
	Classes int
	// Objects is the number of objects copied.
	Objects int
	// IDs maps the IDs of the copied objects in the source file to their IDs
	// in the compacted file.
	IDs map[int32]int32
	// SizeBefore and SizeAfter are the sizes of the source and of the
	// compacted file.
	SizeBefore, SizeAfter int64
}

// Compact copies the committed objects of the database file src into the new
// file dst. The copy holds no free space and no slots of deleted objects.
// Objects are assigned new IDs; CompactInfo.IDs maps the old IDs to the new
// ones.
//
// src is opened read-only and must not hold an interrupted commit. Every
// class with live instances must be bound to a Go type through
// opts.Types. dst must not exist, and is removed if Compact fails.
func Compact(src, dst string, opts *Options) (_ *CompactInfo, err error) {
	start := crtime.NowMono()
	opts = opts.Clone().EnsureDefaults()
	fs := opts.FS
	if _, err := fs.Stat(dst); err == nil {
		return nil, errors.Errorf("slotdb: %s already exists", errors.Safe(dst))
	} else if !oserror.IsNotExist(err) {
		return nil, err
	}
	srcOpts := opts.Clone()
	srcOpts.ReadOnly = true
	// Every object is read by ID, so referenced objects need not be
	// activated along with their parents.
	srcOpts.ActivationDepth = 1
	s, err := Open(src, srcOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.CombineErrors(err, s.Close())
	}()

	dstOpts := opts.Clone()
	dstOpts.ReadOnly = false
	d, err := Open(dst, dstOpts)
	if err != nil {
		return nil, err
	}
	info := &CompactInfo{IDs: make(map[int32]int32)}
	if err := s.copyTo(d, info); err != nil {
		_ = d.Close()
		if rmErr := fs.Remove(dst); rmErr != nil && !oserror.IsNotExist(rmErr) {
			err = errors.CombineErrors(err, rmErr)
		}
		return nil, err
	}
	if err := d.Close(); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		path string
		size *int64
	}{{src, &info.SizeBefore}, {dst, &info.SizeAfter}} {
		fi, err := fs.Stat(f.path)
		if err != nil {
			return nil, err
		}
		*f.size = fi.Size()
	}
	opts.Logger.Infof("compacted %s into %s: %d objects, %s -> %s in %.1fs",
		src, dst, info.Objects, humanize.Bytes.Int64(info.SizeBefore),
		humanize.Bytes.Int64(info.SizeAfter), start.Elapsed().Seconds())
	return info, nil
}

// liveClass is a class of the source file with its committed instances.
type liveClass struct {
	name string
	ids  []int32
}

// liveClasses returns the classes of d that have committed instances.
func (d *DB) liveClasses() ([]liveClass, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	if d.mu.closed {
		return nil, ErrClosed
	}
	var classes []liveClass
	for _, c := range d.mu.classes.sorted() {
		if c.extent.Len() == 0 {
			continue
		}
		lc := liveClass{name: c.name, ids: make([]int32, 0, c.extent.Len())}
		c.extent.Ascend(func(id int32) bool {
			lc.ids = append(lc.ids, id)
			return true
		})
		classes = append(classes, lc)
	}
	return classes, nil
}

// copyTo stores the committed objects of d in dst and commits them.
//
// All objects are read before the first one is stored: storing an object
// also stores the objects it references, which must not be written while
// they are inactive. Objects stored as references of earlier objects are
// written again when their own turn comes, which leaves their IDs alone.
func (d *DB) copyTo(dst *DB, info *CompactInfo) error {
	classes, err := d.liveClasses()
	if err != nil {
		return err
	}
	type live struct {
		id  int32
		obj any
	}
	var objs []live
	for _, c := range classes {
		for _, id := range c.ids {
			obj, err := d.GetByID(id)
			if err != nil {
				return errors.Wrapf(err, "slotdb: reading %d of class %s", errors.Safe(id), errors.Safe(c.name))
			}
			objs = append(objs, live{id: id, obj: obj})
		}
	}
	for _, o := range objs {
		if invariants.Enabled && !d.IsActive(o.obj) {
			return errors.AssertionFailedf("slotdb: object %d is not active", o.id)
		}
		id, err := dst.StoreDepth(o.obj, 1)
		if err != nil {
			return errors.Wrapf(err, "slotdb: copying object %d", errors.Safe(o.id))
		}
		if id == 0 {
			return errors.Errorf("slotdb: storing object %d was vetoed", errors.Safe(o.id))
		}
		info.IDs[o.id] = id
	}
	info.Classes = len(classes)
	info.Objects = len(objs)
	return dst.Commit()
}
