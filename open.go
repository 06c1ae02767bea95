// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/freespace"
	"github.com/cockroachdb/slotdb/internal/ledger"
	"github.com/cockroachdb/slotdb/internal/marshal"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/slotdb/vfs"
)

// Open opens the database file at path, creating it if it does not exist. A
// commit that was interrupted by a crash is completed or discarded before
// Open returns.
func Open(path string, opts *Options) (db *DB, err error) {
	start := crtime.NowMono()
	// Make a copy of the options so that we don't mutate the passed in options.
	opts = opts.Clone().EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	d := &DB{
		path: path,
		opts: opts,
		fs:   opts.FS,
		reg:  marshal.NewRegistry(),
	}
	d.mu.shared = ledger.MakeSharedSlots()
	d.mu.sem.init(&d.mu.Mutex)
	d.mu.metrics.init(opts.CommitLatency)

	d.mu.Lock()
	defer d.mu.Unlock()

	// The file and its lock are closed if Open fails.
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	if !opts.ReadOnly {
		if err := opts.FS.MkdirAll(opts.FS.PathDir(path), 0755); err != nil {
			return nil, err
		}
	}
	if opts.Lock != nil || (!opts.ReadOnly && !opts.DisableFileLock) {
		fileLock, err := base.AcquireOrValidateFileLock(opts.Lock, path, opts.FS)
		if err != nil {
			return nil, err
		}
		d.fileLock = fileLock
		closers = append(closers, base.CloseHelper(fileLock))
	}

	if opts.ReadOnly {
		d.file, err = opts.FS.Open(path)
	} else {
		d.file, err = opts.FS.OpenReadWrite(path)
	}
	if err != nil {
		return nil, errorWithPath(err, path)
	}
	closers = append(closers, base.CloseHelper(d.file))
	size, err := vfs.Size(d.file)
	if err != nil {
		return nil, errorWithPath(err, path)
	}

	created := size == 0
	if created {
		if opts.ReadOnly {
			return nil, errors.Wrapf(ErrIncompatibleFormat, "slotdb: %s is empty", errors.Safe(path))
		}
		err = d.create()
	} else {
		err = d.load(size)
	}
	if err != nil {
		return nil, errorWithPath(err, path)
	}
	if err := d.configureClasses(); err != nil {
		return nil, err
	}
	d.mu.systemTxn = d.newTxnLocked(nil)
	d.mu.defaultTxn = d.newTxnLocked(d.mu.systemTxn)

	if !opts.ReadOnly {
		// The persisted free list is loaded into memory. Its record and
		// pointer are released at the first commit and rewritten at Close.
		freespaceID := d.mu.hdr.freespaceID
		now := time.Now().UnixMilli()
		d.mu.hdr.lock = rand.Int32()
		d.mu.hdr.openTime = now
		d.mu.hdr.accessTime = now
		d.mu.hdr.freespaceID = 0
		d.mu.hdr.freespaceLength = 0
		if err := d.writeHeader(); err != nil {
			return nil, err
		}
		if err := d.syncFile(); err != nil {
			return nil, err
		}
		if freespaceID != 0 {
			d.mu.systemTxn.ledger.ReleaseForFreespace(freespaceID, d.mu.freespaceRecord)
		}
	}

	d.opts.EventListener.Opened(OpenInfo{
		Path:      path,
		Created:   created,
		BlockSize: d.mu.hdr.blockSize,
		Freespace: d.mu.hdr.freespaceKind,
		FileSize:  d.mu.fileLen,
		Duration:  start.Elapsed(),
	})
	for _, c := range closers {
		base.Release(c)
	}
	return d, nil
}

// create initializes an empty file.
func (d *DB) create() error {
	blocks, err := slot.MakeBlocks(d.opts.BlockSize)
	if err != nil {
		return err
	}
	d.blocks = blocks
	d.mu.hdr = header{
		blockSize:     d.opts.BlockSize,
		freespaceKind: d.opts.Freespace,
	}
	d.mu.fileLen = d.blocks.BlockAlignedBytes(headerLength)
	fs, err := freespace.New(d.opts.Freespace)
	if err != nil {
		return err
	}
	d.mu.freespace = fs
	id, err := d.newID()
	if err != nil {
		return err
	}
	d.mu.hdr.classCollectionID = id
	d.mu.classes = newClassCollection(id, d.reg, d.opts.Types)
	return nil
}

// load reads the header of an existing file, replays an interrupted commit
// and loads the free list and the class collection.
func (d *DB) load(size int64) error {
	var buf [headerLength]byte
	if err := vfs.ReadFull(d.file, buf[:], 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Wrapf(ErrIncompatibleFormat, "slotdb: file of %d bytes is too short", errors.Safe(size))
		}
		return err
	}
	hdr, err := decodeHeader(buf[:])
	if err != nil {
		return err
	}
	d.mu.hdr = hdr
	if d.opts.BlockSize != hdr.blockSize {
		d.opts.Logger.Infof("slotdb: %s uses block size %d; ignoring configured block size %d",
			errors.Safe(d.path), errors.Safe(hdr.blockSize), errors.Safe(d.opts.BlockSize))
	}
	blocks, err := slot.MakeBlocks(hdr.blockSize)
	if err != nil {
		return base.MarkCorruptionError(err)
	}
	d.blocks = blocks
	d.mu.fileLen = d.blocks.BlockAlignedBytes(size)

	if addr, ok := hdr.pendingLog(); ok {
		if d.opts.ReadOnly {
			return errors.Newf("slotdb: %s holds an interrupted commit and cannot be opened read-only",
				errors.Safe(d.path))
		}
		if err := d.recoverCommit(addr); err != nil {
			return err
		}
	} else if (hdr.txPointer1 != 0 || hdr.txPointer2 != 0) && !d.opts.ReadOnly {
		// The commit was interrupted before its log was complete and wrote
		// no pointer.
		if err := d.writeTxPointers(0); err != nil {
			return err
		}
		if err := d.syncFile(); err != nil {
			return err
		}
	}

	fs, err := freespace.New(hdr.freespaceKind)
	if err != nil {
		return err
	}
	d.mu.freespace = fs
	if hdr.freespaceID != 0 {
		if err := d.loadFreespace(); err != nil {
			return errors.Wrap(err, "slotdb: loading free list")
		}
	}
	return d.loadClassCollection()
}

func (d *DB) loadFreespace() error {
	hdr := &d.mu.hdr
	s, err := d.readPointer(hdr.freespaceID)
	if err != nil {
		return err
	}
	if s.Length != hdr.freespaceLength {
		return base.CorruptionErrorf("slotdb: free list record is %d bytes, header records %d",
			errors.Safe(s.Length), errors.Safe(hdr.freespaceLength))
	}
	buf, err := d.readSlot(s)
	if err != nil {
		return err
	}
	fs := d.mu.freespace
	if err := fs.Unmarshal(buf); err != nil {
		return base.MarkCorruptionError(err)
	}
	d.mu.freespaceRecord = s
	d.opts.EventListener.FreespaceLoaded(FreespaceInfo{
		Runs:      fs.SlotCount(),
		FreeBytes: fs.TotalFree() * int64(d.blocks.Size()),
	})
	return nil
}
