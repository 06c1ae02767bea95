// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/ledger"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/slotdb/vfs"
)

// recoverCommit replays the transaction log left behind by a commit that was
// interrupted after its transaction pointers were written. Every pointer
// of the log is rewritten, after which the transaction pointers are
// cleared. Replaying a log twice is harmless.
//
// A header whose transaction pointers disagree describes a commit that was
// interrupted before the log was complete. No pointer was written by such
// a commit, so the pointers are left as they are.
func (d *DB) recoverCommit(addr int32) error {
	info := RecoveryInfo{Path: d.path, LogAddress: addr}
	n, err := d.replayLog(addr)
	info.Pointers = n
	info.Err = err
	d.opts.EventListener.RecoveryReplayed(info)
	if err == nil {
		d.mu.metrics.recoveries++
	}
	return err
}

func (d *DB) replayLog(addr int32) (int, error) {
	if err := d.blocks.CheckID(addr, d.mu.fileLen); err != nil {
		return 0, base.MarkCorruptionError(errors.Wrap(err, "slotdb: transaction log address"))
	}
	off := d.blocks.Offset(addr)
	var prefix [2 * slot.IntLength]byte
	if err := vfs.ReadFull(d.file, prefix[:], off); err != nil {
		return 0, base.MarkCorruptionError(errors.Wrap(err, "slotdb: reading transaction log"))
	}
	length := int64(int32(binary.BigEndian.Uint32(prefix[:])))
	if length < int64(len(prefix)) || off+length > d.mu.fileLen {
		return 0, base.CorruptionErrorf("slotdb: transaction log at %d has invalid length %d",
			errors.Safe(addr), errors.Safe(length))
	}
	buf := make([]byte, length)
	if err := vfs.ReadFull(d.file, buf, off); err != nil {
		return 0, base.MarkCorruptionError(errors.Wrap(err, "slotdb: reading transaction log"))
	}
	pointers, err := ledger.DecodeLog(buf)
	if err != nil {
		return 0, err
	}
	for _, p := range pointers {
		if err := d.blocks.CheckID(p.ID, d.mu.fileLen); err != nil {
			return 0, base.MarkCorruptionError(err)
		}
		if err := d.writePointer(p.ID, p.Slot); err != nil {
			return 0, err
		}
	}
	if err := d.syncFile(); err != nil {
		return 0, err
	}
	if err := d.writeTxPointers(0); err != nil {
		return 0, err
	}
	if err := d.syncFile(); err != nil {
		return 0, err
	}
	return len(pointers), nil
}
