// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/freespace"
	"github.com/cockroachdb/slotdb/internal/slot"
)

const (
	headerMagic   = "SLDB"
	formatVersion = 1

	offMagic            = 0
	offVersion          = 4
	offBlockSize        = 5
	offLock             = 6
	offOpenTime         = 10
	offAccessTime       = 18
	offTxPointer1       = 26
	offTxPointer2       = 30
	offClassCollection  = 34
	offFreespaceID      = 38
	offFreespaceLength  = 42
	offFreespaceKind    = 46
	headerLength        = 47
	txPointerFieldsSize = 2 * slot.IntLength
)

// header is the decoded fixed-size record at the start of a file. All fields
// are big-endian.
type header struct {
	blockSize  int
	lock       int32
	openTime   int64
	accessTime int64
	// txPointer1 and txPointer2 hold the block address of the transaction
	// log of a commit in progress. A crash is only recoverable when both
	// agree.
	txPointer1 int32
	txPointer2 int32
	// classCollectionID is the pointer ID of the class collection record.
	classCollectionID int32
	// freespaceID is the pointer ID of the persisted free list, or zero.
	freespaceID     int32
	freespaceLength int32
	freespaceKind   freespace.Kind
}

func (h *header) encode(buf []byte) {
	copy(buf[offMagic:], headerMagic)
	buf[offVersion] = formatVersion
	buf[offBlockSize] = byte(h.blockSize)
	binary.BigEndian.PutUint32(buf[offLock:], uint32(h.lock))
	binary.BigEndian.PutUint64(buf[offOpenTime:], uint64(h.openTime))
	binary.BigEndian.PutUint64(buf[offAccessTime:], uint64(h.accessTime))
	binary.BigEndian.PutUint32(buf[offTxPointer1:], uint32(h.txPointer1))
	binary.BigEndian.PutUint32(buf[offTxPointer2:], uint32(h.txPointer2))
	binary.BigEndian.PutUint32(buf[offClassCollection:], uint32(h.classCollectionID))
	binary.BigEndian.PutUint32(buf[offFreespaceID:], uint32(h.freespaceID))
	binary.BigEndian.PutUint32(buf[offFreespaceLength:], uint32(h.freespaceLength))
	buf[offFreespaceKind] = byte(h.freespaceKind)
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerLength {
		return header{}, errors.Mark(
			errors.Newf("slotdb: file too short for a header (%d bytes)", errors.Safe(len(buf))),
			base.ErrIncompatibleFormat)
	}
	if string(buf[offMagic:offMagic+len(headerMagic)]) != headerMagic {
		return header{}, errors.Mark(errors.New("slotdb: not a slotdb file"), base.ErrIncompatibleFormat)
	}
	if v := buf[offVersion]; v != formatVersion {
		return header{}, errors.Mark(
			errors.Newf("slotdb: unsupported format version %d", errors.Safe(v)),
			base.ErrIncompatibleFormat)
	}
	h := header{
		blockSize:         int(buf[offBlockSize]),
		lock:              int32(binary.BigEndian.Uint32(buf[offLock:])),
		openTime:          int64(binary.BigEndian.Uint64(buf[offOpenTime:])),
		accessTime:        int64(binary.BigEndian.Uint64(buf[offAccessTime:])),
		txPointer1:        int32(binary.BigEndian.Uint32(buf[offTxPointer1:])),
		txPointer2:        int32(binary.BigEndian.Uint32(buf[offTxPointer2:])),
		classCollectionID: int32(binary.BigEndian.Uint32(buf[offClassCollection:])),
		freespaceID:       int32(binary.BigEndian.Uint32(buf[offFreespaceID:])),
		freespaceLength:   int32(binary.BigEndian.Uint32(buf[offFreespaceLength:])),
		freespaceKind:     freespace.Kind(buf[offFreespaceKind]),
	}
	if h.blockSize < 1 || h.blockSize > slot.MaxBlockSize {
		return header{}, base.CorruptionErrorf("slotdb: header block size %d out of range", errors.Safe(h.blockSize))
	}
	if h.freespaceKind != freespace.KindRAM && h.freespaceKind != freespace.KindAppend {
		return header{}, base.CorruptionErrorf("slotdb: header names unknown freespace system %d",
			errors.Safe(uint8(h.freespaceKind)))
	}
	return h, nil
}

// pendingLog returns the address of the transaction log to replay, if the
// header records a commit that was interrupted after both transaction
// pointers were written.
func (h *header) pendingLog() (int32, bool) {
	if h.txPointer1 > 0 && h.txPointer1 == h.txPointer2 {
		return h.txPointer1, true
	}
	return 0, false
}

// SafeFormat implements redact.SafeFormatter.
func (h *header) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("block-size=%d freespace=%s class-collection=%d tx=%d/%d freespace-record=%d/%d",
		redact.Safe(h.blockSize), redact.Safe(h.freespaceKind.String()), h.classCollectionID,
		h.txPointer1, h.txPointer2, h.freespaceID, h.freespaceLength)
}

func (h *header) String() string {
	return redact.StringWithoutMarkers(h)
}

// HeaderInfo is the decoded header of a database file, as reported by
// ReadHeader.
type HeaderInfo struct {
	BlockSize         int
	Lock              int32
	OpenTime          int64
	AccessTime        int64
	TxPointer1        int32
	TxPointer2        int32
	ClassCollectionID int32
	FreespaceID       int32
	FreespaceLength   int32
	Freespace         FreespaceKind
}

func (h *header) info() HeaderInfo {
	return HeaderInfo{
		BlockSize:         h.blockSize,
		Lock:              h.lock,
		OpenTime:          h.openTime,
		AccessTime:        h.accessTime,
		TxPointer1:        h.txPointer1,
		TxPointer2:        h.txPointer2,
		ClassCollectionID: h.classCollectionID,
		FreespaceID:       h.freespaceID,
		FreespaceLength:   h.freespaceLength,
		Freespace:         h.freespaceKind,
	}
}
