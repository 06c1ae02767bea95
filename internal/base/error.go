// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// ErrCorruption is a marker to indicate that data in a file (the header, a
// pointer, a transaction log or an object slot) is corrupted.
var ErrCorruption = errors.New("slotdb: corruption")

// ErrClosed is returned by operations on a closed database or transaction.
var ErrClosed = errors.New("slotdb: closed")

// ErrReadOnly is returned by mutating operations on a database opened with
// Options.ReadOnly.
var ErrReadOnly = errors.New("slotdb: read-only")

// ErrIncompatibleFormat is returned when a file is not a slotdb file or was
// written by an unsupported format version.
var ErrIncompatibleFormat = errors.New("slotdb: incompatible format")

// ErrNotStorable is returned when a value of an unsupported type is handed to
// the store path.
var ErrNotStorable = errors.New("slotdb: object not storable")

// ErrReentrantCall is returned when a method of a DB or of one of its
// transactions is called from a callback that runs while the DB is locked.
var ErrReentrantCall = errors.New("slotdb: DB called from an object callback")

// ErrNotFound means that a pointer lookup did not find a live object.
var ErrNotFound = errors.New("slotdb: not found")

// MarkCorruptionError marks given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// IsCorruptionError returns true if the given error indicates corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// CorruptionErrorf formats according to a format specifier and returns
// the string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// InvalidIDError is returned when an ID does not address a pointer inside the
// file.
type InvalidIDError struct {
	ID         int32
	FileLength int64
}

// Error implements the error interface.
func (e *InvalidIDError) Error() string {
	return redact.Sprint(e).StripMarkers()
}

// SafeFormat implements redact.SafeFormatter.
func (e *InvalidIDError) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("slotdb: invalid id %d (file length %d)", e.ID, e.FileLength)
}

// InvalidSlotError is returned when a pointer decodes to a slot that does not
// fit inside the file.
type InvalidSlotError struct {
	ID         int32
	Address    int32
	Length     int32
	FileLength int64
}

// Error implements the error interface.
func (e *InvalidSlotError) Error() string {
	return redact.Sprint(e).StripMarkers()
}

// SafeFormat implements redact.SafeFormatter.
func (e *InvalidSlotError) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("slotdb: invalid slot for id %d: address %d length %d (file length %d)",
		e.ID, e.Address, e.Length, e.FileLength)
}

// NewInvalidIDError returns an InvalidIDError marked as corruption.
func NewInvalidIDError(id int32, fileLength int64) error {
	return errors.Mark(&InvalidIDError{ID: id, FileLength: fileLength}, ErrCorruption)
}

// NewInvalidSlotError returns an InvalidSlotError marked as corruption.
func NewInvalidSlotError(id, address, length int32, fileLength int64) error {
	return errors.Mark(&InvalidSlotError{
		ID: id, Address: address, Length: length, FileLength: fileLength,
	}, ErrCorruption)
}
