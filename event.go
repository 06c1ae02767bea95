// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"time"

	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/slotdb/internal/humanize"
)

// OpenInfo contains the info for a DB open event.
type OpenInfo struct {
	// Path is the name of the database file.
	Path string
	// Created is true if the file did not exist and was initialized.
	Created bool
	// BlockSize is the block size of the file.
	BlockSize int
	// Freespace is the allocator the file uses.
	Freespace FreespaceKind
	// FileSize is the size of the file after recovery.
	FileSize int64
	// Duration is the time spent opening the file.
	Duration time.Duration
}

func (i OpenInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i OpenInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	verb := redact.SafeString("opened")
	if i.Created {
		verb = "created"
	}
	w.Printf("%s %s: block size %d, freespace %s, %s in %.1fs",
		verb, i.Path, redact.Safe(i.BlockSize), redact.Safe(i.Freespace.String()),
		humanize.Bytes.Int64(i.FileSize), redact.Safe(i.Duration.Seconds()))
}

// RecoveryInfo contains the info for a transaction log replay performed while
// opening a file.
type RecoveryInfo struct {
	// Path is the name of the database file.
	Path string
	// LogAddress is the block address of the replayed transaction log.
	LogAddress int32
	// Pointers is the number of pointers rewritten.
	Pointers int
	// Err is set if the replay failed.
	Err error
}

func (i RecoveryInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i RecoveryInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("recovery of %s from log at %d failed: %s", i.Path, i.LogAddress, i.Err)
		return
	}
	w.Printf("recovered %s: replayed %d pointers from log at %d", i.Path, i.Pointers, i.LogAddress)
}

// CommitInfo contains the info for commit begin and end events.
type CommitInfo struct {
	// Pointers is the number of pointers written by the commit.
	Pointers int
	// LogBytes is the size of the transaction log. It is zero if the commit
	// wrote no pointers and skipped the log.
	LogBytes int
	// Participants is the number of enlisted participants committed.
	Participants int
	// Duration is the time spent committing. It is only set on end events.
	Duration time.Duration
	// Err is set if the commit failed.
	Err error
}

func (i CommitInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i CommitInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("commit error: %s", i.Err)
		return
	}
	w.Printf("commit: %d pointers, log %s, %d participants",
		redact.Safe(i.Pointers), humanize.Bytes.Int64(int64(i.LogBytes)), redact.Safe(i.Participants))
	if i.Duration > 0 {
		w.Printf(" in %.3fs", redact.Safe(i.Duration.Seconds()))
	}
}

// RollbackInfo contains the info for a transaction rollback event.
type RollbackInfo struct {
	// Changes is the number of IDs the transaction had touched.
	Changes int
	// References is the number of new references dropped.
	References int
}

func (i RollbackInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i RollbackInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("rollback: %d changes, %d new references dropped",
		redact.Safe(i.Changes), redact.Safe(i.References))
}

// FreespaceInfo contains the info for a freespace load event.
type FreespaceInfo struct {
	// Runs is the number of free runs read.
	Runs int
	// FreeBytes is the total free space.
	FreeBytes int64
}

func (i FreespaceInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i FreespaceInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("freespace loaded: %d runs, %s free",
		redact.Safe(i.Runs), humanize.Bytes.Int64(i.FreeBytes))
}

// CloseInfo contains the info for a DB close event.
type CloseInfo struct {
	// Path is the name of the database file.
	Path string
	// FileSize is the size of the file at close.
	FileSize int64
	// Err is the first error encountered while closing.
	Err error
}

func (i CloseInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i CloseInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("closed %s with error: %s", i.Path, i.Err)
		return
	}
	w.Printf("closed %s (%s)", i.Path, humanize.Bytes.Int64(i.FileSize))
}

// EventListener contains a set of functions that will be invoked when various
// significant DB events occur. Note that the functions should not run for an
// excessive amount of time as they are invoked synchronously by the DB and may
// block continued DB work. Most are invoked while the DB mutex is held and
// must not call back into the DB.
type EventListener struct {
	// BackgroundError is invoked whenever an error occurs that cannot be
	// returned to a caller, such as while releasing resources at Close.
	BackgroundError func(error)

	// Opened is invoked after a file has been opened or created.
	Opened func(OpenInfo)

	// RecoveryReplayed is invoked after a transaction log left behind by an
	// interrupted commit was replayed.
	RecoveryReplayed func(RecoveryInfo)

	// CommitBegin is invoked when a commit starts writing pointers.
	CommitBegin func(CommitInfo)

	// CommitEnd is invoked after a commit completed or failed.
	CommitEnd func(CommitInfo)

	// Rollback is invoked after a transaction was rolled back.
	Rollback func(RollbackInfo)

	// FreespaceLoaded is invoked after the persisted free list was read.
	FreespaceLoaded func(FreespaceInfo)

	// Closed is invoked after the DB was closed.
	Closed func(CloseInfo)
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler for those events hasn't been otherwise
// specified. Ensure all handlers are non-nil so that we don't have to check
// for nil-ness before invoking.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.BackgroundError == nil {
		if logger != nil {
			l.BackgroundError = func(err error) {
				logger.Errorf("background error: %s", err)
			}
		} else {
			l.BackgroundError = func(error) {}
		}
	}
	if l.Opened == nil {
		l.Opened = func(info OpenInfo) {}
	}
	if l.RecoveryReplayed == nil {
		l.RecoveryReplayed = func(info RecoveryInfo) {}
	}
	if l.CommitBegin == nil {
		l.CommitBegin = func(info CommitInfo) {}
	}
	if l.CommitEnd == nil {
		l.CommitEnd = func(info CommitInfo) {}
	}
	if l.Rollback == nil {
		l.Rollback = func(info RollbackInfo) {}
	}
	if l.FreespaceLoaded == nil {
		l.FreespaceLoaded = func(info FreespaceInfo) {}
	}
	if l.Closed == nil {
		l.Closed = func(info CloseInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to the
// specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger{}
	}

	return EventListener{
		BackgroundError: func(err error) {
			logger.Errorf("background error: %s", err)
		},
		Opened: func(info OpenInfo) {
			logger.Infof("%s", info)
		},
		RecoveryReplayed: func(info RecoveryInfo) {
			logger.Infof("%s", info)
		},
		CommitBegin: func(info CommitInfo) {
			logger.Infof("%s", info)
		},
		CommitEnd: func(info CommitInfo) {
			logger.Infof("%s", info)
		},
		Rollback: func(info RollbackInfo) {
			logger.Infof("%s", info)
		},
		FreespaceLoaded: func(info FreespaceInfo) {
			logger.Infof("%s", info)
		},
		Closed: func(info CloseInfo) {
			logger.Infof("%s", info)
		},
	}
}

// TeeEventListener wraps two EventListeners, forwarding all events to both.
func TeeEventListener(a, b EventListener) EventListener {
	a.EnsureDefaults(nil)
	b.EnsureDefaults(nil)
	return EventListener{
		BackgroundError: func(err error) {
			a.BackgroundError(err)
			b.BackgroundError(err)
		},
		Opened: func(info OpenInfo) {
			a.Opened(info)
			b.Opened(info)
		},
		RecoveryReplayed: func(info RecoveryInfo) {
			a.RecoveryReplayed(info)
			b.RecoveryReplayed(info)
		},
		CommitBegin: func(info CommitInfo) {
			a.CommitBegin(info)
			b.CommitBegin(info)
		},
		CommitEnd: func(info CommitInfo) {
			a.CommitEnd(info)
			b.CommitEnd(info)
		},
		Rollback: func(info RollbackInfo) {
			a.Rollback(info)
			b.Rollback(info)
		},
		FreespaceLoaded: func(info FreespaceInfo) {
			a.FreespaceLoaded(info)
			b.FreespaceLoaded(info)
		},
		Closed: func(info CloseInfo) {
			a.Closed(info)
			b.Closed(info)
		},
	}
}
