// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"fmt"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/slotdb/internal/humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
)

// Commit latencies are recorded in microseconds, up to one minute.
const (
	minCommitLatency = time.Microsecond
	maxCommitLatency = time.Minute
)

// metricsState holds the counters maintained under d.mu.
type metricsState struct {
	slotsAllocated int64
	slotsFreed     int64
	bytesAppended  int64
	collected      int64

	stores        int64
	deletes       int64
	activations   int64
	deactivations int64

	commits    int64
	rollbacks  int64
	recoveries int64

	commitLatency *hdrhistogram.Histogram
	// commitLatencyExport is Options.CommitLatency.
	commitLatencyExport prometheus.Histogram
}

func (m *metricsState) init(export prometheus.Histogram) {
	m.commitLatency = hdrhistogram.New(minCommitLatency.Microseconds(), maxCommitLatency.Microseconds(), 3)
	m.commitLatencyExport = export
}

func (m *metricsState) recordCommit(info CommitInfo) {
	d := min(max(info.Duration, minCommitLatency), maxCommitLatency)
	_ = m.commitLatency.RecordValue(d.Microseconds())
	if m.commitLatencyExport != nil {
		m.commitLatencyExport.Observe(info.Duration.Seconds())
	}
}

// LatencySummary summarizes a latency distribution.
type LatencySummary struct {
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func summarize(h *hdrhistogram.Histogram) LatencySummary {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencySummary{
		Count: h.TotalCount(),
		Mean:  time.Duration(h.Mean() * float64(time.Microsecond)),
		P50:   us(h.ValueAtQuantile(50)),
		P99:   us(h.ValueAtQuantile(99)),
		Max:   us(h.Max()),
	}
}

// Metrics holds metrics for various subsystems of the DB such as the
// allocator, the reference systems and the commit path.
type Metrics struct {
	// FileSize is the length of the file, including allocated slots that
	// were not yet written.
	FileSize  int64
	BlockSize int

	Freespace struct {
		Kind FreespaceKind
		// Runs is the number of free runs.
		Runs int
		// FreeBytes is the total size of the free runs.
		FreeBytes int64
	}

	Slots struct {
		Allocated int64
		Freed     int64
		// AppendedBytes is the number of bytes the file grew by.
		AppendedBytes int64
	}

	Objects struct {
		Classes int
		// References is the number of cached references over all open
		// transactions.
		References    int
		Stores        int64
		Deletes       int64
		Activations   int64
		Deactivations int64
		// Collected is the number of references dropped because their
		// object was reclaimed.
		Collected int64
	}

	Txns struct {
		Open       int
		Commits    int64
		Rollbacks  int64
		Recoveries int64
		// CommitLatency summarizes the duration of successful commits.
		CommitLatency LatencySummary
	}
}

// Metrics returns metrics about the database.
func (d *DB) Metrics() *Metrics {
	d.mustLock()
	defer d.mu.Unlock()
	m := &Metrics{}
	s := &d.mu.metrics
	m.FileSize = d.mu.fileLen
	m.BlockSize = int(d.blocks.Size())
	m.Freespace.Kind = d.mu.freespace.Kind()
	m.Freespace.Runs = d.mu.freespace.SlotCount()
	m.Freespace.FreeBytes = d.mu.freespace.TotalFree() * int64(d.blocks.Size())
	m.Slots.Allocated = s.slotsAllocated
	m.Slots.Freed = s.slotsFreed
	m.Slots.AppendedBytes = s.bytesAppended
	m.Objects.Classes = d.mu.classes.byID.Len()
	for _, t := range d.mu.txns {
		m.Objects.References += t.refs.len()
	}
	m.Objects.Stores = s.stores
	m.Objects.Deletes = s.deletes
	m.Objects.Activations = s.activations
	m.Objects.Deactivations = s.deactivations
	m.Objects.Collected = s.collected
	m.Txns.Open = len(d.mu.txns)
	m.Txns.Commits = s.commits
	m.Txns.Rollbacks = s.rollbacks
	m.Txns.Recoveries = s.recoveries
	m.Txns.CommitLatency = summarize(s.commitLatency)
	return m
}

// String pretty-prints the metrics as a table:
//
//	SUBSYSTEM | METRIC         | VALUE
//	file      | size           | 4.0KB
//	freespace | runs           | 3
//	...
func (m *Metrics) String() string {
	var buf strings.Builder
	tbl := tablewriter.NewWriter(&buf)
	tbl.SetHeader([]string{"subsystem", "metric", "value"})
	tbl.SetAutoMergeCells(true)
	add := func(subsystem, metric string, value any) {
		tbl.Append([]string{subsystem, metric, fmt.Sprint(value)})
	}
	add("file", "size", humanize.Bytes.Int64(m.FileSize))
	add("file", "block size", m.BlockSize)
	add("freespace", "kind", m.Freespace.Kind)
	add("freespace", "runs", m.Freespace.Runs)
	add("freespace", "free", humanize.Bytes.Int64(m.Freespace.FreeBytes))
	add("slots", "allocated", humanize.Count.Uint64(uint64(m.Slots.Allocated)))
	add("slots", "freed", humanize.Count.Uint64(uint64(m.Slots.Freed)))
	add("slots", "appended", humanize.Bytes.Int64(m.Slots.AppendedBytes))
	add("objects", "classes", m.Objects.Classes)
	add("objects", "references", m.Objects.References)
	add("objects", "stores", humanize.Count.Uint64(uint64(m.Objects.Stores)))
	add("objects", "deletes", humanize.Count.Uint64(uint64(m.Objects.Deletes)))
	add("objects", "activations", humanize.Count.Uint64(uint64(m.Objects.Activations)))
	add("objects", "deactivations", humanize.Count.Uint64(uint64(m.Objects.Deactivations)))
	add("objects", "collected", humanize.Count.Uint64(uint64(m.Objects.Collected)))
	add("txns", "open", m.Txns.Open)
	add("txns", "commits", humanize.Count.Uint64(uint64(m.Txns.Commits)))
	add("txns", "rollbacks", humanize.Count.Uint64(uint64(m.Txns.Rollbacks)))
	add("txns", "recoveries", m.Txns.Recoveries)
	l := m.Txns.CommitLatency
	add("txns", "commit latency", fmt.Sprintf("mean %s p50 %s p99 %s max %s", l.Mean, l.P50, l.P99, l.Max))
	tbl.Render()
	return buf.String()
}
