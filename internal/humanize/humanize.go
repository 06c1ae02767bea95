// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package humanize formats byte sizes and counts for metrics output.
package humanize

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

type config struct {
	base   float64
	suffix []string
}

// Bytes formats values as IEC byte sizes.
var Bytes = config{
	base:   1024,
	suffix: []string{" B", " KB", " MB", " GB", " TB", " PB", " EB"},
}

// Count formats values as SI counts.
var Count = config{
	base:   1000,
	suffix: []string{"", " K", " M", " G", " T", " P", " E"},
}

// Int64 produces a human readable representation of the value.
func (c *config) Int64(s int64) redact.SafeString {
	if s < 0 {
		return "-" + c.Uint64(uint64(-s))
	}
	return c.Uint64(uint64(s))
}

// Uint64 produces a human readable representation of the value.
func (c *config) Uint64(s uint64) redact.SafeString {
	if float64(s) < c.base {
		return redact.SafeString(fmt.Sprintf("%d%s", s, c.suffix[0]))
	}
	v := float64(s)
	e := 0
	for v >= c.base && e < len(c.suffix)-1 {
		v /= c.base
		e++
	}
	f := "%.0f%s"
	if v < 10 {
		f = "%.1f%s"
	}
	return redact.SafeString(fmt.Sprintf(f, v, c.suffix[e]))
}
