// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
)

var stdout = io.Writer(os.Stdout)
var stderr = io.Writer(os.Stderr)
var osExit = os.Exit

// newTable returns a table writing to w with the layout shared by the
// tools.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader(header)
	tbl.SetBorder(false)
	tbl.SetColumnSeparator("")
	tbl.SetHeaderLine(false)
	tbl.SetAlignment(tablewriter.ALIGN_LEFT)
	tbl.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tbl.SetAutoWrapText(false)
	return tbl
}

func parseID(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid id %q", s)
	}
	if v <= 0 {
		return 0, errors.Errorf("invalid id %d", v)
	}
	return int32(v), nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(stderr, format+"\n", args...)
	osExit(1)
}
