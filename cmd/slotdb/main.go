// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"log"
	"os"
	"time"

	"github.com/cockroachdb/slotdb/tool"
	"github.com/spf13/cobra"
)

var (
	concurrency int
	duration    time.Duration
	verbose     bool
	wipe        bool
)

var rootCmd = &cobra.Command{
	Use:   "slotdb [command] (flags)",
	Short: "slotdb benchmarking/introspection tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmarks",
	}
	benchCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(tool.New().Commands...)

	for _, cmd := range []*cobra.Command{storeCmd} {
		cmd.Flags().IntVarP(
			&concurrency, "concurrency", "c", 1, "number of concurrent transactions")
		cmd.Flags().DurationVarP(
			&duration, "duration", "d", 10*time.Second, "the duration to run (0, run forever)")
		cmd.Flags().BoolVarP(
			&verbose, "verbose", "v", false, "enable verbose event logging")
		cmd.Flags().BoolVarP(
			&wipe, "wipe", "w", false, "wipe the database before starting")
	}

	storeCmd.Flags().IntVar(
		&storeConfig.batch, "batch", 10, "number of objects stored per commit")
	storeCmd.Flags().IntVar(
		&storeConfig.depth, "depth", 3, "length of the chain stored as one object graph")
	storeCmd.Flags().IntVar(
		&storeConfig.payload, "payload", 64, "size of each object's payload in bytes")
	storeCmd.Flags().IntVar(
		&storeConfig.readPercent, "read-percent", 0,
		"percent (0-100) of operations that read back a committed object")
	storeCmd.Flags().StringVar(
		&storeConfig.compression, "compression", "none",
		"compression of stored payloads (none, snappy, zstd, s2, minlz)")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
