// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb"
	"github.com/spf13/cobra"
)

var storeConfig struct {
	batch       int
	depth       int
	payload     int
	readPercent int
	compression string
}

var storeCmd = &cobra.Command{
	Use:   "store <path>",
	Short: "run the store benchmark",
	Long: `
Run a workload where each of the concurrent transactions stores chains of
new objects and commits them in batches, optionally mixed with reads of
objects committed earlier by any transaction.
`,
	Args: cobra.ExactArgs(1),
	RunE: runStore,
}

// benchObject is the object stored by the store benchmark. Each stored
// graph is a chain of depth benchObjects.
type benchObject struct {
	Seq     int64
	Payload []byte
	Next    *benchObject
}

type storeBench struct {
	reg     *histogramRegistry
	seq     atomic.Int64
	stopped atomic.Bool
	mu      struct {
		sync.Mutex
		ids []int32
	}
}

func runStore(cmd *cobra.Command, args []string) error {
	if storeConfig.readPercent < 0 || storeConfig.readPercent > 100 {
		return errors.Errorf("invalid read percent %d", storeConfig.readPercent)
	}
	if storeConfig.batch <= 0 || storeConfig.depth <= 0 {
		return errors.Errorf("batch and depth must be positive")
	}
	opts := &slotdb.Options{}
	if err := opts.Parse(fmt.Sprintf("[Options]\n  compression=%s\n", storeConfig.compression)); err != nil {
		return err
	}

	b := &storeBench{reg: newHistogramRegistry()}
	runTest(args[0], opts, test{
		init: b.init,
		tick: b.tick,
		done: b.done,
	})
	return nil
}

func (b *storeBench) init(db *slotdb.DB, wg *sync.WaitGroup) {
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go b.run(db, wg, i)
	}
}

func (b *storeBench) run(db *slotdb.DB, wg *sync.WaitGroup, worker int) {
	defer wg.Done()

	txn, err := db.NewTxn()
	if err != nil {
		b.fatal(err)
		return
	}
	defer txn.Close()

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)))
	payload := make([]byte, storeConfig.payload)
	for i := range payload {
		payload[i] = byte(rng.IntN(26) + 'a')
	}
	commitHist := b.reg.Register("commit")
	readHist := b.reg.Register("read")
	heads := make([]*benchObject, storeConfig.batch)
	ids := make([]int32, storeConfig.batch)

	for !b.stopped.Load() {
		if rng.IntN(100) < storeConfig.readPercent {
			id, ok := b.randomID(rng)
			if !ok {
				continue
			}
			start := time.Now()
			obj, err := txn.GetByID(id)
			if err != nil {
				b.fatal(err)
				return
			}
			readHist.Record(time.Since(start))
			purgeChain(txn, obj.(*benchObject))
			continue
		}

		start := time.Now()
		for i := range heads {
			var head *benchObject
			for j := 0; j < storeConfig.depth; j++ {
				head = &benchObject{Seq: b.seq.Add(1), Payload: payload, Next: head}
			}
			heads[i] = head
			if ids[i], err = txn.Store(head); err != nil {
				b.fatal(err)
				return
			}
		}
		if err := txn.Commit(); err != nil {
			b.fatal(err)
			return
		}
		commitHist.Record(time.Since(start))

		b.mu.Lock()
		b.mu.ids = append(b.mu.ids, ids...)
		b.mu.Unlock()
		// Committed objects are dropped from the reference system to keep
		// its size bounded.
		for _, head := range heads {
			purgeChain(txn, head)
		}
	}
}

func (b *storeBench) randomID(rng *rand.Rand) (int32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.mu.ids) == 0 {
		return 0, false
	}
	return b.mu.ids[rng.IntN(len(b.mu.ids))], true
}

// fatal reports err unless the benchmark is shutting down, in which case
// the DB may already be closed.
func (b *storeBench) fatal(err error) {
	if b.stopped.Load() && errors.Is(err, slotdb.ErrClosed) {
		return
	}
	log.Fatal(err)
}

func purgeChain(txn *slotdb.Txn, o *benchObject) {
	for ; o != nil; o = o.Next {
		txn.Purge(o)
	}
}

func (b *storeBench) tick(elapsed time.Duration, i int) {
	if i%20 == 0 {
		fmt.Println("____optype__elapsed__ops/sec(inst)___ops/sec(cum)__p50(ms)__p95(ms)__p99(ms)_pMax(ms)")
	}
	b.reg.Tick(func(tick histogramTick) {
		h := tick.Hist
		fmt.Printf("%10s %8s %14.1f %14.1f %8.1f %8.1f %8.1f %8.1f\n",
			tick.Name,
			time.Duration(elapsed.Seconds()+0.5)*time.Second,
			float64(h.TotalCount())/tick.Elapsed.Seconds(),
			float64(tick.Cumulative.TotalCount())/elapsed.Seconds(),
			time.Duration(h.ValueAtQuantile(50)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(95)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(99)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(100)).Seconds()*1000,
		)
	})
}

func (b *storeBench) done(db *slotdb.DB, elapsed time.Duration) {
	b.stopped.Store(true)

	fmt.Println("\n____optype__elapsed_____ops(total)___ops/sec(cum)__avg(ms)__p50(ms)__p95(ms)__p99(ms)_pMax(ms)")
	b.reg.Tick(func(tick histogramTick) {
		h := tick.Cumulative
		fmt.Printf("%10s %7.1fs %14d %14.1f %8.1f %8.1f %8.1f %8.1f %8.1f\n",
			tick.Name, elapsed.Seconds(), h.TotalCount(),
			float64(h.TotalCount())/elapsed.Seconds(),
			time.Duration(h.Mean()).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(50)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(95)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(99)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(100)).Seconds()*1000)
	})
	fmt.Printf("\n%s", db.Metrics())
}
