// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"sync"
	"time"

	"github.com/cockroachdb/swiss"
)

// semaphores are named locks owned by transactions. They are not persisted.
type semaphores struct {
	owners *swiss.Map[string, *Txn]
	// cond is signaled whenever a semaphore is released. Its lock is d.mu.
	cond sync.Cond
}

func (s *semaphores) init(mu *sync.Mutex) {
	s.owners = swiss.New[string, *Txn](8)
	s.cond.L = mu
}

// setSemaphoreLocked acquires name for t, waiting up to timeout. d.mu is
// released while waiting.
func (d *DB) setSemaphoreLocked(t *Txn, name string, timeout time.Duration) (bool, error) {
	s := &d.mu.sem
	timedOut := false
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		if err := t.checkOpen(); err != nil {
			return false, err
		}
		owner, ok := s.owners.Get(name)
		if !ok || owner == t {
			s.owners.Put(name, t)
			return true, nil
		}
		if timeout <= 0 || timedOut {
			return false, nil
		}
		if timer == nil {
			timer = time.AfterFunc(timeout, func() {
				d.mu.Lock()
				timedOut = true
				d.mu.Unlock()
				s.cond.Broadcast()
			})
		}
		s.cond.Wait()
	}
}

func (d *DB) releaseSemaphoreLocked(t *Txn, name string) {
	s := &d.mu.sem
	if owner, ok := s.owners.Get(name); ok && owner == t {
		s.owners.Delete(name)
		s.cond.Broadcast()
	}
}

// releaseAllSemaphoresLocked releases the semaphores held by t, or by any
// transaction if t is nil.
func (d *DB) releaseAllSemaphoresLocked(t *Txn) {
	s := &d.mu.sem
	var names []string
	s.owners.All(func(name string, owner *Txn) bool {
		if t == nil || owner == t {
			names = append(names, name)
		}
		return true
	})
	for _, name := range names {
		s.owners.Delete(name)
	}
	s.cond.Broadcast()
}
