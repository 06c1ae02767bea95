// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "io"

// CloseHelper wraps an io.Closer in a wrapper that ignores extra calls to
// Close. Open uses it to release the file and its lock on error paths with a
// defer while still handing the same closers to the DB on success.
func CloseHelper(closer io.Closer) io.Closer {
	return &closeHelper{
		Closer: closer,
	}
}

type closeHelper struct {
	Closer io.Closer
}

// Close the underlying Closer, unless it was already closed.
func (h *closeHelper) Close() error {
	closer := h.Closer
	if closer == nil {
		return nil
	}
	h.Closer = nil
	return closer.Close()
}

// Release detaches the underlying Closer so that a later Close is a no-op,
// and returns it.
func Release(c io.Closer) io.Closer {
	h, ok := c.(*closeHelper)
	if !ok {
		return c
	}
	closer := h.Closer
	h.Closer = nil
	return closer
}
