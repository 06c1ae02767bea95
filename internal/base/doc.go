// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across slotdb: the logger
// interface and the error taxonomy shared by the storage, ledger and
// reference packages.
package base
