// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap

import "errors"

// ErrReentrantInit is panicked when a value factory asks, directly or
// through other factories, for the key it is computing.
var ErrReentrantInit = errors.New("oncemap: re-entrant init")

// ErrAlreadyBorrowed is panicked by single-owner maps when a mutation
// starts while a lookup, iteration or mutation is still in progress.
var ErrAlreadyBorrowed = errors.New("oncemap: already borrowed")
