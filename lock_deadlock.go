// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build deadlock

package oncemap

import "github.com/sasha-s/go-deadlock"

// Building with -tags deadlock reports shard locks held for too long,
// which would mean user code ran under a lock.
type rwMutex = deadlock.RWMutex
