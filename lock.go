// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !deadlock

package oncemap

import "sync"

type rwMutex = sync.RWMutex
