// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap

import "context"

type inflightKey struct{}

// inflight is a link in the chain of cells a call stack is computing.
// Factories receive a context carrying the chain, which lets a nested
// request for one of those cells be told apart from a request by some
// other goroutine.
type inflight struct {
	cell   any
	parent *inflight
}

func withInflight(ctx context.Context, cell any) context.Context {
	parent, _ := ctx.Value(inflightKey{}).(*inflight)
	return context.WithValue(ctx, inflightKey{}, &inflight{cell: cell, parent: parent})
}

// computing reports whether the call stack owning ctx is computing cell.
func computing(ctx context.Context, cell any) bool {
	for f, _ := ctx.Value(inflightKey{}).(*inflight); f != nil; f = f.parent {
		if f.cell == cell {
			return true
		}
	}
	return false
}
