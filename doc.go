// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package oncemap provides maps whose values are computed at most once per
key and handed back as stable pointers.

A lookup is described by a [Query]: a borrowed view that can hash itself
and test itself against a stored key, so probing never builds an owned
key. Insertion paths take an [OwnedQuery], which additionally converts
itself into the key to store. The conversion happens once, only when a
slot is actually created. [Key] adapts any comparable value into a query
for itself, and [Bytes] looks up string keys from a byte slice.

[Map] is safe for concurrent use. Callers asking for different keys
proceed independently; callers asking for a key whose value is being
computed block until it is published. Package
[github.com/aristanetworks/oncemap/unsync] provides the single-owner
variant with a runtime-checked borrow discipline instead of locks.

In both variants the value factory runs with no lock or borrow held, so
it may use the map for other keys. A factory that asks for its own key,
directly or through other factories, is a programming error and panics
with [ErrReentrantInit]. A factory that fails or panics leaves no entry
behind, and a later call may retry.

The following requirements are the caller's responsibility:
  - q.Equivalent(k) must imply that q and k hash identically, and
    q.ToOwned() must be equivalent to q;
  - Equivalent and ToOwned must not use the map they are passed to,
    since [Map] calls them with a shard lock held;
  - stored keys must not be mutated in a way that affects equivalence;
  - factories running on different goroutines must not wait on each
    other's keys in a cycle, which [Map] cannot detect;
  - values reached through returned pointers must not be mutated if
    other callers may read them.

Violating the first or third yields unspecified lookups, not a panic.
Violating the second or fourth deadlocks.
*/
package oncemap
