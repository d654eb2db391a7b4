// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap

import "hash/maphash"

// Query is a borrowed lookup key for maps storing keys of type K.
//
// Hash must write the same bytes as the query that originally inserted
// an equivalent key, so that a probe lands in the same place.
type Query[K any] interface {
	Hash(h *maphash.Hash)
	Equivalent(key K) bool
}

// OwnedQuery is a Query that can produce the key to store.
type OwnedQuery[K any] interface {
	Query[K]
	ToOwned() K
}

// Comparable is the query of a comparable key for itself.
type Comparable[K comparable] struct {
	key K
}

// Key returns the query for k.
func Key[K comparable](k K) Comparable[K] {
	return Comparable[K]{key: k}
}

// Hash writes k to h. Strings are written as their bytes, which keeps
// them in agreement with [Bytes].
func (c Comparable[K]) Hash(h *maphash.Hash) {
	if s, ok := any(c.key).(string); ok {
		h.WriteString(s)
		return
	}
	maphash.WriteComparable(h, c.key)
}

func (c Comparable[K]) Equivalent(key K) bool {
	return c.key == key
}

func (c Comparable[K]) ToOwned() K {
	return c.key
}

// Bytes looks up string keys without converting to a string first.
type Bytes []byte

func (b Bytes) Hash(h *maphash.Hash) {
	h.Write(b)
}

func (b Bytes) Equivalent(key string) bool {
	return string(b) == key
}

// ToOwned copies b into a new string.
func (b Bytes) ToOwned() string {
	return string(b)
}
