// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap

import "context"

// LazyMap is a [Map] whose values all come from one factory, fixed at
// construction. Each value is computed from its key on first request.
// Concurrency and re-entrancy rules are those of Map: the factory runs
// without locks held, must pass its context to nested lookups, and
// panics with [ErrReentrantInit] if it asks for its own key.
//
// The zero value is not usable; use NewLazy.
type LazyMap[K, V any] struct {
	m     *Map[K, V]
	build func(ctx context.Context, key K) V
}

// NewLazy returns an empty LazyMap computing values with build, which
// receives the key being stored.
func NewLazy[K, V any](build func(ctx context.Context, key K) V) *LazyMap[K, V] {
	return NewLazyWithHasher(NewRandomState(), build)
}

// NewLazyWithHasher is like NewLazy but hashes with hb.
func NewLazyWithHasher[K, V any](hb BuildHasher, build func(ctx context.Context, key K) V) *LazyMap[K, V] {
	return &LazyMap[K, V]{m: NewWithHasher[K, V](hb), build: build}
}

// WithCloner sets the function GetCloned copies values with, and
// returns l. It must be called before l is shared.
func (l *LazyMap[K, V]) WithCloner(clone func(V) V) *LazyMap[K, V] {
	l.m.WithCloner(clone)
	return l
}

func (l *LazyMap[K, V]) compute(ctx context.Context, key K) (V, error) {
	return l.build(ctx, key), nil
}

// Get returns a pointer to the value for q, computing it if needed. The
// error is that of ctx, if it ends while waiting for another caller.
func (l *LazyMap[K, V]) Get(ctx context.Context, q OwnedQuery[K]) (*V, error) {
	_, c, _, err := l.m.getOrTryInsert(ctx, q, l.compute)
	if err != nil {
		return nil, err
	}
	return &c.value, nil
}

// GetCloned is like Get but returns a clone.
func (l *LazyMap[K, V]) GetCloned(ctx context.Context, q OwnedQuery[K]) (V, error) {
	return l.m.cloned(l.Get(ctx, q))
}

// Contains reports whether a value for q has been computed.
func (l *LazyMap[K, V]) Contains(q Query[K]) bool {
	return l.m.Contains(q)
}

// Len returns the number of computed values.
func (l *LazyMap[K, V]) Len() int {
	return l.m.Len()
}

// Remove removes and returns the value for q, so that the next Get
// computes it again.
func (l *LazyMap[K, V]) Remove(q Query[K]) (V, bool) {
	return l.m.Remove(q)
}

// Clear removes every computed value.
func (l *LazyMap[K, V]) Clear() {
	l.m.Clear()
}

// String renders the computed contents of l, sorted by key.
func (l *LazyMap[K, V]) String() string {
	return l.m.format("oncemap.LazyMap")
}
