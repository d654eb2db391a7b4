// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap

import (
	"context"
	"fmt"
	"iter"
	"math/bits"
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/aristanetworks/oncemap/internal/log"
	"github.com/aristanetworks/oncemap/internal/table"
)

// Map is a concurrent map that computes each key's value at most once.
//
// Keys are spread over shards, each a [table.Table] behind its own
// read-write lock. Locks are held only to probe, reserve or publish a
// slot, never while a factory runs. A key being computed holds a
// pending cell that is invisible to every lookup; callers asking for it
// wait until its value is published or its factory gives up.
//
// Factories on different goroutines must not depend on each other's
// keys in a cycle: if the factory of a waits for b while the factory of
// b, on another goroutine, waits for a, both wait forever. Only a cycle
// within one call chain is detected, through the context passed to the
// factory.
//
// The zero value is not usable; use New. A Map must not be copied after
// first use.
type Map[K, V any] struct {
	hasher BuildHasher
	clone  func(V) V
	shards []shard[K, V]
	mask   uint64
}

type shard[K, V any] struct {
	mu    rwMutex
	table table.Table[K, *cell[V]]
	ready int // published cells; guarded by mu
	_     cpu.CacheLinePad
}

// cell is the slot of one key. value and ready are written once, under
// the shard's write lock, before done is closed.
type cell[V any] struct {
	done  chan struct{}
	ready bool
	value V
}

// New returns an empty Map with a random seed.
func New[K, V any]() *Map[K, V] {
	return NewWithHasher[K, V](NewRandomState())
}

// NewWithHasher returns an empty Map hashing with hb.
func NewWithHasher[K, V any](hb BuildHasher) *Map[K, V] {
	return NewWithShards[K, V](hb, 4*runtime.GOMAXPROCS(0))
}

// NewWithShards returns an empty Map hashing with hb and spreading keys
// over n shards, rounded up to a power of two.
func NewWithShards[K, V any](hb BuildHasher, n int) *Map[K, V] {
	if n < 1 {
		n = 1
	}
	n = 1 << bits.Len(uint(n-1))
	return &Map[K, V]{
		hasher: hb,
		clone:  ShallowCopy[V],
		shards: make([]shard[K, V], n),
		mask:   uint64(n - 1),
	}
}

// WithCloner sets the function the cloned accessors copy values with,
// and returns m. It must be called before m is shared.
func (m *Map[K, V]) WithCloner(clone func(V) V) *Map[K, V] {
	m.clone = clone
	return m
}

// shardFor picks a shard from the middle of hash. Tables use the low
// bits to pick buckets and the top byte to tell cells apart.
func (m *Map[K, V]) shardFor(hash uint64) *shard[K, V] {
	return &m.shards[(hash>>32)&m.mask]
}

// Len returns the number of published values.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += s.ready
		s.mu.RUnlock()
	}
	return n
}

// IsEmpty reports whether m holds no published values.
func (m *Map[K, V]) IsEmpty() bool {
	return m.Len() == 0
}

// Clear removes every published value. Computations in flight are not
// affected and publish as usual.
func (m *Map[K, V]) Clear() {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.table.Retain(func(_ *K, c **cell[V]) bool { return !(*c).ready })
		s.ready = 0
		s.mu.Unlock()
	}
}

func (s *shard[K, V]) lookup(hash uint64, eq func(*K) bool) (key K, c *cell[V], ready bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, cp := s.table.Get(hash, eq)
	if cp == nil {
		return key, nil, false
	}
	return *k, *cp, (*cp).ready
}

// reserve inserts a pending cell for q unless the probe finds a cell.
// owner reports whether the returned cell is the new one.
func (s *shard[K, V]) reserve(hash uint64, eq func(*K) bool, q OwnedQuery[K]) (key K, c *cell[V], ready, owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.table.Entry(hash, eq)
	if e.Occupied() {
		c = *e.Value()
		return *e.Key(), c, c.ready, false
	}
	c = &cell[V]{done: make(chan struct{})}
	k, _ := e.Insert(q.ToOwned(), c)
	return *k, c, false, true
}

func (s *shard[K, V]) publish(c *cell[V], v V) {
	s.mu.Lock()
	c.value = v
	c.ready = true
	s.ready++
	s.mu.Unlock()
	close(c.done)
}

// abandon removes the pending cell c and wakes its waiters.
func (s *shard[K, V]) abandon(hash uint64, eq func(*K) bool, c *cell[V]) {
	s.mu.Lock()
	_, removed, ok := s.table.Remove(hash, eq)
	s.mu.Unlock()
	if !ok || removed != c {
		panic("oncemap: pending cell vanished")
	}
	close(c.done)
}

func equivalence[K any](q Query[K]) func(*K) bool {
	return func(k *K) bool { return q.Equivalent(*k) }
}

// getOrTryInsert returns the published cell for q, running build with
// the stored key to compute it if no other caller has. inserted reports
// whether this call ran build. It fails only with the error of build or
// of ctx.
func (m *Map[K, V]) getOrTryInsert(ctx context.Context, q OwnedQuery[K],
	build func(context.Context, K) (V, error)) (key K, c *cell[V], inserted bool, err error) {
	hash := HashOf[K](m.hasher, q)
	eq := equivalence[K](q)
	s := m.shardFor(hash)
	for {
		var ready bool
		key, c, ready = s.lookup(hash, eq)
		if c == nil {
			var owner bool
			key, c, ready, owner = s.reserve(hash, eq, q)
			if owner {
				err := m.compute(ctx, s, hash, eq, c, func(ctx context.Context) (V, error) {
					return build(ctx, key)
				})
				if err != nil {
					var zero K
					return zero, nil, false, err
				}
				return key, c, true, nil
			}
		}
		if ready {
			return key, c, false, nil
		}
		if computing(ctx, c) {
			panic(ErrReentrantInit)
		}
		select {
		case <-c.done:
			// Published or abandoned; look again.
		case <-ctx.Done():
			var zero K
			return zero, nil, false, ctx.Err()
		}
	}
}

// compute runs build for the pending cell c owned by the caller and
// either publishes its value or, if build fails, panics or exits the
// goroutine, removes c so that a later call may retry.
func (m *Map[K, V]) compute(ctx context.Context, s *shard[K, V], hash uint64,
	eq func(*K) bool, c *cell[V], build func(context.Context) (V, error)) error {
	published := false
	defer func() {
		if !published {
			log.Verbosef("oncemap: abandoned computation of %016x", hash)
			s.abandon(hash, eq, c)
		}
	}()

	v, err := build(withInflight(ctx, c))
	if err != nil {
		return err
	}
	s.publish(c, v)
	published = true
	return nil
}

// Contains reports whether a value for q is published.
func (m *Map[K, V]) Contains(q Query[K]) bool {
	_, _, ready := m.probe(q)
	return ready
}

func (m *Map[K, V]) probe(q Query[K]) (K, *cell[V], bool) {
	hash := HashOf[K](m.hasher, q)
	return m.shardFor(hash).lookup(hash, equivalence[K](q))
}

// Remove removes and returns the published value for q. Pointers
// previously returned for it stay valid.
func (m *Map[K, V]) Remove(q Query[K]) (V, bool) {
	_, v, ok := m.RemoveEntry(q)
	return v, ok
}

// RemoveEntry removes the published value for q and returns it along
// with its stored key.
func (m *Map[K, V]) RemoveEntry(q Query[K]) (key K, value V, ok bool) {
	hash := HashOf[K](m.hasher, q)
	eq := equivalence[K](q)
	s := m.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, c := s.table.Get(hash, eq); c == nil || !(*c).ready {
		return key, value, false
	}
	key, c, _ := s.table.Remove(hash, eq)
	s.ready--
	return key, c.value, true
}

// Get returns a pointer to the published value for q.
func (m *Map[K, V]) Get(q Query[K]) (*V, bool) {
	_, c, ready := m.probe(q)
	if !ready {
		return nil, false
	}
	return &c.value, true
}

// GetCloned returns a clone of the published value for q.
func (m *Map[K, V]) GetCloned(q Query[K]) (V, bool) {
	_, c, ready := m.probe(q)
	if !ready {
		var zero V
		return zero, false
	}
	return m.clone(c.value), true
}

// GetOrInsertWith returns a pointer to the value for q, computing it
// with build if no value is published. Concurrent callers for the same
// key wait for a single computation. build receives a context derived
// from ctx which it must pass to any nested use of a Map. The error is
// that of ctx, if it ends while waiting for another caller.
func (m *Map[K, V]) GetOrInsertWith(ctx context.Context, q OwnedQuery[K],
	build func(context.Context) V) (*V, error) {
	return m.GetOrTryInsertWith(ctx, q, func(ctx context.Context) (V, error) {
		return build(ctx), nil
	})
}

// GetOrTryInsertWith is like GetOrInsertWith, but build may fail. On
// failure nothing is stored and the error is returned to this caller;
// callers waiting on the same key retry the computation themselves.
func (m *Map[K, V]) GetOrTryInsertWith(ctx context.Context, q OwnedQuery[K],
	build func(context.Context) (V, error)) (*V, error) {
	_, c, _, err := m.getOrTryInsert(ctx, q, func(ctx context.Context, _ K) (V, error) {
		return build(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &c.value, nil
}

// GetOrInsertWithCloned is like GetOrInsertWith but returns a clone.
func (m *Map[K, V]) GetOrInsertWithCloned(ctx context.Context, q OwnedQuery[K],
	build func(context.Context) V) (V, error) {
	return m.cloned(m.GetOrInsertWith(ctx, q, build))
}

// GetOrTryInsertWithCloned is like GetOrTryInsertWith but returns a
// clone.
func (m *Map[K, V]) GetOrTryInsertWithCloned(ctx context.Context, q OwnedQuery[K],
	build func(context.Context) (V, error)) (V, error) {
	return m.cloned(m.GetOrTryInsertWith(ctx, q, build))
}

// InsertCloned stores value for q unless a value is already published,
// and returns a clone of whichever value ends up stored.
func (m *Map[K, V]) InsertCloned(ctx context.Context, q OwnedQuery[K], value V) (V, error) {
	return m.GetOrInsertWithCloned(ctx, q, func(context.Context) V { return value })
}

func (m *Map[K, V]) cloned(v *V, err error) (V, error) {
	if err != nil {
		var zero V
		return zero, err
	}
	return m.clone(*v), nil
}

// All returns an iterator over published keys and values. Each shard is
// copied under its read lock and yielded without it, so the loop body
// may use m.
func (m *Map[K, V]) All() iter.Seq2[K, *V] {
	return func(yield func(K, *V) bool) {
		type kc struct {
			k K
			c *cell[V]
		}
		var snap []kc
		for i := range m.shards {
			s := &m.shards[i]
			snap = snap[:0]
			s.mu.RLock()
			for k, c := range s.table.All() {
				if c.ready {
					snap = append(snap, kc{k, c})
				}
			}
			s.mu.RUnlock()
			for _, e := range snap {
				if !yield(e.k, &e.c.value) {
					return
				}
			}
		}
	}
}

// String renders the published contents of m, sorted by key.
func (m *Map[K, V]) String() string {
	return m.format("oncemap.Map")
}

func (m *Map[K, V]) format(name string) string {
	return table.StringFunc(name, m.All(), table.Sprint[K],
		func(v *V) string { return fmt.Sprint(*v) })
}

// Inspect calls fn with the stored key and value for q, if published.
func Inspect[K, V, T any](m *Map[K, V], q Query[K], fn func(key K, value *V) T) (T, bool) {
	key, c, ready := m.probe(q)
	if !ready {
		var zero T
		return zero, false
	}
	return fn(key, &c.value), true
}

// Compute is the general form of GetOrInsertWith. If no value for q is
// published, onVacant computes one from data along with the result to
// return. Otherwise onOccupied projects the result from data and the
// stored key and value. Exactly one of them runs, without locks held.
func Compute[K, V, T, U any](ctx context.Context, m *Map[K, V], q OwnedQuery[K], data T,
	onVacant func(ctx context.Context, data T) (V, U),
	onOccupied func(data T, key K, value *V) U) (U, error) {
	return TryCompute(ctx, m, q, data,
		func(ctx context.Context, data T) (V, U, error) {
			v, u := onVacant(ctx, data)
			return v, u, nil
		},
		onOccupied)
}

// TryCompute is like Compute, but onVacant may fail, in which case
// nothing is stored and its error is returned.
func TryCompute[K, V, T, U any](ctx context.Context, m *Map[K, V], q OwnedQuery[K], data T,
	onVacant func(ctx context.Context, data T) (V, U, error),
	onOccupied func(data T, key K, value *V) U) (U, error) {
	var u U
	key, c, inserted, err := m.getOrTryInsert(ctx, q, func(ctx context.Context, _ K) (V, error) {
		v, r, err := onVacant(ctx, data)
		u = r
		return v, err
	})
	switch {
	case err != nil:
		var zero U
		return zero, err
	case inserted:
		return u, nil
	default:
		return onOccupied(data, key, &c.value), nil
	}
}
