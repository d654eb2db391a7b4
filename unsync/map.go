// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unsync provides a single-owner map whose values are computed
// at most once per key.
//
// A Map is not safe for concurrent use. Instead of locks it keeps a
// borrow flag: lookups and iteration take a shared view of the table,
// mutations an exclusive one, and a mutation that starts while any
// view is live panics with [oncemap.ErrAlreadyBorrowed]. Value factories
// run with no view held, so they may use the map freely, except to
// insert the key they are computing, which panics with
// [oncemap.ErrReentrantInit].
package unsync

import (
	"fmt"
	"iter"

	"github.com/aristanetworks/oncemap"
	"github.com/aristanetworks/oncemap/internal/table"
)

// Map is a single-owner map that computes each key's value at most
// once. Values are boxed on insertion, so pointers returned for them
// stay valid while the table grows, and after they are removed.
//
// The zero value is not usable; use New.
type Map[K, V any] struct {
	hasher oncemap.BuildHasher
	clone  func(V) V
	table  table.Table[K, *V]
	flag   borrowFlag
}

// New returns an empty Map with a random seed.
func New[K, V any]() *Map[K, V] {
	return NewWithHasher[K, V](oncemap.NewRandomState())
}

// NewWithHasher returns an empty Map hashing with hb.
func NewWithHasher[K, V any](hb oncemap.BuildHasher) *Map[K, V] {
	return &Map[K, V]{hasher: hb, clone: oncemap.ShallowCopy[V]}
}

// WithCloner sets the function the cloned accessors copy values with,
// and returns m.
func (m *Map[K, V]) WithCloner(clone func(V) V) *Map[K, V] {
	m.clone = clone
	return m
}

// Len returns the number of values in m.
func (m *Map[K, V]) Len() int {
	m.flag.borrow()
	defer m.flag.release()
	return m.table.Len()
}

// IsEmpty reports whether m holds no values.
func (m *Map[K, V]) IsEmpty() bool {
	return m.Len() == 0
}

// Clear removes every value from m.
func (m *Map[K, V]) Clear() {
	m.flag.borrowMut()
	defer m.flag.releaseMut()
	m.table.Clear()
}

func equivalence[K any](q oncemap.Query[K]) func(*K) bool {
	return func(k *K) bool { return q.Equivalent(*k) }
}

func (m *Map[K, V]) lookup(hash uint64, eq func(*K) bool) (key K, v *V, ok bool) {
	m.flag.borrow()
	defer m.flag.release()
	k, vp := m.table.Get(hash, eq)
	if vp == nil {
		return key, nil, false
	}
	return *k, *vp, true
}

func (m *Map[K, V]) probe(q oncemap.Query[K]) (K, *V, bool) {
	return m.lookup(oncemap.HashOf[K](m.hasher, q), equivalence[K](q))
}

// Contains reports whether m holds a value for q.
func (m *Map[K, V]) Contains(q oncemap.Query[K]) bool {
	_, _, ok := m.probe(q)
	return ok
}

// Remove removes and returns the value for q.
func (m *Map[K, V]) Remove(q oncemap.Query[K]) (V, bool) {
	_, v, ok := m.RemoveEntry(q)
	return v, ok
}

// RemoveEntry removes the value for q and returns it along with its
// stored key.
func (m *Map[K, V]) RemoveEntry(q oncemap.Query[K]) (key K, value V, ok bool) {
	hash := oncemap.HashOf[K](m.hasher, q)
	m.flag.borrowMut()
	defer m.flag.releaseMut()
	key, v, ok := m.table.Remove(hash, equivalence[K](q))
	if !ok {
		return key, value, false
	}
	return key, *v, true
}

// Get returns a pointer to the value for q.
func (m *Map[K, V]) Get(q oncemap.Query[K]) (*V, bool) {
	_, v, ok := m.probe(q)
	return v, ok
}

// GetCloned returns a clone of the value for q.
func (m *Map[K, V]) GetCloned(q oncemap.Query[K]) (V, bool) {
	_, v, ok := m.probe(q)
	if !ok {
		var zero V
		return zero, false
	}
	return m.clone(*v), true
}

// getOrTryInsert returns the value for q, running build to compute it
// if m has none. inserted reports whether build ran.
func (m *Map[K, V]) getOrTryInsert(q oncemap.OwnedQuery[K],
	build func() (V, error)) (key K, v *V, inserted bool, err error) {
	return m.getOrTryInsertHashed(oncemap.HashOf[K](m.hasher, q), q, build)
}

// getOrTryInsertHashed is getOrTryInsert for a hash already computed
// from q. The same hash is used to probe and to store.
func (m *Map[K, V]) getOrTryInsertHashed(hash uint64, q oncemap.OwnedQuery[K],
	build func() (V, error)) (key K, v *V, inserted bool, err error) {
	eq := equivalence[K](q)
	if key, v, ok := m.lookup(hash, eq); ok {
		return key, v, false, nil
	}

	// No view of the table may be held here: build may use m.
	value, err := build()
	if err != nil {
		return key, nil, false, err
	}

	m.flag.borrowMut()
	defer m.flag.releaseMut()
	e := m.table.Entry(hash, eq)
	if e.Occupied() {
		// Only build itself can have filled the slot.
		panic(oncemap.ErrReentrantInit)
	}
	v = &value
	k, _ := e.Insert(q.ToOwned(), v)
	return *k, v, true, nil
}

// GetOrInsertWith returns a pointer to the value for q, computing it
// with build if m has none.
func (m *Map[K, V]) GetOrInsertWith(q oncemap.OwnedQuery[K], build func() V) *V {
	v, _ := m.GetOrTryInsertWith(q, func() (V, error) { return build(), nil })
	return v
}

// GetOrTryInsertWith is like GetOrInsertWith, but build may fail, in
// which case nothing is stored and its error is returned.
func (m *Map[K, V]) GetOrTryInsertWith(q oncemap.OwnedQuery[K], build func() (V, error)) (*V, error) {
	_, v, _, err := m.getOrTryInsert(q, build)
	return v, err
}

// GetOrInsertWithCloned is like GetOrInsertWith but returns a clone.
func (m *Map[K, V]) GetOrInsertWithCloned(q oncemap.OwnedQuery[K], build func() V) V {
	return m.clone(*m.GetOrInsertWith(q, build))
}

// GetOrTryInsertWithCloned is like GetOrTryInsertWith but returns a
// clone.
func (m *Map[K, V]) GetOrTryInsertWithCloned(q oncemap.OwnedQuery[K], build func() (V, error)) (V, error) {
	v, err := m.GetOrTryInsertWith(q, build)
	if err != nil {
		var zero V
		return zero, err
	}
	return m.clone(*v), nil
}

// InsertCloned stores value for q unless m already has a value for it,
// and returns a clone of whichever value is stored.
func (m *Map[K, V]) InsertCloned(q oncemap.OwnedQuery[K], value V) V {
	return m.GetOrInsertWithCloned(q, func() V { return value })
}

// All returns an iterator over the keys and values of m. m must not be
// mutated during the loop.
func (m *Map[K, V]) All() iter.Seq2[K, *V] {
	return func(yield func(K, *V) bool) {
		m.flag.borrow()
		defer m.flag.release()
		for k, v := range m.table.All() {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Keys returns an iterator over the keys of m. m must not be mutated
// during the loop.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.flag.borrow()
		defer m.flag.release()
		for k := range m.table.Keys() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns an iterator over the values of m. m must not be
// mutated during the loop.
func (m *Map[K, V]) Values() iter.Seq[*V] {
	return func(yield func(*V) bool) {
		m.flag.borrow()
		defer m.flag.release()
		for v := range m.table.Values() {
			if !yield(v) {
				return
			}
		}
	}
}

// String renders the contents of m, sorted by key.
func (m *Map[K, V]) String() string {
	return table.StringFunc("unsync.Map", m.All(), table.Sprint[K],
		func(v *V) string { return fmt.Sprint(*v) })
}

// Inspect calls fn with the stored key and value for q, if any. m must
// not be mutated by fn.
func Inspect[K, V, T any](m *Map[K, V], q oncemap.Query[K], fn func(key K, value *V) T) (T, bool) {
	hash := oncemap.HashOf[K](m.hasher, q)
	m.flag.borrow()
	defer m.flag.release()
	k, v := m.table.Get(hash, equivalence[K](q))
	if v == nil {
		var zero T
		return zero, false
	}
	return fn(*k, *v), true
}

// Compute is the general form of GetOrInsertWith. If m has no value for
// q, onVacant computes one from data along with the result to return.
// Otherwise onOccupied projects the result from data and the stored key
// and value; m must not be mutated by onOccupied.
func Compute[K, V, T, U any](m *Map[K, V], q oncemap.OwnedQuery[K], data T,
	onVacant func(data T) (V, U),
	onOccupied func(data T, key K, value *V) U) U {
	u, _ := TryCompute(m, q, data,
		func(data T) (V, U, error) {
			v, u := onVacant(data)
			return v, u, nil
		},
		onOccupied)
	return u
}

// TryCompute is like Compute, but onVacant may fail, in which case
// nothing is stored and its error is returned.
func TryCompute[K, V, T, U any](m *Map[K, V], q oncemap.OwnedQuery[K], data T,
	onVacant func(data T) (V, U, error),
	onOccupied func(data T, key K, value *V) U) (U, error) {
	hash := oncemap.HashOf[K](m.hasher, q)
	if u, ok := inspectHashed(m, hash, q, data, onOccupied); ok {
		return u, nil
	}

	var u U
	_, _, _, err := m.getOrTryInsertHashed(hash, q, func() (V, error) {
		v, r, err := onVacant(data)
		u = r
		return v, err
	})
	if err != nil {
		var zero U
		return zero, err
	}
	return u, nil
}

func inspectHashed[K, V, T, U any](m *Map[K, V], hash uint64, q oncemap.Query[K], data T,
	onOccupied func(data T, key K, value *V) U) (U, bool) {
	m.flag.borrow()
	defer m.flag.release()
	k, v := m.table.Get(hash, equivalence[K](q))
	if v == nil {
		var zero U
		return zero, false
	}
	return onOccupied(data, *k, *v), true
}
