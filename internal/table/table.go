// Modifications copyright (c) Arista Networks, Inc. 2026
// Underlying
// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package table provides Table, a bucketed hash table whose every
// operation is addressed by a precomputed hash and an equivalence
// predicate rather than by a key.
//
// The table never hashes anything itself. Each cell remembers the full
// hash it was inserted with, and growth redistributes cells by that
// stored hash. This lets callers compute one hash from a borrowed query,
// probe with it, and insert an owned key under the very same hash.
//
// The following requirements are the caller's responsibility:
//   - every key passed to Insert must satisfy the predicate that
//     located its Entry, and must hash to the Entry's hash;
//   - keys must not be mutated in a way that affects equivalence once
//     they are stored;
//   - writes must not run concurrently with any other operation.
package table

// This file contains a reduced version of the runtime's map layout.
// See https://github.com/golang/go/blob/master/src/runtime/map.go
//
// The data is arranged into an array of buckets. Each bucket contains
// up to 8 key/elem pairs. The low-order bits of the hash select a
// bucket. Each bucket contains the high byte of each cell's hash to
// distinguish the entries within a single bucket cheaply, followed by
// the full hash.
//
// If more than 8 keys hash to a bucket, we chain on extra buckets.
//
// When the table grows, we allocate a new array of buckets twice as big
// and move every cell at once. Unlike the runtime map there is no
// incremental evacuation: the owners of a Table never iterate while
// writing, so there is no iteration order to preserve across a grow.

import (
	"golang.org/x/exp/rand"
)

const (
	// Maximum number of key/elem pairs a bucket can hold.
	bucketCntBits = 3
	bucketCnt     = 1 << bucketCntBits

	// Maximum average load of a bucket that triggers growth is 6.5.
	// Represent as loadFactorNum/loadFactorDen, to allow integer math.
	loadFactorNum = 13
	loadFactorDen = 2

	// Possible tophash values. We reserve a few possibilities for special marks.

	// this cell is empty, and there are no more non-empty cells at higher indexes or overflows.
	emptyRest = 0
	// this cell is empty
	emptyOne = 1
	// minimum tophash for a normal filled cell.
	minTopHash = 2

	// flags
	hashWriting = 1 // a goroutine is writing to the table
)

// isEmpty reports whether the given tophash array entry represents an empty bucket entry.
func isEmpty(x uint8) bool {
	return x <= emptyOne
}

// Table is a hash table of K to V addressed by precomputed hashes.
// The zero value is an empty table ready to use.
type Table[K, V any] struct {
	count     int // # live cells == size of table
	flags     uint32
	noverflow uint32 // number of overflow buckets

	// writes counts completed mutations. Entries and iterators remember
	// it so that they can detect that the table moved under them.
	writes uint64

	// array of buckets. may be nil if count==0.
	// Pre-allocated overflow buckets exist as indexes [len(buckets), cap(buckets)-1]
	buckets []bucket[K, V]
	// nextoverflow is an index into buckets[:cap(buckets)]. It is the
	// next unused overflow bucket.
	nextoverflow int
}

type bucket[K, V any] struct {
	// tophash contains the top byte of the hash value for each cell in
	// this bucket, or an empty mark.
	tophash [bucketCnt]uint8
	// hashes holds the full hash each cell was inserted with.
	hashes [bucketCnt]uint64
	keys   [bucketCnt]K
	elems  [bucketCnt]V
	// Followed by an overflow pointer.
	overflow *bucket[K, V]
}

// tophash calculates the tophash value for hash.
func tophash(hash uint64) uint8 {
	top := uint8(hash >> 56)
	if top < minTopHash {
		top += minTopHash
	}
	return top
}

func (t *Table[K, V]) newoverflow(b *bucket[K, V]) *bucket[K, V] {
	if t.nextoverflow < cap(t.buckets) {
		// We have preallocated overflow buckets available.
		// See makeBucketArray for more details.
		b.overflow = &t.buckets[:cap(t.buckets)][t.nextoverflow]
		t.nextoverflow++
	} else {
		b.overflow = &bucket[K, V]{}
	}
	t.noverflow++
	return b.overflow
}

// New returns a Table with room for hint cells before it has to grow.
func New[K, V any](hint int) *Table[K, V] {
	if hint <= 0 {
		return &Table[K, V]{}
	}
	nbuckets := 1
	for overLoadFactor(hint, nbuckets) {
		nbuckets *= 2
	}
	buckets := makeBucketArray[K, V](nbuckets)
	return &Table[K, V]{buckets: buckets, nextoverflow: len(buckets)}
}

func makeBucketArray[K, V any](nbuckets int) []bucket[K, V] {
	if nbuckets&(nbuckets-1) != 0 {
		panic("nbuckets is not power of 2")
	}
	var newbuckets []bucket[K, V]
	// Preallocate expected overflow buckets at the end of the buckets
	// slice
	additional := nbuckets >> 4
	if additional == 0 {
		newbuckets = make([]bucket[K, V], nbuckets)
	} else {
		// Using append here allows the go runtime to round up the
		// capacity of newbuckets to fit the next size class, giving
		// us some free buckets we don't need to allocate later.
		newbuckets = append([]bucket[K, V](nil),
			make([]bucket[K, V], nbuckets+additional)...)
		newbuckets = newbuckets[:nbuckets]
	}
	return newbuckets
}

// Len returns the count of occupied cells in t.
func (t *Table[K, V]) Len() int {
	if t == nil {
		return 0
	}
	return t.count
}

// Get returns pointers to the key and elem of the cell stored under
// hash whose key satisfies eq, or two nils if there is none. Only the
// bucket chain selected by hash is scanned, and eq is called only for
// cells whose full hash matches. The pointers are valid until the next
// write to t.
func (t *Table[K, V]) Get(hash uint64, eq func(*K) bool) (*K, *V) {
	if t == nil || t.count == 0 {
		return nil, nil
	}
	b := &t.buckets[hash&t.bucketMask()]
	top := tophash(hash)
bucketloop:
	for ; b != nil; b = b.overflow {
		for i := uintptr(0); i < bucketCnt; i++ {
			if b.tophash[i] != top {
				if b.tophash[i] == emptyRest {
					break bucketloop
				}
				continue
			}
			if b.hashes[i] == hash && eq(&b.keys[i]) {
				return &b.keys[i], &b.elems[i]
			}
		}
	}
	return nil, nil
}

// Entry is the outcome of probing a Table: either the occupied cell
// matching the probe, or a vacancy that can be filled without probing
// again. An Entry is valid only until the next write to its table.
type Entry[K, V any] struct {
	t      *Table[K, V]
	hash   uint64
	writes uint64

	// Occupied: the matching cell. Vacant: the first free cell seen
	// while probing, if any.
	b *bucket[K, V]
	i uintptr
	// last is the final bucket of the probed chain; a vacancy with no
	// free cell chains a new overflow bucket onto it.
	last     *bucket[K, V]
	occupied bool
}

// Entry probes t for the cell stored under hash whose key satisfies eq.
func (t *Table[K, V]) Entry(hash uint64, eq func(*K) bool) Entry[K, V] {
	e := Entry[K, V]{t: t, hash: hash, writes: t.writes}
	if len(t.buckets) == 0 {
		return e
	}
	b := &t.buckets[hash&t.bucketMask()]
	top := tophash(hash)
	for {
		for i := uintptr(0); i < bucketCnt; i++ {
			if b.tophash[i] != top {
				if isEmpty(b.tophash[i]) && e.b == nil {
					e.b, e.i = b, i
				}
				if b.tophash[i] == emptyRest {
					e.last = b
					return e
				}
				continue
			}
			if b.hashes[i] == hash && eq(&b.keys[i]) {
				e.b, e.i = b, i
				e.occupied = true
				return e
			}
		}
		if b.overflow == nil {
			e.last = b
			return e
		}
		b = b.overflow
	}
}

// Occupied reports whether the probe found a matching cell.
func (e *Entry[K, V]) Occupied() bool {
	return e.occupied
}

// Key returns a pointer to the matching key of an occupied entry.
func (e *Entry[K, V]) Key() *K {
	e.check(true)
	return &e.b.keys[e.i]
}

// Value returns a pointer to the matching elem of an occupied entry.
func (e *Entry[K, V]) Value() *V {
	e.check(true)
	return &e.b.elems[e.i]
}

// Insert fills a vacant entry with key and elem, stored under the hash
// the entry was probed with. It returns pointers to the stored key and
// elem, valid until the next write to the table.
func (e *Entry[K, V]) Insert(key K, elem V) (*K, *V) {
	e.check(false)
	t := e.t
	if t.flags&hashWriting != 0 {
		panic("concurrent table writes")
	}
	t.flags ^= hashWriting

	b, i := e.b, e.i
	switch {
	case t.buckets == nil:
		t.buckets = make([]bucket[K, V], 1)
		t.nextoverflow = len(t.buckets)
		b, i = t.freeCell(e.hash)
	case overLoadFactor(t.count+1, len(t.buckets)) ||
		tooManyOverflowBuckets(t.noverflow, len(t.buckets)):
		// If we hit the max load factor or we have too many overflow
		// buckets, grow. Growing moves every cell, so the probed
		// location is lost and we look for a free one again.
		t.grow()
		b, i = t.freeCell(e.hash)
	case b == nil:
		// The probed bucket and all the overflow buckets connected
		// to it are full, allocate a new one.
		b, i = t.newoverflow(e.last), 0
	}

	b.keys[i] = key
	b.elems[i] = elem
	b.hashes[i] = e.hash
	b.tophash[i] = tophash(e.hash)
	t.count++
	t.writes++
	e.occupied = true
	e.b, e.i = b, i

	if t.flags&hashWriting == 0 {
		panic("concurrent table writes")
	}
	t.flags &^= hashWriting
	e.writes = t.writes
	return &b.keys[i], &b.elems[i]
}

func (e *Entry[K, V]) check(occupied bool) {
	if e.writes != e.t.writes {
		panic("table: entry used after table was modified")
	}
	if e.occupied != occupied {
		if occupied {
			panic("table: vacant entry has no cell")
		}
		panic("table: entry is already occupied")
	}
}

// freeCell returns the first empty cell in the chain selected by hash,
// chaining an overflow bucket if the chain is full.
func (t *Table[K, V]) freeCell(hash uint64) (*bucket[K, V], uintptr) {
	b := &t.buckets[hash&t.bucketMask()]
	for {
		for i := uintptr(0); i < bucketCnt; i++ {
			if isEmpty(b.tophash[i]) {
				return b, i
			}
		}
		if b.overflow == nil {
			return t.newoverflow(b), 0
		}
		b = b.overflow
	}
}

// Remove deletes the cell stored under hash whose key satisfies eq and
// returns its key and elem.
func (t *Table[K, V]) Remove(hash uint64, eq func(*K) bool) (key K, elem V, ok bool) {
	if t == nil || t.count == 0 {
		return key, elem, false
	}
	if t.flags&hashWriting != 0 {
		panic("concurrent table writes")
	}
	t.flags ^= hashWriting

	bOrig := &t.buckets[hash&t.bucketMask()]
	top := tophash(hash)
search:
	for b := bOrig; b != nil; b = b.overflow {
		for i := uintptr(0); i < bucketCnt; i++ {
			if b.tophash[i] != top {
				if b.tophash[i] == emptyRest {
					break search
				}
				continue
			}
			if b.hashes[i] != hash || !eq(&b.keys[i]) {
				continue
			}
			key, elem, ok = b.keys[i], b.elems[i], true
			t.deleteAt(bOrig, b, i)
			break search
		}
	}

	if t.flags&hashWriting == 0 {
		panic("concurrent table writes")
	}
	t.flags &^= hashWriting
	return key, elem, ok
}

// Retain deletes every cell for which keep returns false. keep must not
// access t.
func (t *Table[K, V]) Retain(keep func(*K, *V) bool) {
	if t == nil || t.count == 0 {
		return
	}
	if t.flags&hashWriting != 0 {
		panic("concurrent table writes")
	}
	t.flags ^= hashWriting

	for n := range t.buckets {
		bOrig := &t.buckets[n]
		for b := bOrig; b != nil; b = b.overflow {
			for i := uintptr(0); i < bucketCnt; i++ {
				if isEmpty(b.tophash[i]) {
					continue
				}
				if !keep(&b.keys[i], &b.elems[i]) {
					t.deleteAt(bOrig, b, i)
				}
			}
		}
	}

	if t.flags&hashWriting == 0 {
		panic("concurrent table writes")
	}
	t.flags &^= hashWriting
}

// deleteAt empties cell i of b, where b belongs to the chain starting
// at bOrig.
func (t *Table[K, V]) deleteAt(bOrig, b *bucket[K, V], i uintptr) {
	var (
		zeroK K
		zeroV V
	)
	// Clear key and elem in case they have pointers
	b.keys[i] = zeroK
	b.elems[i] = zeroV
	b.hashes[i] = 0
	b.tophash[i] = emptyOne
	// If the bucket now ends in a bunch of emptyOne states,
	// change those to emptyRest states.
	if i == bucketCnt-1 {
		if b.overflow != nil && b.overflow.tophash[0] != emptyRest {
			goto notLast
		}
	} else {
		if b.tophash[i+1] != emptyRest {
			goto notLast
		}
	}
	for {
		b.tophash[i] = emptyRest
		if i == 0 {
			if b == bOrig {
				break // beginning of initial bucket, we're done.
			}
			// Find previous bucket, continue at its last entry.
			c := b
			for b = bOrig; b.overflow != c; b = b.overflow {
			}
			i = bucketCnt - 1
		} else {
			i--
		}
		if b.tophash[i] != emptyOne {
			break
		}
	}
notLast:
	t.count--
	t.writes++
}

// Clear deletes all cells from t.
func (t *Table[K, V]) Clear() {
	if t == nil || t.count == 0 {
		return
	}
	if t.flags&hashWriting != 0 {
		panic("concurrent table writes")
	}
	t.flags ^= hashWriting

	t.noverflow = 0
	t.count = 0
	t.writes++

	// zero out all buckets including used preallocated overflow buckets
	buckets := t.buckets[:t.nextoverflow]
	for i := range buckets {
		buckets[i] = bucket[K, V]{}
	}
	t.nextoverflow = len(t.buckets)

	if t.flags&hashWriting == 0 {
		panic("concurrent table writes")
	}
	t.flags &^= hashWriting
}

// grow moves every cell into a new bucket array. If we've hit the load
// factor, the array doubles. Otherwise there are too many overflow
// buckets, so keep the same number of buckets and compact the chains.
func (t *Table[K, V]) grow() {
	oldbuckets := t.buckets
	newbit := len(oldbuckets)
	sameSize := !overLoadFactor(t.count+1, len(oldbuckets))
	if sameSize {
		t.buckets = makeBucketArray[K, V](len(oldbuckets))
	} else {
		t.buckets = makeBucketArray[K, V](len(oldbuckets) * 2)
	}
	t.nextoverflow = len(t.buckets)
	t.noverflow = 0

	for n := range oldbuckets {
		// xy contains the x and y (low and high) evacuation destinations.
		var xy [2]evacDst[K, V]
		xy[0].b = &t.buckets[n]
		if !sameSize {
			xy[1].b = &t.buckets[n+newbit]
		}
		for b := &oldbuckets[n]; b != nil; b = b.overflow {
			for i := 0; i < bucketCnt; i++ {
				top := b.tophash[i]
				if isEmpty(top) {
					continue
				}
				var useY uint8
				if !sameSize && b.hashes[i]&uint64(newbit) != 0 {
					useY = 1
				}
				dst := &xy[useY]
				if dst.i == bucketCnt {
					dst.b = t.newoverflow(dst.b)
					dst.i = 0
				}
				// mask dst.i as an optimization, to avoid a bounds check
				dst.b.tophash[dst.i&(bucketCnt-1)] = top
				dst.b.hashes[dst.i&(bucketCnt-1)] = b.hashes[i]
				dst.b.keys[dst.i&(bucketCnt-1)] = b.keys[i]
				dst.b.elems[dst.i&(bucketCnt-1)] = b.elems[i]
				dst.i++
			}
		}
	}
	t.writes++
}

// evacDst is an evacuation destination.
type evacDst[K, V any] struct {
	b *bucket[K, V] // current destination bucket
	i int           // key/elem index into b
}

// overLoadFactor reports whether count items placed in nbuckets buckets is over loadFactor.
func overLoadFactor(count int, nbuckets int) bool {
	return count > bucketCnt && uint64(count) > loadFactorNum*(uint64(nbuckets)/loadFactorDen)
}

// tooManyOverflowBuckets reports whether noverflow buckets is too many
// for a table with nbuckets buckets. "too many" means (approximately)
// as many overflow buckets as regular buckets.
func tooManyOverflowBuckets(noverflow uint32, nbuckets int) bool {
	return noverflow >= uint32(nbuckets)
}

func (t *Table[K, V]) bucketMask() uint64 {
	return uint64(len(t.buckets) - 1)
}

// Iterator is instantiated by a call to Iter. It allows iterating over
// a Table. The table must not be written while an Iterator is in use.
type Iterator[K, V any] struct {
	key         K
	elem        V
	t           *Table[K, V]
	writes      uint64
	buckets     []bucket[K, V]
	bptr        *bucket[K, V]
	startBucket int
	offset      uint8
	wrapped     bool
	i           uint8
	bucket      int
}

// Key returns the key at the iterator's current position. This is
// only valid after a call to Next() that returns true.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Elem returns the elem at the iterator's current position. This is
// only valid after a call to Next() that returns true.
func (it *Iterator[K, V]) Elem() V {
	return it.elem
}

// Iter instantiates an Iterator to explore the cells of the Table.
// Ordering is undefined and is intentionally randomized.
func (t *Table[K, V]) Iter() *Iterator[K, V] {
	if t == nil || t.count == 0 {
		return &Iterator[K, V]{}
	}
	r := rand.Uint64()
	start := int(r & t.bucketMask())
	return &Iterator[K, V]{
		t:       t,
		writes:  t.writes,
		buckets: t.buckets,

		// decide where to start
		startBucket: start,
		bucket:      start,
		offset:      uint8(r >> (64 - bucketCntBits)),
	}
}

// Next moves the iterator to the next cell. Next returns false when
// the iterator is complete. It panics if the table was written since
// the iterator was created.
func (it *Iterator[K, V]) Next() bool {
	if it.t == nil {
		return false
	}
	if it.t.writes != it.writes {
		panic("table: iteration during table write")
	}
	bucket := it.bucket
	b := it.bptr
	i := it.i

next:
	if b == nil {
		if bucket == it.startBucket && it.wrapped {
			// end of iteration
			var (
				zeroK K
				zeroV V
			)
			it.key = zeroK
			it.elem = zeroV
			it.t = nil
			return false
		}
		b = &it.buckets[bucket]
		bucket++
		if bucket == len(it.buckets) {
			bucket = 0
			it.wrapped = true
		}
		i = 0
	}
	for ; i < bucketCnt; i++ {
		offi := (i + it.offset) & (bucketCnt - 1)
		if isEmpty(b.tophash[offi]) {
			continue
		}
		it.key = b.keys[offi]
		it.elem = b.elems[offi]
		it.bucket = bucket
		it.bptr = b
		it.i = i + 1
		return true
	}
	b = b.overflow
	i = 0
	goto next
}
