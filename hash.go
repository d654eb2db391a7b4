// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap

import "hash/maphash"

// BuildHasher supplies the seed a map hashes with. A map asks for it on
// every operation, so the seed must not change over the map's lifetime.
type BuildHasher interface {
	Seed() maphash.Seed
}

// RandomState is a BuildHasher with a seed drawn once at creation.
// Maps sharing a RandomState hash identically.
type RandomState struct {
	seed maphash.Seed
}

// NewRandomState returns a RandomState with a fresh random seed.
func NewRandomState() RandomState {
	return RandomState{seed: maphash.MakeSeed()}
}

func (s RandomState) Seed() maphash.Seed {
	return s.seed
}

// HashOf hashes q with the seed of hb. The result is used both to probe
// for q and, on a miss, to store the key q converts to.
func HashOf[K any](hb BuildHasher, q Query[K]) uint64 {
	var h maphash.Hash
	h.SetSeed(hb.Seed())
	q.Hash(&h)
	return h.Sum64()
}
