// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/aristanetworks/oncemap"
)

func mustNotRun[V any](t *testing.T) func(context.Context) V {
	return func(context.Context) V {
		t.Helper()
		t.Fatal("factory ran for a key that has a value")
		panic("unreachable")
	}
}

func TestMapBasic(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, int]()
	assert.True(t, m.IsEmpty())

	v, err := m.GetOrInsertWith(ctx, oncemap.Key("a"), func(context.Context) int { return 1 })
	require.NoError(t, err)
	assert.Equal(t, 1, *v)

	again, err := m.GetOrInsertWith(ctx, oncemap.Key("a"), mustNotRun[int](t))
	require.NoError(t, err)
	assert.Same(t, v, again, "second call returned a different cell")

	got, ok := m.Get(oncemap.Key("a"))
	assert.True(t, ok)
	assert.Same(t, v, got)
	assert.True(t, m.Contains(oncemap.Key("a")))
	assert.False(t, m.Contains(oncemap.Key("b")))
	assert.Equal(t, 1, m.Len())

	_, ok = m.Get(oncemap.Key("b"))
	assert.False(t, ok)

	removed, ok := m.Remove(oncemap.Key("a"))
	assert.True(t, ok)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, *v, "pointer invalidated by Remove")
	assert.False(t, m.Contains(oncemap.Key("a")))
	assert.True(t, m.IsEmpty())

	_, ok = m.Remove(oncemap.Key("a"))
	assert.False(t, ok)
}

func TestMapFallibleRollback(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, int]()
	errBoom := errors.New("boom")

	_, err := m.GetOrTryInsertWith(ctx, oncemap.Key("a"), func(context.Context) (int, error) {
		return 0, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, m.Contains(oncemap.Key("a")))
	assert.Equal(t, 0, m.Len())

	v, err := m.GetOrTryInsertWith(ctx, oncemap.Key("a"), func(context.Context) (int, error) {
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, *v)
	got, ok := m.GetCloned(oncemap.Key("a"))
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestMapFactoryNotUnderLock(t *testing.T) {
	ctx := context.Background()
	m := oncemap.NewWithShards[string, int](oncemap.NewRandomState(), 1)
	_, err := m.GetOrInsertWith(ctx, oncemap.Key("b"), func(context.Context) int { return 2 })
	require.NoError(t, err)

	v, err := m.GetOrInsertWith(ctx, oncemap.Key("a"), func(ctx context.Context) int {
		b, ok := m.Get(oncemap.Key("b"))
		require.True(t, ok)
		assert.True(t, m.Contains(oncemap.Key("b")))
		assert.False(t, m.Contains(oncemap.Key("a")), "pending value is visible")
		c, err := m.GetOrInsertWith(ctx, oncemap.Key("c"), func(context.Context) int { return 3 })
		require.NoError(t, err)
		return *b + *c
	})
	require.NoError(t, err)
	assert.Equal(t, 5, *v)
	assert.Equal(t, 3, m.Len())
}

func TestMapReentrantInit(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, int]()

	assert.PanicsWithValue(t, oncemap.ErrReentrantInit, func() {
		m.GetOrInsertWith(ctx, oncemap.Key("a"), func(ctx context.Context) int {
			v, _ := m.GetOrInsertWith(ctx, oncemap.Key("a"), func(context.Context) int { return 2 })
			return *v
		})
	})
	assert.False(t, m.Contains(oncemap.Key("a")), "entry left behind by re-entrant init")

	v, err := m.GetOrInsertWith(ctx, oncemap.Key("a"), func(context.Context) int { return 1 })
	require.NoError(t, err)
	assert.Equal(t, 1, *v)
}

func TestMapReentrantInitTransitive(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, int]()

	var get func(ctx context.Context, key, next string) int
	get = func(ctx context.Context, key, next string) int {
		v, err := m.GetOrInsertWith(ctx, oncemap.Key(key), func(ctx context.Context) int {
			return get(ctx, next, key) + 1
		})
		require.NoError(t, err)
		return *v
	}
	assert.PanicsWithValue(t, oncemap.ErrReentrantInit, func() { get(ctx, "a", "b") })
	assert.True(t, m.IsEmpty())
}

func TestMapAtMostOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		const callers = 50
		var (
			m       = oncemap.New[string, []int]()
			calls   atomic.Int32
			ptrs    [callers]*[]int
			unblock = make(chan struct{})
			g       errgroup.Group
		)
		for i := range callers {
			g.Go(func() (err error) {
				ptrs[i], err = m.GetOrInsertWith(context.Background(), oncemap.Key("k"),
					func(context.Context) []int {
						calls.Add(1)
						<-unblock
						return []int{i}
					})
				return
			})
		}
		// Every caller is now either computing or waiting for the value.
		synctest.Wait()
		close(unblock)
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), calls.Load())
		for _, p := range ptrs {
			assert.Same(t, ptrs[0], p)
		}
	})
}

func TestMapDifferentKeysIndependent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			m       = oncemap.NewWithShards[string, int](oncemap.NewRandomState(), 1)
			unblock = make(chan struct{})
			aDone   = make(chan struct{})
		)
		go func() {
			defer close(aDone)
			m.GetOrInsertWith(context.Background(), oncemap.Key("a"), func(context.Context) int {
				<-unblock
				return 1
			})
		}()
		synctest.Wait()

		v, err := m.GetOrInsertWith(context.Background(), oncemap.Key("b"), func(context.Context) int { return 2 })
		require.NoError(t, err)
		assert.Equal(t, 2, *v)

		select {
		case <-aDone:
			t.Fatal("computation of a finished before it was unblocked")
		default:
		}
		close(unblock)
		<-aDone
		assert.Equal(t, 2, m.Len())
	})
}

func TestMapWaiterBlocks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			m       = oncemap.New[string, int]()
			unblock = make(chan struct{})
			waiter  = make(chan *int)
		)
		go m.GetOrInsertWith(context.Background(), oncemap.Key("a"), func(context.Context) int {
			<-unblock
			return 1
		})
		synctest.Wait()

		go func() {
			v, _ := m.GetOrInsertWith(context.Background(), oncemap.Key("a"), mustNotRun[int](t))
			waiter <- v
		}()
		synctest.Wait()
		select {
		case <-waiter:
			t.Fatal("waiter returned before the value was published")
		default:
		}

		close(unblock)
		assert.Equal(t, 1, *<-waiter)
	})
}

func TestMapWaiterCanceled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			m       = oncemap.New[string, int]()
			unblock = make(chan struct{})
		)
		defer close(unblock)
		go m.GetOrInsertWith(context.Background(), oncemap.Key("a"), func(context.Context) int {
			<-unblock
			return 1
		})
		synctest.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, err := m.GetOrInsertWith(ctx, oncemap.Key("a"), mustNotRun[int](t))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestMapPanicReleasesKey(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			m        = oncemap.New[string, int]()
			unblock  = make(chan struct{})
			panicked = make(chan any)
			waiter   = make(chan *int)
		)
		go func() {
			defer func() { panicked <- recover() }()
			m.GetOrInsertWith(context.Background(), oncemap.Key("a"), func(context.Context) int {
				<-unblock
				panic("factory failed")
			})
		}()
		synctest.Wait()

		go func() {
			v, _ := m.GetOrInsertWith(context.Background(), oncemap.Key("a"), func(context.Context) int { return 7 })
			waiter <- v
		}()
		synctest.Wait()

		close(unblock)
		assert.Equal(t, "factory failed", <-panicked)
		assert.Equal(t, 7, *<-waiter, "waiter did not retry after the owner panicked")
	})
}

func TestMapClearKeepsPending(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			m       = oncemap.New[string, int]()
			unblock = make(chan struct{})
			done    = make(chan struct{})
		)
		m.InsertCloned(context.Background(), oncemap.Key("x"), 0)
		go func() {
			defer close(done)
			m.GetOrInsertWith(context.Background(), oncemap.Key("a"), func(context.Context) int {
				<-unblock
				return 1
			})
		}()
		synctest.Wait()

		m.Clear()
		assert.True(t, m.IsEmpty())
		close(unblock)
		<-done

		v, ok := m.Get(oncemap.Key("a"))
		require.True(t, ok)
		assert.Equal(t, 1, *v)
		assert.False(t, m.Contains(oncemap.Key("x")))
	})
}

func TestMapBytesQuery(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, int]()
	buf := []byte("hello")

	v, err := m.GetOrInsertWith(ctx, oncemap.Bytes(buf), func(context.Context) int { return 5 })
	require.NoError(t, err)
	assert.Equal(t, 5, *v)

	// The stored key must not alias the query's buffer.
	copy(buf, "jelly")
	key, ok := oncemap.Inspect(m, oncemap.Key("hello"), func(k string, _ *int) string { return k })
	require.True(t, ok)
	assert.Equal(t, "hello", key)
	assert.False(t, m.Contains(oncemap.Bytes(buf)))
	assert.True(t, m.Contains(oncemap.Bytes("hello")))
}

func TestMapCompute(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[int, string]()

	type result struct {
		Fresh bool
		Key   int
		Value string
		Data  string
	}
	compute := func(k int) result {
		r, err := oncemap.Compute(ctx, m, oncemap.Key(k), "payload",
			func(_ context.Context, data string) (string, result) {
				v := strconv.Itoa(k * 10)
				return v, result{Fresh: true, Key: k, Value: v, Data: data}
			},
			func(data string, key int, value *string) result {
				return result{Key: key, Value: *value, Data: data}
			})
		require.NoError(t, err)
		return r
	}

	got := []result{compute(1), compute(1), compute(2)}
	want := []result{
		{Fresh: true, Key: 1, Value: "10", Data: "payload"},
		{Key: 1, Value: "10", Data: "payload"},
		{Fresh: true, Key: 2, Value: "20", Data: "payload"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected Compute results (-want +got): %s", diff)
	}

	errBoom := errors.New("boom")
	_, err := oncemap.TryCompute(ctx, m, oncemap.Key(3), 0,
		func(context.Context, int) (string, int, error) { return "", 0, errBoom },
		func(int, int, *string) int { return 1 })
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, m.Contains(oncemap.Key(3)))
}

func TestMapCloned(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, []int]().WithCloner(oncemap.DeepCopy[[]int])

	v, err := m.GetOrInsertWithCloned(ctx, oncemap.Key("a"), func(context.Context) []int { return []int{1, 2} })
	require.NoError(t, err)
	v[0] = 100

	got, ok := m.GetCloned(oncemap.Key("a"))
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, got, "clone shares memory with the stored value")

	kept, err := m.InsertCloned(ctx, oncemap.Key("a"), []int{3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, kept, "InsertCloned replaced a stored value")
}

func TestMapAll(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[int, int]()
	for i := range 100 {
		m.InsertCloned(ctx, oncemap.Key(i), i*i)
	}
	got := make(map[int]int)
	for k, v := range m.All() {
		got[k] = *v
		// The loop body may use the map.
		assert.True(t, m.Contains(oncemap.Key(k)))
	}
	assert.Len(t, got, 100)
	for i := range 100 {
		assert.Equal(t, i*i, got[i])
	}
}

func TestMapString(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, int]()
	assert.Equal(t, "oncemap.Map[]", m.String())
	for i, k := range []string{"c", "a", "b"} {
		m.InsertCloned(ctx, oncemap.Key(k), i)
	}
	assert.Equal(t, "oncemap.Map[a:1 b:2 c:0]", fmt.Sprint(m))
}

func TestMapConcurrentMixed(t *testing.T) {
	const (
		workers = 16
		keys    = 64
	)
	var (
		m     = oncemap.New[int, int]()
		calls [keys]atomic.Int32
		g     errgroup.Group
	)
	for w := range workers {
		g.Go(func() error {
			for i := range keys {
				k := (i + w) % keys
				v, err := m.GetOrInsertWith(context.Background(), oncemap.Key(k), func(context.Context) int {
					calls[k].Add(1)
					return k * 2
				})
				if err != nil {
					return err
				}
				if *v != k*2 {
					return fmt.Errorf("key %d: got %d", k, *v)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for k := range calls {
		assert.Equal(t, int32(1), calls[k].Load(), "factory for key %d", k)
	}
	assert.Equal(t, keys, m.Len())
}

func TestMapCrossGoroutineCycleEndsWithContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			m        = oncemap.New[string, int]()
			started  = make(chan struct{}, 2)
			both     = make(chan struct{})
			errs     = make(chan error, 2)
			ctx, end = context.WithTimeout(context.Background(), time.Hour)
		)
		defer end()
		get := func(key, other string) {
			_, err := m.GetOrTryInsertWith(ctx, oncemap.Key(key), func(ctx context.Context) (int, error) {
				started <- struct{}{}
				<-both
				v, err := m.GetOrTryInsertWith(ctx, oncemap.Key(other), func(ctx context.Context) (int, error) {
					// Reached only once the other side gave up.
					return 0, ctx.Err()
				})
				if err != nil {
					return 0, err
				}
				return *v, nil
			})
			errs <- err
		}
		go get("a", "b")
		go get("b", "a")
		<-started
		<-started
		close(both)

		// Neither factory sees the other's key in its own chain, so the
		// cycle is broken only by the deadline.
		assert.ErrorIs(t, <-errs, context.DeadlineExceeded)
		assert.ErrorIs(t, <-errs, context.DeadlineExceeded)
		assert.True(t, m.IsEmpty())
	})
}

// countingQuery counts how often the map converts it into a stored key.
type countingQuery struct {
	oncemap.Comparable[string]
	owned *int
}

func (q countingQuery) ToOwned() string {
	*q.owned++
	return q.Comparable.ToOwned()
}

func TestMapToOwnedOncePerInsert(t *testing.T) {
	ctx := context.Background()
	m := oncemap.New[string, int]()
	var owned int
	q := countingQuery{oncemap.Key("a"), &owned}

	_, err := m.GetOrInsertWith(ctx, q, func(ctx context.Context) int {
		// The query's methods have returned by the time the factory runs,
		// so the factory may use the map.
		assert.False(t, m.Contains(q))
		return 1
	})
	require.NoError(t, err)
	assert.Equal(t, 1, owned)

	for range 3 {
		_, err := m.GetOrInsertWith(ctx, q, mustNotRun[int](t))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, owned, "hits converted the query")
}

func TestMapZeroValueUnusable(t *testing.T) {
	var m oncemap.Map[string, int]
	assert.Panics(t, func() { m.Contains(oncemap.Key("a")) })
	assert.NotPanics(t, func() { oncemap.New[string, int]().Contains(oncemap.Key("a")) })
}
