// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command oncemap-stress hammers a map with overlapping requests and
// checks that every key's value was computed once and handed out as the
// same pointer to every caller.
//
// Usage:
//
//	oncemap-stress [--engine=sync|unsync] [--workers=N] [--keys=N]
//	               [--rounds=N] [--work=N] [--report=FILE] [-v]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	fileatomic "github.com/natefinch/atomic"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aristanetworks/oncemap"
	"github.com/aristanetworks/oncemap/internal/log"
	"github.com/aristanetworks/oncemap/unsync"
)

type config struct {
	Engine  string `json:"engine"`
	Workers int    `json:"workers"`
	Keys    int    `json:"keys"`
	Rounds  int    `json:"rounds"`
	Work    int    `json:"work"`
}

type report struct {
	config
	Lookups  int           `json:"lookups"`
	Computed int64         `json:"computed"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Failures []string      `json:"failures,omitempty"`
}

// value is what the stress factories compute. Each key's value depends
// on the value of key/2, so factories also exercise nested lookups.
type value struct {
	key  int
	hash uint64
}

func work(key int, parent uint64, n int) uint64 {
	h := fnv.New64a()
	fmt.Fprint(h, key, parent)
	sum := h.Sum64()
	for range n {
		h.Reset()
		fmt.Fprint(h, sum)
		sum = h.Sum64()
	}
	return sum
}

func main() {
	var (
		cfg        config
		reportPath string
		verbose    bool
	)
	flags := pflag.NewFlagSet("oncemap-stress", pflag.ExitOnError)
	flags.StringVar(&cfg.Engine, "engine", "sync", "map to stress: sync or unsync")
	flags.IntVar(&cfg.Workers, "workers", runtime.GOMAXPROCS(0), "concurrent callers (sync engine only)")
	flags.IntVar(&cfg.Keys, "keys", 1000, "number of distinct keys")
	flags.IntVar(&cfg.Rounds, "rounds", 10, "passes over the key space per worker")
	flags.IntVar(&cfg.Work, "work", 100, "hash iterations per computed value")
	flags.StringVar(&reportPath, "report", "", "write a JSON report to `file`")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log progress")
	flags.Parse(os.Args[1:])

	if verbose {
		log.EnableVerbose()
	}
	if cfg.Keys < 1 || cfg.Rounds < 1 || cfg.Workers < 1 {
		fmt.Fprintln(os.Stderr, "--keys, --rounds and --workers must be positive")
		os.Exit(2)
	}

	var (
		r   report
		err error
	)
	switch cfg.Engine {
	case "sync":
		r, err = stressSync(context.Background(), cfg)
	case "unsync":
		cfg.Workers = 1
		r = stressUnsync(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown engine %q\n", cfg.Engine)
		os.Exit(2)
	}
	if err != nil {
		log.Printf("stress run failed: %v", err)
		os.Exit(1)
	}

	log.Printf("%s: %d lookups over %d keys, %d values computed in %v",
		r.Engine, r.Lookups, r.Keys, r.Computed, r.Elapsed)
	for _, f := range r.Failures {
		log.Printf("FAIL: %s", f)
	}

	if reportPath != "" {
		buf, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			log.Printf("encoding report: %v", err)
			os.Exit(1)
		}
		if err := fileatomic.WriteFile(reportPath, bytes.NewReader(append(buf, '\n'))); err != nil {
			log.Printf("writing report: %v", err)
			os.Exit(1)
		}
		log.Verbosef("report written to %s", reportPath)
	}
	if len(r.Failures) > 0 {
		os.Exit(1)
	}
}

func stressSync(ctx context.Context, cfg config) (report, error) {
	var (
		m     = oncemap.New[int, value]()
		calls = make([]atomic.Int64, cfg.Keys)
		seen  = make([][]*value, cfg.Workers)
	)
	var get func(ctx context.Context, key int) (*value, error)
	get = func(ctx context.Context, key int) (*value, error) {
		return m.GetOrTryInsertWith(ctx, oncemap.Key(key), func(ctx context.Context) (value, error) {
			calls[key].Add(1)
			var parent uint64
			if key > 0 {
				p, err := get(ctx, key/2)
				if err != nil {
					return value{}, err
				}
				parent = p.hash
			}
			return value{key: key, hash: work(key, parent, cfg.Work)}, nil
		})
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			seen[w] = make([]*value, 0, cfg.Keys*cfg.Rounds)
			for round := range cfg.Rounds {
				for _, key := range lo.Shuffle(lo.Range(cfg.Keys)) {
					v, err := get(ctx, key)
					if err != nil {
						return err
					}
					seen[w] = append(seen[w], v)
				}
				log.Verbosef("worker %d: round %d done", w, round)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report{}, err
	}
	elapsed := time.Since(start)

	r := report{config: cfg, Elapsed: elapsed, Lookups: cfg.Workers * cfg.Rounds * cfg.Keys}
	r.Computed = lo.Sum(lo.Times(cfg.Keys, func(key int) int64 { return calls[key].Load() }))
	r.Failures = check(m.Len(), cfg.Keys, lo.Flatten(seen), func(key int) int64 {
		return calls[key].Load()
	})
	return r, nil
}

func stressUnsync(cfg config) report {
	var (
		m     = unsync.New[int, value]()
		calls = make([]int64, cfg.Keys)
		seen  []*value
	)
	var get func(key int) *value
	get = func(key int) *value {
		return m.GetOrInsertWith(oncemap.Key(key), func() value {
			calls[key]++
			var parent uint64
			if key > 0 {
				parent = get(key / 2).hash
			}
			return value{key: key, hash: work(key, parent, cfg.Work)}
		})
	}

	start := time.Now()
	for round := range cfg.Rounds {
		for _, key := range lo.Shuffle(lo.Range(cfg.Keys)) {
			seen = append(seen, get(key))
		}
		log.Verbosef("round %d done", round)
	}

	r := report{config: cfg, Elapsed: time.Since(start), Lookups: cfg.Rounds * cfg.Keys}
	r.Computed = lo.Sum(calls)
	r.Failures = check(m.Len(), cfg.Keys, seen, func(key int) int64 { return calls[key] })
	return r
}

// check verifies that the map holds every key, that each key's factory
// ran once and that every lookup of a key returned the same pointer.
func check(n, keys int, seen []*value, calls func(key int) int64) []string {
	var failures []string
	if n != keys {
		failures = append(failures, fmt.Sprintf("map holds %d values, want %d", n, keys))
	}
	ptrs := lo.GroupBy(seen, func(v *value) int { return v.key })
	for key := range keys {
		if c := calls(key); c != 1 {
			failures = append(failures, fmt.Sprintf("key %d: computed %d times", key, c))
		}
		distinct := mapset.NewThreadUnsafeSet(ptrs[key]...)
		if distinct.Cardinality() != 1 {
			failures = append(failures, fmt.Sprintf("key %d: %d distinct values handed out",
				key, distinct.Cardinality()))
		}
	}
	return failures
}
