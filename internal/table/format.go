// Modifications copyright (c) Arista Networks, Inc. 2026
// Underlying
// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package table

import (
	"fmt"
	"iter"
	"strings"

	"golang.org/x/exp/slices"
)

// Sprint formats v with fmt's default verb.
func Sprint[T any](v T) string {
	return fmt.Sprint(v)
}

type strKV struct {
	k string
	v string
}

// StringFunc renders the pairs of seq as name[k:v k:v ...] with the
// help of strK and strV, sorted by the rendered key so that the output
// does not depend on iteration order.
func StringFunc[K, V any](name string, seq iter.Seq2[K, V],
	strK func(key K) string,
	strV func(elem V) string) string {
	var strs []strKV
	s := 0
	for k, v := range seq {
		kv := strKV{k: strK(k), v: strV(v)}
		s += len(kv.k) + len(kv.v)
		strs = append(strs, kv)
	}
	if len(strs) == 0 {
		return name + "[]"
	}
	slices.SortFunc(strs, func(a, b strKV) int { return strings.Compare(a.k, b.k) })

	var b strings.Builder
	b.Grow(len(name) + len("[]") + // space for header and footer
		len(strs)*2 - 1 + // space for delimiters
		s) // space for keys and elems
	b.WriteString(name)
	b.WriteByte('[')
	for i, kv := range strs {
		if i != 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv.k)
		b.WriteByte(':')
		b.WriteString(kv.v)
	}
	b.WriteByte(']')
	return b.String()
}
