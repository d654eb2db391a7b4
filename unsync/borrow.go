// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unsync

import "github.com/aristanetworks/oncemap"

// borrowFlag tracks the live views of a map's table. Any number of
// shared views may coexist; an exclusive view excludes every other.
type borrowFlag struct {
	shared    int
	exclusive bool
}

func (f *borrowFlag) borrow() {
	if f.exclusive {
		panic(oncemap.ErrAlreadyBorrowed)
	}
	f.shared++
}

func (f *borrowFlag) release() {
	f.shared--
}

func (f *borrowFlag) borrowMut() {
	if f.exclusive || f.shared > 0 {
		panic(oncemap.ErrAlreadyBorrowed)
	}
	f.exclusive = true
}

func (f *borrowFlag) releaseMut() {
	f.exclusive = false
}
