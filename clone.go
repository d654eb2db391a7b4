// Copyright (c) 2026 Arista Networks, Inc.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oncemap

import "github.com/mitchellh/copystructure"

// ShallowCopy is the default cloner of maps: plain assignment.
func ShallowCopy[V any](v V) V {
	return v
}

// DeepCopy returns a copy of v sharing no memory with it, so that the
// caller may modify the copy without affecting the cached value. It
// panics if v holds something copystructure cannot copy.
func DeepCopy[V any](v V) V {
	c := copystructure.Must(copystructure.Copy(v))
	if c == nil {
		var zero V
		return zero
	}
	return c.(V)
}
