// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"github.com/born-ml/visionzoo/internal/rng"
)

// Sync resets g to seed.
func Sync(g *rng.Generator, seed uint64) {
	g.Reset(seed)
}

// RunSynced resets g to seed and returns op(g). Whatever op draws is
// therefore the same on every call.
func RunSynced[T any](g *rng.Generator, seed uint64, op func(*rng.Generator) T) T {
	Sync(g, seed)
	return op(g)
}
