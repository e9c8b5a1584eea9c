// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"github.com/born-ml/visionzoo/internal/nn"
)

// initialize visits every layer of the tree in registration order, the
// order an architecture's weight-init pass draws in.
func initialize(l nn.Layer, fn func(nn.Layer)) {
	nn.Walk(l, func(_ string, m nn.Layer) { fn(m) })
}

func zeroBias(p *nn.Parameter) {
	if p != nil {
		nn.Constant(p.Tensor(), 0)
	}
}

func resetBatchNorm(bn *nn.BatchNorm) {
	nn.Constant(bn.Weight().Tensor(), 1)
	nn.Constant(bn.Bias().Tensor(), 0)
}
