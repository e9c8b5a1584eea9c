// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the float32 tensor and the seeded generator used
// by the vision zoo.
//
// # Overview
//
// Tensors are dense, contiguous and row-major. Image batches are laid out
// as [batch, channels, height, width] and video clips as
// [batch, channels, time, height, width].
//
// Random tensors are drawn from an explicit *Generator. There is no
// package-level random state: resetting a generator to a seed replays its
// sequence exactly.
//
// # Basic Usage
//
//	import "github.com/born-ml/visionzoo/tensor"
//
//	func main() {
//	    g := tensor.NewGenerator(1729)
//	    x := tensor.Rand(g, tensor.Shape{1, 3, 224, 224})
//
//	    g.Reset(1729)
//	    y := tensor.Rand(g, tensor.Shape{1, 3, 224, 224})
//	    fmt.Println(x.Equal(y)) // true
//	}
package tensor
