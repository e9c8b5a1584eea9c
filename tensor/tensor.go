// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Tensor is a dense float32 tensor.
type Tensor = tensor.Tensor

// Generator is a resettable pseudorandom stream.
//
// A Generator is not safe for concurrent use.
type Generator = rng.Generator

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return rng.New(seed)
}

// New creates a zero-filled tensor, validating the shape.
func New(shape Shape) (*Tensor, error) {
	return tensor.New(shape)
}

// FromSlice creates a tensor holding a copy of data.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}

// ParseShape parses "1x3x224x224" or "1,3,224,224" into a Shape.
func ParseShape(text string) (Shape, error) {
	return tensor.ParseShape(text)
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape) *Tensor { return tensor.Zeros(shape) }

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Tensor { return tensor.Ones(shape) }

// Full creates a tensor filled with value.
func Full(shape Shape, value float32) *Tensor { return tensor.Full(shape, value) }

// Rand draws a tensor uniformly from [0, 1) using g.
func Rand(g *Generator, shape Shape) *Tensor { return tensor.Rand(g, shape) }

// Randn draws a standard normal tensor using g.
func Randn(g *Generator, shape Shape) *Tensor { return tensor.Randn(g, shape) }

// MaxAbsDiff returns the largest element-wise absolute difference.
func MaxAbsDiff(a, b *Tensor) (float64, error) { return tensor.MaxAbsDiff(a, b) }

// AllClose reports whether every element of a and b differs by less than tol.
func AllClose(a, b *Tensor, tol float64) bool { return tensor.AllClose(a, b, tol) }
