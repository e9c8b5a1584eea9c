package tensor

import (
	"github.com/born-ml/visionzoo/internal/rng"
)

// Zeros creates a tensor filled with zeros.
// Panics on an invalid shape.
//
// Example:
//
//	t := tensor.Zeros(tensor.Shape{3, 4})
func Zeros(shape Shape) *Tensor {
	t, err := New(shape)
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return Full(shape, 1)
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float32) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Rand creates a tensor with values uniformly distributed in [0, 1), drawn
// from g in row-major order.
//
// Example:
//
//	g := rng.New(1729)
//	x := tensor.Rand(g, tensor.Shape{1, 3, 224, 224})
func Rand(g *rng.Generator, shape Shape) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = g.Float32()
	}
	return t
}

// Randn creates a tensor with standard normal values drawn from g.
func Randn(g *rng.Generator, shape Shape) *Tensor {
	t := Zeros(shape)
	g.FillNormal(t.data, 0, 1)
	return t
}

// Arange creates a 1D tensor holding 0, 1, ..., n-1.
func Arange(n int) *Tensor {
	t := Zeros(Shape{n})
	for i := range t.data {
		t.data[i] = float32(i)
	}
	return t
}
