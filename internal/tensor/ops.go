package tensor

import (
	"fmt"
	"math"
)

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) *Tensor {
	mustSameShape("add", a, b)
	out := a.Clone()
	for i, v := range b.data {
		out.data[i] += v
	}
	return out
}

// AddInPlace accumulates b into a.
func AddInPlace(a, b *Tensor) {
	mustSameShape("add", a, b)
	for i, v := range b.data {
		a.data[i] += v
	}
}

// Scale returns t * s.
func Scale(t *Tensor, s float32) *Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= s
	}
	return out
}

// Sum returns the sum of all elements, accumulated in float64.
func (t *Tensor) Sum() float64 {
	s := 0.0
	for _, v := range t.data {
		s += float64(v)
	}
	return s
}

// Max returns the largest element.
func (t *Tensor) Max() float32 {
	m := float32(math.Inf(-1))
	for _, v := range t.data {
		if v > m {
			m = v
		}
	}
	return m
}

// Argmax returns the flat index of the largest element.
func (t *Tensor) Argmax() int {
	best := 0
	for i, v := range t.data {
		if v > t.data[best] {
			best = i
		}
	}
	return best
}

// MaxAbsDiff returns max |a - b| over all elements.
// Returns an error if the shapes differ.
func MaxAbsDiff(a, b *Tensor) (float64, error) {
	if !a.shape.Equal(b.shape) {
		return 0, fmt.Errorf("max abs diff: shape mismatch %v vs %v", a.shape, b.shape)
	}
	m := 0.0
	for i, v := range a.data {
		d := math.Abs(float64(v) - float64(b.data[i]))
		if math.IsNaN(d) {
			return math.Inf(1), nil
		}
		if d > m {
			m = d
		}
	}
	return m, nil
}

// AllClose reports whether every element of a and b differs by less than tol.
func AllClose(a, b *Tensor, tol float64) bool {
	d, err := MaxAbsDiff(a, b)
	return err == nil && d < tol
}

func mustSameShape(op string, a, b *Tensor) {
	if !a.shape.Equal(b.shape) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.shape, b.shape))
	}
}
