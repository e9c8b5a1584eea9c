// Package tensor provides the dense float32 tensor used by the vision zoo.
//
// Tensors are contiguous and row-major. Image batches use the NCHW layout
// ([batch, channels, height, width]) and video clips use NCTHW.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a contiguous, row-major float32 array with a shape.
//
// Reshape returns views that share memory with the receiver; every other
// operation allocates.
//
// Example:
//
//	t := tensor.Zeros(tensor.Shape{3, 4})
//	t.Set(1.5, 1, 2)
//	v := t.At(1, 2) // 1.5
type Tensor struct {
	shape  Shape
	stride []int
	data   []float32
}

// New creates a zero-filled tensor, validating the shape.
func New(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &Tensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		data:   make([]float32, shape.NumElements()),
	}, nil
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t, err := New(shape)
	if err != nil {
		return nil, err
	}
	copy(t.data, data)
	return t, nil
}

// View wraps data without copying.
// Panics if the length does not match the shape; used by kernels that
// allocate their own output buffers.
func View(data []float32, shape Shape) *Tensor {
	if shape.NumElements() != len(data) {
		panic(fmt.Sprintf("view: shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data)))
	}
	return &Tensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		data:   data,
	}
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns the size of dimension i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	return t.shape[normalizeDim(i, len(t.shape))]
}

// Strides returns the tensor's memory strides.
func (t *Tensor) Strides() []int {
	return t.stride
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the underlying storage.
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// offset computes the flat index for indices, panicking when out of bounds.
func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(t.shape), len(indices)))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, t.shape[i]))
		}
		off += idx * t.stride[i]
	}
	return off
}

// At returns the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor) At(indices ...int) float32 {
	return t.data[t.offset(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor) Set(value float32, indices ...int) {
	t.data[t.offset(indices)] = value
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() float32 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("Item() only works for single-element tensors, got shape %v", t.shape))
	}
	return t.data[0]
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return View(data, t.shape)
}

// CopyFrom overwrites the receiver's data with src's data.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("copy: shape mismatch %v vs %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Reshape returns a view with a new shape. One dimension may be -1 and is
// inferred from the element count.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	shape := make(Shape, len(dims))
	infer := -1
	known := 1
	for i, d := range dims {
		switch {
		case d == -1:
			if infer >= 0 {
				panic("reshape: only one dimension can be -1")
			}
			infer = i
		case d < 0:
			panic(fmt.Sprintf("reshape: invalid dimension %d", d))
		default:
			known *= d
		}
		shape[i] = d
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("reshape: cannot infer dimension for %v from %d elements", dims, len(t.data)))
		}
		shape[infer] = len(t.data) / known
	}
	if shape.NumElements() != len(t.data) {
		panic(fmt.Sprintf("reshape: %v is incompatible with %d elements", dims, len(t.data)))
	}
	return View(t.data, shape)
}

// Flatten collapses dimensions [start, rank) into one, sharing storage.
func (t *Tensor) Flatten(start int) *Tensor {
	start = normalizeDim(start, len(t.shape))
	dims := make([]int, 0, start+1)
	dims = append(dims, t.shape[:start]...)
	dims = append(dims, Shape(t.shape[start:]).NumElements())
	return t.Reshape(dims...)
}

// Index returns a copy of slice i along the first dimension, keeping the
// remaining dimensions.
func (t *Tensor) Index(i int) *Tensor {
	if len(t.shape) == 0 {
		panic("index: scalar tensor")
	}
	if i < 0 || i >= t.shape[0] {
		panic(fmt.Sprintf("index %d out of bounds for dimension 0 (size %d)", i, t.shape[0]))
	}
	inner := Shape(t.shape[1:])
	n := inner.NumElements()
	data := make([]float32, n)
	copy(data, t.data[i*n:(i+1)*n])
	if len(inner) == 0 {
		return View(data, Shape{1})
	}
	return View(data, inner)
}

// Equal reports whether both tensors have the same shape and identical data.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	for i, v := range t.data {
		if v != other.data[i] && !(math.IsNaN(float64(v)) && math.IsNaN(float64(other.data[i]))) {
			return false
		}
	}
	return true
}

// String returns a human-readable representation of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[float32]%v", t.shape)
}
