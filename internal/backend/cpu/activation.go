package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// ReLU returns max(x, 0).
func (cpu *Backend) ReLU(x *tensor.Tensor) *tensor.Tensor {
	out := alloc("relu", x.Shape())
	o := out.Data()
	for i, v := range x.Data() {
		if v > 0 {
			o[i] = v
		}
	}
	return out
}

// ReLU6 returns min(max(x, 0), 6).
func (cpu *Backend) ReLU6(x *tensor.Tensor) *tensor.Tensor {
	out := alloc("relu6", x.Shape())
	o := out.Data()
	for i, v := range x.Data() {
		switch {
		case v > 6:
			o[i] = 6
		case v > 0:
			o[i] = v
		}
	}
	return out
}

// Sigmoid returns 1 / (1 + exp(-x)).
func (cpu *Backend) Sigmoid(x *tensor.Tensor) *tensor.Tensor {
	out := alloc("sigmoid", x.Shape())
	o := out.Data()
	for i, v := range x.Data() {
		o[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return out
}

// Softmax applies a numerically stable softmax over the last dimension.
func (cpu *Backend) Softmax(x *tensor.Tensor) *tensor.Tensor {
	if x.Rank() == 0 {
		panic("softmax: scalar input")
	}
	D := x.Dim(-1)
	rows := x.NumElements() / D
	out := alloc("softmax", x.Shape())
	in, o := x.Data(), out.Data()
	for r := 0; r < rows; r++ {
		row := in[r*D : (r+1)*D]
		dst := o[r*D : (r+1)*D]
		m := math.Inf(-1)
		for _, v := range row {
			m = math.Max(m, float64(v))
		}
		sum := 0.0
		for i, v := range row {
			e := math.Exp(float64(v) - m)
			dst[i] = float32(e)
			sum += e
		}
		if sum == 0 {
			panic(fmt.Sprintf("softmax: row %d underflowed", r))
		}
		for i := range dst {
			dst[i] = float32(float64(dst[i]) / sum)
		}
	}
	return out
}
