package nn

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Linear is a fully connected layer: y = x @ W^T + b.
//
// Input shape:  [batch, in_features]
// Output shape: [batch, out_features]
type Linear struct {
	Base
	in, out int
	weight  *Parameter
	bias    *Parameter
	backend *cpu.Backend
}

// NewLinear creates a linear layer with a bias and the default
// initialization (weight and bias from U(-1/sqrt(in), 1/sqrt(in))).
func NewLinear(g *rng.Generator, backend *cpu.Backend, in, out int) *Linear {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", in, out))
	}
	l := &Linear{
		in:      in,
		out:     out,
		weight:  NewParameter("weight", tensor.Zeros(tensor.Shape{out, in})),
		bias:    NewParameter("bias", tensor.Zeros(tensor.Shape{out})),
		backend: backend,
	}
	defaultInit(g, l.weight, l.bias)
	return l
}

// InFeatures returns the input width.
func (l *Linear) InFeatures() int { return l.in }

// OutFeatures returns the output width.
func (l *Linear) OutFeatures() int { return l.out }

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter { return l.weight }

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter { return l.bias }

// OwnParameters returns weight and bias.
func (l *Linear) OwnParameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Forward applies the affine map.
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Rank() != 2 || x.Dim(1) != l.in {
		panic(fmt.Sprintf("linear: expected input [N,%d], got %v", l.in, x.Shape()))
	}
	return l.backend.Linear(x, l.weight.tensor, l.bias.tensor)
}

// Script lowers the layer.
func (l *Linear) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("linear", in,
		script.Attr{Key: "in", Value: l.in},
		script.Attr{Key: "out", Value: l.out},
	)
}
