package nn

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// ReLU applies max(x, 0) element-wise.
type ReLU struct {
	Base
	backend *cpu.Backend
}

// NewReLU creates a ReLU activation.
func NewReLU(backend *cpu.Backend) *ReLU {
	return &ReLU{backend: backend}
}

// Forward applies the activation.
func (r *ReLU) Forward(x *tensor.Tensor) *tensor.Tensor {
	return r.backend.ReLU(x)
}

// Script lowers the activation.
func (r *ReLU) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("relu", in)
}

// ReLU6 applies min(max(x, 0), 6) element-wise.
type ReLU6 struct {
	Base
	backend *cpu.Backend
}

// NewReLU6 creates a ReLU6 activation.
func NewReLU6(backend *cpu.Backend) *ReLU6 {
	return &ReLU6{backend: backend}
}

// Forward applies the activation.
func (r *ReLU6) Forward(x *tensor.Tensor) *tensor.Tensor {
	return r.backend.ReLU6(x)
}

// Script lowers the activation.
func (r *ReLU6) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("hardtanh", in, script.Attr{Key: "min", Value: 0}, script.Attr{Key: "max", Value: 6})
}

// Dropout zeroes elements with probability p during training and scales
// the survivors by 1/(1-p). In evaluation mode it is the identity and
// draws nothing.
//
// The mask is drawn from the generator the layer was built with, so a
// training-mode forward pass is reproducible after resetting it.
type Dropout struct {
	Base
	p float64
	g *rng.Generator
}

// NewDropout creates a dropout layer.
func NewDropout(g *rng.Generator, p float64) *Dropout {
	if p < 0 || p > 1 {
		panic(fmt.Sprintf("dropout: probability must be in [0, 1], got %v", p))
	}
	return &Dropout{p: p, g: g}
}

// Forward applies dropout.
func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.p == 0 {
		return x
	}
	out := tensor.Zeros(x.Shape())
	if d.p == 1 {
		return out
	}
	scale := float32(1 / (1 - d.p))
	o := out.Data()
	for i, v := range x.Data() {
		if !d.g.Bernoulli(d.p) {
			o[i] = v * scale
		}
	}
	return out
}

// Script lowers the layer.
func (d *Dropout) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("dropout", in, script.Attr{Key: "p", Value: d.p})
}

// Identity returns its input.
type Identity struct {
	Base
}

// NewIdentity creates an identity layer.
func NewIdentity() *Identity { return &Identity{} }

// Forward returns x.
func (*Identity) Forward(x *tensor.Tensor) *tensor.Tensor { return x }

// Script lowers the layer to nothing.
func (*Identity) Script(_ *script.Builder, in script.Value) (script.Value, error) {
	return in, nil
}

// Flatten collapses every dimension from start onwards into one.
type Flatten struct {
	Base
	start int
}

// NewFlatten creates a flatten layer. NewFlatten(1) turns [N, C, H, W]
// into [N, C*H*W].
func NewFlatten(start int) *Flatten { return &Flatten{start: start} }

// Forward reshapes x (sharing storage).
func (f *Flatten) Forward(x *tensor.Tensor) *tensor.Tensor {
	return x.Flatten(f.start)
}

// Script lowers the layer.
func (f *Flatten) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("flatten", in, script.Attr{Key: "start_dim", Value: f.start})
}
