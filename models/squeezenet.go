// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Fire squeezes with a 1x1 convolution and expands with parallel 1x1 and
// 3x3 convolutions whose outputs are concatenated.
type Fire struct {
	nn.Container
	squeeze, expand1x1, expand3x3 *nn.Conv2D
	be                            *cpu.Backend
}

func newFire(g *rng.Generator, be *cpu.Backend, in, squeeze, expand1x1, expand3x3 int) *Fire {
	f := &Fire{be: be}
	f.squeeze = nn.Register(&f.Container, "squeeze",
		newConv(g, be, convSpec{in: in, out: squeeze, kernel: nn.Pair(1), bias: true}))
	f.expand1x1 = nn.Register(&f.Container, "expand1x1",
		newConv(g, be, convSpec{in: squeeze, out: expand1x1, kernel: nn.Pair(1), bias: true}))
	f.expand3x3 = nn.Register(&f.Container, "expand3x3",
		newConv(g, be, convSpec{in: squeeze, out: expand3x3, kernel: nn.Pair(3), pad: nn.Pair(1), bias: true}))
	return f
}

// Forward applies the module.
func (f *Fire) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = f.be.ReLU(f.squeeze.Forward(x))
	return f.be.Cat([]*tensor.Tensor{
		f.be.ReLU(f.expand1x1.Forward(x)),
		f.be.ReLU(f.expand3x3.Forward(x)),
	}, 1)
}

// Script lowers the module.
func (f *Fire) Script(b *script.Builder, in script.Value) (script.Value, error) {
	v, err := script.Chain(b, in).Call("squeeze", f.squeeze).Op("relu").Result()
	if err != nil {
		return script.Value{}, err
	}
	return scriptBranches(b, v,
		[]scriptStep{step("expand1x1", f.expand1x1), opStep("relu")},
		[]scriptStep{step("expand3x3", f.expand3x3), opStep("relu")},
	)
}

// SqueezeNet is the network from "SqueezeNet: AlexNet-level accuracy with
// 50x fewer parameters and <0.5MB model size".
type SqueezeNet struct {
	nn.Container
	features   *nn.Sequential
	classifier *nn.Sequential
}

func newSqueezeNet(g *rng.Generator, version string, opts []Option) (*SqueezeNet, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend

	var features *nn.Sequential
	switch version {
	case "1_0":
		features = nn.NewSequential(
			newConv(g, be, convSpec{in: 3, out: 96, kernel: nn.Pair(7), stride: nn.Pair(2), bias: true}),
			nn.NewReLU(be),
			maxPool(be, 3, 2, 0, true),
			newFire(g, be, 96, 16, 64, 64),
			newFire(g, be, 128, 16, 64, 64),
			newFire(g, be, 128, 32, 128, 128),
			maxPool(be, 3, 2, 0, true),
			newFire(g, be, 256, 32, 128, 128),
			newFire(g, be, 256, 48, 192, 192),
			newFire(g, be, 384, 48, 192, 192),
			newFire(g, be, 384, 64, 256, 256),
			maxPool(be, 3, 2, 0, true),
			newFire(g, be, 512, 64, 256, 256),
		)
	case "1_1":
		features = nn.NewSequential(
			newConv(g, be, convSpec{in: 3, out: 64, kernel: nn.Pair(3), stride: nn.Pair(2), bias: true}),
			nn.NewReLU(be),
			maxPool(be, 3, 2, 0, true),
			newFire(g, be, 64, 16, 64, 64),
			newFire(g, be, 128, 16, 64, 64),
			maxPool(be, 3, 2, 0, true),
			newFire(g, be, 128, 32, 128, 128),
			newFire(g, be, 256, 32, 128, 128),
			maxPool(be, 3, 2, 0, true),
			newFire(g, be, 256, 48, 192, 192),
			newFire(g, be, 384, 48, 192, 192),
			newFire(g, be, 384, 64, 256, 256),
			newFire(g, be, 512, 64, 256, 256),
		)
	default:
		return nil, fmt.Errorf("%w: unsupported SqueezeNet version %s", ErrInvalidConfig, version)
	}

	m := &SqueezeNet{}
	m.features = nn.Register(&m.Container, "features", features)
	finalConv := newConv(g, be, convSpec{in: 512, out: o.NumClasses, kernel: nn.Pair(1), bias: true})
	m.classifier = nn.Register(&m.Container, "classifier", nn.NewSequential(
		nn.NewDropout(g, 0.5),
		finalConv,
		nn.NewReLU(be),
		nn.NewAdaptiveAvgPool2D(be, 1, 1),
	))

	initialize(m, func(l nn.Layer) {
		c, ok := l.(*nn.Conv2D)
		if !ok {
			return
		}
		if c == finalConv {
			nn.Normal(g, c.Weight().Tensor(), 0, 0.01)
		} else {
			nn.KaimingUniform(g, c.Weight().Tensor(), nn.FanIn, nn.ReLUGain)
		}
		zeroBias(c.Bias())
	})
	return m, nil
}

// NewSqueezeNet10 builds SqueezeNet 1.0.
func NewSqueezeNet10(g *rng.Generator, opts ...Option) (*SqueezeNet, error) {
	return newSqueezeNet(g, "1_0", opts)
}

// NewSqueezeNet11 builds SqueezeNet 1.1, which needs 2.4x less computation
// than 1.0 at the same accuracy.
func NewSqueezeNet11(g *rng.Generator, opts ...Option) (*SqueezeNet, error) {
	return newSqueezeNet(g, "1_1", opts)
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *SqueezeNet) Forward(x *tensor.Tensor) *tensor.Tensor {
	return m.classifier.Forward(m.features.Forward(x)).Flatten(1)
}

// Script lowers the network.
func (m *SqueezeNet) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Call("features", m.features).
		Call("classifier", m.classifier).
		Op("flatten", flattenAttr).
		Result()
}
