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

// mnasBNMomentum is the batch norm momentum of the reference TensorFlow
// implementation (decay 0.9997).
const mnasBNMomentum = 1 - 0.9997

type mnasBlock struct {
	nn.Container
	layers      *nn.Sequential
	useResidual bool
}

func newMNASBlock(g *rng.Generator, be *cpu.Backend, in, out, kernel, stride, expansion int) *mnasBlock {
	mid := in * expansion
	bn := func(n int) *nn.BatchNorm { return nn.NewBatchNorm(be, n, nn.WithMomentum(mnasBNMomentum)) }
	blk := &mnasBlock{useResidual: in == out && stride == 1}
	blk.layers = nn.Register(&blk.Container, "layers", nn.NewSequential(
		conv(g, be, in, mid, 1, 1, 0),
		bn(mid),
		nn.NewReLU(be),
		newConv(g, be, convSpec{
			in: mid, out: mid,
			kernel: nn.Pair(kernel), stride: nn.Pair(stride), pad: nn.Pair(kernel / 2),
			groups: mid,
		}),
		bn(mid),
		nn.NewReLU(be),
		conv(g, be, mid, out, 1, 1, 0),
		bn(out),
	))
	return blk
}

func (blk *mnasBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := blk.layers.Forward(x)
	if blk.useResidual {
		tensor.AddInPlace(out, x)
	}
	return out
}

func (blk *mnasBlock) Script(b *script.Builder, in script.Value) (script.Value, error) {
	c := script.Chain(b, in).Call("layers", blk.layers)
	if blk.useResidual {
		c = c.Add(in)
	}
	return c.Result()
}

// mnasStack is repeats blocks, the first of which changes channels and
// stride.
func mnasStack(g *rng.Generator, be *cpu.Backend, in, out, kernel, stride, expansion, repeats int) *nn.Sequential {
	s := nn.NewSequential(newMNASBlock(g, be, in, out, kernel, stride, expansion))
	for range repeats - 1 {
		s.Add(newMNASBlock(g, be, out, out, kernel, 1, expansion))
	}
	return s
}

// roundToMultipleOf rounds val to a multiple of divisor, rounding up when
// plain rounding would lose more than 10%.
func roundToMultipleOf(val float64, divisor int) int {
	n := max(divisor, int(val+float64(divisor)/2)/divisor*divisor)
	if float64(n) >= 0.9*val {
		return n
	}
	return n + divisor
}

// MNASNet is the network from "MnasNet: Platform-Aware Neural
// Architecture Search for Mobile".
type MNASNet struct {
	nn.Container
	layers     *nn.Sequential
	classifier *nn.Sequential
	be         *cpu.Backend
}

// NewMNASNet builds MNASNet with depth multiplier alpha.
func NewMNASNet(g *rng.Generator, alpha float64, opts ...Option) (*MNASNet, error) {
	if alpha <= 0 {
		return nil, fmt.Errorf("%w: MNASNet alpha must be positive, got %v", ErrInvalidConfig, alpha)
	}
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend

	var d [8]int
	for i, depth := range [8]int{32, 16, 24, 40, 80, 96, 192, 320} {
		d[i] = roundToMultipleOf(float64(depth)*alpha, 8)
	}
	bn := func(n int) *nn.BatchNorm { return nn.NewBatchNorm(be, n, nn.WithMomentum(mnasBNMomentum)) }

	layers := nn.NewSequential(
		conv(g, be, 3, d[0], 3, 2, 1),
		bn(d[0]),
		nn.NewReLU(be),
		newConv(g, be, convSpec{in: d[0], out: d[0], kernel: nn.Pair(3), pad: nn.Pair(1), groups: d[0]}),
		bn(d[0]),
		nn.NewReLU(be),
		conv(g, be, d[0], d[1], 1, 1, 0),
		bn(d[1]),
		mnasStack(g, be, d[1], d[2], 3, 2, 3, 3),
		mnasStack(g, be, d[2], d[3], 5, 2, 3, 3),
		mnasStack(g, be, d[3], d[4], 5, 2, 6, 3),
		mnasStack(g, be, d[4], d[5], 3, 1, 6, 2),
		mnasStack(g, be, d[5], d[6], 5, 2, 6, 4),
		mnasStack(g, be, d[6], d[7], 3, 1, 6, 1),
		conv(g, be, d[7], 1280, 1, 1, 0),
		bn(1280),
		nn.NewReLU(be),
	)

	m := &MNASNet{be: be}
	m.layers = nn.Register(&m.Container, "layers", layers)
	m.classifier = nn.Register(&m.Container, "classifier", nn.NewSequential(
		nn.NewDropout(g, 0.2),
		nn.NewLinear(g, be, 1280, o.NumClasses),
	))

	initialize(m, func(l nn.Layer) {
		switch l := l.(type) {
		case *nn.Conv2D:
			nn.KaimingNormal(g, l.Weight().Tensor(), nn.FanOut, nn.ReLUGain)
			zeroBias(l.Bias())
		case *nn.BatchNorm:
			resetBatchNorm(l)
		case *nn.Linear:
			nn.KaimingUniform(g, l.Weight().Tensor(), nn.FanOut, 1)
			zeroBias(l.Bias())
		}
	})
	return m, nil
}

// NewMNASNet05 builds MNASNet with depth multiplier 0.5.
func NewMNASNet05(g *rng.Generator, opts ...Option) (*MNASNet, error) {
	return NewMNASNet(g, 0.5, opts...)
}

// NewMNASNet075 builds MNASNet with depth multiplier 0.75.
func NewMNASNet075(g *rng.Generator, opts ...Option) (*MNASNet, error) {
	return NewMNASNet(g, 0.75, opts...)
}

// NewMNASNet10 builds MNASNet with depth multiplier 1.0.
func NewMNASNet10(g *rng.Generator, opts ...Option) (*MNASNet, error) {
	return NewMNASNet(g, 1.0, opts...)
}

// NewMNASNet13 builds MNASNet with depth multiplier 1.3.
func NewMNASNet13(g *rng.Generator, opts ...Option) (*MNASNet, error) {
	return NewMNASNet(g, 1.3, opts...)
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *MNASNet) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = m.be.AdaptiveAvgPool2D(m.layers.Forward(x), 1, 1)
	return m.classifier.Forward(x.Flatten(1))
}

// Script lowers the network.
func (m *MNASNet) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Call("layers", m.layers).
		Op("mean", script.Attr{Key: "dims", Value: []int{2, 3}}).
		Call("classifier", m.classifier).
		Result()
}
