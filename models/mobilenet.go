// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"fmt"
	"math"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// DefaultInvertedResidualSetting is the MobileNetV2 stage table. Each row
// is {expansion t, output channels c, repeats n, first stride s}.
var DefaultInvertedResidualSetting = [][]int{
	{1, 16, 1, 1},
	{6, 24, 2, 2},
	{6, 32, 3, 2},
	{6, 64, 4, 2},
	{6, 96, 3, 1},
	{6, 160, 3, 2},
	{6, 320, 1, 1},
}

// makeDivisible rounds v to the nearest multiple of divisor without going
// below divisor or more than 10% below v.
func makeDivisible(v float64, divisor int) int {
	n := max(divisor, int(v+float64(divisor)/2)/divisor*divisor)
	if float64(n) < 0.9*v {
		n += divisor
	}
	return n
}

// convBNReLU6 is the conv, batch norm, ReLU6 triple. Children are named
// by position.
func convBNReLU6(g *rng.Generator, be *cpu.Backend, in, out, kernel, stride, groups int) *nn.Sequential {
	return nn.NewSequential(
		newConv(g, be, convSpec{
			in: in, out: out,
			kernel: nn.Pair(kernel), stride: nn.Pair(stride), pad: nn.Pair((kernel - 1) / 2),
			groups: groups,
		}),
		nn.NewBatchNorm(be, out),
		nn.NewReLU6(be),
	)
}

// InvertedResidual expands with a 1x1 convolution, filters depthwise and
// projects back linearly. The identity shortcut applies when stride is 1
// and the channel count is unchanged.
type InvertedResidual struct {
	nn.Container
	conv        *nn.Sequential
	useResidual bool
}

func newInvertedResidual(g *rng.Generator, be *cpu.Backend, in, out, stride, expandRatio int) (*InvertedResidual, error) {
	if stride != 1 && stride != 2 {
		return nil, fmt.Errorf("%w: inverted residual stride must be 1 or 2, got %d", ErrInvalidConfig, stride)
	}
	hidden := int(math.RoundToEven(float64(in * expandRatio)))
	seq := nn.NewSequential()
	if expandRatio != 1 {
		seq.Add(convBNReLU6(g, be, in, hidden, 1, 1, 1))
	}
	seq.Add(convBNReLU6(g, be, hidden, hidden, 3, stride, hidden))
	seq.Add(conv(g, be, hidden, out, 1, 1, 0))
	seq.Add(nn.NewBatchNorm(be, out))

	r := &InvertedResidual{useResidual: stride == 1 && in == out}
	r.conv = nn.Register(&r.Container, "conv", seq)
	return r, nil
}

// Forward applies the block.
func (r *InvertedResidual) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := r.conv.Forward(x)
	if r.useResidual {
		tensor.AddInPlace(out, x)
	}
	return out
}

// Script lowers the block.
func (r *InvertedResidual) Script(b *script.Builder, in script.Value) (script.Value, error) {
	c := script.Chain(b, in).Call("conv", r.conv)
	if r.useResidual {
		c = c.Add(in)
	}
	return c.Result()
}

// MobileNetV2 is the network from "MobileNetV2: Inverted Residuals and
// Linear Bottlenecks".
type MobileNetV2 struct {
	nn.Container
	features   *nn.Sequential
	classifier *nn.Sequential
	be         *cpu.Backend
}

// NewMobileNetV2 builds MobileNetV2. WithWidthMult scales every stage and
// WithInvertedResidualSetting replaces the stage table.
func NewMobileNetV2(g *rng.Generator, opts ...Option) (*MobileNetV2, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	setting := o.InvertedResidualSetting
	if setting == nil {
		setting = DefaultInvertedResidualSetting
	}
	if err := validateInvertedResidualSetting(setting); err != nil {
		return nil, err
	}

	const roundNearest = 8
	be := o.Backend
	in := makeDivisible(32*o.WidthMult, roundNearest)
	last := makeDivisible(1280*max(1, o.WidthMult), roundNearest)

	features := nn.NewSequential(convBNReLU6(g, be, 3, in, 3, 2, 1))
	for _, row := range setting {
		t, c, n, s := row[0], row[1], row[2], row[3]
		out := makeDivisible(float64(c)*o.WidthMult, roundNearest)
		for i := range n {
			stride := 1
			if i == 0 {
				stride = s
			}
			block, err := newInvertedResidual(g, be, in, out, stride, t)
			if err != nil {
				return nil, err
			}
			features.Add(block)
			in = out
		}
	}
	features.Add(convBNReLU6(g, be, in, last, 1, 1, 1))

	m := &MobileNetV2{be: be}
	m.features = nn.Register(&m.Container, "features", features)
	m.classifier = nn.Register(&m.Container, "classifier", nn.NewSequential(
		nn.NewDropout(g, 0.2),
		nn.NewLinear(g, be, last, o.NumClasses),
	))

	initialize(m, func(l nn.Layer) {
		switch l := l.(type) {
		case *nn.Conv2D:
			nn.KaimingNormal(g, l.Weight().Tensor(), nn.FanOut, nn.ReLUGain)
			zeroBias(l.Bias())
		case *nn.BatchNorm:
			resetBatchNorm(l)
		case *nn.Linear:
			nn.Normal(g, l.Weight().Tensor(), 0, 0.01)
			zeroBias(l.Bias())
		}
	})
	return m, nil
}

func validateInvertedResidualSetting(setting [][]int) error {
	if len(setting) == 0 {
		return fmt.Errorf("%w: inverted residual setting is empty", ErrInvalidConfig)
	}
	for i, row := range setting {
		if len(row) != 4 {
			return fmt.Errorf("%w: inverted residual setting row %d has %d elements, want 4", ErrInvalidConfig, i, len(row))
		}
		for _, v := range row {
			if v <= 0 {
				return fmt.Errorf("%w: inverted residual setting row %d has non-positive value %v", ErrInvalidConfig, i, row)
			}
		}
	}
	return nil
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *MobileNetV2) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = m.be.AdaptiveAvgPool2D(m.features.Forward(x), 1, 1)
	return m.classifier.Forward(x.Flatten(1))
}

// Script lowers the network.
func (m *MobileNetV2) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Call("features", m.features).
		Op("adaptive_avg_pool2d", script.Attr{Key: "output_size", Value: [2]int{1, 1}}).
		Op("flatten", flattenAttr).
		Call("classifier", m.classifier).
		Result()
}
