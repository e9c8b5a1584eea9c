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

func depthwise(g *rng.Generator, be *cpu.Backend, ch, stride int) *nn.Conv2D {
	return newConv(g, be, convSpec{in: ch, out: ch, kernel: nn.Pair(3), stride: nn.Pair(stride), pad: nn.Pair(1), groups: ch})
}

// ShuffleUnit is the ShuffleNetV2 building block. With stride 1 half of
// the channels pass through untouched; with stride 2 both halves are
// computed from the full input. The halves are concatenated and shuffled.
type ShuffleUnit struct {
	nn.Container
	branch1 *nn.Sequential
	branch2 *nn.Sequential
	stride  int
	be      *cpu.Backend
}

func newShuffleUnit(g *rng.Generator, be *cpu.Backend, in, out, stride int) (*ShuffleUnit, error) {
	if stride < 1 || stride > 3 {
		return nil, fmt.Errorf("%w: shuffle unit stride must be in [1, 3], got %d", ErrInvalidConfig, stride)
	}
	half := out / 2
	if stride == 1 && in != half*2 {
		return nil, fmt.Errorf("%w: shuffle unit with stride 1 needs in=%d to equal out=%d", ErrInvalidConfig, in, half*2)
	}

	u := &ShuffleUnit{stride: stride, be: be}
	if stride > 1 {
		u.branch1 = nn.Register(&u.Container, "branch1", nn.NewSequential(
			depthwise(g, be, in, stride),
			nn.NewBatchNorm(be, in),
			conv(g, be, in, half, 1, 1, 0),
			nn.NewBatchNorm(be, half),
			nn.NewReLU(be),
		))
	}
	first := half
	if stride > 1 {
		first = in
	}
	u.branch2 = nn.Register(&u.Container, "branch2", nn.NewSequential(
		conv(g, be, first, half, 1, 1, 0),
		nn.NewBatchNorm(be, half),
		nn.NewReLU(be),
		depthwise(g, be, half, stride),
		nn.NewBatchNorm(be, half),
		conv(g, be, half, half, 1, 1, 0),
		nn.NewBatchNorm(be, half),
		nn.NewReLU(be),
	))
	return u, nil
}

// Forward applies the unit.
func (u *ShuffleUnit) Forward(x *tensor.Tensor) *tensor.Tensor {
	var out *tensor.Tensor
	if u.stride == 1 {
		parts := u.be.Chunk(x, 2, 1)
		out = u.be.Cat([]*tensor.Tensor{parts[0], u.branch2.Forward(parts[1])}, 1)
	} else {
		out = u.be.Cat([]*tensor.Tensor{u.branch1.Forward(x), u.branch2.Forward(x)}, 1)
	}
	return u.be.ChannelShuffle(out, 2)
}

// Script lowers the unit. The stride-1 split is two fixed narrows.
func (u *ShuffleUnit) Script(b *script.Builder, in script.Value) (script.Value, error) {
	var left, right script.Value
	if u.stride == 1 {
		half := u.branch2.At(0).(*nn.Conv2D).Config().In
		var err error
		if left, err = narrow(b, in, 0, half); err != nil {
			return script.Value{}, err
		}
		if right, err = narrow(b, in, half, half); err != nil {
			return script.Value{}, err
		}
		if right, err = b.Call("branch2", u.branch2, right); err != nil {
			return script.Value{}, err
		}
	} else {
		var err error
		if left, err = b.Call("branch1", u.branch1, in); err != nil {
			return script.Value{}, err
		}
		if right, err = b.Call("branch2", u.branch2, in); err != nil {
			return script.Value{}, err
		}
	}
	out, err := b.Concat(1, left, right)
	if err != nil {
		return script.Value{}, err
	}
	return b.Unary("channel_shuffle", out, script.Attr{Key: "groups", Value: 2})
}

func narrow(b *script.Builder, in script.Value, start, length int) (script.Value, error) {
	return b.Unary("narrow", in,
		script.Attr{Key: "dim", Value: 1},
		script.Attr{Key: "start", Value: start},
		script.Attr{Key: "length", Value: length},
	)
}

// ShuffleNetV2 is the network from "ShuffleNet V2: Practical Guidelines
// for Efficient CNN Architecture Design".
type ShuffleNetV2 struct {
	nn.Container
	body []nn.Module
	fc   *nn.Linear
	be   *cpu.Backend
}

// NewShuffleNetV2 builds a ShuffleNetV2 with three stages of the given
// repeats and five output channel counts (stem, three stages, conv5).
func NewShuffleNetV2(g *rng.Generator, repeats [3]int, channels [5]int, opts ...Option) (*ShuffleNetV2, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend
	m := &ShuffleNetV2{be: be}
	add := func(name string, l nn.Module) {
		m.body = append(m.body, nn.Register(&m.Container, name, l))
	}

	add("conv1", nn.NewSequential(
		conv(g, be, 3, channels[0], 3, 2, 1),
		nn.NewBatchNorm(be, channels[0]),
		nn.NewReLU(be),
	))
	add("maxpool", maxPool(be, 3, 2, 1, false))

	in := channels[0]
	for i, n := range repeats {
		out := channels[i+1]
		stage := nn.NewSequential()
		for j := range n {
			stride, from := 1, out
			if j == 0 {
				stride, from = 2, in
			}
			u, err := newShuffleUnit(g, be, from, out, stride)
			if err != nil {
				return nil, err
			}
			stage.Add(u)
		}
		add(fmt.Sprintf("stage%d", i+2), stage)
		in = out
	}

	add("conv5", nn.NewSequential(
		conv(g, be, in, channels[4], 1, 1, 0),
		nn.NewBatchNorm(be, channels[4]),
		nn.NewReLU(be),
	))
	m.fc = nn.Register(&m.Container, "fc", nn.NewLinear(g, be, channels[4], o.NumClasses))
	return m, nil
}

var shuffleNetRepeats = [3]int{4, 8, 4}

// NewShuffleNetV2x05 builds ShuffleNetV2 with 0.5x output channels.
func NewShuffleNetV2x05(g *rng.Generator, opts ...Option) (*ShuffleNetV2, error) {
	return NewShuffleNetV2(g, shuffleNetRepeats, [5]int{24, 48, 96, 192, 1024}, opts...)
}

// NewShuffleNetV2x10 builds ShuffleNetV2 with 1.0x output channels.
func NewShuffleNetV2x10(g *rng.Generator, opts ...Option) (*ShuffleNetV2, error) {
	return NewShuffleNetV2(g, shuffleNetRepeats, [5]int{24, 116, 232, 464, 1024}, opts...)
}

// NewShuffleNetV2x15 builds ShuffleNetV2 with 1.5x output channels.
func NewShuffleNetV2x15(g *rng.Generator, opts ...Option) (*ShuffleNetV2, error) {
	return NewShuffleNetV2(g, shuffleNetRepeats, [5]int{24, 176, 352, 704, 1024}, opts...)
}

// NewShuffleNetV2x20 builds ShuffleNetV2 with 2.0x output channels.
func NewShuffleNetV2x20(g *rng.Generator, opts ...Option) (*ShuffleNetV2, error) {
	return NewShuffleNetV2(g, shuffleNetRepeats, [5]int{24, 244, 488, 976, 2048}, opts...)
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *ShuffleNetV2) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, l := range m.body {
		x = l.Forward(x)
	}
	x = m.be.AdaptiveAvgPool2D(x, 1, 1)
	return m.fc.Forward(x.Flatten(1))
}

// Script lowers the network.
func (m *ShuffleNetV2) Script(b *script.Builder, in script.Value) (script.Value, error) {
	v := in
	for i, c := range m.Children()[:len(m.body)] {
		var err error
		if v, err = b.Call(c.Name, m.body[i], v); err != nil {
			return script.Value{}, err
		}
	}
	return script.Chain(b, v).
		Op("mean", script.Attr{Key: "dims", Value: []int{2, 3}}).
		Call("fc", m.fc).
		Result()
}
