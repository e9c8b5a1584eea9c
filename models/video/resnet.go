// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package video provides 18-layer residual networks for clip
// classification.
//
// Models map [N, 3, T, H, W] clips to [N, num_classes] logits. The three
// variants differ in how the 3x3x3 convolutions are factored:
//
//	r3d_18       full 3D convolutions
//	mc3_18       3D in the first stage, spatial-only (1x3x3) afterwards
//	r2plus1d_18  a 1x3x3 spatial convolution followed by a 3x1x1 temporal one
package video

import (
	"strconv"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
)

// ConvKind selects how a residual block's 3x3x3 convolution is built.
type ConvKind int

// Convolution kinds.
const (
	Conv3DSimple ConvKind = iota
	Conv3DNoTemporal
	Conv2Plus1D
)

func (k ConvKind) String() string {
	switch k {
	case Conv3DSimple:
		return "conv3d"
	case Conv3DNoTemporal:
		return "conv3d_no_temporal"
	case Conv2Plus1D:
		return "conv2plus1d"
	}
	return "ConvKind(" + strconv.Itoa(int(k)) + ")"
}

func conv3d(g *rng.Generator, be *cpu.Backend, in, out int, kernel, stride, pad [3]int) *nn.Conv3D {
	return nn.NewConv3D(g, be, nn.Conv3DConfig{In: in, Out: out, Kernel: kernel, Stride: stride, Padding: pad})
}

// build returns the convolution from in to out channels. mid is the
// width between the spatial and temporal halves of Conv2Plus1D.
func (k ConvKind) build(g *rng.Generator, be *cpu.Backend, in, out, mid, stride int) nn.Module {
	switch k {
	case Conv3DNoTemporal:
		return conv3d(g, be, in, out, [3]int{1, 3, 3}, [3]int{1, stride, stride}, [3]int{0, 1, 1})
	case Conv2Plus1D:
		return nn.NewSequential(
			conv3d(g, be, in, mid, [3]int{1, 3, 3}, [3]int{1, stride, stride}, [3]int{0, 1, 1}),
			nn.NewBatchNorm(be, mid),
			nn.NewReLU(be),
			conv3d(g, be, mid, out, [3]int{3, 1, 1}, [3]int{stride, 1, 1}, [3]int{1, 0, 0}),
		)
	default:
		return conv3d(g, be, in, out, [3]int{3, 3, 3}, [3]int{stride, stride, stride}, [3]int{1, 1, 1})
	}
}

// downsampleStride is the stride of the shortcut projection matching a
// block of this kind.
func (k ConvKind) downsampleStride(stride int) [3]int {
	if k == Conv3DNoTemporal {
		return [3]int{1, stride, stride}
	}
	return [3]int{stride, stride, stride}
}

// StemKind selects the network's first stage.
type StemKind int

// Stem kinds.
const (
	BasicStem StemKind = iota
	R2Plus1DStem
)

func newStem(g *rng.Generator, be *cpu.Backend, kind StemKind) *nn.Sequential {
	if kind == R2Plus1DStem {
		return nn.NewSequential(
			conv3d(g, be, 3, 45, [3]int{1, 7, 7}, [3]int{1, 2, 2}, [3]int{0, 3, 3}),
			nn.NewBatchNorm(be, 45),
			nn.NewReLU(be),
			conv3d(g, be, 45, 64, [3]int{3, 1, 1}, [3]int{1, 1, 1}, [3]int{1, 0, 0}),
			nn.NewBatchNorm(be, 64),
			nn.NewReLU(be),
		)
	}
	return nn.NewSequential(
		conv3d(g, be, 3, 64, [3]int{3, 7, 7}, [3]int{1, 2, 2}, [3]int{1, 3, 3}),
		nn.NewBatchNorm(be, 64),
		nn.NewReLU(be),
	)
}

// BasicBlock is a two-convolution residual unit over clips.
type BasicBlock struct {
	nn.Container
	conv1      *nn.Sequential
	conv2      *nn.Sequential
	downsample *nn.Sequential
	be         *cpu.Backend
}

func newBasicBlock(g *rng.Generator, be *cpu.Backend, kind ConvKind, inplanes, planes, stride int, downsample *nn.Sequential) *BasicBlock {
	// Keeps the (2+1)D factorization at the parameter count of a full
	// 3x3x3 convolution.
	mid := inplanes * planes * 27 / (inplanes*9 + 3*planes)

	blk := &BasicBlock{be: be}
	blk.conv1 = nn.Register(&blk.Container, "conv1", nn.NewSequential(
		kind.build(g, be, inplanes, planes, mid, stride),
		nn.NewBatchNorm(be, planes),
		nn.NewReLU(be),
	))
	blk.conv2 = nn.Register(&blk.Container, "conv2", nn.NewSequential(
		kind.build(g, be, planes, planes, mid, 1),
		nn.NewBatchNorm(be, planes),
	))
	if downsample != nil {
		blk.downsample = nn.Register(&blk.Container, "downsample", downsample)
	}
	return blk
}

// Forward applies the block.
func (blk *BasicBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := blk.conv2.Forward(blk.conv1.Forward(x))
	identity := x
	if blk.downsample != nil {
		identity = blk.downsample.Forward(x)
	}
	return blk.be.ReLU(tensor.Add(out, identity))
}

// Script lowers the block.
func (blk *BasicBlock) Script(b *script.Builder, in script.Value) (script.Value, error) {
	identity := in
	if blk.downsample != nil {
		var err error
		if identity, err = b.Call("downsample", blk.downsample, in); err != nil {
			return script.Value{}, err
		}
	}
	return script.Chain(b, in).
		Call("conv1", blk.conv1).
		Call("conv2", blk.conv2).
		Add(identity).
		Op("relu").
		Result()
}

// Config describes a video ResNet variant.
type Config struct {
	Stem   StemKind
	Convs  [4]ConvKind // per stage
	Layers [4]int      // blocks per stage
}

// VideoResNet is a residual network over clips. Its children are stem,
// layer1-4, avgpool and fc.
type VideoResNet struct {
	nn.Container
	stem    *nn.Sequential
	layers  [4]*nn.Sequential
	avgpool *nn.AdaptiveAvgPool3D
	fc      *nn.Linear
}

// New builds a video ResNet from cfg.
func New(g *rng.Generator, cfg Config, opts ...models.Option) (*VideoResNet, error) {
	o, err := models.Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend

	m := &VideoResNet{}
	m.stem = nn.Register(&m.Container, "stem", newStem(g, be, cfg.Stem))

	inplanes := 64
	planes := [4]int{64, 128, 256, 512}
	for i := range 4 {
		stride := 1
		if i > 0 {
			stride = 2
		}
		kind := cfg.Convs[i]
		var downsample *nn.Sequential
		if stride != 1 || inplanes != planes[i] {
			downsample = nn.NewSequential(
				conv3d(g, be, inplanes, planes[i], [3]int{1, 1, 1}, kind.downsampleStride(stride), [3]int{}),
				nn.NewBatchNorm(be, planes[i]),
			)
		}
		layer := nn.NewSequential(newBasicBlock(g, be, kind, inplanes, planes[i], stride, downsample))
		inplanes = planes[i]
		for range cfg.Layers[i] - 1 {
			layer.Add(newBasicBlock(g, be, kind, inplanes, planes[i], 1, nil))
		}
		m.layers[i] = nn.Register(&m.Container, "layer"+strconv.Itoa(i+1), layer)
	}
	m.avgpool = nn.Register(&m.Container, "avgpool", nn.NewAdaptiveAvgPool3D(be, 1, 1, 1))
	m.fc = nn.Register(&m.Container, "fc", nn.NewLinear(g, be, 512, o.NumClasses))

	nn.Walk(m, func(_ string, l nn.Layer) {
		switch l := l.(type) {
		case *nn.Conv3D:
			nn.KaimingNormal(g, l.Weight().Tensor(), nn.FanOut, nn.ReLUGain)
			if l.Bias() != nil {
				nn.Constant(l.Bias().Tensor(), 0)
			}
		case *nn.BatchNorm:
			nn.Constant(l.Weight().Tensor(), 1)
			nn.Constant(l.Bias().Tensor(), 0)
		case *nn.Linear:
			nn.Normal(g, l.Weight().Tensor(), 0, 0.01)
			nn.Constant(l.Bias().Tensor(), 0)
		}
	})
	return m, nil
}

// Forward maps [N, 3, T, H, W] clips to [N, num_classes] logits.
func (m *VideoResNet) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = m.stem.Forward(x)
	for _, l := range m.layers {
		x = l.Forward(x)
	}
	return m.fc.Forward(m.avgpool.Forward(x).Flatten(1))
}

// Script lowers the network.
func (m *VideoResNet) Script(b *script.Builder, in script.Value) (script.Value, error) {
	c := script.Chain(b, in).Call("stem", m.stem)
	for i, l := range m.layers {
		c.Call("layer"+strconv.Itoa(i+1), l)
	}
	return c.Call("avgpool", m.avgpool).
		Op("flatten", script.Attr{Key: "start_dim", Value: 1}).
		Call("fc", m.fc).
		Result()
}

// NewR3D18 builds the 18-layer network with full 3D convolutions.
func NewR3D18(g *rng.Generator, opts ...models.Option) (*VideoResNet, error) {
	return New(g, Config{
		Stem:   BasicStem,
		Convs:  [4]ConvKind{Conv3DSimple, Conv3DSimple, Conv3DSimple, Conv3DSimple},
		Layers: [4]int{2, 2, 2, 2},
	}, opts...)
}

// NewMC318 builds the mixed-convolution network: 3D convolutions in the
// first stage, spatial-only ones in the others.
func NewMC318(g *rng.Generator, opts ...models.Option) (*VideoResNet, error) {
	return New(g, Config{
		Stem:   BasicStem,
		Convs:  [4]ConvKind{Conv3DSimple, Conv3DNoTemporal, Conv3DNoTemporal, Conv3DNoTemporal},
		Layers: [4]int{2, 2, 2, 2},
	}, opts...)
}

// NewR2Plus1D18 builds the network with (2+1)D factorized convolutions.
func NewR2Plus1D18(g *rng.Generator, opts ...models.Option) (*VideoResNet, error) {
	return New(g, Config{
		Stem:   R2Plus1DStem,
		Convs:  [4]ConvKind{Conv2Plus1D, Conv2Plus1D, Conv2Plus1D, Conv2Plus1D},
		Layers: [4]int{2, 2, 2, 2},
	}, opts...)
}
