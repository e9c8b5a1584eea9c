// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"fmt"
	"strconv"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// BlockKind selects the residual block of a ResNet.
type BlockKind int

// Residual block kinds.
const (
	Basic BlockKind = iota
	Bottleneck
)

func (k BlockKind) expansion() int {
	if k == Bottleneck {
		return 4
	}
	return 1
}

// blockConfig carries what one residual block is built from.
type blockConfig struct {
	inplanes, planes int
	stride           int
	groups           int
	baseWidth        int
	dilation         int
}

// ResidualBlock is a BasicBlock or Bottleneck unit:
//
//	out = relu(body(x) + shortcut(x))
//
// where shortcut is the identity or a strided 1x1 projection.
type ResidualBlock struct {
	nn.Container
	convs      []*nn.Conv2D
	bns        []*nn.BatchNorm
	downsample *nn.Sequential
	be         *cpu.Backend
}

func newResidualBlock(g *rng.Generator, be *cpu.Backend, kind BlockKind, c blockConfig, downsample *nn.Sequential) (*ResidualBlock, error) {
	blk := &ResidualBlock{be: be}
	add := func(cv *nn.Conv2D) {
		i := strconv.Itoa(len(blk.convs) + 1)
		blk.convs = append(blk.convs, nn.Register(&blk.Container, "conv"+i, cv))
		blk.bns = append(blk.bns, nn.Register(&blk.Container, "bn"+i, nn.NewBatchNorm(be, cv.Config().Out)))
	}

	switch kind {
	case Basic:
		if c.groups != 1 || c.baseWidth != 64 {
			return nil, fmt.Errorf("%w: BasicBlock only supports groups=1 and base_width=64", ErrInvalidConfig)
		}
		if c.dilation > 1 {
			return nil, fmt.Errorf("%w: dilation > 1 not supported in BasicBlock", ErrInvalidConfig)
		}
		add(conv(g, be, c.inplanes, c.planes, 3, c.stride, 1))
		add(conv(g, be, c.planes, c.planes, 3, 1, 1))
	case Bottleneck:
		width := int(float64(c.planes)*(float64(c.baseWidth)/64)) * c.groups
		add(conv(g, be, c.inplanes, width, 1, 1, 0))
		add(newConv(g, be, convSpec{
			in: width, out: width, kernel: nn.Pair(3), stride: nn.Pair(c.stride),
			pad: nn.Pair(c.dilation), dilation: c.dilation, groups: c.groups,
		}))
		add(conv(g, be, width, c.planes*4, 1, 1, 0))
	}

	if downsample != nil {
		blk.downsample = nn.Register(&blk.Container, "downsample", downsample)
	}
	return blk, nil
}

// Forward applies the block.
func (r *ResidualBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := x
	last := len(r.convs) - 1
	for i, c := range r.convs {
		out = r.bns[i].Forward(c.Forward(out))
		if i < last {
			out = r.be.ReLU(out)
		}
	}
	identity := x
	if r.downsample != nil {
		identity = r.downsample.Forward(x)
	}
	return r.be.ReLU(tensor.Add(out, identity))
}

// Script lowers the block.
func (r *ResidualBlock) Script(b *script.Builder, in script.Value) (script.Value, error) {
	identity := in
	if r.downsample != nil {
		var err error
		if identity, err = b.Call("downsample", r.downsample, in); err != nil {
			return script.Value{}, err
		}
	}
	c := script.Chain(b, in)
	last := len(r.convs) - 1
	for i := range r.convs {
		n := strconv.Itoa(i + 1)
		c.Call("conv"+n, r.convs[i]).Call("bn"+n, r.bns[i])
		if i < last {
			c.Op("relu")
		}
	}
	return c.Add(identity).Op("relu").Result()
}

// ResNet is the network from "Deep Residual Learning for Image
// Recognition", with the stride of the 3x3 bottleneck convolution
// (ResNet v1.5). Its children are conv1, bn1, relu, maxpool, layer1-4,
// avgpool and fc, so nn.Slice(model, "layer4") yields the feature
// extractor.
type ResNet struct {
	nn.Container
	conv1   *nn.Conv2D
	bn1     *nn.BatchNorm
	relu    *nn.ReLU
	maxpool *nn.MaxPool2D
	layers  [4]*nn.Sequential
	avgpool *nn.AdaptiveAvgPool2D
	fc      *nn.Linear

	inplanes  int
	dilation  int
	groups    int
	baseWidth int
}

// ResNetConfig describes a ResNet variant.
type ResNetConfig struct {
	Block         BlockKind
	Layers        [4]int
	Groups        int
	WidthPerGroup int
}

// NewResNet builds a ResNet variant.
func NewResNet(g *rng.Generator, cfg ResNetConfig, opts ...Option) (*ResNet, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Groups == 0 {
		cfg.Groups = 1
	}
	if cfg.WidthPerGroup == 0 {
		cfg.WidthPerGroup = 64
	}
	be := o.Backend

	m := &ResNet{inplanes: 64, dilation: 1, groups: cfg.Groups, baseWidth: cfg.WidthPerGroup}
	m.conv1 = nn.Register(&m.Container, "conv1", conv(g, be, 3, m.inplanes, 7, 2, 3))
	m.bn1 = nn.Register(&m.Container, "bn1", nn.NewBatchNorm(be, m.inplanes))
	m.relu = nn.Register(&m.Container, "relu", nn.NewReLU(be))
	m.maxpool = nn.Register(&m.Container, "maxpool", maxPool(be, 3, 2, 1, false))

	planes := [4]int{64, 128, 256, 512}
	for i := range 4 {
		stride, dilate := 1, false
		if i > 0 {
			stride, dilate = 2, o.ReplaceStrideWithDilation[i-1]
		}
		layer, err := m.makeLayer(g, be, cfg.Block, planes[i], cfg.Layers[i], stride, dilate)
		if err != nil {
			return nil, fmt.Errorf("layer%d: %w", i+1, err)
		}
		m.layers[i] = nn.Register(&m.Container, "layer"+strconv.Itoa(i+1), layer)
	}

	m.avgpool = nn.Register(&m.Container, "avgpool", nn.NewAdaptiveAvgPool2D(be, 1, 1))
	m.fc = nn.Register(&m.Container, "fc", nn.NewLinear(g, be, 512*cfg.Block.expansion(), o.NumClasses))

	initialize(m, func(l nn.Layer) {
		switch l := l.(type) {
		case *nn.Conv2D:
			nn.KaimingNormal(g, l.Weight().Tensor(), nn.FanOut, nn.ReLUGain)
		case *nn.BatchNorm:
			resetBatchNorm(l)
		}
	})
	return m, nil
}

func (m *ResNet) makeLayer(g *rng.Generator, be *cpu.Backend, kind BlockKind, planes, blocks, stride int, dilate bool) (*nn.Sequential, error) {
	previousDilation := m.dilation
	if dilate {
		m.dilation *= stride
		stride = 1
	}
	var downsample *nn.Sequential
	if stride != 1 || m.inplanes != planes*kind.expansion() {
		downsample = nn.NewSequential(
			conv(g, be, m.inplanes, planes*kind.expansion(), 1, stride, 0),
			nn.NewBatchNorm(be, planes*kind.expansion()),
		)
	}

	layer := nn.NewSequential()
	first, err := newResidualBlock(g, be, kind, blockConfig{
		inplanes: m.inplanes, planes: planes, stride: stride,
		groups: m.groups, baseWidth: m.baseWidth, dilation: previousDilation,
	}, downsample)
	if err != nil {
		return nil, err
	}
	layer.Add(first)
	m.inplanes = planes * kind.expansion()
	for range blocks - 1 {
		blk, err := newResidualBlock(g, be, kind, blockConfig{
			inplanes: m.inplanes, planes: planes, stride: 1,
			groups: m.groups, baseWidth: m.baseWidth, dilation: m.dilation,
		}, nil)
		if err != nil {
			return nil, err
		}
		layer.Add(blk)
	}
	return layer, nil
}

// Layer returns layer1..layer4 by 1-based index.
func (m *ResNet) Layer(i int) *nn.Sequential { return m.layers[i-1] }

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *ResNet) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = m.maxpool.Forward(m.relu.Forward(m.bn1.Forward(m.conv1.Forward(x))))
	for _, l := range m.layers {
		x = l.Forward(x)
	}
	x = m.avgpool.Forward(x)
	return m.fc.Forward(x.Flatten(1))
}

// Script lowers the network.
func (m *ResNet) Script(b *script.Builder, in script.Value) (script.Value, error) {
	c := script.Chain(b, in).
		Call("conv1", m.conv1).
		Call("bn1", m.bn1).
		Call("relu", m.relu).
		Call("maxpool", m.maxpool)
	for i, l := range m.layers {
		c.Call("layer"+strconv.Itoa(i+1), l)
	}
	return c.Call("avgpool", m.avgpool).
		Op("flatten", flattenAttr).
		Call("fc", m.fc).
		Result()
}

// NewResNet18 builds ResNet-18.
func NewResNet18(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Basic, Layers: [4]int{2, 2, 2, 2}}, opts...)
}

// NewResNet34 builds ResNet-34.
func NewResNet34(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Basic, Layers: [4]int{3, 4, 6, 3}}, opts...)
}

// NewResNet50 builds ResNet-50.
func NewResNet50(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Bottleneck, Layers: [4]int{3, 4, 6, 3}}, opts...)
}

// NewResNet101 builds ResNet-101.
func NewResNet101(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Bottleneck, Layers: [4]int{3, 4, 23, 3}}, opts...)
}

// NewResNet152 builds ResNet-152.
func NewResNet152(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Bottleneck, Layers: [4]int{3, 8, 36, 3}}, opts...)
}

// NewResNeXt50 builds ResNeXt-50 32x4d.
func NewResNeXt50(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Bottleneck, Layers: [4]int{3, 4, 6, 3}, Groups: 32, WidthPerGroup: 4}, opts...)
}

// NewResNeXt101 builds ResNeXt-101 32x8d.
func NewResNeXt101(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Bottleneck, Layers: [4]int{3, 4, 23, 3}, Groups: 32, WidthPerGroup: 8}, opts...)
}

// NewWideResNet50 builds Wide ResNet-50-2: the bottleneck width doubles
// while the block outputs keep their channel counts.
func NewWideResNet50(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Bottleneck, Layers: [4]int{3, 4, 6, 3}, WidthPerGroup: 128}, opts...)
}

// NewWideResNet101 builds Wide ResNet-101-2.
func NewWideResNet101(g *rng.Generator, opts ...Option) (*ResNet, error) {
	return NewResNet(g, ResNetConfig{Block: Bottleneck, Layers: [4]int{3, 4, 23, 3}, WidthPerGroup: 128}, opts...)
}
