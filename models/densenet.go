// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"strconv"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// DenseLayer maps the list of all preceding feature maps of a block to
// growthRate new channels:
//
//	bottleneck = conv1(relu(norm1(cat(features))))
//	out        = conv2(relu(norm2(bottleneck)))
//
// In memory-efficient mode the concatenation is never materialized: the
// 1x1 bottleneck convolution is accumulated feature map by feature map
// with the matching slices of its weight. Both modes share parameters.
type DenseLayer struct {
	nn.Container
	norm1           *nn.BatchNorm
	conv1           *nn.Conv2D
	norm2           *nn.BatchNorm
	conv2           *nn.Conv2D
	dropout         *nn.Dropout
	memoryEfficient bool
	be              *cpu.Backend
}

func newDenseLayer(g *rng.Generator, be *cpu.Backend, in, growthRate, bnSize int, dropRate float64, memoryEfficient bool) *DenseLayer {
	l := &DenseLayer{memoryEfficient: memoryEfficient, be: be}
	l.norm1 = nn.Register(&l.Container, "norm1", nn.NewBatchNorm(be, in))
	l.conv1 = nn.Register(&l.Container, "conv1", conv(g, be, in, bnSize*growthRate, 1, 1, 0))
	l.norm2 = nn.Register(&l.Container, "norm2", nn.NewBatchNorm(be, bnSize*growthRate))
	l.conv2 = nn.Register(&l.Container, "conv2", conv(g, be, bnSize*growthRate, growthRate, 3, 1, 1))
	l.dropout = nn.NewDropout(g, dropRate)
	return l
}

// SetTraining sets the mode of the layer and its functional dropout.
func (l *DenseLayer) SetTraining(training bool) {
	l.Container.SetTraining(training)
	l.dropout.SetTraining(training)
}

// ForwardList computes the layer's new features.
func (l *DenseLayer) ForwardList(features []*tensor.Tensor) *tensor.Tensor {
	var bottleneck *tensor.Tensor
	if l.memoryEfficient {
		bottleneck = l.bottleneckPerFeature(features)
	} else {
		bottleneck = l.conv1.Forward(l.be.ReLU(l.norm1.Forward(l.be.Cat(features, 1))))
	}
	out := l.conv2.Forward(l.be.ReLU(l.norm2.Forward(bottleneck)))
	return l.dropout.Forward(out)
}

// bottleneckPerFeature evaluates conv1(relu(norm1(cat(features)))) one
// feature map at a time. Batch norm and ReLU act per channel, so they
// split along the concatenation; the 1x1 convolution becomes a sum of
// convolutions over channel slices of its weight.
func (l *DenseLayer) bottleneckPerFeature(features []*tensor.Tensor) *tensor.Tensor {
	var (
		acc    *tensor.Tensor
		offset int
	)
	weight := l.conv1.Weight().Tensor()
	for _, f := range features {
		c := f.Dim(1)
		x := l.be.ReLU(l.norm1.ForwardSlice(f, offset))
		part := l.be.Conv2D(x, l.be.Narrow(weight, 1, offset, c), nil, cpu.ConvParams{})
		if acc == nil {
			acc = part
		} else {
			tensor.AddInPlace(acc, part)
		}
		offset += c
	}
	return acc
}

// Script lowers the layer. Its input is the list of preceding features,
// which norm1 cannot consume in a static graph.
func (l *DenseLayer) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Call("norm1", l.norm1).
		Op("relu").
		Call("conv1", l.conv1).
		Call("norm2", l.norm2).
		Op("relu").
		Call("conv2", l.conv2).
		Result()
}

// DenseBlock concatenates the outputs of its layers with its input.
type DenseBlock struct {
	nn.Container
	layers []*DenseLayer
	be     *cpu.Backend
}

func newDenseBlock(g *rng.Generator, be *cpu.Backend, numLayers, in, bnSize, growthRate int, dropRate float64, memoryEfficient bool) *DenseBlock {
	blk := &DenseBlock{be: be}
	for i := range numLayers {
		blk.layers = append(blk.layers, nn.Register(&blk.Container, "denselayer"+strconv.Itoa(i+1),
			newDenseLayer(g, be, in+i*growthRate, growthRate, bnSize, dropRate, memoryEfficient)))
	}
	return blk
}

// Forward applies the block.
func (blk *DenseBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	features := []*tensor.Tensor{x}
	for _, l := range blk.layers {
		features = append(features, l.ForwardList(features))
	}
	return blk.be.Cat(features, 1)
}

// Script lowers the block: each layer receives the list of preceding
// features.
func (blk *DenseBlock) Script(b *script.Builder, in script.Value) (script.Value, error) {
	features := []script.Value{in}
	for i, l := range blk.layers {
		out, err := b.Call("denselayer"+strconv.Itoa(i+1), l, b.List(features...))
		if err != nil {
			return script.Value{}, err
		}
		features = append(features, out)
	}
	return b.Concat(1, features...)
}

// newTransition halves the channel count and the resolution between
// dense blocks.
func newTransition(g *rng.Generator, be *cpu.Backend, in, out int) *nn.Sequential {
	t := nn.NewSequential()
	t.AddNamed("norm", nn.NewBatchNorm(be, in))
	t.AddNamed("relu", nn.NewReLU(be))
	t.AddNamed("conv", conv(g, be, in, out, 1, 1, 0))
	t.AddNamed("pool", avgPool(be, 2, 2, 0))
	return t
}

// DenseNetConfig describes a DenseNet variant.
type DenseNetConfig struct {
	GrowthRate      int
	BlockConfig     [4]int
	NumInitFeatures int
	BNSize          int
	DropRate        float64
}

// DenseNet is the network from "Densely Connected Convolutional Networks".
type DenseNet struct {
	nn.Container
	features   *nn.Sequential
	classifier *nn.Linear
	be         *cpu.Backend
}

// NewDenseNet builds a DenseNet variant.
func NewDenseNet(g *rng.Generator, cfg DenseNetConfig, opts ...Option) (*DenseNet, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.BNSize == 0 {
		cfg.BNSize = 4
	}
	be := o.Backend

	features := nn.NewSequential()
	features.AddNamed("conv0", conv(g, be, 3, cfg.NumInitFeatures, 7, 2, 3))
	features.AddNamed("norm0", nn.NewBatchNorm(be, cfg.NumInitFeatures))
	features.AddNamed("relu0", nn.NewReLU(be))
	features.AddNamed("pool0", maxPool(be, 3, 2, 1, false))

	n := cfg.NumInitFeatures
	for i, layers := range cfg.BlockConfig {
		id := strconv.Itoa(i + 1)
		features.AddNamed("denseblock"+id,
			newDenseBlock(g, be, layers, n, cfg.BNSize, cfg.GrowthRate, cfg.DropRate, o.MemoryEfficient))
		n += layers * cfg.GrowthRate
		if i != len(cfg.BlockConfig)-1 {
			features.AddNamed("transition"+id, newTransition(g, be, n, n/2))
			n /= 2
		}
	}
	features.AddNamed("norm5", nn.NewBatchNorm(be, n))

	m := &DenseNet{be: be}
	m.features = nn.Register(&m.Container, "features", features)
	m.classifier = nn.Register(&m.Container, "classifier", nn.NewLinear(g, be, n, o.NumClasses))

	initialize(m, func(l nn.Layer) {
		switch l := l.(type) {
		case *nn.Conv2D:
			nn.KaimingNormal(g, l.Weight().Tensor(), nn.FanIn, nn.ReLUGain)
		case *nn.BatchNorm:
			resetBatchNorm(l)
		case *nn.Linear:
			zeroBias(l.Bias())
		}
	})
	return m, nil
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *DenseNet) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = m.be.ReLU(m.features.Forward(x))
	x = m.be.AdaptiveAvgPool2D(x, 1, 1)
	return m.classifier.Forward(x.Flatten(1))
}

// Script lowers the network.
func (m *DenseNet) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Call("features", m.features).
		Op("relu").
		Op("adaptive_avg_pool2d", script.Attr{Key: "output_size", Value: [2]int{1, 1}}).
		Op("flatten", flattenAttr).
		Call("classifier", m.classifier).
		Result()
}

// NewDenseNet121 builds DenseNet-121.
func NewDenseNet121(g *rng.Generator, opts ...Option) (*DenseNet, error) {
	return NewDenseNet(g, DenseNetConfig{GrowthRate: 32, BlockConfig: [4]int{6, 12, 24, 16}, NumInitFeatures: 64}, opts...)
}

// NewDenseNet161 builds DenseNet-161.
func NewDenseNet161(g *rng.Generator, opts ...Option) (*DenseNet, error) {
	return NewDenseNet(g, DenseNetConfig{GrowthRate: 48, BlockConfig: [4]int{6, 12, 36, 24}, NumInitFeatures: 96}, opts...)
}

// NewDenseNet169 builds DenseNet-169.
func NewDenseNet169(g *rng.Generator, opts ...Option) (*DenseNet, error) {
	return NewDenseNet(g, DenseNetConfig{GrowthRate: 32, BlockConfig: [4]int{6, 12, 32, 32}, NumInitFeatures: 64}, opts...)
}

// NewDenseNet201 builds DenseNet-201.
func NewDenseNet201(g *rng.Generator, opts ...Option) (*DenseNet, error) {
	return NewDenseNet(g, DenseNetConfig{GrowthRate: 32, BlockConfig: [4]int{6, 12, 48, 32}, NumInitFeatures: 64}, opts...)
}
