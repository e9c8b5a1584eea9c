// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// vggPool marks a max pooling stage in a VGG configuration.
const vggPool = -1

var vggConfigs = map[string][]int{
	"A": {64, vggPool, 128, vggPool, 256, 256, vggPool, 512, 512, vggPool, 512, 512, vggPool},
	"B": {64, 64, vggPool, 128, 128, vggPool, 256, 256, vggPool, 512, 512, vggPool, 512, 512, vggPool},
	"D": {64, 64, vggPool, 128, 128, vggPool, 256, 256, 256, vggPool, 512, 512, 512, vggPool, 512, 512, 512, vggPool},
	"E": {64, 64, vggPool, 128, 128, vggPool, 256, 256, 256, 256, vggPool, 512, 512, 512, 512, vggPool, 512, 512, 512, 512, vggPool},
}

// VGG is the network from "Very Deep Convolutional Networks for
// Large-Scale Image Recognition".
type VGG struct {
	nn.Container
	features   *nn.Sequential
	avgpool    *nn.AdaptiveAvgPool2D
	classifier *nn.Sequential
}

func newVGG(g *rng.Generator, cfg string, batchNorm bool, opts []Option) (*VGG, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend

	features := nn.NewSequential()
	in := 3
	for _, v := range vggConfigs[cfg] {
		if v == vggPool {
			features.Add(maxPool(be, 2, 2, 0, false))
			continue
		}
		features.Add(newConv(g, be, convSpec{in: in, out: v, kernel: nn.Pair(3), pad: nn.Pair(1), bias: true}))
		if batchNorm {
			features.Add(nn.NewBatchNorm(be, v))
		}
		features.Add(nn.NewReLU(be))
		in = v
	}

	m := &VGG{}
	m.features = nn.Register(&m.Container, "features", features)
	m.avgpool = nn.Register(&m.Container, "avgpool", nn.NewAdaptiveAvgPool2D(be, 7, 7))
	m.classifier = nn.Register(&m.Container, "classifier", nn.NewSequential(
		nn.NewLinear(g, be, 512*7*7, 4096),
		nn.NewReLU(be),
		nn.NewDropout(g, 0.5),
		nn.NewLinear(g, be, 4096, 4096),
		nn.NewReLU(be),
		nn.NewDropout(g, 0.5),
		nn.NewLinear(g, be, 4096, o.NumClasses),
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

// NewVGG11 builds VGG 11-layer (configuration "A").
func NewVGG11(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "A", false, opts) }

// NewVGG11BN builds VGG 11-layer with batch normalization.
func NewVGG11BN(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "A", true, opts) }

// NewVGG13 builds VGG 13-layer (configuration "B").
func NewVGG13(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "B", false, opts) }

// NewVGG13BN builds VGG 13-layer with batch normalization.
func NewVGG13BN(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "B", true, opts) }

// NewVGG16 builds VGG 16-layer (configuration "D").
func NewVGG16(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "D", false, opts) }

// NewVGG16BN builds VGG 16-layer with batch normalization.
func NewVGG16BN(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "D", true, opts) }

// NewVGG19 builds VGG 19-layer (configuration "E").
func NewVGG19(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "E", false, opts) }

// NewVGG19BN builds VGG 19-layer with batch normalization.
func NewVGG19BN(g *rng.Generator, opts ...Option) (*VGG, error) { return newVGG(g, "E", true, opts) }

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *VGG) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = m.avgpool.Forward(m.features.Forward(x))
	return m.classifier.Forward(x.Flatten(1))
}

// Script lowers the network.
func (m *VGG) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Call("features", m.features).
		Call("avgpool", m.avgpool).
		Op("flatten", flattenAttr).
		Call("classifier", m.classifier).
		Result()
}
