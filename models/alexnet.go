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

// AlexNet is the single-tower variant from "One weird trick for
// parallelizing convolutional neural networks".
type AlexNet struct {
	nn.Container
	features   *nn.Sequential
	avgpool    *nn.AdaptiveAvgPool2D
	classifier *nn.Sequential
}

// NewAlexNet builds AlexNet with the default layer initialization.
func NewAlexNet(g *rng.Generator, opts ...Option) (*AlexNet, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend
	m := &AlexNet{}
	m.features = nn.Register(&m.Container, "features", nn.NewSequential(
		newConv(g, be, convSpec{in: 3, out: 64, kernel: nn.Pair(11), stride: nn.Pair(4), pad: nn.Pair(2), bias: true}),
		nn.NewReLU(be),
		maxPool(be, 3, 2, 0, false),
		newConv(g, be, convSpec{in: 64, out: 192, kernel: nn.Pair(5), pad: nn.Pair(2), bias: true}),
		nn.NewReLU(be),
		maxPool(be, 3, 2, 0, false),
		newConv(g, be, convSpec{in: 192, out: 384, kernel: nn.Pair(3), pad: nn.Pair(1), bias: true}),
		nn.NewReLU(be),
		newConv(g, be, convSpec{in: 384, out: 256, kernel: nn.Pair(3), pad: nn.Pair(1), bias: true}),
		nn.NewReLU(be),
		newConv(g, be, convSpec{in: 256, out: 256, kernel: nn.Pair(3), pad: nn.Pair(1), bias: true}),
		nn.NewReLU(be),
		maxPool(be, 3, 2, 0, false),
	))
	m.avgpool = nn.Register(&m.Container, "avgpool", nn.NewAdaptiveAvgPool2D(be, 6, 6))
	m.classifier = nn.Register(&m.Container, "classifier", nn.NewSequential(
		nn.NewDropout(g, 0.5),
		nn.NewLinear(g, be, 256*6*6, 4096),
		nn.NewReLU(be),
		nn.NewDropout(g, 0.5),
		nn.NewLinear(g, be, 4096, 4096),
		nn.NewReLU(be),
		nn.NewLinear(g, be, 4096, o.NumClasses),
	))
	return m, nil
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits.
func (m *AlexNet) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = m.avgpool.Forward(m.features.Forward(x))
	return m.classifier.Forward(x.Flatten(1))
}

// Script lowers the network.
func (m *AlexNet) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Call("features", m.features).
		Call("avgpool", m.avgpool).
		Op("flatten", flattenAttr).
		Call("classifier", m.classifier).
		Result()
}
