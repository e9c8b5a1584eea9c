// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// inceptionModule is the four-branch GoogLeNet block. The third branch
// uses a 3x3 convolution where the paper has 5x5, matching the reference
// weights.
func inceptionModule(g *rng.Generator, be *cpu.Backend, in, ch1x1, ch3x3red, ch3x3, ch5x5red, ch5x5, poolProj int) *multiBranch {
	mb := &multiBranch{be: be}
	mb.branch(named("branch1", basicConv(g, be, in, ch1x1, 1, 1, 0)))
	mb.branch(named("branch2", nn.NewSequential(
		basicConv(g, be, in, ch3x3red, 1, 1, 0),
		basicConv(g, be, ch3x3red, ch3x3, 3, 1, 1),
	)))
	mb.branch(named("branch3", nn.NewSequential(
		basicConv(g, be, in, ch5x5red, 1, 1, 0),
		basicConv(g, be, ch5x5red, ch5x5, 3, 1, 1),
	)))
	mb.branch(named("branch4", nn.NewSequential(
		maxPool(be, 3, 1, 1, true),
		basicConv(g, be, in, poolProj, 1, 1, 0),
	)))
	return mb
}

// googLeNetAux is an auxiliary classifier on the 14x14 features.
type googLeNetAux struct {
	nn.Container
	conv     *BasicConv2d
	fc1, fc2 *nn.Linear
	dropout  *nn.Dropout
	be       *cpu.Backend
}

func newGoogLeNetAux(g *rng.Generator, be *cpu.Backend, in, numClasses int) *googLeNetAux {
	a := &googLeNetAux{be: be}
	a.conv = nn.Register(&a.Container, "conv", basicConv(g, be, in, 128, 1, 1, 0))
	a.fc1 = nn.Register(&a.Container, "fc1", nn.NewLinear(g, be, 2048, 1024))
	a.fc2 = nn.Register(&a.Container, "fc2", nn.NewLinear(g, be, 1024, numClasses))
	a.dropout = nn.NewDropout(g, 0.7)
	return a
}

func (a *googLeNetAux) SetTraining(training bool) {
	a.Container.SetTraining(training)
	a.dropout.SetTraining(training)
}

func (a *googLeNetAux) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = a.conv.Forward(a.be.AdaptiveAvgPool2D(x, 4, 4))
	x = a.be.ReLU(a.fc1.Forward(x.Flatten(1)))
	return a.fc2.Forward(a.dropout.Forward(x))
}

func (a *googLeNetAux) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Op("adaptive_avg_pool2d", script.Attr{Key: "output_size", Value: [2]int{4, 4}}).
		Call("conv", a.conv).
		Op("flatten", flattenAttr).
		Call("fc1", a.fc1).
		Op("relu").
		Op("dropout", script.Attr{Key: "p", Value: 0.7}).
		Call("fc2", a.fc2).
		Result()
}

// GoogLeNet is the network from "Going Deeper with Convolutions".
type GoogLeNet struct {
	nn.Container
	body       []nn.Child
	aux1, aux2 *googLeNetAux
	avgpool    *nn.AdaptiveAvgPool2D
	dropout    *nn.Dropout
	fc         *nn.Linear

	lastAux [2]*tensor.Tensor
}

// NewGoogLeNet builds GoogLeNet (Inception v1).
func NewGoogLeNet(g *rng.Generator, opts ...Option) (*GoogLeNet, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend
	m := &GoogLeNet{}
	add := func(name string, l nn.Module) {
		m.body = append(m.body, nn.Child{Name: name, Layer: nn.Register(&m.Container, name, l)})
	}

	add("conv1", basicConv(g, be, 3, 64, 7, 2, 3))
	add("maxpool1", maxPool(be, 3, 2, 0, true))
	add("conv2", basicConv(g, be, 64, 64, 1, 1, 0))
	add("conv3", basicConv(g, be, 64, 192, 3, 1, 1))
	add("maxpool2", maxPool(be, 3, 2, 0, true))
	add("inception3a", inceptionModule(g, be, 192, 64, 96, 128, 16, 32, 32))
	add("inception3b", inceptionModule(g, be, 256, 128, 128, 192, 32, 96, 64))
	add("maxpool3", maxPool(be, 3, 2, 0, true))
	add("inception4a", inceptionModule(g, be, 480, 192, 96, 208, 16, 48, 64))
	add("inception4b", inceptionModule(g, be, 512, 160, 112, 224, 24, 64, 64))
	add("inception4c", inceptionModule(g, be, 512, 128, 128, 256, 24, 64, 64))
	add("inception4d", inceptionModule(g, be, 512, 112, 144, 288, 32, 64, 64))
	add("inception4e", inceptionModule(g, be, 528, 256, 160, 320, 32, 128, 128))
	add("maxpool4", maxPool(be, 2, 2, 0, true))
	add("inception5a", inceptionModule(g, be, 832, 256, 160, 320, 32, 128, 128))
	add("inception5b", inceptionModule(g, be, 832, 384, 192, 384, 48, 128, 128))

	if o.AuxLogits {
		m.aux1 = nn.Register(&m.Container, "aux1", newGoogLeNetAux(g, be, 512, o.NumClasses))
		m.aux2 = nn.Register(&m.Container, "aux2", newGoogLeNetAux(g, be, 528, o.NumClasses))
	}
	m.avgpool = nn.Register(&m.Container, "avgpool", nn.NewAdaptiveAvgPool2D(be, 1, 1))
	m.dropout = nn.Register(&m.Container, "dropout", nn.NewDropout(g, 0.2))
	m.fc = nn.Register(&m.Container, "fc", nn.NewLinear(g, be, 1024, o.NumClasses))

	initialize(m, func(l nn.Layer) {
		switch l := l.(type) {
		case *nn.Conv2D:
			nn.TruncNormal(g, l.Weight().Tensor(), 0, 0.01, -2, 2)
		case *nn.Linear:
			nn.TruncNormal(g, l.Weight().Tensor(), 0, 0.01, -2, 2)
		case *nn.BatchNorm:
			resetBatchNorm(l)
		}
	})
	return m, nil
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits. In
// training mode the auxiliary logits are recorded for AuxOutputs.
func (m *GoogLeNet) Forward(x *tensor.Tensor) *tensor.Tensor {
	m.lastAux = [2]*tensor.Tensor{}
	aux := m.aux1 != nil && m.Training()
	for _, c := range m.body {
		x = c.Layer.(nn.Module).Forward(x)
		switch {
		case aux && c.Name == "inception4a":
			m.lastAux[0] = m.aux1.Forward(x)
		case aux && c.Name == "inception4d":
			m.lastAux[1] = m.aux2.Forward(x)
		}
	}
	x = m.avgpool.Forward(x).Flatten(1)
	return m.fc.Forward(m.dropout.Forward(x))
}

// AuxOutputs returns the auxiliary logits of the last training-mode
// forward pass.
func (m *GoogLeNet) AuxOutputs() (aux1, aux2 *tensor.Tensor) {
	return m.lastAux[0], m.lastAux[1]
}

// Script lowers the network. Auxiliary classifiers make it fail.
func (m *GoogLeNet) Script(b *script.Builder, in script.Value) (script.Value, error) {
	v := in
	for _, c := range m.body {
		var err error
		if v, err = b.Call(c.Name, c.Layer, v); err != nil {
			return script.Value{}, err
		}
		if m.aux1 != nil && (c.Name == "inception4a" || c.Name == "inception4d") {
			name, head := "aux1", m.aux1
			if c.Name == "inception4d" {
				name, head = "aux2", m.aux2
			}
			out, err := b.Call(name, head, v)
			if err != nil {
				return script.Value{}, err
			}
			if err := b.Aux(name, out); err != nil {
				return script.Value{}, err
			}
		}
	}
	return script.Chain(b, v).
		Call("avgpool", m.avgpool).
		Op("flatten", flattenAttr).
		Call("dropout", m.dropout).
		Call("fc", m.fc).
		Result()
}
