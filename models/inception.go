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

// rect returns a BasicConv2d with a kh x kw kernel and matching padding.
func rect(g *rng.Generator, be *cpu.Backend, in, out, kh, kw int) *BasicConv2d {
	return newBasicConv(g, be, convSpec{in: in, out: out, kernel: [2]int{kh, kw}, pad: [2]int{kh / 2, kw / 2}})
}

func inceptionA(g *rng.Generator, be *cpu.Backend, in, poolFeatures int) *multiBranch {
	mb := &multiBranch{be: be}
	mb.branch(named("branch1x1", basicConv(g, be, in, 64, 1, 1, 0)))
	mb.branch(
		named("branch5x5_1", basicConv(g, be, in, 48, 1, 1, 0)),
		named("branch5x5_2", basicConv(g, be, 48, 64, 5, 1, 2)),
	)
	mb.branch(
		named("branch3x3dbl_1", basicConv(g, be, in, 64, 1, 1, 0)),
		named("branch3x3dbl_2", basicConv(g, be, 64, 96, 3, 1, 1)),
		named("branch3x3dbl_3", basicConv(g, be, 96, 96, 3, 1, 1)),
	)
	mb.branch(
		functional(avgPool(be, 3, 1, 1)),
		named("branch_pool", basicConv(g, be, in, poolFeatures, 1, 1, 0)),
	)
	return mb
}

func inceptionB(g *rng.Generator, be *cpu.Backend, in int) *multiBranch {
	mb := &multiBranch{be: be}
	mb.branch(named("branch3x3", basicConv(g, be, in, 384, 3, 2, 0)))
	mb.branch(
		named("branch3x3dbl_1", basicConv(g, be, in, 64, 1, 1, 0)),
		named("branch3x3dbl_2", basicConv(g, be, 64, 96, 3, 1, 1)),
		named("branch3x3dbl_3", basicConv(g, be, 96, 96, 3, 2, 0)),
	)
	mb.branch(functional(maxPool(be, 3, 2, 0, false)))
	return mb
}

func inceptionC(g *rng.Generator, be *cpu.Backend, in, c7 int) *multiBranch {
	mb := &multiBranch{be: be}
	mb.branch(named("branch1x1", basicConv(g, be, in, 192, 1, 1, 0)))
	mb.branch(
		named("branch7x7_1", basicConv(g, be, in, c7, 1, 1, 0)),
		named("branch7x7_2", rect(g, be, c7, c7, 1, 7)),
		named("branch7x7_3", rect(g, be, c7, 192, 7, 1)),
	)
	mb.branch(
		named("branch7x7dbl_1", basicConv(g, be, in, c7, 1, 1, 0)),
		named("branch7x7dbl_2", rect(g, be, c7, c7, 7, 1)),
		named("branch7x7dbl_3", rect(g, be, c7, c7, 1, 7)),
		named("branch7x7dbl_4", rect(g, be, c7, c7, 7, 1)),
		named("branch7x7dbl_5", rect(g, be, c7, 192, 1, 7)),
	)
	mb.branch(
		functional(avgPool(be, 3, 1, 1)),
		named("branch_pool", basicConv(g, be, in, 192, 1, 1, 0)),
	)
	return mb
}

func inceptionD(g *rng.Generator, be *cpu.Backend, in int) *multiBranch {
	mb := &multiBranch{be: be}
	mb.branch(
		named("branch3x3_1", basicConv(g, be, in, 192, 1, 1, 0)),
		named("branch3x3_2", basicConv(g, be, 192, 320, 3, 2, 0)),
	)
	mb.branch(
		named("branch7x7x3_1", basicConv(g, be, in, 192, 1, 1, 0)),
		named("branch7x7x3_2", rect(g, be, 192, 192, 1, 7)),
		named("branch7x7x3_3", rect(g, be, 192, 192, 7, 1)),
		named("branch7x7x3_4", basicConv(g, be, 192, 192, 3, 2, 0)),
	)
	mb.branch(functional(maxPool(be, 3, 2, 0, false)))
	return mb
}

func inceptionE(g *rng.Generator, be *cpu.Backend, in int) *multiBranch {
	mb := &multiBranch{be: be}
	mb.branch(named("branch1x1", basicConv(g, be, in, 320, 1, 1, 0)))
	mb.branch(
		named("branch3x3_1", basicConv(g, be, in, 384, 1, 1, 0)),
		fork(
			named("branch3x3_2a", rect(g, be, 384, 384, 1, 3)),
			named("branch3x3_2b", rect(g, be, 384, 384, 3, 1)),
		),
	)
	mb.branch(
		named("branch3x3dbl_1", basicConv(g, be, in, 448, 1, 1, 0)),
		named("branch3x3dbl_2", basicConv(g, be, 448, 384, 3, 1, 1)),
		fork(
			named("branch3x3dbl_3a", rect(g, be, 384, 384, 1, 3)),
			named("branch3x3dbl_3b", rect(g, be, 384, 384, 3, 1)),
		),
	)
	mb.branch(
		functional(avgPool(be, 3, 1, 1)),
		named("branch_pool", basicConv(g, be, in, 192, 1, 1, 0)),
	)
	return mb
}

// InceptionAux is the auxiliary classifier attached after Mixed_6e.
type InceptionAux struct {
	nn.Container
	conv0 *BasicConv2d
	conv1 *BasicConv2d
	fc    *nn.Linear
	be    *cpu.Backend
}

func newInceptionAux(g *rng.Generator, be *cpu.Backend, in, numClasses int) *InceptionAux {
	a := &InceptionAux{be: be}
	a.conv0 = nn.Register(&a.Container, "conv0", basicConv(g, be, in, 128, 1, 1, 0))
	a.conv1 = nn.Register(&a.Container, "conv1", basicConv(g, be, 128, 768, 5, 1, 0))
	a.fc = nn.Register(&a.Container, "fc", nn.NewLinear(g, be, 768, numClasses))
	return a
}

// Forward maps the 17x17 Mixed_6e features to auxiliary logits.
func (a *InceptionAux) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = a.be.AvgPool2D(x, cpu.PoolParams{Kernel: nn.Pair(5), Stride: nn.Pair(3)}, true)
	x = a.conv1.Forward(a.conv0.Forward(x))
	x = a.be.AdaptiveAvgPool2D(x, 1, 1)
	return a.fc.Forward(x.Flatten(1))
}

// Script lowers the head.
func (a *InceptionAux) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Op("avg_pool2d", script.Attr{Key: "kernel", Value: 5}, script.Attr{Key: "stride", Value: 3}).
		Call("conv0", a.conv0).
		Call("conv1", a.conv1).
		Op("adaptive_avg_pool2d", script.Attr{Key: "output_size", Value: [2]int{1, 1}}).
		Op("flatten", flattenAttr).
		Call("fc", a.fc).
		Result()
}

// InceptionV3 is the network from "Rethinking the Inception Architecture
// for Computer Vision". Its nominal input is 299x299; 224x224 inputs work
// in evaluation mode, where the auxiliary head is not evaluated.
type InceptionV3 struct {
	nn.Container
	stem    []nn.Module
	mixed6  []nn.Module
	aux     *InceptionAux
	mixed7  []nn.Module
	dropout *nn.Dropout
	fc      *nn.Linear
	names   map[nn.Module]string

	lastAux *tensor.Tensor
}

// NewInceptionV3 builds Inception v3.
func NewInceptionV3(g *rng.Generator, opts ...Option) (*InceptionV3, error) {
	o, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	be := o.Backend
	m := &InceptionV3{names: map[nn.Module]string{}}
	reg := func(dst *[]nn.Module, name string, l nn.Module) {
		*dst = append(*dst, nn.Register(&m.Container, name, l))
		m.names[l] = name
	}

	reg(&m.stem, "Conv2d_1a_3x3", basicConv(g, be, 3, 32, 3, 2, 0))
	reg(&m.stem, "Conv2d_2a_3x3", basicConv(g, be, 32, 32, 3, 1, 0))
	reg(&m.stem, "Conv2d_2b_3x3", basicConv(g, be, 32, 64, 3, 1, 1))
	reg(&m.stem, "maxpool1", maxPool(be, 3, 2, 0, false))
	reg(&m.stem, "Conv2d_3b_1x1", basicConv(g, be, 64, 80, 1, 1, 0))
	reg(&m.stem, "Conv2d_4a_3x3", basicConv(g, be, 80, 192, 3, 1, 0))
	reg(&m.stem, "maxpool2", maxPool(be, 3, 2, 0, false))
	reg(&m.stem, "Mixed_5b", inceptionA(g, be, 192, 32))
	reg(&m.stem, "Mixed_5c", inceptionA(g, be, 256, 64))
	reg(&m.stem, "Mixed_5d", inceptionA(g, be, 288, 64))
	reg(&m.mixed6, "Mixed_6a", inceptionB(g, be, 288))
	reg(&m.mixed6, "Mixed_6b", inceptionC(g, be, 768, 128))
	reg(&m.mixed6, "Mixed_6c", inceptionC(g, be, 768, 160))
	reg(&m.mixed6, "Mixed_6d", inceptionC(g, be, 768, 160))
	reg(&m.mixed6, "Mixed_6e", inceptionC(g, be, 768, 192))
	if o.AuxLogits {
		m.aux = nn.Register(&m.Container, "AuxLogits", newInceptionAux(g, be, 768, o.NumClasses))
	}
	reg(&m.mixed7, "Mixed_7a", inceptionD(g, be, 768))
	reg(&m.mixed7, "Mixed_7b", inceptionE(g, be, 1280))
	reg(&m.mixed7, "Mixed_7c", inceptionE(g, be, 2048))
	reg(&m.mixed7, "avgpool", nn.NewAdaptiveAvgPool2D(be, 1, 1))
	m.dropout = nn.Register(&m.Container, "dropout", nn.NewDropout(g, 0.5))
	m.fc = nn.Register(&m.Container, "fc", nn.NewLinear(g, be, 2048, o.NumClasses))

	std := map[nn.Layer]float64{}
	if m.aux != nil {
		std[m.aux.fc] = 0.001
	}
	initialize(m, func(l nn.Layer) {
		var w *nn.Parameter
		switch l := l.(type) {
		case *nn.Conv2D:
			w = l.Weight()
		case *nn.Linear:
			w = l.Weight()
		case *nn.BatchNorm:
			resetBatchNorm(l)
			return
		default:
			return
		}
		s, ok := std[l]
		if !ok {
			s = 0.1
		}
		nn.TruncNormal(g, w.Tensor(), 0, s, -2, 2)
	})
	return m, nil
}

// Forward maps [N, 3, H, W] images to [N, num_classes] logits. In
// training mode with auxiliary logits enabled it also records the
// auxiliary output, available from AuxOutput.
func (m *InceptionV3) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, l := range m.stem {
		x = l.Forward(x)
	}
	for _, l := range m.mixed6 {
		x = l.Forward(x)
	}
	m.lastAux = nil
	if m.aux != nil && m.Training() {
		m.lastAux = m.aux.Forward(x)
	}
	for _, l := range m.mixed7 {
		x = l.Forward(x)
	}
	x = m.dropout.Forward(x.Flatten(1))
	return m.fc.Forward(x)
}

// AuxOutput returns the auxiliary logits of the last training-mode
// forward pass, or nil.
func (m *InceptionV3) AuxOutput() *tensor.Tensor { return m.lastAux }

// Script lowers the network. A model with auxiliary logits has two
// outputs and cannot be lowered.
func (m *InceptionV3) Script(b *script.Builder, in script.Value) (script.Value, error) {
	c := script.Chain(b, in)
	for _, l := range m.stem {
		c.Call(m.names[l], l)
	}
	for _, l := range m.mixed6 {
		c.Call(m.names[l], l)
	}
	if m.aux != nil && c.Err() == nil {
		aux, err := b.Call("AuxLogits", m.aux, c.Value())
		if err != nil {
			return script.Value{}, err
		}
		if err := b.Aux("AuxLogits", aux); err != nil {
			return script.Value{}, err
		}
	}
	for _, l := range m.mixed7 {
		c.Call(m.names[l], l)
	}
	return c.Op("flatten", flattenAttr).
		Call("dropout", m.dropout).
		Call("fc", m.fc).
		Result()
}
