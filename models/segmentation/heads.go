// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package segmentation

import (
	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// asppRates are the atrous rates of the DeepLabV3 ASPP branches.
var asppRates = [3]int{12, 24, 36}

const asppChannels = 256

func conv3x3(g *rng.Generator, be *cpu.Backend, in, out, dilation int) *nn.Conv2D {
	return nn.NewConv2D(g, be, nn.ConvConfig{
		In: in, Out: out,
		Kernel: nn.Pair(3), Padding: nn.Pair(dilation), Dilation: nn.Pair(dilation),
	})
}

func conv1x1(g *rng.Generator, be *cpu.Backend, in, out int, bias bool) *nn.Conv2D {
	return nn.NewConv2D(g, be, nn.ConvConfig{In: in, Out: out, Kernel: nn.Pair(1), Bias: bias})
}

// newFCNHead is conv3x3, batch norm, ReLU, dropout and a 1x1 classifier
// over in/4 intermediate channels.
func newFCNHead(g *rng.Generator, be *cpu.Backend, in, numClasses int) *nn.Sequential {
	inter := in / 4
	return nn.NewSequential(
		conv3x3(g, be, in, inter, 1),
		nn.NewBatchNorm(be, inter),
		nn.NewReLU(be),
		nn.NewDropout(g, 0.1),
		conv1x1(g, be, inter, numClasses, true),
	)
}

// newDeepLabHead is ASPP followed by a 3x3 refinement and a 1x1
// classifier.
func newDeepLabHead(g *rng.Generator, be *cpu.Backend, in, numClasses int) *nn.Sequential {
	return nn.NewSequential(
		newASPP(g, be, in),
		conv3x3(g, be, asppChannels, asppChannels, 1),
		nn.NewBatchNorm(be, asppChannels),
		nn.NewReLU(be),
		conv1x1(g, be, asppChannels, numClasses, true),
	)
}

// ASPP is atrous spatial pyramid pooling: a 1x1 branch, one dilated 3x3
// branch per rate and an image pooling branch, concatenated and projected
// to 256 channels.
type ASPP struct {
	nn.Container
	convs   *nn.Sequential
	project *nn.Sequential
	be      *cpu.Backend
}

func newASPP(g *rng.Generator, be *cpu.Backend, in int) *ASPP {
	convBNReLU := func(c *nn.Conv2D) *nn.Sequential {
		return nn.NewSequential(c, nn.NewBatchNorm(be, asppChannels), nn.NewReLU(be))
	}

	branches := nn.NewSequential(convBNReLU(conv1x1(g, be, in, asppChannels, false)))
	for _, rate := range asppRates {
		branches.Add(convBNReLU(conv3x3(g, be, in, asppChannels, rate)))
	}
	branches.Add(newASPPPooling(g, be, in))

	a := &ASPP{be: be}
	a.convs = nn.Register(&a.Container, "convs", branches)
	a.project = nn.Register(&a.Container, "project", nn.NewSequential(
		conv1x1(g, be, branches.Len()*asppChannels, asppChannels, false),
		nn.NewBatchNorm(be, asppChannels),
		nn.NewReLU(be),
		nn.NewDropout(g, 0.5),
	))
	return a
}

// Forward applies every branch to x and projects the concatenation.
func (a *ASPP) Forward(x *tensor.Tensor) *tensor.Tensor {
	outs := make([]*tensor.Tensor, a.convs.Len())
	for i := range outs {
		outs[i] = a.convs.At(i).Forward(x)
	}
	return a.project.Forward(a.be.Cat(outs, 1))
}

// Script lowers the pyramid.
func (a *ASPP) Script(b *script.Builder, in script.Value) (script.Value, error) {
	branches := a.convs.Children()
	outs := make([]script.Value, len(branches))
	for i, c := range branches {
		var err error
		if outs[i], err = b.Call("convs."+c.Name, a.convs.At(i), in); err != nil {
			return script.Value{}, err
		}
	}
	cat, err := b.Concat(1, outs...)
	if err != nil {
		return script.Value{}, err
	}
	return b.Call("project", a.project, cat)
}

// asppPooling averages the feature map to 1x1, projects it and
// broadcasts it back by bilinear upsampling.
type asppPooling struct {
	*nn.Sequential
	be *cpu.Backend
}

func newASPPPooling(g *rng.Generator, be *cpu.Backend, in int) *asppPooling {
	return &asppPooling{
		Sequential: nn.NewSequential(
			nn.NewAdaptiveAvgPool2D(be, 1, 1),
			conv1x1(g, be, in, asppChannels, false),
			nn.NewBatchNorm(be, asppChannels),
			nn.NewReLU(be),
		),
		be: be,
	}
}

func (p *asppPooling) Forward(x *tensor.Tensor) *tensor.Tensor {
	return p.be.ResizeBilinear(p.Sequential.Forward(x), x.Dim(2), x.Dim(3))
}

func (p *asppPooling) Script(b *script.Builder, in script.Value) (script.Value, error) {
	v, err := p.Sequential.Script(b, in)
	if err != nil {
		return script.Value{}, err
	}
	return b.Unary("interpolate", v, script.Attr{Key: "mode", Value: "bilinear"})
}
