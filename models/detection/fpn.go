// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detection

import (
	"fmt"
	"strconv"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
)

// pyramidLevels counts the FPN outputs: four backbone stages plus the
// max-pooled top level.
const pyramidLevels = 5

const fpnChannels = 256

// FeaturePyramid adds a top-down pathway with lateral 1x1 connections to
// a list of feature maps, and a stride-2 subsampling of the coarsest
// output as an extra level.
type FeaturePyramid struct {
	nn.Container
	inner *nn.Sequential
	layer *nn.Sequential
	be    *cpu.Backend
}

func newFeaturePyramid(g *rng.Generator, be *cpu.Backend, inChannels []int) *FeaturePyramid {
	p := &FeaturePyramid{be: be}
	inner, layer := nn.NewSequential(), nn.NewSequential()
	for _, in := range inChannels {
		inner.Add(nn.NewConv2D(g, be, nn.ConvConfig{In: in, Out: fpnChannels, Kernel: nn.Pair(1), Bias: true}))
		layer.Add(nn.NewConv2D(g, be, nn.ConvConfig{
			In: fpnChannels, Out: fpnChannels, Kernel: nn.Pair(3), Padding: nn.Pair(1), Bias: true,
		}))
	}
	p.inner = nn.Register(&p.Container, "inner_blocks", inner)
	p.layer = nn.Register(&p.Container, "layer_blocks", layer)

	nn.Walk(p, func(_ string, l nn.Layer) {
		if c, ok := l.(*nn.Conv2D); ok {
			nn.KaimingUniform(g, c.Weight().Tensor(), nn.FanIn, 1)
			nn.Constant(c.Bias().Tensor(), 0)
		}
	})
	return p
}

// Forward maps stage outputs, finest first, to pyramid levels, finest
// first, with the pooled level appended.
func (p *FeaturePyramid) Forward(xs []*tensor.Tensor) []*tensor.Tensor {
	n := p.inner.Len()
	if len(xs) != n {
		panic(fmt.Sprintf("fpn: expected %d feature maps, got %d", n, len(xs)))
	}
	out := make([]*tensor.Tensor, n+1)
	last := p.inner.At(n - 1).Forward(xs[n-1])
	out[n-1] = p.layer.At(n - 1).Forward(last)
	for i := n - 2; i >= 0; i-- {
		lateral := p.inner.At(i).Forward(xs[i])
		topDown := p.be.ResizeNearest(last, lateral.Dim(2), lateral.Dim(3))
		tensor.AddInPlace(lateral, topDown)
		last = lateral
		out[i] = p.layer.At(i).Forward(last)
	}
	out[n] = p.be.MaxPool2D(out[n-1], cpu.PoolParams{Kernel: nn.Pair(1), Stride: nn.Pair(2)})
	return out
}

// Script fails: the pyramid consumes several feature maps.
func (p *FeaturePyramid) Script(b *script.Builder, _ script.Value) (script.Value, error) {
	return script.Value{}, b.Unsupported("feature pyramid over a single input")
}

func (p *FeaturePyramid) script(b *script.Builder, xs []script.Value) ([]script.Value, error) {
	n := len(xs)
	out := make([]script.Value, n+1)
	last, err := b.Call("inner_blocks."+strconv.Itoa(n-1), p.inner.At(n-1), xs[n-1])
	if err != nil {
		return nil, err
	}
	if out[n-1], err = b.Call("layer_blocks."+strconv.Itoa(n-1), p.layer.At(n-1), last); err != nil {
		return nil, err
	}
	for i := n - 2; i >= 0; i-- {
		lateral, err := b.Call("inner_blocks."+strconv.Itoa(i), p.inner.At(i), xs[i])
		if err != nil {
			return nil, err
		}
		topDown, err := b.Unary("interpolate", last, script.Attr{Key: "mode", Value: "nearest"})
		if err != nil {
			return nil, err
		}
		if last, err = b.Op("add", []script.Value{lateral, topDown}); err != nil {
			return nil, err
		}
		if out[i], err = b.Call("layer_blocks."+strconv.Itoa(i), p.layer.At(i), last); err != nil {
			return nil, err
		}
	}
	out[n], err = b.Unary("max_pool2d", out[n-1],
		script.Attr{Key: "kernel", Value: 1}, script.Attr{Key: "stride", Value: 2})
	return out, err
}

// levelNames are the keys of the pyramid outputs.
var levelNames = [pyramidLevels]string{"0", "1", "2", "3", "pool"}

// Backbone is a ResNet body returning layer1-layer4 followed by a feature
// pyramid.
type Backbone struct {
	nn.Container
	body *models.IntermediateLayers
	fpn  *FeaturePyramid
}

func newResNetFPNBackbone(g *rng.Generator, be *cpu.Backend) (*Backbone, error) {
	resnet, err := models.NewResNet50(g, models.WithBackend(be))
	if err != nil {
		return nil, err
	}
	body, err := models.NewIntermediateLayers(resnet, map[string]string{
		"layer1": "0", "layer2": "1", "layer3": "2", "layer4": "3",
	})
	if err != nil {
		return nil, err
	}
	bb := &Backbone{}
	bb.body = nn.Register(&bb.Container, "body", body)
	bb.fpn = nn.Register(&bb.Container, "fpn", newFeaturePyramid(g, be, []int{256, 512, 1024, 2048}))
	return bb, nil
}

// Forward returns the pyramid levels, finest first.
func (bb *Backbone) Forward(x *tensor.Tensor) []*tensor.Tensor {
	feats := bb.body.Forward(x)
	xs := make([]*tensor.Tensor, pyramidLevels-1)
	for i := range xs {
		xs[i] = feats[levelNames[i]]
	}
	return bb.fpn.Forward(xs)
}

// Script lowers the backbone to a mapping of pyramid levels.
func (bb *Backbone) Script(b *script.Builder, in script.Value) (script.Value, error) {
	levels, err := bb.scriptLevels(b, in)
	if err != nil {
		return script.Value{}, err
	}
	m := make(map[string]script.Value, len(levels))
	for i, v := range levels {
		m[levelNames[i]] = v
	}
	return b.Mapping(m), nil
}

func (bb *Backbone) scriptLevels(b *script.Builder, in script.Value) ([]script.Value, error) {
	feats, err := bb.body.ScriptFeatures(b, in)
	if err != nil {
		return nil, err
	}
	xs := make([]script.Value, pyramidLevels-1)
	for i := range xs {
		xs[i] = feats[levelNames[i]]
	}
	return bb.fpn.script(b, xs)
}
