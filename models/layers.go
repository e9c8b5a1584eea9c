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

// convSpec is the shorthand used by the architecture tables.
type convSpec struct {
	in, out     int
	kernel      [2]int
	stride, pad [2]int
	dilation    int
	groups      int
	bias        bool
}

func newConv(g *rng.Generator, be *cpu.Backend, s convSpec) *nn.Conv2D {
	return nn.NewConv2D(g, be, nn.ConvConfig{
		In:       s.in,
		Out:      s.out,
		Kernel:   s.kernel,
		Stride:   s.stride,
		Padding:  s.pad,
		Dilation: nn.Pair(max(s.dilation, 1)),
		Groups:   s.groups,
		Bias:     s.bias,
	})
}

// conv returns a square, bias-free convolution.
func conv(g *rng.Generator, be *cpu.Backend, in, out, kernel, stride, pad int) *nn.Conv2D {
	return newConv(g, be, convSpec{in: in, out: out, kernel: nn.Pair(kernel), stride: nn.Pair(stride), pad: nn.Pair(pad)})
}

func maxPool(be *cpu.Backend, kernel, stride, pad int, ceil bool) *nn.MaxPool2D {
	return nn.NewMaxPool2D(be, cpu.PoolParams{
		Kernel: nn.Pair(kernel), Stride: nn.Pair(stride), Padding: nn.Pair(pad), CeilMode: ceil,
	})
}

func avgPool(be *cpu.Backend, kernel, stride, pad int) *nn.AvgPool2D {
	return nn.NewAvgPool2D(be, cpu.PoolParams{
		Kernel: nn.Pair(kernel), Stride: nn.Pair(stride), Padding: nn.Pair(pad),
	})
}

var flattenAttr = script.Attr{Key: "start_dim", Value: 1}

// BasicConv2d is a bias-free convolution followed by batch norm (eps
// 0.001) and ReLU, the unit GoogLeNet and Inception v3 are built from.
type BasicConv2d struct {
	nn.Container
	conv *nn.Conv2D
	bn   *nn.BatchNorm
	be   *cpu.Backend
}

func newBasicConv(g *rng.Generator, be *cpu.Backend, s convSpec) *BasicConv2d {
	s.bias = false
	c := &BasicConv2d{be: be}
	c.conv = nn.Register(&c.Container, "conv", newConv(g, be, s))
	c.bn = nn.Register(&c.Container, "bn", nn.NewBatchNorm(be, s.out, nn.WithEps(0.001)))
	return c
}

// basicConv returns a square BasicConv2d.
func basicConv(g *rng.Generator, be *cpu.Backend, in, out, kernel, stride, pad int) *BasicConv2d {
	return newBasicConv(g, be, convSpec{in: in, out: out, kernel: nn.Pair(kernel), stride: nn.Pair(stride), pad: nn.Pair(pad)})
}

// Forward applies conv, bn and relu.
func (c *BasicConv2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return c.be.ReLU(c.bn.Forward(c.conv.Forward(x)))
}

// Script lowers the unit.
func (c *BasicConv2d) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).Call("conv", c.conv).Call("bn", c.bn).Op("relu").Result()
}

// branches evaluates modules on the same input and concatenates their
// outputs along the channel dimension.
func branches(be *cpu.Backend, x *tensor.Tensor, mods ...nn.Module) *tensor.Tensor {
	outs := make([]*tensor.Tensor, len(mods))
	for i, m := range mods {
		outs[i] = m.Forward(x)
	}
	return be.Cat(outs, 1)
}

// scriptStep is one step of a branch: a named child, or an unnamed
// functional op when name is empty.
type scriptStep struct {
	name string
	m    script.Scriptable
}

// scriptBranches lowers each path of steps on in and concatenates the
// results along the channel dimension.
func scriptBranches(b *script.Builder, in script.Value, paths ...[]scriptStep) (script.Value, error) {
	outs := make([]script.Value, len(paths))
	for i, steps := range paths {
		v := in
		for _, s := range steps {
			var err error
			if s.name == "" {
				v, err = s.m.Script(b, v)
			} else {
				v, err = b.Call(s.name, s.m, v)
			}
			if err != nil {
				return script.Value{}, err
			}
		}
		outs[i] = v
	}
	return b.Concat(1, outs...)
}

// scriptOp is an unnamed functional step inside a branch.
type scriptOp struct {
	op    string
	attrs []script.Attr
}

func (o scriptOp) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary(o.op, in, o.attrs...)
}

func step(name string, m script.Scriptable) scriptStep { return scriptStep{name: name, m: m} }

func opStep(op string, attrs ...script.Attr) scriptStep {
	return scriptStep{m: scriptOp{op: op, attrs: attrs}}
}

// pathStep is one step of a multiBranch path. Steps with a name are
// registered children; unnamed steps are functional (pooling). A step
// with fork set applies each named sub-step to the same input and
// concatenates the results.
type pathStep struct {
	name string
	m    nn.Module
	fork []pathStep
}

func named(name string, m nn.Module) pathStep { return pathStep{name: name, m: m} }

func functional(m nn.Module) pathStep { return pathStep{m: m} }

func fork(steps ...pathStep) pathStep { return pathStep{fork: steps} }

// multiBranch runs parallel paths over one input and concatenates their
// outputs along channels: the Inception pattern.
type multiBranch struct {
	nn.Container
	paths [][]pathStep
	be    *cpu.Backend
}

// branch registers a path's named steps in order and appends it.
func (mb *multiBranch) branch(steps ...pathStep) {
	for _, s := range steps {
		for _, f := range s.fork {
			nn.Register(&mb.Container, f.name, f.m)
		}
		if s.name != "" {
			nn.Register(&mb.Container, s.name, s.m)
		}
	}
	mb.paths = append(mb.paths, steps)
}

func (mb *multiBranch) Forward(x *tensor.Tensor) *tensor.Tensor {
	outs := make([]*tensor.Tensor, len(mb.paths))
	for i, path := range mb.paths {
		v := x
		for _, s := range path {
			if s.fork != nil {
				parts := make([]*tensor.Tensor, len(s.fork))
				for j, f := range s.fork {
					parts[j] = f.m.Forward(v)
				}
				v = mb.be.Cat(parts, 1)
				continue
			}
			v = s.m.Forward(v)
		}
		outs[i] = v
	}
	return mb.be.Cat(outs, 1)
}

func (mb *multiBranch) Script(b *script.Builder, in script.Value) (script.Value, error) {
	paths := make([][]scriptStep, len(mb.paths))
	for i, path := range mb.paths {
		for _, s := range path {
			if s.fork != nil {
				subs := make([][]scriptStep, len(s.fork))
				for j, f := range s.fork {
					subs[j] = []scriptStep{step(f.name, f.m)}
				}
				paths[i] = append(paths[i], scriptStep{m: forkScript(subs)})
				continue
			}
			paths[i] = append(paths[i], scriptStep{name: s.name, m: s.m})
		}
	}
	return scriptBranches(b, in, paths...)
}

// forkScript lowers a fork in the scope of its parent.
type forkScript [][]scriptStep

func (f forkScript) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return scriptBranches(b, in, f...)
}
