// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// IntermediateLayers runs the leading children of a model and returns the
// outputs of selected ones by name. Children after the last selected one
// are dropped, so a ResNet loses its pooling head and classifier.
type IntermediateLayers struct {
	nn.Container
	mods    []nn.Module
	returns map[string]string
}

// NewIntermediateLayers wraps the children of model up to the last one
// named in returnLayers, which maps a child name to its output key.
func NewIntermediateLayers(model nn.Layer, returnLayers map[string]string) (*IntermediateLayers, error) {
	il := &IntermediateLayers{returns: make(map[string]string, len(returnLayers))}
	remaining := len(returnLayers)
	for _, c := range model.Children() {
		if remaining == 0 {
			break
		}
		m, ok := c.Layer.(nn.Module)
		if !ok {
			return nil, fmt.Errorf("intermediate layers: child %q is not a tensor-to-tensor module", c.Name)
		}
		il.mods = append(il.mods, nn.Register(&il.Container, c.Name, m))
		if key, ok := returnLayers[c.Name]; ok {
			il.returns[c.Name] = key
			remaining--
		}
	}
	if remaining != 0 {
		return nil, fmt.Errorf("intermediate layers: return layers %v are not all children of the model", returnLayers)
	}
	return il, nil
}

// Forward returns the selected outputs keyed by their output names.
func (il *IntermediateLayers) Forward(x *tensor.Tensor) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(il.returns))
	for i, c := range il.Children() {
		x = il.mods[i].Forward(x)
		if key, ok := il.returns[c.Name]; ok {
			out[key] = x
		}
	}
	return out
}

// Script lowers the wrapped children and returns a mapping value.
func (il *IntermediateLayers) Script(b *script.Builder, in script.Value) (script.Value, error) {
	outs, err := il.ScriptFeatures(b, in)
	if err != nil {
		return script.Value{}, err
	}
	return b.Mapping(outs), nil
}

// ScriptFeatures lowers the wrapped children and returns the selected
// values by output name.
func (il *IntermediateLayers) ScriptFeatures(b *script.Builder, in script.Value) (map[string]script.Value, error) {
	outs := make(map[string]script.Value, len(il.returns))
	v := in
	for i, c := range il.Children() {
		var err error
		if v, err = b.Call(c.Name, il.mods[i], v); err != nil {
			return nil, err
		}
		if key, ok := il.returns[c.Name]; ok {
			outs[key] = v
		}
	}
	return outs, nil
}
