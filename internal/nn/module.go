// Package nn implements the layers the model zoo is built from.
//
// This package provides building blocks for constructing vision networks:
//   - Layer and Module interfaces: nodes of a model tree
//   - Parameter: weights and running-statistic buffers
//   - Initializers drawing from an explicit *rng.Generator
//   - Conv2D, Conv3D, BatchNorm, Linear, pooling and activations
//   - Sequential: container for stacking layers
//   - State dicts keyed by dotted paths ("layer1.0.conv1.weight")
//
// Every layer can also lower itself into a static graph through the
// script package.
package nn

import (
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Layer is a node in a model tree.
//
// Children and OwnParameters describe the tree structure used by state
// dicts and mode switches; Script lowers the node into a static graph.
type Layer interface {
	script.Scriptable

	// Children returns the named sub-layers in registration order.
	Children() []Child

	// OwnParameters returns the parameters and buffers held directly by
	// this layer (not by its children).
	OwnParameters() []*Parameter

	// SetTraining switches this layer (not its children) between training
	// and evaluation behavior. Use Train or Eval for whole trees.
	SetTraining(training bool)
}

// Module is a layer mapping one tensor to one tensor.
type Module interface {
	Layer
	Forward(x *tensor.Tensor) *tensor.Tensor
}

// Child is a named sub-layer.
type Child struct {
	Name  string
	Layer Layer
}

// Base provides the bookkeeping shared by all layers. Embed it and
// override Children or OwnParameters as needed.
type Base struct {
	training bool
}

// Training reports whether the layer is in training mode.
func (b *Base) Training() bool { return b.training }

// SetTraining sets the layer mode.
func (b *Base) SetTraining(training bool) { b.training = training }

// Children returns no children.
func (b *Base) Children() []Child { return nil }

// OwnParameters returns no parameters.
func (b *Base) OwnParameters() []*Parameter { return nil }

// Walk visits l and every descendant depth-first in registration order.
// path is the dotted name of each layer relative to l ("" for l itself).
func Walk(l Layer, fn func(path string, l Layer)) {
	walk("", l, fn)
}

func walk(path string, l Layer, fn func(string, Layer)) {
	fn(path, l)
	for _, c := range l.Children() {
		walk(join(path, c.Name), c.Layer, fn)
	}
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Train switches a whole tree into training mode.
func Train(l Layer) {
	Walk(l, func(_ string, m Layer) { m.SetTraining(true) })
}

// Eval switches a whole tree into evaluation mode: dropout becomes the
// identity and batch norm uses its running statistics.
func Eval(l Layer) {
	Walk(l, func(_ string, m Layer) { m.SetTraining(false) })
}

// Lookup returns the descendant at a dotted path, or nil.
func Lookup(l Layer, path string) Layer {
	var found Layer
	Walk(l, func(p string, m Layer) {
		if found == nil && p == path {
			found = m
		}
	})
	return found
}
