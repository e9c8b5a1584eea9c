// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/visionzoo/internal/nn"
)

// Layer is a node in a model tree.
type Layer = nn.Layer

// Module is a layer mapping one tensor to one tensor.
type Module = nn.Module

// Child is a named sub-layer.
type Child = nn.Child

// Parameter is a weight or a running-statistic buffer.
type Parameter = nn.Parameter

// NamedParameter pairs a parameter with its dotted path.
type NamedParameter = nn.NamedParameter

// Sequential applies modules in order.
type Sequential = nn.Sequential

// Train switches l and every descendant to training mode.
func Train(l Layer) { nn.Train(l) }

// Eval switches l and every descendant to evaluation mode.
//
// Dropout becomes the identity and batch norm uses its running statistics.
func Eval(l Layer) { nn.Eval(l) }

// Walk visits l and every descendant depth-first in registration order.
func Walk(l Layer, fn func(path string, l Layer)) { nn.Walk(l, fn) }

// Lookup returns the descendant at the dotted path, or nil.
func Lookup(l Layer, path string) Layer { return nn.Lookup(l, path) }

// NamedParameters lists every parameter and buffer of the tree with its
// path, in registration order.
func NamedParameters(l Layer) []NamedParameter { return nn.NamedParameters(l) }

// NumParameters counts the learned scalar weights of the tree.
func NumParameters(l Layer) int { return nn.NumParameters(l) }

// Slice returns l's children up to and including the child named stop.
//
// Example:
//
//	features, err := nn.Slice(resnet, "layer4")
func Slice(l Layer, stop string) (*Sequential, error) { return nn.Slice(l, stop) }
