// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package segmentation provides semantic segmentation models: FCN and
// DeepLabV3 heads on dilated ResNet backbones.
//
// A model maps a [N, 3, H, W] image batch to a mapping of per-pixel class
// scores. The "out" entry holds the main head's [N, num_classes, H, W]
// logits; with models.WithAuxLoss(true) an "aux" entry holds the logits
// of the auxiliary head attached to layer3.
//
// Example:
//
//	m, err := segmentation.NewFCNResNet50(g, models.WithNumClasses(50))
//	if err != nil {
//	    return err
//	}
//	nn.Eval(m)
//	out := m.Forward(x)["out"]
package segmentation

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
)

// DefaultNumClasses is the class count used when none is given.
const DefaultNumClasses = 21

// Output keys.
const (
	KeyOut = "out"
	KeyAux = "aux"
)

// Model is a backbone with a classifier head and an optional auxiliary
// head. Head outputs are upsampled bilinearly to the input resolution.
type Model struct {
	nn.Container
	backbone      *models.IntermediateLayers
	classifier    *nn.Sequential
	auxClassifier *nn.Sequential
	be            *cpu.Backend
}

// Forward returns the upsampled logits by output key.
func (m *Model) Forward(x *tensor.Tensor) map[string]*tensor.Tensor {
	if x.Rank() != 4 {
		panic(fmt.Sprintf("segmentation: expected input [N,3,H,W], got %v", x.Shape()))
	}
	h, w := x.Dim(2), x.Dim(3)
	features := m.backbone.Forward(x)

	result := map[string]*tensor.Tensor{
		KeyOut: m.be.ResizeBilinear(m.classifier.Forward(features[KeyOut]), h, w),
	}
	if m.auxClassifier != nil {
		result[KeyAux] = m.be.ResizeBilinear(m.auxClassifier.Forward(features[KeyAux]), h, w)
	}
	return result
}

// Script lowers the model. The result is a mapping, which a static graph
// cannot return.
func (m *Model) Script(b *script.Builder, in script.Value) (script.Value, error) {
	features, err := m.backbone.ScriptFeatures(b, in)
	if err != nil {
		return script.Value{}, err
	}
	upsample := script.Attr{Key: "mode", Value: "bilinear"}

	out, err := script.Chain(b, features[KeyOut]).
		Call("classifier", m.classifier).
		Op("interpolate", upsample).
		Result()
	if err != nil {
		return script.Value{}, err
	}
	result := map[string]script.Value{KeyOut: out}
	if m.auxClassifier != nil {
		aux, err := script.Chain(b, features[KeyAux]).
			Call("aux_classifier", m.auxClassifier).
			Op("interpolate", upsample).
			Result()
		if err != nil {
			return script.Value{}, err
		}
		result[KeyAux] = aux
	}
	return b.Mapping(result), nil
}

// HasAux reports whether the model carries the auxiliary head.
func (m *Model) HasAux() bool { return m.auxClassifier != nil }

type headFunc func(g *rng.Generator, be *cpu.Backend, in, numClasses int) *nn.Sequential

func newModel(g *rng.Generator, build func(*rng.Generator, ...models.Option) (*models.ResNet, error), head headFunc, opts []models.Option) (*Model, error) {
	o, err := models.Resolve(withDefaults(opts)...)
	if err != nil {
		return nil, err
	}
	be := o.Backend

	resnet, err := build(g, models.WithBackend(be), models.WithReplaceStrideWithDilation(false, true, true))
	if err != nil {
		return nil, fmt.Errorf("segmentation backbone: %w", err)
	}
	returns := map[string]string{"layer4": KeyOut}
	if o.AuxLoss {
		returns["layer3"] = KeyAux
	}
	backbone, err := models.NewIntermediateLayers(resnet, returns)
	if err != nil {
		return nil, fmt.Errorf("segmentation backbone: %w", err)
	}

	m := &Model{be: be}
	m.backbone = nn.Register(&m.Container, "backbone", backbone)
	m.classifier = nn.Register(&m.Container, "classifier", head(g, be, 2048, o.NumClasses))
	if o.AuxLoss {
		m.auxClassifier = nn.Register(&m.Container, "aux_classifier", newFCNHead(g, be, 1024, o.NumClasses))
	}
	return m, nil
}

// withDefaults puts the segmentation class count ahead of the caller's
// options.
func withDefaults(opts []models.Option) []models.Option {
	return append([]models.Option{models.WithNumClasses(DefaultNumClasses)}, opts...)
}

// NewFCNResNet50 builds a fully convolutional network on ResNet-50.
func NewFCNResNet50(g *rng.Generator, opts ...models.Option) (*Model, error) {
	return newModel(g, models.NewResNet50, newFCNHead, opts)
}

// NewFCNResNet101 builds a fully convolutional network on ResNet-101.
func NewFCNResNet101(g *rng.Generator, opts ...models.Option) (*Model, error) {
	return newModel(g, models.NewResNet101, newFCNHead, opts)
}

// NewDeepLabV3ResNet50 builds DeepLabV3 on ResNet-50.
func NewDeepLabV3ResNet50(g *rng.Generator, opts ...models.Option) (*Model, error) {
	return newModel(g, models.NewResNet50, newDeepLabHead, opts)
}

// NewDeepLabV3ResNet101 builds DeepLabV3 on ResNet-101.
func NewDeepLabV3ResNet101(g *rng.Generator, opts ...models.Option) (*Model, error) {
	return newModel(g, models.NewResNet101, newDeepLabHead, opts)
}
