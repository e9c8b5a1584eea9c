// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detection

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
)

// Result holds the detections of one image, ordered by decreasing score.
type Result struct {
	Boxes  *tensor.Tensor // [K, 4] as (x1, y1, x2, y2) in input pixels
	Scores *tensor.Tensor // [K]
	Labels []int
}

// Len returns the number of detections.
func (r Result) Len() int { return len(r.Labels) }

func emptyResult() Result {
	return Result{
		Boxes:  tensor.Zeros(tensor.Shape{0, 4}),
		Scores: tensor.Zeros(tensor.Shape{0}),
	}
}

// Result field names as they appear in a lowered graph.
var resultFields = []string{"boxes", "scores", "labels"}

// FasterRCNN is a two-stage detector: a region proposal network over a
// feature pyramid followed by per-region classification and box
// refinement.
type FasterRCNN struct {
	nn.Container
	backbone *Backbone
	rpn      *RegionProposalNetwork
	roiHeads *RoIHeads
	cfg      Config
}

// NewFasterRCNN builds Faster R-CNN with a ResNet-50 FPN backbone and the
// given inference settings. The class count defaults to
// DefaultNumClasses.
func NewFasterRCNN(g *rng.Generator, cfg Config, opts ...models.Option) (*FasterRCNN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o, err := models.Resolve(append([]models.Option{models.WithNumClasses(DefaultNumClasses)}, opts...)...)
	if err != nil {
		return nil, err
	}
	be := o.Backend

	backbone, err := newResNetFPNBackbone(g, be)
	if err != nil {
		return nil, fmt.Errorf("detection backbone: %w", err)
	}
	m := &FasterRCNN{cfg: cfg}
	m.backbone = nn.Register(&m.Container, "backbone", backbone)
	m.rpn = nn.Register(&m.Container, "rpn", newRPN(g, be, cfg))
	m.roiHeads = nn.Register(&m.Container, "roi_heads", newRoIHeads(g, be, o.NumClasses, cfg))
	return m, nil
}

// NewFasterRCNNResNet50FPN builds Faster R-CNN with DefaultConfig.
func NewFasterRCNNResNet50FPN(g *rng.Generator, opts ...models.Option) (*FasterRCNN, error) {
	return NewFasterRCNN(g, DefaultConfig(), opts...)
}

// Config returns the inference settings.
func (m *FasterRCNN) Config() Config { return m.cfg }

// Forward detects objects in each image. Images are [3, H, W] and may
// differ in size; they are read but never written.
func (m *FasterRCNN) Forward(images []*tensor.Tensor) []Result {
	batch := batchImages(images, m.cfg)
	features := m.backbone.Forward(batch.tensors)
	proposals := m.rpn.Propose(batch, features)
	return m.roiHeads.Detect(features, proposals, batch)
}

// Script lowers the backbone and fails on the per-image records the
// detector returns.
func (m *FasterRCNN) Script(b *script.Builder, in script.Value) (script.Value, error) {
	if _, err := b.Call("backbone", scriptLevelsFunc(m.backbone.scriptLevels), in); err != nil {
		return script.Value{}, err
	}
	return b.Records(resultFields...), nil
}

// scriptLevelsFunc adapts the pyramid lowering to a single-output call so
// the backbone scope is kept in errors.
type scriptLevelsFunc func(*script.Builder, script.Value) ([]script.Value, error)

func (f scriptLevelsFunc) Script(b *script.Builder, in script.Value) (script.Value, error) {
	levels, err := f(b, in)
	if err != nil {
		return script.Value{}, err
	}
	return levels[len(levels)-1], nil
}
