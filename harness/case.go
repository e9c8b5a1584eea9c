// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
	"github.com/born-ml/visionzoo/models/segmentation"
	"github.com/born-ml/visionzoo/zoo"
)

// CaseResult is the outcome of running one registered model through its
// family's checks.
type CaseResult struct {
	Model      string
	Family     zoo.Family
	Scriptable bool
	Output     tensor.Shape // main output; empty for detection
	Detections []int        // per image, detection only
	Duration   time.Duration
	Err        error
}

// RunCase builds d with the configured class count, checks its compile
// verdict against the hub table, runs it on a synthetic input of
// d.InputShape and checks the family's shape contract. A panic inside the
// model is reported as the case error.
func (h *Harness) RunCase(d zoo.Descriptor) CaseResult {
	start := time.Now()
	res := CaseResult{Model: d.Name, Family: d.Family}
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.Err = fmt.Errorf("%s: panic: %v", d.Name, r)
			}
		}()
		res.Err = h.runCase(d, &res)
	}()
	res.Duration = time.Since(start)

	log := h.log.WithFields(logrus.Fields{"model": d.Name, "elapsed": res.Duration})
	if res.Err != nil {
		log.WithError(res.Err).Warn("Case failed")
	} else {
		log.Info("Case passed")
	}
	return res
}

func (h *Harness) runCase(d zoo.Descriptor, res *CaseResult) error {
	m, err := h.BuildModel(d, models.WithNumClasses(h.cfg.NumClasses))
	if err != nil {
		return err
	}
	res.Scriptable = Scriptable(m)
	if err := CheckHubScript(d.Name, m); err != nil {
		return err
	}

	x := h.Input(d.InputShape)
	switch d.Family {
	case zoo.Classification, zoo.Video:
		mod, ok := m.(nn.Module)
		if !ok {
			return fmt.Errorf("%s: %T is not a tensor-to-tensor module", d.Name, m)
		}
		out := h.Run(mod, x)
		res.Output = out.Shape()
		if d.Family == zoo.Classification {
			return named(d.Name, CheckClassification(out, h.cfg.NumClasses))
		}
		return named(d.Name, CheckTrailingDim(out, h.cfg.NumClasses))

	case zoo.Segmentation:
		seg, ok := m.(zoo.Segmenter)
		if !ok {
			return fmt.Errorf("%s: %T is not a segmenter", d.Name, m)
		}
		Sync(h.g, h.cfg.Seed)
		out := seg.Forward(x)
		if logits, ok := out[segmentation.KeyOut]; ok {
			res.Output = logits.Shape()
		}
		return named(d.Name, CheckSegmentation(out, h.cfg.NumClasses, x.Dim(2), x.Dim(3)))

	case zoo.Detection:
		det, ok := m.(zoo.Detector)
		if !ok {
			return fmt.Errorf("%s: %T is not a detector", d.Name, m)
		}
		images := []*tensor.Tensor{x}
		before := Snapshot(images)
		Sync(h.g, h.cfg.Seed)
		results := det.Forward(images)
		for _, r := range results {
			res.Detections = append(res.Detections, r.Len())
		}
		return named(d.Name, CheckDetection(images, before, results))
	}
	return fmt.Errorf("%s: unknown family %v", d.Name, d.Family)
}

// named attaches the model name to shape errors.
func named(model string, err error) error {
	if se, ok := err.(*ShapeError); ok {
		se.Model = model
		return se
	}
	if err != nil {
		return fmt.Errorf("%s: %w", model, err)
	}
	return nil
}
