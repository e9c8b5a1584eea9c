// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models/detection"
	"github.com/born-ml/visionzoo/models/segmentation"
)

// ShapeError reports an output that breaks its family's shape contract.
type ShapeError struct {
	Model string
	What  string
	Want  string
	Got   tensor.Shape
}

func (e *ShapeError) Error() string {
	prefix := ""
	if e.Model != "" {
		prefix = e.Model + ": "
	}
	return fmt.Sprintf("%s%s: want %s, got %v", prefix, e.What, e.Want, e.Got)
}

// CheckClassification requires a [1, numClasses] output.
func CheckClassification(out *tensor.Tensor, numClasses int) error {
	want := tensor.Shape{1, numClasses}
	if !out.Shape().Equal(want) {
		return &ShapeError{What: "logits", Want: want.String(), Got: out.Shape()}
	}
	return nil
}

// CheckTrailingDim requires the last output dimension to be n.
func CheckTrailingDim(out *tensor.Tensor, n int) error {
	if out.Rank() == 0 || out.Dim(out.Rank()-1) != n {
		return &ShapeError{What: "logits", Want: fmt.Sprintf("(..., %d)", n), Got: out.Shape()}
	}
	return nil
}

// CheckSegmentation requires an "out" entry of shape [1, numClasses, h, w].
func CheckSegmentation(out map[string]*tensor.Tensor, numClasses, h, w int) error {
	want := tensor.Shape{1, numClasses, h, w}
	logits, ok := out[segmentation.KeyOut]
	if !ok {
		return &ShapeError{What: fmt.Sprintf("%q entry", segmentation.KeyOut), Want: want.String()}
	}
	if !logits.Shape().Equal(want) {
		return &ShapeError{What: fmt.Sprintf("%q entry", segmentation.KeyOut), Want: want.String(), Got: logits.Shape()}
	}
	return nil
}

// InputSnapshot records a list of images before it is handed to a model.
type InputSnapshot struct {
	tensors []*tensor.Tensor
	clones  []*tensor.Tensor
}

// Snapshot records the identity and contents of images.
func Snapshot(images []*tensor.Tensor) InputSnapshot {
	s := InputSnapshot{
		tensors: append([]*tensor.Tensor(nil), images...),
		clones:  make([]*tensor.Tensor, len(images)),
	}
	for i, img := range images {
		s.clones[i] = img.Clone()
	}
	return s
}

// Verify requires images to hold the recorded tensors with unchanged
// contents.
func (s InputSnapshot) Verify(images []*tensor.Tensor) error {
	if len(images) != len(s.tensors) {
		return fmt.Errorf("input list changed length from %d to %d", len(s.tensors), len(images))
	}
	for i := range images {
		if images[i] != s.tensors[i] {
			return fmt.Errorf("input %d was replaced", i)
		}
		if !images[i].Equal(s.clones[i]) {
			return fmt.Errorf("input %d was modified", i)
		}
	}
	return nil
}

// CheckDetection requires one well-formed result per image and an input
// list the detector left alone.
func CheckDetection(images []*tensor.Tensor, before InputSnapshot, results []detection.Result) error {
	if err := before.Verify(images); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if len(results) != len(images) {
		return fmt.Errorf("detection: %d results for %d images", len(results), len(images))
	}
	for i, r := range results {
		if r.Boxes == nil || r.Scores == nil {
			return fmt.Errorf("detection: result %d lacks boxes or scores", i)
		}
		k := r.Len()
		if want := (tensor.Shape{k, 4}); !r.Boxes.Shape().Equal(want) {
			return &ShapeError{What: fmt.Sprintf("result %d boxes", i), Want: want.String(), Got: r.Boxes.Shape()}
		}
		if want := (tensor.Shape{k}); !r.Scores.Shape().Equal(want) {
			return &ShapeError{What: fmt.Sprintf("result %d scores", i), Want: want.String(), Got: r.Scores.Shape()}
		}
	}
	return nil
}
