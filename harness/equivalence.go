// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
	"github.com/born-ml/visionzoo/zoo"
)

// EquivalenceError reports two implementations of one network that
// disagree beyond tolerance.
type EquivalenceError struct {
	Model     string
	MaxDiff   float64
	Tolerance float64
}

func (e *EquivalenceError) Error() string {
	return fmt.Sprintf("%s: outputs differ by %g (tolerance %g)", e.Model, e.MaxDiff, e.Tolerance)
}

// DenseNetModels are the architectures with a memory-efficient variant.
var DenseNetModels = []string{"densenet121", "densenet169", "densenet201", "densenet161"}

// CheckMemoryEfficientDenseNet builds d with memory-efficient dense
// layers, copies its state dict into a regular build and requires both to
// produce the same output on a [1, 3, size, size] input. It returns the
// largest absolute difference.
func (h *Harness) CheckMemoryEfficientDenseNet(d zoo.Descriptor, size int) (float64, error) {
	efficient, err := h.BuildModel(d, models.WithNumClasses(h.cfg.NumClasses), models.WithMemoryEfficient(true))
	if err != nil {
		return 0, err
	}
	regular, err := h.BuildModel(d, models.WithNumClasses(h.cfg.NumClasses), models.WithMemoryEfficient(false))
	if err != nil {
		return 0, err
	}
	if err := nn.LoadStateDict(regular, nn.StateDict(efficient)); err != nil {
		return 0, fmt.Errorf("%s: %w", d.Name, err)
	}

	a, ok := efficient.(nn.Module)
	if !ok {
		return 0, fmt.Errorf("%s: %T is not a tensor-to-tensor module", d.Name, efficient)
	}
	b := regular.(nn.Module)
	x := h.Input(tensor.Shape{1, 3, size, size})
	diff, err := tensor.MaxAbsDiff(h.Run(a, x), h.Run(b, x))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", d.Name, err)
	}
	h.log.WithFields(logrus.Fields{"model": d.Name, "diff": diff}).Debug("Compared memory-efficient build")
	if !(diff < h.cfg.EquivalenceTolerance) {
		return diff, &EquivalenceError{Model: d.Name, MaxDiff: diff, Tolerance: h.cfg.EquivalenceTolerance}
	}
	return diff, nil
}

// DilationCombos lists every replace-stride-with-dilation setting of
// layer2, layer3 and layer4.
func DilationCombos() [][3]bool {
	out := make([][3]bool, 0, 8)
	for i := range 8 {
		out = append(out, [3]bool{i&4 != 0, i&2 != 0, i&1 != 0})
	}
	return out
}

// CheckResNetDilation builds ResNet-50 with the given dilation flags,
// cuts it after layer4 and requires a [1, 2048, s, s] feature map on a
// [1, 3, size, size] input, where s is size/32 doubled once per dilated
// layer.
func (h *Harness) CheckResNetDilation(flags [3]bool, size int) error {
	name := "resnet50"
	d, ok := zoo.Lookup(name)
	if !ok {
		return fmt.Errorf("%s is not registered", name)
	}
	m, err := h.BuildModel(d, models.WithReplaceStrideWithDilation(flags[0], flags[1], flags[2]))
	if err != nil {
		return err
	}
	features, err := nn.Slice(m, "layer4")
	if err != nil {
		return err
	}
	out := h.Run(features, h.Input(tensor.Shape{1, 3, size, size}))

	side := size / 32
	for _, f := range flags {
		if f {
			side *= 2
		}
	}
	want := tensor.Shape{1, 2048, side, side}
	if !out.Shape().Equal(want) {
		return &ShapeError{
			Model: name + " dilation " + flagString(flags),
			What:  "layer4 features",
			Want:  want.String(),
			Got:   out.Shape(),
		}
	}
	return nil
}

func flagString(flags [3]bool) string {
	s := ""
	for _, f := range flags {
		s += strconv.FormatBool(f)[:1]
	}
	return s
}
