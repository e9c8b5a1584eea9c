// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Mismatch is one output position outside tolerance.
type Mismatch struct {
	Index    int
	Expected float64
	Actual   float64
}

// MismatchError lists every position of a golden comparison that failed.
type MismatchError struct {
	Tolerance  float64
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d values differ by %g or more:", len(e.Mismatches), e.Tolerance)
	for _, m := range e.Mismatches {
		fmt.Fprintf(&sb, " [%d] want %.6f got %.6f;", m.Index, m.Expected, m.Actual)
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Truncate drops the digits of v beyond the sixth decimal, toward zero.
func Truncate(v float64) float64 {
	return math.Trunc(1e6*v) / 1e6
}

// output draws an input of shape and runs m on it, both under a
// synchronized generator, and returns the first row of the output.
func (h *Harness) output(m nn.Module, shape tensor.Shape) ([]float32, error) {
	x := h.Input(shape)
	y := h.Run(m, x)
	if y.Rank() != 2 || y.Dim(0) < 1 {
		return nil, &ShapeError{What: "output", Want: "(N, classes)", Got: y.Shape()}
	}
	return y.Data()[:y.Dim(1)], nil
}

// CheckCorrectness compares the first output row of m on the configured
// input with expected, position by position. Every position must differ
// by less than the configured epsilon; all failures are reported together
// in a *MismatchError.
func (h *Harness) CheckCorrectness(m nn.Module, expected map[int]float64) error {
	return h.compare(m, tensor.Shape(h.cfg.InputShape), expected)
}

// CheckGolden is CheckCorrectness against a recorded golden, on the input
// shape the golden was captured with.
func (h *Harness) CheckGolden(m nn.Module, g Golden) error {
	if !g.Captured() {
		return fmt.Errorf("golden %s has no values", g.Model)
	}
	return h.compare(m, g.Shape(), g.Table())
}

func (h *Harness) compare(m nn.Module, shape tensor.Shape, expected map[int]float64) error {
	row, err := h.output(m, shape)
	if err != nil {
		return err
	}
	indices := sortedKeys(expected)
	var mismatches []Mismatch
	for _, i := range indices {
		if i < 0 || i >= len(row) {
			return fmt.Errorf("golden index %d out of range [0, %d)", i, len(row))
		}
		actual := float64(row[i])
		if !(math.Abs(actual-expected[i]) < h.cfg.Epsilon) {
			mismatches = append(mismatches, Mismatch{Index: i, Expected: expected[i], Actual: actual})
		}
	}
	if len(mismatches) > 0 {
		h.log.WithField("mismatches", len(mismatches)).Warn("Golden comparison failed")
		return &MismatchError{Tolerance: h.cfg.Epsilon, Mismatches: mismatches}
	}
	return nil
}

// Capture runs m like CheckCorrectness and returns the truncated values at
// indices, for recording a golden table.
func (h *Harness) Capture(m nn.Module, indices []int) (map[int]float64, error) {
	row, err := h.output(m, tensor.Shape(h.cfg.InputShape))
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(row) {
			return nil, fmt.Errorf("capture index %d out of range [0, %d)", i, len(row))
		}
		out[i] = Truncate(float64(row[i]))
	}
	return out, nil
}

func sortedKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
