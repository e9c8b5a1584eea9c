// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detection

import (
	"math"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// anchorGenerator tiles a fixed set of cell anchors over every feature
// map location, one anchor size per pyramid level.
type anchorGenerator struct {
	cells [][]float32 // per level, A*4 anchors centered at the origin
}

func newAnchorGenerator(sizes, ratios []float64) *anchorGenerator {
	ag := &anchorGenerator{cells: make([][]float32, len(sizes))}
	for i, s := range sizes {
		ag.cells[i] = cellAnchors([]float64{s}, ratios)
	}
	return ag
}

// cellAnchors returns zero-centered (x1, y1, x2, y2) anchors, ratio-major,
// with area scale^2 and height/width equal to the aspect ratio.
func cellAnchors(scales, ratios []float64) []float32 {
	out := make([]float32, 0, len(scales)*len(ratios)*4)
	for _, r := range ratios {
		hr := math.Sqrt(r)
		wr := 1 / hr
		for _, s := range scales {
			ws, hs := wr*s, hr*s
			out = append(out,
				float32(math.RoundToEven(-ws/2)),
				float32(math.RoundToEven(-hs/2)),
				float32(math.RoundToEven(ws/2)),
				float32(math.RoundToEven(hs/2)),
			)
		}
	}
	return out
}

// numAnchors returns the anchors per location.
func (ag *anchorGenerator) numAnchors() int { return len(ag.cells[0]) / 4 }

// grid returns the [fh*fw*A, 4] anchors of one level, ordered by row,
// then column, then cell anchor. The stride is the integer ratio of the
// image size to the feature size.
func (ag *anchorGenerator) grid(level, fh, fw, imageH, imageW int) *tensor.Tensor {
	cell := ag.cells[level]
	A := len(cell) / 4
	sy, sx := float32(imageH/fh), float32(imageW/fw)
	out := make([]float32, 0, fh*fw*A*4)
	for y := range fh {
		for x := range fw {
			ox, oy := float32(x)*sx, float32(y)*sy
			for a := range A {
				c := cell[a*4 : a*4+4]
				out = append(out, c[0]+ox, c[1]+oy, c[2]+ox, c[3]+oy)
			}
		}
	}
	return tensor.View(out, tensor.Shape{fh * fw * A, 4})
}
