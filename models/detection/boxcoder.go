// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detection

import (
	"fmt"
	"math"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// boxCoder converts regression deltas (dx, dy, dw, dh) relative to
// reference boxes into absolute boxes.
type boxCoder struct {
	weights [4]float32
	clip    float32
}

func newBoxCoder(wx, wy, ww, wh float32) boxCoder {
	return boxCoder{
		weights: [4]float32{wx, wy, ww, wh},
		clip:    float32(math.Log(1000.0 / 16)),
	}
}

// decode applies [K, M*4] deltas to [K, 4] reference boxes and returns
// [K*M, 4] boxes, M per reference box.
func (bc boxCoder) decode(deltas, refs *tensor.Tensor) *tensor.Tensor {
	K := refs.Dim(0)
	if deltas.Rank() != 2 || deltas.Dim(0) != K || deltas.Dim(1)%4 != 0 {
		panic(fmt.Sprintf("box coder: deltas %v do not match %d reference boxes", deltas.Shape(), K))
	}
	M := deltas.Dim(1) / 4
	d, r := deltas.Data(), refs.Data()
	out := make([]float32, K*M*4)
	for k := range K {
		ref := r[k*4 : k*4+4]
		w, h := ref[2]-ref[0], ref[3]-ref[1]
		cx, cy := ref[0]+0.5*w, ref[1]+0.5*h
		for m := range M {
			i := (k*M + m) * 4
			dx := d[i] / bc.weights[0]
			dy := d[i+1] / bc.weights[1]
			dw := min(d[i+2]/bc.weights[2], bc.clip)
			dh := min(d[i+3]/bc.weights[3], bc.clip)

			px, py := dx*w+cx, dy*h+cy
			pw := float32(math.Exp(float64(dw))) * w
			ph := float32(math.Exp(float64(dh))) * h
			out[i] = px - 0.5*pw
			out[i+1] = py - 0.5*ph
			out[i+2] = px + 0.5*pw
			out[i+3] = py + 0.5*ph
		}
	}
	return tensor.View(out, tensor.Shape{K * M, 4})
}
