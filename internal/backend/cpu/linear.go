package cpu

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Linear computes y = x @ W^T + b.
//
// Input shape:  [N, in_features]
// Weight shape: [out_features, in_features]
// Bias shape:   [out_features] or nil
// Output shape: [N, out_features]
func (cpu *Backend) Linear(x, weight, bias *tensor.Tensor) *tensor.Tensor {
	requireRank("linear", x, 2, "[N,in_features]")
	requireRank("linear", weight, 2, "[out_features,in_features]")
	N, In := x.Dim(0), x.Dim(1)
	Out := weight.Dim(0)
	if weight.Dim(1) != In {
		panic(fmt.Sprintf("linear: input features %d != weight features %d", In, weight.Dim(1)))
	}
	if bias != nil && bias.NumElements() != Out {
		panic(fmt.Sprintf("linear: bias has %d elements, expected %d", bias.NumElements(), Out))
	}

	out := alloc("linear", tensor.Shape{N, Out})
	in, w, o := x.Data(), weight.Data(), out.Data()
	var b []float32
	if bias != nil {
		b = bias.Data()
	}

	parallel.For(Out, N*In, func(j int) {
		row := w[j*In : (j+1)*In]
		for n := 0; n < N; n++ {
			xs := in[n*In : (n+1)*In]
			sum := float32(0)
			if b != nil {
				sum = b[j]
			}
			for k, v := range row {
				sum += float32(v * xs[k])
			}
			o[n*Out+j] = sum
		}
	}, cpu.cfg)

	return out
}
