package cpu

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Conv3DParams configures a 3D convolution over (time, height, width).
// Zero strides and dilations default to 1.
type Conv3DParams struct {
	Stride   [3]int
	Padding  [3]int
	Dilation [3]int
}

func (p Conv3DParams) normalized() Conv3DParams {
	for i := range 3 {
		if p.Stride[i] == 0 {
			p.Stride[i] = 1
		}
		if p.Dilation[i] == 0 {
			p.Dilation[i] = 1
		}
	}
	return p
}

// Conv3D performs 3D convolution for video clips using im2col.
//
// Input shape:  [N, C_in, T, H, W]
// Weight shape: [C_out, C_in, K_t, K_h, K_w]
// Output shape: [N, C_out, T_out, H_out, W_out]
func (cpu *Backend) Conv3D(input, weight, bias *tensor.Tensor, p Conv3DParams) *tensor.Tensor {
	requireRank("conv3d", input, 5, "[N,C,T,H,W]")
	requireRank("conv3d", weight, 5, "[C_out,C_in,K_t,K_h,K_w]")
	p = p.normalized()

	N, CIn, T, H, W := input.Dim(0), input.Dim(1), input.Dim(2), input.Dim(3), input.Dim(4)
	COut, CInK, KT, KH, KW := weight.Dim(0), weight.Dim(1), weight.Dim(2), weight.Dim(3), weight.Dim(4)
	if CIn != CInK {
		panic(fmt.Sprintf("conv3d: input channels %d != kernel channels %d", CIn, CInK))
	}
	if bias != nil && bias.NumElements() != COut {
		panic(fmt.Sprintf("conv3d: bias has %d elements, expected %d", bias.NumElements(), COut))
	}

	TOut := ConvOutputSize(T, KT, p.Stride[0], p.Padding[0], p.Dilation[0])
	HOut := ConvOutputSize(H, KH, p.Stride[1], p.Padding[1], p.Dilation[1])
	WOut := ConvOutputSize(W, KW, p.Stride[2], p.Padding[2], p.Dilation[2])
	if TOut <= 0 || HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv3d: invalid output dimensions %dx%dx%d", TOut, HOut, WOut))
	}

	out := alloc("conv3d", tensor.Shape{N, COut, TOut, HOut, WOut})
	in, w, o := input.Data(), weight.Data(), out.Data()
	var b []float32
	if bias != nil {
		b = bias.Data()
	}

	P := TOut * HOut * WOut
	K := CIn * KT * KH * KW
	vol := T * H * W
	col := make([]float32, K*P)

	for n := 0; n < N; n++ {
		src := in[n*CIn*vol : (n+1)*CIn*vol]
		parallel.For(K, P, func(r int) {
			c := r / (KT * KH * KW)
			kt := (r / (KH * KW)) % KT
			kh := (r / KW) % KH
			kw := r % KW
			row := col[r*P : (r+1)*P]
			cube := src[c*vol : (c+1)*vol]
			idx := 0
			for ot := 0; ot < TOut; ot++ {
				it := ot*p.Stride[0] - p.Padding[0] + kt*p.Dilation[0]
				for oh := 0; oh < HOut; oh++ {
					ih := oh*p.Stride[1] - p.Padding[1] + kh*p.Dilation[1]
					rowValid := it >= 0 && it < T && ih >= 0 && ih < H
					for ow := 0; ow < WOut; ow++ {
						iw := ow*p.Stride[2] - p.Padding[2] + kw*p.Dilation[2]
						if rowValid && iw >= 0 && iw < W {
							row[idx] = cube[(it*H+ih)*W+iw]
						} else {
							row[idx] = 0
						}
						idx++
					}
				}
			}
		}, cpu.cfg)

		cpu.gemm(o[n*COut*P:(n+1)*COut*P], w, col, b, COut, K, P)
	}

	return out
}
