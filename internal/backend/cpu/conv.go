package cpu

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// ConvParams configures a 2D convolution. Zero strides, dilations and groups
// default to 1.
type ConvParams struct {
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
	Groups   int
}

func (p ConvParams) normalized() ConvParams {
	for i := range 2 {
		if p.Stride[i] == 0 {
			p.Stride[i] = 1
		}
		if p.Dilation[i] == 0 {
			p.Dilation[i] = 1
		}
	}
	if p.Groups == 0 {
		p.Groups = 1
	}
	return p
}

// ConvOutputSize returns the output length of one spatial dimension.
//
//	out = (in + 2*padding - dilation*(kernel-1) - 1) / stride + 1
func ConvOutputSize(in, kernel, stride, padding, dilation int) int {
	return (in+2*padding-dilation*(kernel-1)-1)/stride + 1
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape:  [N, C_in, H, W]
// Weight shape: [C_out, C_in/groups, K_h, K_w]
// Bias shape:   [C_out] or nil
// Output shape: [N, C_out, H_out, W_out]
//
// Algorithm (per image and group):
//  1. Unfold input patches into a [C_in/groups * K_h * K_w, H_out * W_out] matrix
//  2. Multiply the [C_out/groups, C_in/groups * K_h * K_w] weight matrix by it
//  3. The product is already laid out as [C_out/groups, H_out, W_out]
//
// 1x1 stride-1 convolutions skip the unfold, and convolutions with one input
// channel per group (depthwise) use a direct loop.
func (cpu *Backend) Conv2D(input, weight, bias *tensor.Tensor, p ConvParams) *tensor.Tensor {
	requireRank("conv2d", input, 4, "[N,C,H,W]")
	requireRank("conv2d", weight, 4, "[C_out,C_in/groups,K_h,K_w]")
	p = p.normalized()

	N, CIn, H, W := input.Dim(0), input.Dim(1), input.Dim(2), input.Dim(3)
	COut, CInG, KH, KW := weight.Dim(0), weight.Dim(1), weight.Dim(2), weight.Dim(3)
	G := p.Groups

	if CIn%G != 0 || COut%G != 0 {
		panic(fmt.Sprintf("conv2d: channels in=%d out=%d not divisible by groups=%d", CIn, COut, G))
	}
	if CIn/G != CInG {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d * groups %d", CIn, CInG, G))
	}
	if bias != nil && bias.NumElements() != COut {
		panic(fmt.Sprintf("conv2d: bias has %d elements, expected %d", bias.NumElements(), COut))
	}

	HOut := ConvOutputSize(H, KH, p.Stride[0], p.Padding[0], p.Dilation[0])
	WOut := ConvOutputSize(W, KW, p.Stride[1], p.Padding[1], p.Dilation[1])
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", HOut, WOut))
	}

	out := alloc("conv2d", tensor.Shape{N, COut, HOut, WOut})
	in, w, o := input.Data(), weight.Data(), out.Data()
	var b []float32
	if bias != nil {
		b = bias.Data()
	}

	if G > 1 && CInG == 1 {
		cpu.conv2dDepthwise(o, in, w, b, N, CIn, H, W, COut, KH, KW, HOut, WOut, p)
		return out
	}

	COutG := COut / G
	P := HOut * WOut
	K := CInG * KH * KW
	pointwise := KH == 1 && KW == 1 &&
		p.Stride == [2]int{1, 1} && p.Padding == [2]int{0, 0}

	var col []float32
	if !pointwise {
		col = make([]float32, K*P)
	}

	for n := 0; n < N; n++ {
		for g := 0; g < G; g++ {
			src := in[(n*CIn+g*CInG)*H*W : (n*CIn+(g+1)*CInG)*H*W]
			cols := src
			if !pointwise {
				cpu.im2col(col, src, CInG, H, W, KH, KW, HOut, WOut, p)
				cols = col
			}

			dst := o[(n*COut+g*COutG)*P : (n*COut+(g+1)*COutG)*P]
			wg := w[g*COutG*K : (g+1)*COutG*K]
			var bg []float32
			if b != nil {
				bg = b[g*COutG : (g+1)*COutG]
			}
			cpu.gemm(dst, wg, cols, bg, COutG, K, P)
		}
	}

	return out
}

// im2col unfolds one group of input planes into col, row-major
// [C*KH*KW, HOut*WOut]. Out-of-range taps read as zero padding.
func (cpu *Backend) im2col(col, src []float32, C, H, W, KH, KW, HOut, WOut int, p ConvParams) {
	P := HOut * WOut
	parallel.For(C*KH*KW, P, func(r int) {
		c := r / (KH * KW)
		kh := (r / KW) % KH
		kw := r % KW

		row := col[r*P : (r+1)*P]
		plane := src[c*H*W : (c+1)*H*W]
		for oh := 0; oh < HOut; oh++ {
			dst := row[oh*WOut : (oh+1)*WOut]
			ih := oh*p.Stride[0] - p.Padding[0] + kh*p.Dilation[0]
			if ih < 0 || ih >= H {
				clear(dst)
				continue
			}
			line := plane[ih*W : (ih+1)*W]
			for ow := range dst {
				iw := ow*p.Stride[1] - p.Padding[1] + kw*p.Dilation[1]
				if iw < 0 || iw >= W {
					dst[ow] = 0
				} else {
					dst[ow] = line[iw]
				}
			}
		}
	}, cpu.cfg)
}

// gemm computes dst[M, P] = a[M, K] @ bm[K, P] + bias[m].
//
// Each output row is owned by one goroutine and accumulated in a fixed k
// order, so results do not depend on scheduling. The explicit float32
// conversion keeps the compiler from fusing the multiply-add, which would
// change rounding between architectures.
func (cpu *Backend) gemm(dst, a, bm, bias []float32, M, K, P int) {
	parallel.For(M, K*P, func(m int) {
		out := dst[m*P : (m+1)*P]
		v := float32(0)
		if bias != nil {
			v = bias[m]
		}
		for i := range out {
			out[i] = v
		}
		for k, w := range a[m*K : (m+1)*K] {
			src := bm[k*P : (k+1)*P]
			for i, x := range src {
				out[i] += float32(w * x)
			}
		}
	}, cpu.cfg)
}

// conv2dDepthwise handles groups == C_in with a direct sliding window.
func (cpu *Backend) conv2dDepthwise(o, in, w, b []float32, N, CIn, H, W, COut, KH, KW, HOut, WOut int, p ConvParams) {
	mult := COut / CIn
	P := HOut * WOut
	parallel.ForBatch(N, COut, P*KH*KW, func(n, co int) {
		ci := co / mult
		plane := in[(n*CIn+ci)*H*W : (n*CIn+ci+1)*H*W]
		dst := o[(n*COut+co)*P : (n*COut+co+1)*P]
		kern := w[co*KH*KW : (co+1)*KH*KW]
		bv := float32(0)
		if b != nil {
			bv = b[co]
		}
		for oh := 0; oh < HOut; oh++ {
			for ow := 0; ow < WOut; ow++ {
				sum := bv
				for kh := 0; kh < KH; kh++ {
					ih := oh*p.Stride[0] - p.Padding[0] + kh*p.Dilation[0]
					if ih < 0 || ih >= H {
						continue
					}
					for kw := 0; kw < KW; kw++ {
						iw := ow*p.Stride[1] - p.Padding[1] + kw*p.Dilation[1]
						if iw < 0 || iw >= W {
							continue
						}
						sum += float32(kern[kh*KW+kw] * plane[ih*W+iw])
					}
				}
				dst[oh*WOut+ow] = sum
			}
		}
	}, cpu.cfg)
}
