package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// PoolParams configures a 2D pooling window. A zero stride defaults to the
// kernel size.
type PoolParams struct {
	Kernel   [2]int
	Stride   [2]int
	Padding  [2]int
	CeilMode bool
}

func (p PoolParams) normalized() PoolParams {
	for i := range 2 {
		if p.Stride[i] == 0 {
			p.Stride[i] = p.Kernel[i]
		}
	}
	return p
}

// PoolOutputSize returns the pooled length of one spatial dimension.
//
// With ceil mode the last window may start inside the right padding only if
// it still covers at least one input element.
func PoolOutputSize(in, kernel, stride, padding int, ceil bool) int {
	span := in + 2*padding - kernel
	var out int
	if ceil {
		out = (span+stride-1)/stride + 1
		if (out-1)*stride >= in+padding {
			out--
		}
	} else {
		out = span/stride + 1
	}
	return out
}

func (cpu *Backend) poolShape(op string, input *tensor.Tensor, p PoolParams) (int, int, int, int, int, int) {
	requireRank(op, input, 4, "[N,C,H,W]")
	if p.Kernel[0] <= 0 || p.Kernel[1] <= 0 {
		panic(fmt.Sprintf("%s: invalid kernel size %v", op, p.Kernel))
	}
	if p.Padding[0]*2 > p.Kernel[0] || p.Padding[1]*2 > p.Kernel[1] {
		panic(fmt.Sprintf("%s: padding %v should be at most half of kernel %v", op, p.Padding, p.Kernel))
	}
	N, C, H, W := input.Dim(0), input.Dim(1), input.Dim(2), input.Dim(3)
	HOut := PoolOutputSize(H, p.Kernel[0], p.Stride[0], p.Padding[0], p.CeilMode)
	WOut := PoolOutputSize(W, p.Kernel[1], p.Stride[1], p.Padding[1], p.CeilMode)
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions %dx%d (kernel=%v, stride=%v, input=%dx%d)",
			op, HOut, WOut, p.Kernel, p.Stride, H, W))
	}
	return N, C, H, W, HOut, WOut
}

// MaxPool2D performs 2D max pooling. Padding behaves as negative infinity.
//
// Input shape:  [N, C, H, W]
// Output shape: [N, C, H_out, W_out]
func (cpu *Backend) MaxPool2D(input *tensor.Tensor, p PoolParams) *tensor.Tensor {
	p = p.normalized()
	N, C, H, W, HOut, WOut := cpu.poolShape("maxpool2d", input, p)
	out := alloc("maxpool2d", tensor.Shape{N, C, HOut, WOut})
	in, o := input.Data(), out.Data()

	parallel.ForBatch(N, C, HOut*WOut*p.Kernel[0]*p.Kernel[1], func(n, c int) {
		plane := in[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := o[(n*C+c)*HOut*WOut : (n*C+c+1)*HOut*WOut]
		for oh := 0; oh < HOut; oh++ {
			h0 := oh*p.Stride[0] - p.Padding[0]
			h1 := min(h0+p.Kernel[0], H)
			h0 = max(h0, 0)
			for ow := 0; ow < WOut; ow++ {
				w0 := ow*p.Stride[1] - p.Padding[1]
				w1 := min(w0+p.Kernel[1], W)
				w0 = max(w0, 0)
				m := float32(math.Inf(-1))
				for h := h0; h < h1; h++ {
					for w := w0; w < w1; w++ {
						if v := plane[h*W+w]; v > m || math.IsNaN(float64(v)) {
							m = v
						}
					}
				}
				dst[oh*WOut+ow] = m
			}
		}
	}, cpu.cfg)

	return out
}

// AvgPool2D performs 2D average pooling. With countIncludePad the divisor
// counts padded positions (but never positions past the padded border).
func (cpu *Backend) AvgPool2D(input *tensor.Tensor, p PoolParams, countIncludePad bool) *tensor.Tensor {
	p = p.normalized()
	N, C, H, W, HOut, WOut := cpu.poolShape("avgpool2d", input, p)
	out := alloc("avgpool2d", tensor.Shape{N, C, HOut, WOut})
	in, o := input.Data(), out.Data()

	parallel.ForBatch(N, C, HOut*WOut*p.Kernel[0]*p.Kernel[1], func(n, c int) {
		plane := in[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := o[(n*C+c)*HOut*WOut : (n*C+c+1)*HOut*WOut]
		for oh := 0; oh < HOut; oh++ {
			h0 := oh*p.Stride[0] - p.Padding[0]
			h1 := min(h0+p.Kernel[0], H+p.Padding[0])
			padH := h1 - h0
			h0, h1 = max(h0, 0), min(h1, H)
			for ow := 0; ow < WOut; ow++ {
				w0 := ow*p.Stride[1] - p.Padding[1]
				w1 := min(w0+p.Kernel[1], W+p.Padding[1])
				padW := w1 - w0
				w0, w1 = max(w0, 0), min(w1, W)

				sum := float32(0)
				for h := h0; h < h1; h++ {
					for w := w0; w < w1; w++ {
						sum += plane[h*W+w]
					}
				}
				div := (h1 - h0) * (w1 - w0)
				if countIncludePad {
					div = padH * padW
				}
				if div > 0 {
					dst[oh*WOut+ow] = sum / float32(div)
				}
			}
		}
	}, cpu.cfg)

	return out
}

// adaptiveRange returns the [start, end) input window for output index i.
func adaptiveRange(i, in, out int) (int, int) {
	start := (i * in) / out
	end := ((i+1)*in + out - 1) / out
	return start, end
}

// AdaptiveAvgPool2D averages the input into an outH x outW grid.
func (cpu *Backend) AdaptiveAvgPool2D(input *tensor.Tensor, outH, outW int) *tensor.Tensor {
	requireRank("adaptive_avgpool2d", input, 4, "[N,C,H,W]")
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("adaptive_avgpool2d: invalid output size %dx%d", outH, outW))
	}
	N, C, H, W := input.Dim(0), input.Dim(1), input.Dim(2), input.Dim(3)
	out := alloc("adaptive_avgpool2d", tensor.Shape{N, C, outH, outW})
	in, o := input.Data(), out.Data()

	parallel.ForBatch(N, C, H*W, func(n, c int) {
		plane := in[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := o[(n*C+c)*outH*outW : (n*C+c+1)*outH*outW]
		for oh := 0; oh < outH; oh++ {
			h0, h1 := adaptiveRange(oh, H, outH)
			for ow := 0; ow < outW; ow++ {
				w0, w1 := adaptiveRange(ow, W, outW)
				sum := float32(0)
				for h := h0; h < h1; h++ {
					for w := w0; w < w1; w++ {
						sum += plane[h*W+w]
					}
				}
				dst[oh*outW+ow] = sum / float32((h1-h0)*(w1-w0))
			}
		}
	}, cpu.cfg)

	return out
}

// AdaptiveAvgPool3D averages a clip into an outT x outH x outW grid.
func (cpu *Backend) AdaptiveAvgPool3D(input *tensor.Tensor, outT, outH, outW int) *tensor.Tensor {
	requireRank("adaptive_avgpool3d", input, 5, "[N,C,T,H,W]")
	N, C, T, H, W := input.Dim(0), input.Dim(1), input.Dim(2), input.Dim(3), input.Dim(4)
	out := alloc("adaptive_avgpool3d", tensor.Shape{N, C, outT, outH, outW})
	in, o := input.Data(), out.Data()
	vol := T * H * W
	outVol := outT * outH * outW

	parallel.ForBatch(N, C, vol, func(n, c int) {
		cube := in[(n*C+c)*vol : (n*C+c+1)*vol]
		dst := o[(n*C+c)*outVol : (n*C+c+1)*outVol]
		for ot := 0; ot < outT; ot++ {
			t0, t1 := adaptiveRange(ot, T, outT)
			for oh := 0; oh < outH; oh++ {
				h0, h1 := adaptiveRange(oh, H, outH)
				for ow := 0; ow < outW; ow++ {
					w0, w1 := adaptiveRange(ow, W, outW)
					sum := float32(0)
					for t := t0; t < t1; t++ {
						for h := h0; h < h1; h++ {
							for w := w0; w < w1; w++ {
								sum += cube[(t*H+h)*W+w]
							}
						}
					}
					dst[(ot*outH+oh)*outW+ow] = sum / float32((t1-t0)*(h1-h0)*(w1-w0))
				}
			}
		}
	}, cpu.cfg)

	return out
}
