package cpu

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// bilinearTap returns the two source indices and the weight of the second
// one for destination index i, using half-pixel centers (align_corners off).
func bilinearTap(i, in, out int) (int, int, float32) {
	scale := float64(in) / float64(out)
	src := (float64(i)+0.5)*scale - 0.5
	if src < 0 {
		src = 0
	}
	i0 := int(src)
	i1 := min(i0+1, in-1)
	return i0, i1, float32(src - float64(i0))
}

// ResizeBilinear resizes a [N, C, H, W] tensor to outH x outW.
func (cpu *Backend) ResizeBilinear(x *tensor.Tensor, outH, outW int) *tensor.Tensor {
	requireRank("resize_bilinear", x, 4, "[N,C,H,W]")
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("resize_bilinear: invalid output size %dx%d", outH, outW))
	}
	N, C, H, W := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	out := alloc("resize_bilinear", tensor.Shape{N, C, outH, outW})
	in, o := x.Data(), out.Data()

	type tap struct {
		i0, i1 int
		l      float32
	}
	rows := make([]tap, outH)
	for i := range rows {
		a, b, l := bilinearTap(i, H, outH)
		rows[i] = tap{a, b, l}
	}
	cols := make([]tap, outW)
	for i := range cols {
		a, b, l := bilinearTap(i, W, outW)
		cols[i] = tap{a, b, l}
	}

	parallel.ForBatch(N, C, outH*outW*4, func(n, c int) {
		plane := in[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := o[(n*C+c)*outH*outW : (n*C+c+1)*outH*outW]
		for oh, r := range rows {
			top := plane[r.i0*W : (r.i0+1)*W]
			bot := plane[r.i1*W : (r.i1+1)*W]
			for ow, q := range cols {
				t := top[q.i0]*(1-q.l) + top[q.i1]*q.l
				b := bot[q.i0]*(1-q.l) + bot[q.i1]*q.l
				dst[oh*outW+ow] = t*(1-r.l) + b*r.l
			}
		}
	}, cpu.cfg)

	return out
}

// ResizeNearest resizes a [N, C, H, W] tensor to outH x outW by nearest
// neighbor: destination index i reads source floor(i * in / out).
func (cpu *Backend) ResizeNearest(x *tensor.Tensor, outH, outW int) *tensor.Tensor {
	requireRank("resize_nearest", x, 4, "[N,C,H,W]")
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("resize_nearest: invalid output size %dx%d", outH, outW))
	}
	N, C, H, W := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	out := alloc("resize_nearest", tensor.Shape{N, C, outH, outW})
	in, o := x.Data(), out.Data()

	rows := make([]int, outH)
	for i := range rows {
		rows[i] = min(int(float64(i)*float64(H)/float64(outH)), H-1)
	}
	cols := make([]int, outW)
	for i := range cols {
		cols[i] = min(int(float64(i)*float64(W)/float64(outW)), W-1)
	}

	parallel.ForBatch(N, C, outH*outW, func(n, c int) {
		plane := in[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := o[(n*C+c)*outH*outW : (n*C+c+1)*outH*outW]
		for oh, r := range rows {
			src := plane[r*W : (r+1)*W]
			for ow, q := range cols {
				dst[oh*outW+ow] = src[q]
			}
		}
	}, cpu.cfg)

	return out
}
