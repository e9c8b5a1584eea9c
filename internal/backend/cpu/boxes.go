package cpu

import (
	"fmt"
	"math"
	"sort"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Boxes are [K, 4] tensors in (x1, y1, x2, y2) corner form.

func requireBoxes(op string, boxes *tensor.Tensor) int {
	if boxes.Rank() != 2 || boxes.Dim(1) != 4 {
		panic(fmt.Sprintf("%s: expected boxes [K,4], got %v", op, boxes.Shape()))
	}
	return boxes.Dim(0)
}

func boxArea(b []float32) float32 {
	return (b[2] - b[0]) * (b[3] - b[1])
}

func iou(a, b []float32) float32 {
	w := min(a[2], b[2]) - max(a[0], b[0])
	h := min(a[3], b[3]) - max(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	return inter / (boxArea(a) + boxArea(b) - inter)
}

// BoxIoU returns the [N, M] matrix of intersection-over-union values.
func (cpu *Backend) BoxIoU(a, b *tensor.Tensor) *tensor.Tensor {
	N := requireBoxes("box_iou", a)
	M := requireBoxes("box_iou", b)
	out := alloc("box_iou", tensor.Shape{N, M})
	ad, bd, o := a.Data(), b.Data(), out.Data()
	parallel.For(N, M*8, func(i int) {
		for j := 0; j < M; j++ {
			o[i*M+j] = iou(ad[i*4:i*4+4], bd[j*4:j*4+4])
		}
	}, cpu.cfg)
	return out
}

// NMS performs greedy non-maximum suppression and returns the indices of
// kept boxes ordered by decreasing score. Equal scores keep input order.
func (cpu *Backend) NMS(boxes, scores *tensor.Tensor, threshold float32) []int {
	K := requireBoxes("nms", boxes)
	if scores.NumElements() != K {
		panic(fmt.Sprintf("nms: %d scores for %d boxes", scores.NumElements(), K))
	}
	s := scores.Data()
	order := make([]int, K)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return s[order[i]] > s[order[j]] })

	b := boxes.Data()
	suppressed := make([]bool, K)
	keep := make([]int, 0, K)
	for oi, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order[oi+1:] {
			if !suppressed[j] && iou(b[i*4:i*4+4], b[j*4:j*4+4]) > threshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// BatchedNMS runs NMS independently per category. Boxes of different
// categories never suppress each other.
func (cpu *Backend) BatchedNMS(boxes, scores *tensor.Tensor, categories []int, threshold float32) []int {
	K := requireBoxes("batched_nms", boxes)
	if len(categories) != K {
		panic(fmt.Sprintf("batched_nms: %d categories for %d boxes", len(categories), K))
	}
	if K == 0 {
		return nil
	}
	// Shift each category into its own disjoint coordinate range.
	maxCoord := float32(math.Inf(-1))
	for _, v := range boxes.Data() {
		maxCoord = max(maxCoord, v)
	}
	shifted := boxes.Clone()
	d := shifted.Data()
	for i, c := range categories {
		off := float32(c) * (maxCoord + 1)
		for k := 0; k < 4; k++ {
			d[i*4+k] += off
		}
	}
	return cpu.NMS(shifted, scores, threshold)
}

// ClipBoxes clamps box coordinates to an image of the given height and width.
func (cpu *Backend) ClipBoxes(boxes *tensor.Tensor, height, width int) *tensor.Tensor {
	requireBoxes("clip_boxes", boxes)
	out := boxes.Clone()
	d := out.Data()
	w, h := float32(width), float32(height)
	for i := 0; i < len(d); i += 4 {
		d[i] = min(max(d[i], 0), w)
		d[i+1] = min(max(d[i+1], 0), h)
		d[i+2] = min(max(d[i+2], 0), w)
		d[i+3] = min(max(d[i+3], 0), h)
	}
	return out
}

// RemoveSmallBoxes returns the indices of boxes whose sides are both at least
// minSize.
func (cpu *Backend) RemoveSmallBoxes(boxes *tensor.Tensor, minSize float32) []int {
	K := requireBoxes("remove_small_boxes", boxes)
	d := boxes.Data()
	keep := make([]int, 0, K)
	for i := 0; i < K; i++ {
		if d[i*4+2]-d[i*4] >= minSize && d[i*4+3]-d[i*4+1] >= minSize {
			keep = append(keep, i)
		}
	}
	return keep
}

// GatherRows returns the rows of a [K, ...] tensor at the given indices.
func (cpu *Backend) GatherRows(x *tensor.Tensor, idx []int) *tensor.Tensor {
	if x.Rank() == 0 {
		panic("gather_rows: scalar input")
	}
	shape := x.Shape().Clone()
	shape[0] = len(idx)
	row := 1
	for _, d := range shape[1:] {
		row *= d
	}
	out := alloc("gather_rows", shape)
	in, o := x.Data(), out.Data()
	for i, k := range idx {
		if k < 0 || k >= x.Dim(0) {
			panic(fmt.Sprintf("gather_rows: index %d out of range [0, %d)", k, x.Dim(0)))
		}
		copy(o[i*row:(i+1)*row], in[k*row:(k+1)*row])
	}
	return out
}

// RoIAlignParams configures RoIAlign.
type RoIAlignParams struct {
	OutH, OutW     int
	SpatialScale   float32
	SamplingRatio  int  // Samples per bin side; <= 0 means adaptive.
	PixelAlignment bool // Shift box coordinates by half a pixel.
}

// RoIAlign pools each region of interest into a fixed OutH x OutW grid by
// averaging bilinear samples.
//
// Feature shape: [N, C, H, W]
// RoI shape:     [K, 5] as (batch index, x1, y1, x2, y2) in image coordinates
// Output shape:  [K, C, OutH, OutW]
func (cpu *Backend) RoIAlign(features, rois *tensor.Tensor, p RoIAlignParams) *tensor.Tensor {
	requireRank("roi_align", features, 4, "[N,C,H,W]")
	if rois.Rank() != 2 || rois.Dim(1) != 5 {
		panic(fmt.Sprintf("roi_align: expected rois [K,5], got %v", rois.Shape()))
	}
	if p.OutH <= 0 || p.OutW <= 0 {
		panic(fmt.Sprintf("roi_align: invalid output size %dx%d", p.OutH, p.OutW))
	}
	N, C, H, W := features.Dim(0), features.Dim(1), features.Dim(2), features.Dim(3)
	K := rois.Dim(0)
	out := alloc("roi_align", tensor.Shape{K, C, p.OutH, p.OutW})
	f, r, o := features.Data(), rois.Data(), out.Data()

	for k := 0; k < K; k++ {
		if n := int(r[k*5]); n < 0 || n >= N {
			panic(fmt.Sprintf("roi_align: batch index %d out of range [0, %d)", n, N))
		}
	}

	var offset float32
	if p.PixelAlignment {
		offset = 0.5
	}

	parallel.ForBatch(K, C, p.OutH*p.OutW*16, func(k, c int) {
		roi := r[k*5 : k*5+5]
		n := int(roi[0])
		x0 := roi[1]*p.SpatialScale - offset
		y0 := roi[2]*p.SpatialScale - offset
		rw := roi[3]*p.SpatialScale - offset - x0
		rh := roi[4]*p.SpatialScale - offset - y0
		if !p.PixelAlignment {
			rw = max(rw, 1)
			rh = max(rh, 1)
		}
		binH := rh / float32(p.OutH)
		binW := rw / float32(p.OutW)
		gridH, gridW := p.SamplingRatio, p.SamplingRatio
		if gridH <= 0 {
			gridH = int(math.Ceil(float64(rh / float32(p.OutH))))
			gridW = int(math.Ceil(float64(rw / float32(p.OutW))))
		}
		count := float32(max(gridH*gridW, 1))

		plane := f[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := o[(k*C+c)*p.OutH*p.OutW : (k*C+c+1)*p.OutH*p.OutW]
		for ph := 0; ph < p.OutH; ph++ {
			for pw := 0; pw < p.OutW; pw++ {
				var sum float32
				for iy := 0; iy < gridH; iy++ {
					y := y0 + float32(ph)*binH + (float32(iy)+0.5)*binH/float32(gridH)
					for ix := 0; ix < gridW; ix++ {
						x := x0 + float32(pw)*binW + (float32(ix)+0.5)*binW/float32(gridW)
						sum += bilinearSample(plane, H, W, y, x)
					}
				}
				dst[ph*p.OutW+pw] = sum / count
			}
		}
	}, cpu.cfg)
	return out
}

// bilinearSample reads plane at a fractional position. Samples more than one
// pixel outside the plane read as zero; closer ones clamp to the border.
func bilinearSample(plane []float32, H, W int, y, x float32) float32 {
	if y < -1 || y > float32(H) || x < -1 || x > float32(W) {
		return 0
	}
	y = max(y, 0)
	x = max(x, 0)
	yl, xl := int(y), int(x)
	var yh, xh int
	if yl >= H-1 {
		yl, yh = H-1, H-1
		y = float32(yl)
	} else {
		yh = yl + 1
	}
	if xl >= W-1 {
		xl, xh = W-1, W-1
		x = float32(xl)
	} else {
		xh = xl + 1
	}
	ly, lx := y-float32(yl), x-float32(xl)
	hy, hx := 1-ly, 1-lx
	return hy*hx*plane[yl*W+xl] + hy*lx*plane[yl*W+xh] +
		ly*hx*plane[yh*W+xl] + ly*lx*plane[yh*W+xh]
}
