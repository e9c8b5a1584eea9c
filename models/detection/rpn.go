// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detection

import (
	"math"
	"sort"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// RPNHead predicts an objectness logit and four box deltas per anchor at
// every location of a pyramid level.
type RPNHead struct {
	nn.Container
	conv      *nn.Conv2D
	clsLogits *nn.Conv2D
	bboxPred  *nn.Conv2D
	be        *cpu.Backend
}

func newRPNHead(g *rng.Generator, be *cpu.Backend, in, numAnchors int) *RPNHead {
	h := &RPNHead{be: be}
	h.conv = nn.Register(&h.Container, "conv", nn.NewConv2D(g, be, nn.ConvConfig{
		In: in, Out: in, Kernel: nn.Pair(3), Padding: nn.Pair(1), Bias: true,
	}))
	h.clsLogits = nn.Register(&h.Container, "cls_logits", nn.NewConv2D(g, be, nn.ConvConfig{
		In: in, Out: numAnchors, Kernel: nn.Pair(1), Bias: true,
	}))
	h.bboxPred = nn.Register(&h.Container, "bbox_pred", nn.NewConv2D(g, be, nn.ConvConfig{
		In: in, Out: numAnchors * 4, Kernel: nn.Pair(1), Bias: true,
	}))
	for _, c := range []*nn.Conv2D{h.conv, h.clsLogits, h.bboxPred} {
		nn.Normal(g, c.Weight().Tensor(), 0, 0.01)
		nn.Constant(c.Bias().Tensor(), 0)
	}
	return h
}

// Forward returns the [N, A, H, W] logits and [N, 4A, H, W] deltas of one
// level.
func (h *RPNHead) Forward(x *tensor.Tensor) (logits, deltas *tensor.Tensor) {
	t := h.be.ReLU(h.conv.Forward(x))
	return h.clsLogits.Forward(t), h.bboxPred.Forward(t)
}

// Script lowers the objectness branch of the head.
func (h *RPNHead) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).Call("conv", h.conv).Op("relu").Call("cls_logits", h.clsLogits).Result()
}

// RegionProposalNetwork scores the anchors of every pyramid level and
// keeps the best non-overlapping boxes as proposals.
type RegionProposalNetwork struct {
	nn.Container
	head    *RPNHead
	anchors *anchorGenerator
	coder   boxCoder
	cfg     Config
	be      *cpu.Backend
}

func newRPN(g *rng.Generator, be *cpu.Backend, cfg Config) *RegionProposalNetwork {
	anchors := newAnchorGenerator(cfg.AnchorSizes, cfg.AspectRatios)
	r := &RegionProposalNetwork{anchors: anchors, coder: newBoxCoder(1, 1, 1, 1), cfg: cfg, be: be}
	r.head = nn.Register(&r.Container, "head", newRPNHead(g, be, fpnChannels, anchors.numAnchors()))
	return r
}

// Script fails: proposals depend on data-dependent suppression.
func (r *RegionProposalNetwork) Script(b *script.Builder, _ script.Value) (script.Value, error) {
	return script.Value{}, b.Unsupported("region proposals")
}

// levelPrediction holds one level's per-image predictions flattened in
// anchor order: location-major, anchor-minor.
type levelPrediction struct {
	scores  []float32 // [N][HWA]
	deltas  []float32 // [N][HWA*4]
	anchors *tensor.Tensor
	count   int // anchors per image
}

// flatten reorders [N, A, H, W] logits and [N, 4A, H, W] deltas to the
// location-major order of the anchor grid.
func flatten(logits, deltas *tensor.Tensor) ([]float32, []float32) {
	N, A, H, W := logits.Dim(0), logits.Dim(1), logits.Dim(2), logits.Dim(3)
	l, d := logits.Data(), deltas.Data()
	scores := make([]float32, N*H*W*A)
	boxes := make([]float32, N*H*W*A*4)
	for n := range N {
		for a := range A {
			for y := range H {
				for x := range W {
					dst := ((n*H+y)*W+x)*A + a
					scores[dst] = l[((n*A+a)*H+y)*W+x]
					for k := range 4 {
						boxes[dst*4+k] = d[(((n*A+a)*4+k)*H+y)*W+x]
					}
				}
			}
		}
	}
	return scores, boxes
}

// Propose returns the [K, 4] proposals of every image in the batch.
func (r *RegionProposalNetwork) Propose(images imageList, features []*tensor.Tensor) []*tensor.Tensor {
	levels := make([]levelPrediction, len(features))
	for i, f := range features {
		logits, deltas := r.head.Forward(f)
		scores, boxes := flatten(logits, deltas)
		h, w := f.Dim(2), f.Dim(3)
		levels[i] = levelPrediction{
			scores:  scores,
			deltas:  boxes,
			anchors: r.anchors.grid(i, h, w, images.height(), images.width()),
			count:   h * w * r.anchors.numAnchors(),
		}
	}

	out := make([]*tensor.Tensor, len(images.sizes))
	for n, size := range images.sizes {
		out[n] = r.filter(levels, n, size)
	}
	return out
}

// filter keeps the top-scoring anchors of each level, decodes them and
// applies clipping, size filtering and per-level NMS.
func (r *RegionProposalNetwork) filter(levels []levelPrediction, n int, size [2]int) *tensor.Tensor {
	var (
		boxes  []float32
		scores []float32
		lvl    []int
	)
	for li, lp := range levels {
		s := lp.scores[n*lp.count : (n+1)*lp.count]
		top := topK(s, r.cfg.RPNPreNMSTopN)

		deltas := make([]float32, 0, len(top)*4)
		for _, i := range top {
			deltas = append(deltas, lp.deltas[(n*lp.count+i)*4:(n*lp.count+i+1)*4]...)
		}
		refs := r.be.GatherRows(lp.anchors, top)
		decoded := r.coder.decode(tensor.View(deltas, tensor.Shape{len(top), 4}), refs)

		boxes = append(boxes, decoded.Data()...)
		for _, i := range top {
			scores = append(scores, sigmoid(s[i]))
			lvl = append(lvl, li)
		}
	}

	all := r.be.ClipBoxes(tensor.View(boxes, tensor.Shape{len(scores), 4}), size[0], size[1])
	keep := r.be.RemoveSmallBoxes(all, r.cfg.RPNMinSize)
	all = r.be.GatherRows(all, keep)
	kept := tensor.View(gather(scores, keep), tensor.Shape{len(keep)})
	keepNMS := r.be.BatchedNMS(all, kept, gatherInts(lvl, keep), r.cfg.RPNNMSThresh)
	if len(keepNMS) > r.cfg.RPNPostNMSTopN {
		keepNMS = keepNMS[:r.cfg.RPNPostNMSTopN]
	}
	return r.be.GatherRows(all, keepNMS)
}

// topK returns the indices of the k largest values, largest first. Ties
// keep index order.
func topK(values []float32, k int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] > values[idx[b]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func gather(values []float32, idx []int) []float32 {
	out := make([]float32, len(idx))
	for i, k := range idx {
		out[i] = values[k]
	}
	return out
}

func gatherInts(values []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, k := range idx {
		out[i] = values[k]
	}
	return out
}
