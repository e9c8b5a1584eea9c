// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detection

import (
	"math"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

const (
	roiOutputSize    = 7
	roiSamplingRatio = 2
	representation   = 1024
)

// roiPooler crops each proposal from the pyramid level that matches its
// size and resamples it to a fixed grid with RoIAlign.
type roiPooler struct {
	levels int // leading pyramid levels used for pooling
	be     *cpu.Backend
}

// levelFor maps a box to a pyramid level index using the FPN heuristic
// k = floor(4 + log2(sqrt(area) / 224)), clamped to [kMin, kMax] and
// offset by kMin.
func levelFor(box []float32, kMin, kMax int) int {
	s := math.Sqrt(float64((box[2] - box[0]) * (box[3] - box[1])))
	k := math.Floor(4 + math.Log2(s/224) + 1e-6)
	k = min(max(k, float64(kMin)), float64(kMax))
	return int(k) - kMin
}

// scaleOf returns the power-of-two ratio of a feature map to the image.
func scaleOf(featureH, imageH int) float64 {
	return math.Exp2(math.Round(math.Log2(float64(featureH) / float64(imageH))))
}

// pool returns [K, C, 7, 7] features for the proposals of every image,
// in image order then proposal order.
func (p roiPooler) pool(features []*tensor.Tensor, proposals []*tensor.Tensor, imageH int) *tensor.Tensor {
	scales := make([]float64, p.levels)
	for i := range scales {
		scales[i] = scaleOf(features[i].Dim(2), imageH)
	}
	kMin := int(-math.Round(math.Log2(scales[0])))
	kMax := int(-math.Round(math.Log2(scales[p.levels-1])))

	var rois []float32
	var levelOf []int
	for n, boxes := range proposals {
		d := boxes.Data()
		for k := range boxes.Dim(0) {
			box := d[k*4 : k*4+4]
			rois = append(rois, float32(n), box[0], box[1], box[2], box[3])
			levelOf = append(levelOf, levelFor(box, kMin, kMax))
		}
	}
	K := len(levelOf)
	C := features[0].Dim(1)
	out := tensor.Zeros(tensor.Shape{K, C, roiOutputSize, roiOutputSize})
	row := C * roiOutputSize * roiOutputSize
	dst := out.Data()

	for lvl := range p.levels {
		var idx []int
		var sel []float32
		for i, l := range levelOf {
			if l == lvl {
				idx = append(idx, i)
				sel = append(sel, rois[i*5:i*5+5]...)
			}
		}
		if len(idx) == 0 {
			continue
		}
		pooled := p.be.RoIAlign(features[lvl], tensor.View(sel, tensor.Shape{len(idx), 5}), cpu.RoIAlignParams{
			OutH:          roiOutputSize,
			OutW:          roiOutputSize,
			SpatialScale:  float32(scales[lvl]),
			SamplingRatio: roiSamplingRatio,
		}).Data()
		for j, i := range idx {
			copy(dst[i*row:(i+1)*row], pooled[j*row:(j+1)*row])
		}
	}
	return out
}

// TwoMLPHead is the two fully connected layers over pooled features.
type TwoMLPHead struct {
	nn.Container
	fc6, fc7 *nn.Linear
	be       *cpu.Backend
}

func newTwoMLPHead(g *rng.Generator, be *cpu.Backend, in, hidden int) *TwoMLPHead {
	h := &TwoMLPHead{be: be}
	h.fc6 = nn.Register(&h.Container, "fc6", nn.NewLinear(g, be, in, hidden))
	h.fc7 = nn.Register(&h.Container, "fc7", nn.NewLinear(g, be, hidden, hidden))
	return h
}

// Forward maps [K, C, 7, 7] features to [K, hidden].
func (h *TwoMLPHead) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = h.be.ReLU(h.fc6.Forward(x.Flatten(1)))
	return h.be.ReLU(h.fc7.Forward(x))
}

// Script lowers the head.
func (h *TwoMLPHead) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).
		Op("flatten", script.Attr{Key: "start_dim", Value: 1}).
		Call("fc6", h.fc6).Op("relu").
		Call("fc7", h.fc7).Op("relu").
		Result()
}

// FastRCNNPredictor outputs class logits and per-class box deltas.
type FastRCNNPredictor struct {
	nn.Container
	clsScore *nn.Linear
	bboxPred *nn.Linear
}

func newFastRCNNPredictor(g *rng.Generator, be *cpu.Backend, in, numClasses int) *FastRCNNPredictor {
	p := &FastRCNNPredictor{}
	p.clsScore = nn.Register(&p.Container, "cls_score", nn.NewLinear(g, be, in, numClasses))
	p.bboxPred = nn.Register(&p.Container, "bbox_pred", nn.NewLinear(g, be, in, numClasses*4))
	return p
}

// Forward returns [K, classes] logits and [K, classes*4] deltas.
func (p *FastRCNNPredictor) Forward(x *tensor.Tensor) (logits, deltas *tensor.Tensor) {
	return p.clsScore.Forward(x), p.bboxPred.Forward(x)
}

// Script lowers the classification branch.
func (p *FastRCNNPredictor) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Call("cls_score", p.clsScore, in)
}

// RoIHeads classifies proposals and refines their boxes.
type RoIHeads struct {
	nn.Container
	boxHead      *TwoMLPHead
	boxPredictor *FastRCNNPredictor
	pooler       roiPooler
	coder        boxCoder
	cfg          Config
	be           *cpu.Backend
}

func newRoIHeads(g *rng.Generator, be *cpu.Backend, numClasses int, cfg Config) *RoIHeads {
	h := &RoIHeads{
		pooler: roiPooler{levels: pyramidLevels - 1, be: be},
		coder:  newBoxCoder(10, 10, 5, 5),
		cfg:    cfg,
		be:     be,
	}
	h.boxHead = nn.Register(&h.Container, "box_head",
		newTwoMLPHead(g, be, fpnChannels*roiOutputSize*roiOutputSize, representation))
	h.boxPredictor = nn.Register(&h.Container, "box_predictor",
		newFastRCNNPredictor(g, be, representation, numClasses))
	return h
}

// Script fails: the heads consume a variable number of proposals.
func (h *RoIHeads) Script(b *script.Builder, _ script.Value) (script.Value, error) {
	return script.Value{}, b.Unsupported("roi heads")
}

// Detect runs the box branch over the proposals of every image and
// returns the post-processed detections.
func (h *RoIHeads) Detect(features []*tensor.Tensor, proposals []*tensor.Tensor, images imageList) []Result {
	counts := make([]int, len(proposals))
	total := 0
	for i, p := range proposals {
		counts[i] = p.Dim(0)
		total += counts[i]
	}
	results := make([]Result, len(proposals))
	if total == 0 {
		for i := range results {
			results[i] = emptyResult()
		}
		return results
	}

	pooled := h.pooler.pool(features, proposals, images.height())
	logits, deltas := h.boxPredictor.Forward(h.boxHead.Forward(pooled))
	scores := h.be.Softmax(logits)

	offset := 0
	for n, k := range counts {
		rows := make([]int, k)
		for i := range rows {
			rows[i] = offset + i
		}
		offset += k
		results[n] = h.postprocess(
			h.be.GatherRows(deltas, rows),
			h.be.GatherRows(scores, rows),
			proposals[n],
			images.sizes[n],
		)
	}
	return results
}

// postprocess decodes per-class boxes for one image, drops the background
// class, low scores and tiny boxes, and applies per-class NMS.
func (h *RoIHeads) postprocess(deltas, scores, proposals *tensor.Tensor, size [2]int) Result {
	K, C := scores.Dim(0), scores.Dim(1)
	boxes := h.be.ClipBoxes(h.coder.decode(deltas, proposals), size[0], size[1])
	bd, sd := boxes.Data(), scores.Data()

	var keep []int
	var labels []int
	var kept []float32
	for k := range K {
		for c := 1; c < C; c++ {
			if s := sd[k*C+c]; s > h.cfg.BoxScoreThresh {
				keep = append(keep, k*C+c)
				labels = append(labels, c)
				kept = append(kept, s)
			}
		}
	}
	candidates := h.be.GatherRows(tensor.View(bd, tensor.Shape{K * C, 4}), keep)

	small := h.be.RemoveSmallBoxes(candidates, h.cfg.BoxMinSize)
	candidates = h.be.GatherRows(candidates, small)
	labels = gatherInts(labels, small)
	kept = gather(kept, small)

	final := h.be.BatchedNMS(candidates, tensor.View(kept, tensor.Shape{len(kept)}), labels, h.cfg.BoxNMSThresh)
	if len(final) > h.cfg.BoxDetectionsPerImg {
		final = final[:h.cfg.BoxDetectionsPerImg]
	}
	finalScores := gather(kept, final)
	return Result{
		Boxes:  h.be.GatherRows(candidates, final),
		Scores: tensor.View(finalScores, tensor.Shape{len(finalScores)}),
		Labels: gatherInts(labels, final),
	}
}
