package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/visionzoo/internal/tensor"
)

func testBoxes() (*tensor.Tensor, *tensor.Tensor) {
	boxes := mk(tensor.Shape{3, 4},
		0, 0, 10, 10,
		1, 1, 11, 11,
		20, 20, 30, 30,
	)
	scores := mk(tensor.Shape{3}, 0.9, 0.8, 0.7)
	return boxes, scores
}

func TestBoxIoU(t *testing.T) {
	backend := New()
	boxes, _ := testBoxes()

	m := backend.BoxIoU(boxes, boxes)
	require.True(t, m.Shape().Equal(tensor.Shape{3, 3}))
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0, m.At(i, i), 1e-6)
	}
	assert.InDelta(t, 81.0/119.0, m.At(0, 1), 1e-6)
	assert.Equal(t, float32(0), m.At(0, 2))
}

func TestNMS(t *testing.T) {
	backend := New()
	boxes, scores := testBoxes()

	assert.Equal(t, []int{0, 2}, backend.NMS(boxes, scores, 0.5))
	assert.Equal(t, []int{0, 1, 2}, backend.NMS(boxes, scores, 0.7))
}

func TestNMS_OrdersByScore(t *testing.T) {
	backend := New()
	boxes, _ := testBoxes()
	scores := mk(tensor.Shape{3}, 0.1, 0.8, 0.9)

	assert.Equal(t, []int{2, 1}, backend.NMS(boxes, scores, 0.5))
}

func TestBatchedNMS(t *testing.T) {
	backend := New()
	boxes, scores := testBoxes()

	assert.Equal(t, []int{0, 1, 2}, backend.BatchedNMS(boxes, scores, []int{0, 1, 0}, 0.5))
	assert.Equal(t, []int{0, 2}, backend.BatchedNMS(boxes, scores, []int{3, 3, 3}, 0.5))
	assert.Empty(t, backend.BatchedNMS(tensor.Zeros(tensor.Shape{0, 4}), tensor.Zeros(tensor.Shape{0}), nil, 0.5))
}

func TestClipAndRemoveSmallBoxes(t *testing.T) {
	backend := New()
	boxes := mk(tensor.Shape{2, 4},
		-5, 2, 40, 8,
		3, 3, 3.5, 9,
	)

	clipped := backend.ClipBoxes(boxes, 20, 30)
	assert.Equal(t, []float32{0, 2, 30, 8, 3, 3, 3.5, 9}, clipped.Data())
	assert.Equal(t, float32(-5), boxes.At(0, 0), "input must not be modified")

	assert.Equal(t, []int{0}, backend.RemoveSmallBoxes(clipped, 1))
}

func TestGatherRows(t *testing.T) {
	backend := New()
	x := mk(tensor.Shape{3, 2}, 1, 2, 3, 4, 5, 6)

	out := backend.GatherRows(x, []int{2, 0})
	assert.Equal(t, []float32{5, 6, 1, 2}, out.Data())
}

func TestRoIAlign_Constant(t *testing.T) {
	backend := New()
	features := tensor.Full(tensor.Shape{1, 2, 8, 8}, 2)
	rois := mk(tensor.Shape{1, 5}, 0, 0, 0, 8, 8)

	out := backend.RoIAlign(features, rois, RoIAlignParams{OutH: 2, OutW: 2, SpatialScale: 1, SamplingRatio: 2})
	require.True(t, out.Shape().Equal(tensor.Shape{1, 2, 2, 2}))
	for _, v := range out.Data() {
		assert.InDelta(t, 2.0, v, 1e-6)
	}
}

func TestRoIAlign_Ramp(t *testing.T) {
	backend := New()
	features := tensor.Zeros(tensor.Shape{1, 1, 8, 8})
	for h := 0; h < 8; h++ {
		for w := 0; w < 8; w++ {
			features.Set(float32(w), 0, 0, h, w)
		}
	}
	// Scale 0.5 maps the 16x16 image box onto the 8x8 feature map.
	rois := mk(tensor.Shape{1, 5}, 0, 0, 0, 16, 16)

	out := backend.RoIAlign(features, rois, RoIAlignParams{OutH: 1, OutW: 2, SpatialScale: 0.5, SamplingRatio: 1})
	assert.InDeltaSlice(t, []float32{2, 6}, out.Data(), 1e-6)
}

func TestRoIAlign_BadBatchIndexPanics(t *testing.T) {
	backend := New()
	assert.Panics(t, func() {
		backend.RoIAlign(tensor.Zeros(tensor.Shape{1, 1, 4, 4}), mk(tensor.Shape{1, 5}, 3, 0, 0, 1, 1),
			RoIAlignParams{OutH: 1, OutW: 1, SpatialScale: 1})
	})
}
