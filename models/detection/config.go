// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package detection provides Faster R-CNN with a ResNet-50 feature
// pyramid backbone.
//
// A detector takes a list of [3, H, W] images, which may differ in size,
// and returns one Result per image. The input images are never modified.
//
// Example:
//
//	m, err := detection.NewFasterRCNNResNet50FPN(g)
//	if err != nil {
//	    return err
//	}
//	nn.Eval(m)
//	for _, r := range m.Forward([]*tensor.Tensor{img}) {
//	    fmt.Println(r.Boxes.Shape(), r.Labels)
//	}
//
// Images are normalized and zero-padded to a common size divisible by 32;
// they are not rescaled.
package detection

import (
	"fmt"

	"github.com/born-ml/visionzoo/models"
)

// DefaultNumClasses is the COCO category count including background.
const DefaultNumClasses = 91

// Config holds the inference hyperparameters of Faster R-CNN.
type Config struct {
	// SizeDivisible is the multiple the batched image size is padded to.
	SizeDivisible int
	// ImageMean and ImageStd normalize each input channel.
	ImageMean [3]float32
	ImageStd  [3]float32

	// AnchorSizes holds one anchor size per pyramid level.
	AnchorSizes []float64
	// AspectRatios are height/width ratios shared by every level.
	AspectRatios []float64

	// RPNPreNMSTopN proposals per level enter NMS; RPNPostNMSTopN per
	// image leave it.
	RPNPreNMSTopN  int
	RPNPostNMSTopN int
	RPNNMSThresh   float32
	RPNMinSize     float32

	// BoxScoreThresh drops detections with a class score at or below it.
	BoxScoreThresh      float32
	BoxNMSThresh        float32
	BoxDetectionsPerImg int
	BoxMinSize          float32
}

// DefaultConfig returns the standard inference settings.
func DefaultConfig() Config {
	return Config{
		SizeDivisible:       32,
		ImageMean:           [3]float32{0.485, 0.456, 0.406},
		ImageStd:            [3]float32{0.229, 0.224, 0.225},
		AnchorSizes:         []float64{32, 64, 128, 256, 512},
		AspectRatios:        []float64{0.5, 1, 2},
		RPNPreNMSTopN:       1000,
		RPNPostNMSTopN:      1000,
		RPNNMSThresh:        0.7,
		RPNMinSize:          1e-3,
		BoxScoreThresh:      0.05,
		BoxNMSThresh:        0.5,
		BoxDetectionsPerImg: 100,
		BoxMinSize:          1e-2,
	}
}

// Validate reports settings the detector cannot run with.
func (c Config) Validate() error {
	switch {
	case c.SizeDivisible <= 0:
		return fmt.Errorf("%w: size divisor must be positive, got %d", models.ErrInvalidConfig, c.SizeDivisible)
	case len(c.AnchorSizes) != pyramidLevels:
		return fmt.Errorf("%w: need %d anchor sizes, got %d", models.ErrInvalidConfig, pyramidLevels, len(c.AnchorSizes))
	case len(c.AspectRatios) == 0:
		return fmt.Errorf("%w: no anchor aspect ratios", models.ErrInvalidConfig)
	case c.RPNPreNMSTopN <= 0 || c.RPNPostNMSTopN <= 0 || c.BoxDetectionsPerImg <= 0:
		return fmt.Errorf("%w: proposal and detection limits must be positive", models.ErrInvalidConfig)
	}
	for i, s := range c.ImageStd {
		if s <= 0 {
			return fmt.Errorf("%w: image std of channel %d must be positive", models.ErrInvalidConfig, i)
		}
	}
	for _, r := range c.AspectRatios {
		if r <= 0 {
			return fmt.Errorf("%w: aspect ratio %v must be positive", models.ErrInvalidConfig, r)
		}
	}
	return nil
}
