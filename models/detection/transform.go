// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detection

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// imageList is a padded batch together with the size of each image
// before padding.
type imageList struct {
	tensors *tensor.Tensor // [N, 3, H, W]
	sizes   [][2]int       // (height, width) per image
}

func (l imageList) height() int { return l.tensors.Dim(2) }
func (l imageList) width() int  { return l.tensors.Dim(3) }

// batchImages normalizes each image into a zero-initialized batch whose
// spatial size is the largest image size rounded up to a multiple of
// cfg.SizeDivisible. The inputs are only read.
func batchImages(images []*tensor.Tensor, cfg Config) imageList {
	if len(images) == 0 {
		panic("detection: no images")
	}
	var maxH, maxW int
	sizes := make([][2]int, len(images))
	for i, img := range images {
		if img.Rank() != 3 || img.Dim(0) != 3 {
			panic(fmt.Sprintf("detection: image %d: expected [3,H,W], got %v", i, img.Shape()))
		}
		sizes[i] = [2]int{img.Dim(1), img.Dim(2)}
		maxH, maxW = max(maxH, img.Dim(1)), max(maxW, img.Dim(2))
	}
	H := roundUp(maxH, cfg.SizeDivisible)
	W := roundUp(maxW, cfg.SizeDivisible)

	batch := tensor.Zeros(tensor.Shape{len(images), 3, H, W})
	dst := batch.Data()
	for i, img := range images {
		h, w := sizes[i][0], sizes[i][1]
		src := img.Data()
		for c := range 3 {
			mean, std := cfg.ImageMean[c], cfg.ImageStd[c]
			for y := range h {
				row := src[(c*h+y)*w : (c*h+y+1)*w]
				out := dst[((i*3+c)*H+y)*W:]
				for x, v := range row {
					out[x] = (v - mean) / std
				}
			}
		}
	}
	return imageList{tensors: batch, sizes: sizes}
}

func roundUp(n, multiple int) int {
	return (n + multiple - 1) / multiple * multiple
}
