// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"errors"
	"fmt"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
)

// ErrInvalidConfig is returned for option combinations an architecture
// cannot be built with.
var ErrInvalidConfig = errors.New("invalid model configuration")

// Options collects the keyword configuration accepted by the constructors.
// Each architecture reads the fields that apply to it and ignores the rest.
type Options struct {
	// NumClasses is the width of the classifier output (default 1000).
	NumClasses int

	// Backend runs the kernels (default cpu.New()).
	Backend *cpu.Backend

	// MemoryEfficient makes DenseNet layers compute their bottleneck from
	// the individual feature maps instead of their concatenation.
	MemoryEfficient bool

	// ReplaceStrideWithDilation replaces the stride of ResNet layer2,
	// layer3 and layer4 with dilation.
	ReplaceStrideWithDilation [3]bool

	// InvertedResidualSetting overrides the MobileNetV2 block table. Each
	// row is (expansion t, channels c, repeats n, stride s).
	InvertedResidualSetting [][]int

	// WidthMult scales MobileNetV2 channel counts (default 1).
	WidthMult float64

	// AuxLogits adds the auxiliary classifiers of GoogLeNet and
	// Inception v3 (default true).
	AuxLogits bool

	// AuxLoss adds the auxiliary head of segmentation models.
	AuxLoss bool
}

// Option configures a model constructor.
type Option func(*Options)

// WithNumClasses sets the number of output classes.
func WithNumClasses(n int) Option {
	return func(o *Options) { o.NumClasses = n }
}

// WithBackend sets the compute backend.
func WithBackend(b *cpu.Backend) Option {
	return func(o *Options) { o.Backend = b }
}

// WithMemoryEfficient toggles the memory-efficient DenseNet layers.
func WithMemoryEfficient(v bool) Option {
	return func(o *Options) { o.MemoryEfficient = v }
}

// WithReplaceStrideWithDilation sets the ResNet dilation flags for layer2,
// layer3 and layer4.
func WithReplaceStrideWithDilation(layer2, layer3, layer4 bool) Option {
	return func(o *Options) { o.ReplaceStrideWithDilation = [3]bool{layer2, layer3, layer4} }
}

// WithInvertedResidualSetting overrides the MobileNetV2 block table.
func WithInvertedResidualSetting(setting [][]int) Option {
	return func(o *Options) { o.InvertedResidualSetting = setting }
}

// WithWidthMult sets the MobileNetV2 width multiplier.
func WithWidthMult(m float64) Option {
	return func(o *Options) { o.WidthMult = m }
}

// WithAuxLogits toggles the auxiliary classifiers.
func WithAuxLogits(v bool) Option {
	return func(o *Options) { o.AuxLogits = v }
}

// WithAuxLoss toggles the auxiliary segmentation head.
func WithAuxLoss(v bool) Option {
	return func(o *Options) { o.AuxLoss = v }
}

// Resolve applies opts over the defaults and validates the common fields.
func Resolve(opts ...Option) (Options, error) {
	o := Options{NumClasses: 1000, WidthMult: 1, AuxLogits: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Backend == nil {
		o.Backend = cpu.New()
	}
	if o.NumClasses <= 0 {
		return o, fmt.Errorf("%w: num_classes must be positive, got %d", ErrInvalidConfig, o.NumClasses)
	}
	if o.WidthMult <= 0 {
		return o, fmt.Errorf("%w: width multiplier must be positive, got %v", ErrInvalidConfig, o.WidthMult)
	}
	return o, nil
}
