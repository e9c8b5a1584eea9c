// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
)

type constructor func(*rng.Generator, ...models.Option) (*Model, error)

func build(t *testing.T, fn constructor, opts ...models.Option) *Model {
	t.Helper()
	m, err := fn(rng.New(1729), opts...)
	require.NoError(t, err)
	nn.Eval(m)
	return m
}

func TestOutputShape(t *testing.T) {
	tests := []struct {
		name  string
		fn    constructor
		heavy bool
	}{
		{"fcn_resnet50", NewFCNResNet50, false},
		{"deeplabv3_resnet50", NewDeepLabV3ResNet50, false},
		{"fcn_resnet101", NewFCNResNet101, true},
		{"deeplabv3_resnet101", NewDeepLabV3ResNet101, true},
	}
	x := tensor.Rand(rng.New(1), tensor.Shape{1, 3, 48, 40})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.heavy && testing.Short() {
				t.Skip("skipping resnet101 backbone in short mode")
			}
			m := build(t, tt.fn, models.WithNumClasses(50))
			out := m.Forward(x)
			require.Len(t, out, 1)
			assert.Equal(t, tensor.Shape{1, 50, 48, 40}, out[KeyOut].Shape())
		})
	}
}

func TestAuxHead(t *testing.T) {
	m := build(t, NewFCNResNet50, models.WithNumClasses(7), models.WithAuxLoss(true))
	require.True(t, m.HasAux())

	out := m.Forward(tensor.Rand(rng.New(1), tensor.Shape{2, 3, 32, 32}))
	require.Len(t, out, 2)
	assert.Equal(t, tensor.Shape{2, 7, 32, 32}, out[KeyOut].Shape())
	assert.Equal(t, tensor.Shape{2, 7, 32, 32}, out[KeyAux].Shape())

	keys := nn.StateDictKeys(m)
	assert.Contains(t, keys, "aux_classifier.0.weight")
	assert.Contains(t, keys, "aux_classifier.4.bias")
}

func TestDefaultNumClasses(t *testing.T) {
	m := build(t, NewFCNResNet50)
	assert.False(t, m.HasAux())
	out := m.Forward(tensor.Rand(rng.New(1), tensor.Shape{1, 3, 16, 16}))
	assert.Equal(t, tensor.Shape{1, DefaultNumClasses, 16, 16}, out[KeyOut].Shape())
}

func TestStateDictKeys(t *testing.T) {
	keys := nn.StateDictKeys(build(t, NewDeepLabV3ResNet50))
	for _, k := range []string{
		"backbone.conv1.weight",
		"backbone.layer4.2.conv3.weight",
		"classifier.0.convs.0.0.weight",
		"classifier.0.convs.3.1.running_var",
		"classifier.0.convs.4.1.weight",
		"classifier.0.project.0.weight",
		"classifier.4.bias",
	} {
		assert.Contains(t, keys, k)
	}
	assert.NotContains(t, keys, "backbone.fc.weight")
	assert.NotContains(t, keys, "aux_classifier.0.weight")
}

func TestScriptReturnsMapping(t *testing.T) {
	for _, fn := range []constructor{NewFCNResNet50, NewDeepLabV3ResNet50} {
		_, err := script.Compile(build(t, fn))
		require.ErrorIs(t, err, script.ErrMappingOutput)
	}
}

func TestInvalidOptions(t *testing.T) {
	_, err := NewFCNResNet50(rng.New(1), models.WithNumClasses(-1))
	require.ErrorIs(t, err, models.ErrInvalidConfig)
}
