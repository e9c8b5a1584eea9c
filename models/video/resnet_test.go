// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package video

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

const testSeed = 1729

type constructor func(*rng.Generator, ...models.Option) (*VideoResNet, error)

var variants = []struct {
	name string
	fn   constructor
}{
	{"r3d_18", NewR3D18},
	{"mc3_18", NewMC318},
	{"r2plus1d_18", NewR2Plus1D18},
}

func build(t *testing.T, fn constructor, opts ...models.Option) *VideoResNet {
	t.Helper()
	m, err := fn(rng.New(testSeed), opts...)
	require.NoError(t, err)
	nn.Eval(m)
	return m
}

func TestOutputShape(t *testing.T) {
	x := tensor.Rand(rng.New(testSeed), tensor.Shape{1, 3, 4, 32, 32})
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := build(t, v.fn, models.WithNumClasses(50))
			out := m.Forward(x)
			assert.Equal(t, tensor.Shape{1, 50}, out.Shape())
		})
	}
}

func TestScriptable(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := build(t, v.fn)
			g, err := script.Compile(m)
			require.NoError(t, err)
			assert.Positive(t, g.OpCounts()["conv3d"])
		})
	}
}

func TestConvFactorization(t *testing.T) {
	weight := func(m *VideoResNet, path string) tensor.Shape {
		sd := nn.StateDict(m)
		w, ok := sd[path]
		require.True(t, ok, "missing %s", path)
		return w.Shape()
	}

	r3d := build(t, NewR3D18)
	assert.Equal(t, tensor.Shape{64, 3, 3, 7, 7}, weight(r3d, "stem.0.weight"))
	assert.Equal(t, tensor.Shape{128, 64, 3, 3, 3}, weight(r3d, "layer2.0.conv1.0.weight"))

	mc3 := build(t, NewMC318)
	assert.Equal(t, tensor.Shape{64, 64, 3, 3, 3}, weight(mc3, "layer1.0.conv1.0.weight"))
	assert.Equal(t, tensor.Shape{128, 64, 1, 3, 3}, weight(mc3, "layer2.0.conv1.0.weight"))
	assert.Equal(t, tensor.Shape{128, 64, 1, 1, 1}, weight(mc3, "layer2.0.downsample.0.weight"))

	r21 := build(t, NewR2Plus1D18)
	assert.Equal(t, tensor.Shape{45, 3, 1, 7, 7}, weight(r21, "stem.0.weight"))
	assert.Equal(t, tensor.Shape{64, 45, 3, 1, 1}, weight(r21, "stem.3.weight"))
	assert.Equal(t, tensor.Shape{144, 64, 1, 3, 3}, weight(r21, "layer1.0.conv1.0.0.weight"))
	assert.Equal(t, tensor.Shape{64, 144, 3, 1, 1}, weight(r21, "layer1.0.conv1.0.3.weight"))
}

func TestTemporalStride(t *testing.T) {
	x := tensor.Rand(rng.New(testSeed), tensor.Shape{1, 3, 8, 32, 32})

	r3d := build(t, NewR3D18)
	features, err := models.NewIntermediateLayers(r3d, map[string]string{"layer2": "out"})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 128, 4, 8, 8}, features.Forward(x)["out"].Shape())

	mc3 := build(t, NewMC318)
	features, err = models.NewIntermediateLayers(mc3, map[string]string{"layer2": "out"})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 128, 8, 8, 8}, features.Forward(x)["out"].Shape())
}

func TestInitialization(t *testing.T) {
	m := build(t, NewR3D18)
	sd := nn.StateDict(m)
	for _, v := range sd["fc.bias"].Data() {
		assert.Zero(t, v)
	}
	for _, v := range sd["layer1.0.conv1.1.weight"].Data() {
		assert.Equal(t, float32(1), v)
	}
}

func TestConvKindString(t *testing.T) {
	assert.Equal(t, "conv3d", Conv3DSimple.String())
	assert.Equal(t, "conv2plus1d", Conv2Plus1D.String())
	assert.Equal(t, "ConvKind(9)", ConvKind(9).String())
}

func TestInvalidOptions(t *testing.T) {
	_, err := NewR3D18(rng.New(testSeed), models.WithNumClasses(0))
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
