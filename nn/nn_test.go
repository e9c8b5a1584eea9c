// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/visionzoo/models"
	"github.com/born-ml/visionzoo/nn"
	"github.com/born-ml/visionzoo/tensor"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	a, err := models.NewResNet18(tensor.NewGenerator(1), models.WithNumClasses(10))
	require.NoError(t, err)
	b, err := models.NewResNet18(tensor.NewGenerator(2), models.WithNumClasses(10))
	require.NoError(t, err)
	nn.Eval(a)
	nn.Eval(b)

	x := tensor.Rand(tensor.NewGenerator(3), tensor.Shape{1, 3, 32, 32})
	require.False(t, a.Forward(x).Equal(b.Forward(x)))

	path := filepath.Join(t.TempDir(), "resnet18.safetensors")
	require.NoError(t, nn.Save(a, path, map[string]string{"arch": "resnet18"}))

	meta, err := nn.Load(b, path)
	require.NoError(t, err)
	assert.Equal(t, "resnet18", meta["arch"])
	assert.True(t, a.Forward(x).Equal(b.Forward(x)))
}

func TestLoadRejectsOtherArchitecture(t *testing.T) {
	a, err := models.NewSqueezeNet11(tensor.NewGenerator(1))
	require.NoError(t, err)
	b, err := models.NewSqueezeNet10(tensor.NewGenerator(1))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "squeezenet.safetensors")
	require.NoError(t, nn.Save(a, path, nil))
	_, err = nn.Load(b, path)
	assert.Error(t, err)
}

func TestSliceAndLookup(t *testing.T) {
	m, err := models.NewResNet18(tensor.NewGenerator(1729))
	require.NoError(t, err)
	nn.Eval(m)

	features, err := nn.Slice(m, "layer4")
	require.NoError(t, err)
	out := features.Forward(tensor.Rand(tensor.NewGenerator(1729), tensor.Shape{1, 3, 64, 64}))
	assert.Equal(t, tensor.Shape{1, 512, 2, 2}, out.Shape())

	assert.NotNil(t, nn.Lookup(m, "layer2.1.bn2"))
	assert.Nil(t, nn.Lookup(m, "layer9"))

	_, err = nn.Slice(m, "missing")
	assert.Error(t, err)
}

func TestStateDictKeysOrder(t *testing.T) {
	m, err := models.NewResNet18(tensor.NewGenerator(1729))
	require.NoError(t, err)
	keys := nn.StateDictKeys(m)
	require.NotEmpty(t, keys)
	assert.Equal(t, "conv1.weight", keys[0])
	assert.Equal(t, "fc.bias", keys[len(keys)-1])
	assert.Len(t, nn.StateDict(m), len(keys))
	assert.Equal(t, 11689512, nn.NumParameters(m))
}
