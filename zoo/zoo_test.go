// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package zoo

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/models"
)

func TestFamilies(t *testing.T) {
	assert.Len(t, ClassificationModels(), 35)
	assert.Equal(t, []string{"deeplabv3_resnet101", "deeplabv3_resnet50", "fcn_resnet101", "fcn_resnet50"},
		Names(SegmentationModels()))
	assert.Equal(t, []string{"fasterrcnn_resnet50_fpn"}, Names(DetectionModels()))
	assert.Equal(t, []string{"mc3_18", "r2plus1d_18", "r3d_18"}, Names(VideoModels()))

	total := 0
	for _, f := range Families {
		descs := ByFamily(f)
		names := Names(descs)
		assert.True(t, sort.StringsAreSorted(names), "%v not sorted", f)
		for _, d := range descs {
			assert.Equal(t, f, d.Family)
			assert.NotNil(t, d.New, d.Name)
			assert.NotEmpty(t, d.InputShape, d.Name)
		}
		total += len(descs)
	}
	assert.Equal(t, len(All()), total)
}

func TestLookup(t *testing.T) {
	d, ok := Lookup("inception_v3")
	require.True(t, ok)
	assert.Equal(t, Classification, d.Family)
	assert.Equal(t, []int{1, 3, 299, 299}, []int(d.InputShape))
	assert.False(t, d.Scriptable)

	d, ok = Lookup("r3d_18")
	require.True(t, ok)
	assert.Equal(t, []int{1, 3, 4, 112, 112}, []int(d.InputShape))

	_, ok = Lookup("lenet")
	assert.False(t, ok)
}

func TestHubTableMatchesRegistry(t *testing.T) {
	require.Len(t, HubModels, 12)
	for _, name := range HubNames() {
		d, ok := Lookup(name)
		require.True(t, ok, "hub model %s is not registered", name)
		want, _ := HubScriptable(name)
		assert.Equal(t, want, d.Scriptable, name)
	}
	_, ok := HubScriptable("resnet50")
	assert.False(t, ok)
}

func TestParseFamily(t *testing.T) {
	for _, f := range Families {
		got, err := ParseFamily(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFamily("audio")
	assert.Error(t, err)
	assert.Equal(t, "Family(7)", Family(7).String())
}

func TestConstructorsReturnFamilyInterfaces(t *testing.T) {
	opts := []models.Option{models.WithNumClasses(50)}

	d, _ := Lookup("squeezenet1_1")
	m, err := d.New(rng.New(1729), opts...)
	require.NoError(t, err)
	assert.Implements(t, (*nn.Module)(nil), m)

	d, _ = Lookup("r3d_18")
	m, err = d.New(rng.New(1729), opts...)
	require.NoError(t, err)
	assert.Implements(t, (*nn.Module)(nil), m)

	if testing.Short() {
		t.Skip("skipping large models in short mode")
	}
	d, _ = Lookup("fcn_resnet50")
	m, err = d.New(rng.New(1729), opts...)
	require.NoError(t, err)
	assert.Implements(t, (*Segmenter)(nil), m)

	d, _ = Lookup("fasterrcnn_resnet50_fpn")
	m, err = d.New(rng.New(1729), opts...)
	require.NoError(t, err)
	assert.Implements(t, (*Detector)(nil), m)
}

func TestConstructorErrorsPropagate(t *testing.T) {
	d, _ := Lookup("alexnet")
	m, err := d.New(rng.New(1729), models.WithNumClasses(-1))
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
	assert.Nil(t, m)
}
