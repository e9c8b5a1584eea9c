// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
	"github.com/born-ml/visionzoo/zoo"
)

// smallConfig runs the golden comparisons on a 64x64 input.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.InputShape = []int{1, 3, 64, 64}
	return cfg
}

func lookup(t *testing.T, name string, shape ...int) zoo.Descriptor {
	t.Helper()
	d, ok := zoo.Lookup(name)
	require.True(t, ok, "%s is not registered", name)
	if len(shape) > 0 {
		d.InputShape = shape
	}
	return d
}

func build(t *testing.T, h *Harness, name string, opts ...models.Option) nn.Module {
	t.Helper()
	m, err := h.BuildModel(lookup(t, name), opts...)
	require.NoError(t, err)
	mod, ok := m.(nn.Module)
	require.True(t, ok)
	return mod
}

func TestRunSynced(t *testing.T) {
	g := rng.New(1)
	draw := func(g *rng.Generator) float64 { return g.Float64() }

	a := RunSynced(g, StandardSeed, draw)
	g.Float64()
	b := RunSynced(g, StandardSeed, draw)
	assert.Equal(t, a, b)
	assert.Equal(t, uint64(StandardSeed), g.Seed())

	Sync(g, 7)
	assert.Zero(t, g.Draws())
}

func TestBuildModelIsDeterministic(t *testing.T) {
	h := New(smallConfig())
	a := build(t, h, "squeezenet1_1", models.WithNumClasses(10))
	b := build(t, New(smallConfig()), "squeezenet1_1", models.WithNumClasses(10))

	sa, sb := nn.StateDict(a), nn.StateDict(b)
	require.Equal(t, len(sa), len(sb))
	for k, v := range sa {
		assert.True(t, v.Equal(sb[k]), k)
	}
}

func TestBuildModelWithoutConstructor(t *testing.T) {
	_, err := New(DefaultConfig()).BuildModel(zoo.Descriptor{Name: "empty"})
	assert.ErrorIs(t, err, ErrNoConstructor)
}

func TestInputIsSynchronized(t *testing.T) {
	h := New(DefaultConfig())
	a := h.Input(tensor.Shape{2, 3})
	h.Generator().Float64()
	b := h.Input(tensor.Shape{2, 3})
	assert.True(t, a.Equal(b))
}

func TestCheckScriptable(t *testing.T) {
	h := New(smallConfig())
	squeeze := build(t, h, "squeezenet1_1")
	require.NoError(t, CheckScriptable("squeezenet1_1", squeeze, true))

	err := CheckScriptable("squeezenet1_1", squeeze, false)
	var verdict *VerdictError
	require.ErrorAs(t, err, &verdict)
	assert.False(t, verdict.Expected)
	assert.Nil(t, verdict.Cause)

	googlenet := build(t, h, "googlenet")
	require.NoError(t, CheckScriptable("googlenet", googlenet, false))
	err = CheckScriptable("googlenet", googlenet, true)
	require.ErrorAs(t, err, &verdict)
	assert.True(t, errors.Is(err, script.ErrAuxOutputs), "got %v", err)
}

func TestCheckHubScript(t *testing.T) {
	h := New(smallConfig())
	googlenet := build(t, h, "googlenet")

	assert.NoError(t, CheckHubScript("googlenet", googlenet))
	// Not a hub model: nothing is checked.
	assert.NoError(t, CheckHubScript("googlenet_custom", googlenet))
	// Hub expects resnet18 to compile.
	assert.Error(t, CheckHubScript("resnet18", googlenet))
}

func TestCheckCorrectness(t *testing.T) {
	h := New(smallConfig())
	m := build(t, h, "squeezenet1_1", models.WithNumClasses(50))

	y := h.Run(m, h.Input(tensor.Shape{1, 3, 64, 64})).Data()
	expected := map[int]float64{3: float64(y[3]), 17: float64(y[17]), 42: float64(y[42])}
	require.NoError(t, h.CheckCorrectness(m, expected))

	expected[17] += 1e-5
	err := h.CheckCorrectness(m, expected)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Len(t, mismatch.Mismatches, 1)
	assert.Equal(t, 17, mismatch.Mismatches[0].Index)
	assert.Equal(t, Epsilon, mismatch.Tolerance)

	err = h.CheckCorrectness(m, map[int]float64{50: 0})
	require.Error(t, err)
	assert.False(t, errors.As(err, &mismatch))
}

func TestCapture(t *testing.T) {
	h := New(smallConfig())
	m := build(t, h, "squeezenet1_1", models.WithNumClasses(50))

	got, err := h.Capture(m, []int{0, 49})
	require.NoError(t, err)
	y := h.Run(m, h.Input(tensor.Shape{1, 3, 64, 64})).Data()
	assert.Equal(t, Truncate(float64(y[0])), got[0])
	assert.Equal(t, Truncate(float64(y[49])), got[49])

	_, err = h.Capture(m, []int{50})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.InDelta(t, 1.234567, Truncate(1.2345678), 1e-12)
	assert.InDelta(t, -0.002852, Truncate(-0.0028529), 1e-12)
	assert.Zero(t, Truncate(4e-7))
}

func TestGoldenRegression(t *testing.T) {
	file, err := LoadGoldenFile(filepath.Join("testdata", "golden.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, file.Golden)

	for _, g := range file.Golden {
		t.Run(g.Model, func(t *testing.T) {
			require.True(t, g.Captured(), "golden values not captured")
			cfg := DefaultConfig()
			cfg.Seed = g.Seed
			h := New(cfg)
			m := build(t, h, g.Model)
			require.NoError(t, h.CheckGolden(m, g))
		})
	}
}

// The reference scenarios: a 1000-class build at the standard seed
// compiles, returns (1, 1000) and matches its golden table.
func TestClassificationGolden(t *testing.T) {
	file, err := LoadGoldenFile(filepath.Join("testdata", "golden.toml"))
	require.NoError(t, err)

	for _, name := range []string{"alexnet", "resnet18"} {
		t.Run(name, func(t *testing.T) {
			g, ok := file.Lookup(name)
			require.True(t, ok)
			require.True(t, g.Captured())
			assert.Equal(t, uint64(StandardSeed), g.Seed)
			assert.Equal(t, StandardInputShape, g.Shape())

			h := New(DefaultConfig())
			m := build(t, h, name)
			require.NoError(t, CheckScriptable(name, m, true))
			out := h.Run(m, h.Input(g.Shape()))
			require.NoError(t, CheckClassification(out, 1000))
			require.NoError(t, h.CheckGolden(m, g))

			// A different seed must not reproduce the table.
			cfg := DefaultConfig()
			cfg.Seed = StandardSeed + 1
			other := New(cfg)
			var mismatch *MismatchError
			assert.ErrorAs(t, other.CheckGolden(build(t, other, name), g), &mismatch)
		})
	}
}

func TestCheckGoldenUsesRecordedShape(t *testing.T) {
	small := smallConfig()
	h := New(small)
	m := build(t, h, "resnet18", models.WithNumClasses(50))
	values, err := h.Capture(m, []int{0, 7, 49})
	require.NoError(t, err)

	file := &GoldenFile{}
	file.Set("resnet18", small.Seed, small.InputShape, values)
	g, ok := file.Lookup("resnet18")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{1, 3, 64, 64}, g.Shape())

	// The standard config draws 224x224 inputs; the golden still runs on
	// the shape it was captured with.
	std := New(DefaultConfig())
	require.NoError(t, std.CheckGolden(m, g))

	assert.Error(t, std.CheckGolden(m, Golden{Model: "resnet18", Indices: []int{0}}))
}

func TestGoldenFileRoundTrip(t *testing.T) {
	file, err := LoadGoldenFile(filepath.Join("testdata", "golden.toml"))
	require.NoError(t, err)
	g, ok := file.Lookup("resnet18")
	require.True(t, ok)
	assert.Equal(t, []int{885}, g.Indices)
	assert.True(t, g.Captured())

	file.Set("resnet18", StandardSeed, StandardInputShape, map[int]float64{885: -0.014311, 65: -0.115954})
	file.Set("mobilenet_v2", 7, tensor.Shape{1, 3, 96, 96}, map[int]float64{1: 0.5})
	path := filepath.Join(t.TempDir(), "golden.toml")
	require.NoError(t, file.Save(path))

	loaded, err := LoadGoldenFile(path)
	require.NoError(t, err)
	require.Len(t, loaded.Golden, 3)
	assert.Equal(t, "alexnet", loaded.Golden[0].Model)
	assert.Equal(t, "mobilenet_v2", loaded.Golden[1].Model)
	assert.Equal(t, tensor.Shape{1, 3, 96, 96}, loaded.Golden[1].Shape())

	g, ok = loaded.Lookup("resnet18")
	require.True(t, ok)
	assert.Equal(t, []int{65, 885}, g.Indices)
	assert.Equal(t, map[int]float64{65: -0.115954, 885: -0.014311}, g.Table())
}

func TestLoadGoldenFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err := LoadGoldenFile(write("count.toml", "[[Golden]]\nModel = \"a\"\nSeed = 1\nIndices = [1, 2]\nValues = [0.5]\n"))
	assert.Error(t, err)

	_, err = LoadGoldenFile(write("dup.toml", "[[Golden]]\nModel = \"a\"\nIndices = [1]\n[[Golden]]\nModel = \"a\"\nIndices = [2]\n"))
	assert.Error(t, err)

	_, err = LoadGoldenFile(write("unknown.toml", "[[Golden]]\nModel = \"a\"\nIndices = [1]\nTolerance = 1\n"))
	assert.Error(t, err)

	_, err = LoadGoldenFile(write("shape.toml", "[[Golden]]\nModel = \"a\"\nInputShape = [3, 224, 224]\nIndices = [1]\n"))
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	path := filepath.Join(t.TempDir(), "zoo.toml")
	require.NoError(t, os.WriteFile(path, []byte("Seed = 7\nWorkers = 4\n"), 0o600))
	cfg := DefaultConfig()
	require.NoError(t, LoadConfig(path, &cfg))
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, Epsilon, cfg.Epsilon)
	assert.Equal(t, []int{1, 3, 224, 224}, cfg.InputShape)

	data, err := MarshalConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	back := Config{}
	require.NoError(t, LoadConfig(path, &back))
	assert.Equal(t, cfg, back)

	require.NoError(t, os.WriteFile(path, []byte("Sede = 7\n"), 0o600))
	assert.Error(t, LoadConfig(path, &cfg))

	require.NoError(t, os.WriteFile(path, []byte("Workers = 0\n"), 0o600))
	assert.Error(t, LoadConfig(path, &cfg))
}

func TestShapeChecks(t *testing.T) {
	var shapeErr *ShapeError

	assert.NoError(t, CheckClassification(tensor.Zeros(tensor.Shape{1, 50}), 50))
	assert.ErrorAs(t, CheckClassification(tensor.Zeros(tensor.Shape{1, 1000}), 50), &shapeErr)
	assert.NoError(t, CheckTrailingDim(tensor.Zeros(tensor.Shape{2, 50}), 50))
	assert.ErrorAs(t, CheckTrailingDim(tensor.Zeros(tensor.Shape{50, 2}), 50), &shapeErr)

	seg := map[string]*tensor.Tensor{"out": tensor.Zeros(tensor.Shape{1, 50, 30, 40})}
	assert.NoError(t, CheckSegmentation(seg, 50, 30, 40))
	assert.ErrorAs(t, CheckSegmentation(seg, 50, 40, 30), &shapeErr)
	assert.Error(t, CheckSegmentation(map[string]*tensor.Tensor{}, 50, 30, 40))
}

func TestInputSnapshot(t *testing.T) {
	x := tensor.Ones(tensor.Shape{3, 4, 4})
	images := []*tensor.Tensor{x}
	before := Snapshot(images)
	require.NoError(t, before.Verify(images))

	assert.Error(t, before.Verify([]*tensor.Tensor{x.Clone()}))
	assert.Error(t, before.Verify(nil))

	x.Set(2, 0, 0, 0)
	assert.Error(t, before.Verify(images))
}

func TestRunCase(t *testing.T) {
	tests := []struct {
		name   string
		shape  []int
		output tensor.Shape
		heavy  bool
	}{
		{"squeezenet1_1", []int{1, 3, 64, 64}, tensor.Shape{1, CaseNumClasses}, false},
		{"resnet18", []int{1, 3, 64, 64}, tensor.Shape{1, CaseNumClasses}, false},
		{"r3d_18", []int{1, 3, 4, 32, 32}, tensor.Shape{1, CaseNumClasses}, false},
		{"fcn_resnet50", []int{1, 3, 48, 48}, tensor.Shape{1, CaseNumClasses, 48, 48}, true},
		{"fasterrcnn_resnet50_fpn", []int{3, 64, 64}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.heavy && testing.Short() {
				t.Skip("skipping large model in short mode")
			}
			d := lookup(t, tt.name, tt.shape...)
			res := New(DefaultConfig()).RunCase(d)
			require.NoError(t, res.Err)
			assert.Equal(t, d.Scriptable, res.Scriptable)
			if d.Family == zoo.Detection {
				assert.Len(t, res.Detections, 1)
				return
			}
			assert.Equal(t, tt.output, res.Output)
		})
	}
}

func TestRunCaseReportsFailures(t *testing.T) {
	h := New(DefaultConfig())

	ignoresClasses := zoo.Descriptor{
		Name:       "fixed_classes",
		Family:     zoo.Classification,
		InputShape: tensor.Shape{1, 3, 64, 64},
		New: func(g *rng.Generator, _ ...models.Option) (nn.Layer, error) {
			return models.NewSqueezeNet11(g, models.WithNumClasses(10))
		},
	}
	var shapeErr *ShapeError
	res := h.RunCase(ignoresClasses)
	require.ErrorAs(t, res.Err, &shapeErr)
	assert.Equal(t, "fixed_classes", shapeErr.Model)

	// A hub name whose model does not compile as the table expects.
	wrongVerdict := lookup(t, "googlenet", 1, 3, 64, 64)
	wrongVerdict.Name = "resnet18"
	var verdict *VerdictError
	assert.ErrorAs(t, h.RunCase(wrongVerdict).Err, &verdict)

	// Classifiers must return exactly (1, classes); a batch of two has the
	// right trailing dimension but the wrong shape.
	batched := lookup(t, "squeezenet1_1", 2, 3, 64, 64)
	res = h.RunCase(batched)
	require.ErrorAs(t, res.Err, &shapeErr)
	assert.Equal(t, tensor.Shape{2, CaseNumClasses}, shapeErr.Got)

	wrongInput := lookup(t, "squeezenet1_1", 1, 1, 64, 64)
	res = h.RunCase(wrongInput)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panic")
}

func TestMemoryEfficientDenseNet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping densenet equivalence in short mode")
	}
	require.Len(t, DenseNetModels, 4)
	h := New(DefaultConfig())
	for _, name := range DenseNetModels {
		t.Run(name, func(t *testing.T) {
			diff, err := h.CheckMemoryEfficientDenseNet(lookup(t, name), 64)
			require.NoError(t, err)
			assert.Less(t, diff, EquivalenceTolerance)
		})
	}
}

func TestRunCaseAllClassifiers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping classifier sweep in short mode")
	}
	descs := zoo.ClassificationModels()
	require.Len(t, descs, 35)
	h := New(DefaultConfig())
	for _, d := range descs {
		t.Run(d.Name, func(t *testing.T) {
			side := 64
			if d.Name == "inception_v3" {
				side = 96
			}
			d.InputShape = tensor.Shape{1, 3, side, side}
			res := h.RunCase(d)
			require.NoError(t, res.Err)
			assert.Equal(t, tensor.Shape{1, CaseNumClasses}, res.Output)
			assert.Equal(t, d.Scriptable, res.Scriptable)
		})
	}
}

func TestResNetDilation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping resnet50 builds in short mode")
	}
	combos := DilationCombos()
	require.Len(t, combos, 8)
	h := New(DefaultConfig())
	for _, flags := range combos {
		t.Run(flagString(flags), func(t *testing.T) {
			require.NoError(t, h.CheckResNetDilation(flags, 64))
		})
	}
}

func TestDilationCombos(t *testing.T) {
	combos := DilationCombos()
	assert.Equal(t, [3]bool{false, false, false}, combos[0])
	assert.Equal(t, [3]bool{true, true, true}, combos[7])
	seen := map[[3]bool]bool{}
	for _, c := range combos {
		seen[c] = true
	}
	assert.Len(t, seen, 8)
}

func TestSweep(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.Workers = 2
	descs := []zoo.Descriptor{
		lookup(t, "squeezenet1_1", 1, 3, 64, 64),
		lookup(t, "mobilenet_v2", 1, 3, 64, 64),
		lookup(t, "shufflenet_v2_x0_5", 1, 3, 64, 64),
		lookup(t, "r3d_18", 1, 3, 4, 32, 32),
	}
	results, err := Sweep(context.Background(), cfg, descs, nil)
	require.NoError(t, err)
	require.Len(t, results, len(descs))
	for i, r := range results {
		assert.Equal(t, descs[i].Name, r.Model)
		assert.NoError(t, r.Err, r.Model)
		assert.Equal(t, tensor.Shape{1, CaseNumClasses}, r.Output)
	}

	// Every worker starts from the same seed, so results match a serial run.
	serial := New(cfg).RunCase(descs[0])
	assert.Equal(t, serial.Output, results[0].Output)
}

func TestSweepCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Sweep(ctx, DefaultConfig(), []zoo.Descriptor{lookup(t, "squeezenet1_1", 1, 3, 64, 64)}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err = Sweep(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}
