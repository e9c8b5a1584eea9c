package nn

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

func smallNet(g *rng.Generator, backend *cpu.Backend) *Sequential {
	return NewSequential(
		NewConv2D(g, backend, ConvConfig{In: 3, Out: 4, Kernel: Pair(3), Padding: Pair(1), Bias: true}),
		NewBatchNorm(backend, 4),
		NewReLU(backend),
		NewAdaptiveAvgPool2D(backend, 1, 1),
		NewFlatten(1),
		NewDropout(g, 0.5),
		NewLinear(g, backend, 4, 2),
	)
}

func TestFans(t *testing.T) {
	in, out := Fans(tensor.Shape{64, 3, 7, 7})
	assert.Equal(t, 3*49, in)
	assert.Equal(t, 64*49, out)

	in, out = Fans(tensor.Shape{10, 20})
	assert.Equal(t, 20, in)
	assert.Equal(t, 10, out)

	assert.Panics(t, func() { Fans(tensor.Shape{5}) })
}

func TestDefaultInitBounds(t *testing.T) {
	g := rng.New(1)
	conv := NewConv2D(g, cpu.New(), ConvConfig{In: 8, Out: 16, Kernel: Pair(3), Bias: true})

	bound := float32(1 / math.Sqrt(8*9))
	for _, p := range conv.OwnParameters() {
		for _, v := range p.Tensor().Data() {
			require.True(t, v >= -bound && v <= bound, "value %v outside ±%v", v, bound)
		}
	}
}

func TestKaimingNormalStd(t *testing.T) {
	g := rng.New(3)
	w := tensor.Zeros(tensor.Shape{256, 64, 3, 3})
	KaimingNormal(g, w, FanOut, ReLUGain)

	var sum, sq float64
	for _, v := range w.Data() {
		sum += float64(v)
		sq += float64(v) * float64(v)
	}
	n := float64(w.NumElements())
	mean := sum / n
	std := math.Sqrt(sq/n - mean*mean)

	assert.InDelta(t, 0, mean, 0.002)
	assert.InDelta(t, math.Sqrt(2.0/(256*9)), std, 0.002)
}

func TestConstructionIsDeterministic(t *testing.T) {
	backend := cpu.New()
	a := StateDict(smallNet(rng.New(1729), backend))
	b := StateDict(smallNet(rng.New(1729), backend))
	c := StateDict(smallNet(rng.New(1730), backend))

	require.Equal(t, len(a), len(b))
	for k, v := range a {
		assert.True(t, v.Equal(b[k]), "parameter %s differs between equal seeds", k)
	}
	assert.False(t, a["0.weight"].Equal(c["0.weight"]))
}

func TestStateDictKeys(t *testing.T) {
	net := smallNet(rng.New(1), cpu.New())

	assert.Equal(t, []string{
		"0.weight", "0.bias",
		"1.weight", "1.bias", "1.running_mean", "1.running_var",
		"6.weight", "6.bias",
	}, StateDictKeys(net))

	// Buffers are state but not learned parameters.
	assert.Len(t, Parameters(net), 6)
	assert.Equal(t, 4*3*9+4+4+4+2*4+2, NumParameters(net))
}

func TestLoadStateDict(t *testing.T) {
	backend := cpu.New()
	src := smallNet(rng.New(1), backend)
	dst := smallNet(rng.New(2), backend)

	sd := StateDict(src)
	require.NoError(t, LoadStateDict(dst, sd))
	for k, v := range StateDict(dst) {
		assert.True(t, v.Equal(sd[k]), "parameter %s not loaded", k)
	}

	// The returned dict is a copy.
	sd["0.weight"].Data()[0] = 42
	assert.NotEqual(t, float32(42), src.At(0).(*Conv2D).Weight().Tensor().Data()[0])
}

func TestLoadStateDict_Errors(t *testing.T) {
	backend := cpu.New()
	net := smallNet(rng.New(1), backend)
	before := StateDict(net)

	missing := StateDict(net)
	delete(missing, "6.bias")
	err := LoadStateDict(net, missing)
	require.ErrorIs(t, err, ErrStateDict)
	assert.Contains(t, err.Error(), "missing keys: 6.bias")

	extra := StateDict(net)
	extra["7.weight"] = tensor.Zeros(tensor.Shape{1})
	err = LoadStateDict(net, extra)
	require.ErrorIs(t, err, ErrStateDict)
	assert.Contains(t, err.Error(), "unexpected keys: 7.weight")

	wrong := StateDict(smallNet(rng.New(5), backend))
	wrong["0.weight"] = tensor.Zeros(tensor.Shape{4, 3, 1, 1})
	err = LoadStateDict(net, wrong)
	require.ErrorIs(t, err, ErrStateDict)
	assert.Contains(t, err.Error(), "shape mismatch: 0.weight")

	// A failed load leaves the model untouched.
	for k, v := range StateDict(net) {
		assert.True(t, v.Equal(before[k]), "parameter %s modified by failed load", k)
	}
}

func TestEvalPropagates(t *testing.T) {
	net := smallNet(rng.New(1), cpu.New())
	Train(net)
	Walk(net, func(path string, l Layer) {
		if tr, ok := l.(interface{ Training() bool }); ok {
			assert.True(t, tr.Training(), "layer %q", path)
		}
	})
	Eval(net)
	Walk(net, func(path string, l Layer) {
		if tr, ok := l.(interface{ Training() bool }); ok {
			assert.False(t, tr.Training(), "layer %q", path)
		}
	})
}

func TestForwardShapeAndEvalDeterminism(t *testing.T) {
	g := rng.New(1729)
	net := smallNet(g, cpu.New())
	Eval(net)
	x := tensor.Rand(rng.New(9), tensor.Shape{2, 3, 8, 8})

	y1 := net.Forward(x)
	y2 := net.Forward(x)
	assert.True(t, y1.Shape().Equal(tensor.Shape{2, 2}))
	assert.True(t, y1.Equal(y2))
}

func TestBatchNormTrainingUpdatesRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm(backend, 1)
	bn.SetTraining(true)

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4, 1})
	require.NoError(t, err)
	y := bn.Forward(x)

	// Batch mean 2.5, biased variance 1.25, unbiased 5/3.
	assert.InDelta(t, 0.25, bn.RunningMean().Tensor().Data()[0], 1e-6)
	assert.InDelta(t, 0.9+0.1*5.0/3.0, bn.RunningVar().Tensor().Data()[0], 1e-6)
	assert.InDelta(t, (1-2.5)/math.Sqrt(1.25+1e-5), y.Data()[0], 1e-5)

	bn.SetTraining(false)
	before := bn.RunningMean().Tensor().Clone()
	bn.Forward(x)
	assert.True(t, before.Equal(bn.RunningMean().Tensor()), "eval must not update running stats")
}

func TestDropout(t *testing.T) {
	g := rng.New(4)
	d := NewDropout(g, 0.5)
	x := tensor.Ones(tensor.Shape{1000})

	assert.Same(t, x, d.Forward(x), "eval-mode dropout is the identity")

	d.SetTraining(true)
	g.Reset(11)
	a := d.Forward(x)
	g.Reset(11)
	b := d.Forward(x)
	assert.True(t, a.Equal(b), "mask must be reproducible after reset")

	kept := 0
	for _, v := range a.Data() {
		if v != 0 {
			assert.Equal(t, float32(2), v)
			kept++
		}
	}
	assert.InDelta(t, 500, kept, 60)
}

func TestSlice(t *testing.T) {
	net := smallNet(rng.New(1), cpu.New())

	s, err := Slice(net, "2")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Same(t, net.At(0), s.At(0))

	_, err = Slice(net, "missing")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	outer := NewSequential()
	inner := smallNet(rng.New(1), cpu.New())
	outer.AddNamed("features", inner)

	assert.Same(t, inner.At(1), Lookup(outer, "features.1"))
	assert.Nil(t, Lookup(outer, "features.9"))
}

func TestSequentialDuplicateNamePanics(t *testing.T) {
	s := NewSequential()
	s.AddNamed("a", NewIdentity())
	assert.Panics(t, func() { s.AddNamed("a", NewIdentity()) })
}

func TestScript(t *testing.T) {
	g := rng.New(1)
	backend := cpu.New()

	graph, err := script.Compile(smallNet(g, backend))
	require.NoError(t, err)
	assert.Equal(t, 1, graph.OpCounts()["conv2d"])
	assert.Equal(t, "6", graph.Nodes[len(graph.Nodes)-1].Scope)

	depthwise := NewSequential(NewConv2D(g, backend, ConvConfig{In: 8, Out: 8, Kernel: Pair(3), Groups: 8}))
	_, err = script.Compile(depthwise)
	assert.NoError(t, err)

	grouped := NewSequential(NewConv2D(g, backend, ConvConfig{In: 8, Out: 8, Kernel: Pair(3), Groups: 2}))
	_, err = script.Compile(grouped)
	require.Error(t, err)
	assert.True(t, errors.Is(err, script.ErrGroupedConv))

	var ce *script.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "0", ce.Scope)
}

type residual struct {
	Container
	conv *Conv2D
	bn   *BatchNorm
}

func (r *residual) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return script.Chain(b, in).Call("conv", r.conv).Call("bn", r.bn).Result()
}

func TestContainer(t *testing.T) {
	g := rng.New(5)
	backend := cpu.New()
	r := &residual{}
	r.conv = Register(&r.Container, "conv", NewConv2D(g, backend, ConvConfig{In: 2, Out: 2, Kernel: Pair(1)}))
	r.bn = Register(&r.Container, "bn", NewBatchNorm(backend, 2))

	assert.Equal(t, []string{"conv.weight", "bn.weight", "bn.bias", "bn.running_mean", "bn.running_var"}, StateDictKeys(r))
	assert.Same(t, r.bn, Lookup(r, "bn"))
	assert.Panics(t, func() { Register(&r.Container, "conv", NewReLU(backend)) })

	g2, err := script.Compile(r)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"conv2d": 1, "batch_norm": 1}, g2.OpCounts())
}
