package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/tensor"
)

func mk(shape tensor.Shape, data ...float32) *tensor.Tensor {
	t, err := tensor.FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

func assertClose(t *testing.T, want, got []float32, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length mismatch: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > tol {
			t.Errorf("[%d]: want %v, got %v", i, want[i], got[i])
		}
	}
}

// naiveConv2D is a direct seven-loop convolution used as a reference.
func naiveConv2D(input, weight, bias *tensor.Tensor, p ConvParams) *tensor.Tensor {
	p = p.normalized()
	N, H, W := input.Dim(0), input.Dim(2), input.Dim(3)
	COut, CInG, KH, KW := weight.Dim(0), weight.Dim(1), weight.Dim(2), weight.Dim(3)
	COutG := COut / p.Groups
	HOut := ConvOutputSize(H, KH, p.Stride[0], p.Padding[0], p.Dilation[0])
	WOut := ConvOutputSize(W, KW, p.Stride[1], p.Padding[1], p.Dilation[1])
	out := tensor.Zeros(tensor.Shape{N, COut, HOut, WOut})
	for n := 0; n < N; n++ {
		for co := 0; co < COut; co++ {
			g := co / COutG
			for oh := 0; oh < HOut; oh++ {
				for ow := 0; ow < WOut; ow++ {
					var sum float32
					if bias != nil {
						sum = bias.At(co)
					}
					for ci := 0; ci < CInG; ci++ {
						for kh := 0; kh < KH; kh++ {
							ih := oh*p.Stride[0] - p.Padding[0] + kh*p.Dilation[0]
							if ih < 0 || ih >= H {
								continue
							}
							for kw := 0; kw < KW; kw++ {
								iw := ow*p.Stride[1] - p.Padding[1] + kw*p.Dilation[1]
								if iw < 0 || iw >= W {
									continue
								}
								sum += weight.At(co, ci, kh, kw) * input.At(n, g*CInG+ci, ih, iw)
							}
						}
					}
					out.Set(sum, n, co, oh, ow)
				}
			}
		}
	}
	return out
}

func TestConv2D_BasicForward(t *testing.T) {
	backend := New()

	// 1 2 3
	// 4 5 6
	// 7 8 9
	input := mk(tensor.Shape{1, 1, 3, 3}, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	// Diagonal kernel sums the top-left and bottom-right of each patch.
	kernel := mk(tensor.Shape{1, 1, 2, 2}, 1, 0, 0, 1)

	out := backend.Conv2D(input, kernel, nil, ConvParams{})
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("expected shape (1, 1, 2, 2), got %v", out.Shape())
	}
	assertClose(t, []float32{6, 8, 12, 14}, out.Data(), 0)
}

func TestConv2D_WithPadding(t *testing.T) {
	backend := New()
	input := tensor.Ones(tensor.Shape{1, 1, 3, 3})
	kernel := tensor.Ones(tensor.Shape{1, 1, 3, 3})

	out := backend.Conv2D(input, kernel, nil, ConvParams{Padding: [2]int{1, 1}})

	// Each output counts the in-bounds taps of its 3x3 window.
	assertClose(t, []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}, out.Data(), 0)
}

func TestConv2D_Bias(t *testing.T) {
	backend := New()
	input := tensor.Ones(tensor.Shape{1, 1, 2, 2})
	kernel := mk(tensor.Shape{2, 1, 1, 1}, 1, 2)
	bias := mk(tensor.Shape{2}, 0.5, -1)

	out := backend.Conv2D(input, kernel, bias, ConvParams{})
	assertClose(t, []float32{1.5, 1.5, 1.5, 1.5, 1, 1, 1, 1}, out.Data(), 0)
}

func TestConv2D_MatchesReference(t *testing.T) {
	tests := []struct {
		name   string
		input  tensor.Shape
		weight tensor.Shape
		p      ConvParams
	}{
		{"3x3", tensor.Shape{2, 3, 9, 9}, tensor.Shape{4, 3, 3, 3}, ConvParams{Padding: [2]int{1, 1}}},
		{"strided", tensor.Shape{1, 3, 11, 10}, tensor.Shape{5, 3, 3, 3}, ConvParams{Stride: [2]int{2, 2}, Padding: [2]int{1, 1}}},
		{"dilated", tensor.Shape{1, 2, 12, 12}, tensor.Shape{3, 2, 3, 3}, ConvParams{Padding: [2]int{2, 2}, Dilation: [2]int{2, 2}}},
		{"pointwise", tensor.Shape{2, 6, 5, 5}, tensor.Shape{4, 6, 1, 1}, ConvParams{}},
		{"pointwise strided", tensor.Shape{1, 6, 7, 7}, tensor.Shape{4, 6, 1, 1}, ConvParams{Stride: [2]int{2, 2}}},
		{"grouped", tensor.Shape{1, 8, 6, 6}, tensor.Shape{8, 2, 3, 3}, ConvParams{Padding: [2]int{1, 1}, Groups: 4}},
		{"depthwise", tensor.Shape{2, 4, 7, 7}, tensor.Shape{4, 1, 3, 3}, ConvParams{Stride: [2]int{2, 2}, Padding: [2]int{1, 1}, Groups: 4}},
		{"depthwise multiplier", tensor.Shape{1, 3, 5, 5}, tensor.Shape{6, 1, 5, 5}, ConvParams{Padding: [2]int{2, 2}, Groups: 3}},
		{"asymmetric", tensor.Shape{1, 2, 8, 8}, tensor.Shape{3, 2, 1, 7}, ConvParams{Padding: [2]int{0, 3}}},
	}

	g := rng.New(7)
	backend := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tensor.Randn(g, tt.input)
			weight := tensor.Randn(g, tt.weight)
			bias := tensor.Randn(g, tensor.Shape{tt.weight[0]})

			want := naiveConv2D(input, weight, bias, tt.p)
			got := backend.Conv2D(input, weight, bias, tt.p)
			if !got.Shape().Equal(want.Shape()) {
				t.Fatalf("shape: want %v, got %v", want.Shape(), got.Shape())
			}
			assertClose(t, want.Data(), got.Data(), 1e-4)
		})
	}
}

func TestConv2D_ParallelIsBitwiseSequential(t *testing.T) {
	g := rng.New(11)
	input := tensor.Randn(g, tensor.Shape{2, 8, 16, 16})
	weight := tensor.Randn(g, tensor.Shape{16, 8, 3, 3})
	p := ConvParams{Padding: [2]int{1, 1}}

	par := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinWork: 1})
	seq := NewWithConfig(parallel.Sequential())

	a := par.Conv2D(input, weight, nil, p)
	b := seq.Conv2D(input, weight, nil, p)
	if !a.Equal(b) {
		t.Fatal("parallel and sequential convolution differ")
	}
}

func TestConv2D_ChannelMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New().Conv2D(tensor.Zeros(tensor.Shape{1, 3, 4, 4}), tensor.Zeros(tensor.Shape{2, 2, 3, 3}), nil, ConvParams{})
}

func TestConv2D_ZeroWeightPropagatesNonFinite(t *testing.T) {
	backend := New()
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	// Channel 0 is non-finite and only ever meets a zero weight.
	input := mk(tensor.Shape{1, 2, 1, 2}, nan, inf, 1, 2)
	kernel := mk(tensor.Shape{1, 2, 1, 1}, 0, 3)

	out := backend.Conv2D(input, kernel, nil, ConvParams{})
	for i, v := range out.Data() {
		if !math.IsNaN(float64(v)) {
			t.Errorf("[%d]: want NaN, got %v", i, v)
		}
	}
}

func TestConvOutputSize(t *testing.T) {
	tests := []struct {
		in, k, s, p, d, want int
	}{
		{224, 7, 2, 3, 1, 112},
		{56, 3, 1, 1, 1, 56},
		{28, 3, 1, 2, 2, 28},
		{7, 1, 1, 0, 1, 7},
		{224, 11, 4, 2, 1, 55},
	}
	for _, tt := range tests {
		if got := ConvOutputSize(tt.in, tt.k, tt.s, tt.p, tt.d); got != tt.want {
			t.Errorf("ConvOutputSize(%d, k=%d, s=%d, p=%d, d=%d) = %d, want %d",
				tt.in, tt.k, tt.s, tt.p, tt.d, got, tt.want)
		}
	}
}

func TestConv3D_Ones(t *testing.T) {
	backend := New()
	input := tensor.Ones(tensor.Shape{1, 1, 3, 3, 3})
	weight := tensor.Ones(tensor.Shape{1, 1, 3, 3, 3})

	out := backend.Conv3D(input, weight, nil, Conv3DParams{Padding: [3]int{1, 1, 1}})
	if !out.Shape().Equal(tensor.Shape{1, 1, 3, 3, 3}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	if got := out.At(0, 0, 1, 1, 1); got != 27 {
		t.Errorf("center: want 27, got %v", got)
	}
	if got := out.At(0, 0, 0, 0, 0); got != 8 {
		t.Errorf("corner: want 8, got %v", got)
	}
	if got := out.At(0, 0, 0, 1, 1); got != 18 {
		t.Errorf("face: want 18, got %v", got)
	}
}

func TestConv3D_Strided(t *testing.T) {
	backend := New()
	input := tensor.Ones(tensor.Shape{1, 2, 4, 8, 8})
	weight := tensor.Ones(tensor.Shape{3, 2, 1, 3, 3})
	bias := mk(tensor.Shape{3}, 0, 1, 2)

	out := backend.Conv3D(input, weight, bias, Conv3DParams{
		Stride:  [3]int{1, 2, 2},
		Padding: [3]int{0, 1, 1},
	})
	if !out.Shape().Equal(tensor.Shape{1, 3, 4, 4, 4}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	// Interior window: 2 channels * 9 taps, plus bias.
	if got := out.At(0, 2, 0, 1, 1); got != 20 {
		t.Errorf("want 20, got %v", got)
	}
}
