package tensor

import (
	"math"
	"testing"

	"github.com/born-ml/visionzoo/internal/rng"
)

func TestShapeBasics(t *testing.T) {
	s := Shape{2, 3, 4}
	if s.NumElements() != 24 {
		t.Errorf("NumElements() = %d, want 24", s.NumElements())
	}
	strides := s.ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Errorf("stride[%d] = %d, want %d", i, strides[i], want[i])
		}
	}
	if s.String() != "(2, 3, 4)" {
		t.Errorf("String() = %q", s.String())
	}
	if (Shape{}).NumElements() != 1 {
		t.Error("scalar shape should have one element")
	}
	if err := (Shape{2, -1}).Validate(); err == nil {
		t.Error("expected error for negative dimension")
	}
	if err := (Shape{0, 4}).Validate(); err != nil {
		t.Errorf("empty shape should be valid: %v", err)
	}
}

func TestParseShape(t *testing.T) {
	tests := []struct {
		in   string
		want Shape
		err  bool
	}{
		{"1x3x224x224", Shape{1, 3, 224, 224}, false},
		{"1,3,300,300", Shape{1, 3, 300, 300}, false},
		{"(1, 3, 4, 112, 112)", Shape{1, 3, 4, 112, 112}, false},
		{"", nil, true},
		{"1xax2", nil, true},
		{"1x0", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseShape(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParseShape(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseShape(%q) error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseShape(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromSliceAndAt(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if x.At(1, 2) != 6 {
		t.Errorf("At(1, 2) = %v, want 6", x.At(1, 2))
	}
	x.Set(10, 0, 1)
	if x.Data()[1] != 10 {
		t.Errorf("Set did not write through, got %v", x.Data()[1])
	}
	if _, err := FromSlice([]float32{1, 2}, Shape{3}); err == nil {
		t.Error("expected error for element count mismatch")
	}
}

func TestAtOutOfBoundsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Zeros(Shape{2, 2}).At(2, 0)
}

func TestReshapeSharesStorage(t *testing.T) {
	x := Arange(12)
	y := x.Reshape(3, -1)
	if !y.Shape().Equal(Shape{3, 4}) {
		t.Fatalf("Reshape(3, -1) shape = %v", y.Shape())
	}
	y.Set(100, 2, 3)
	if x.Data()[11] != 100 {
		t.Error("reshape should share storage")
	}
	f := Zeros(Shape{2, 3, 4, 5}).Flatten(1)
	if !f.Shape().Equal(Shape{2, 60}) {
		t.Errorf("Flatten(1) shape = %v", f.Shape())
	}
}

func TestCloneIsDeep(t *testing.T) {
	x := Ones(Shape{4})
	y := x.Clone()
	y.Data()[0] = 5
	if x.Data()[0] != 1 {
		t.Error("clone must not share storage")
	}
}

func TestIndex(t *testing.T) {
	x := Arange(6).Reshape(2, 3)
	row := x.Index(1)
	if !row.Shape().Equal(Shape{3}) || row.At(0) != 3 {
		t.Errorf("Index(1) = %v %v", row.Shape(), row.Data())
	}
}

// TestRandDeterministic tests that Rand depends only on the generator state.
func TestRandDeterministic(t *testing.T) {
	a := Rand(rng.New(1729), Shape{1, 3, 8, 8})
	b := Rand(rng.New(1729), Shape{1, 3, 8, 8})
	if !a.Equal(b) {
		t.Fatal("Rand with the same seed must be identical")
	}
	for _, v := range a.Data() {
		if v < 0 || v >= 1 {
			t.Fatalf("Rand value %v outside [0, 1)", v)
		}
	}
	c := Rand(rng.New(1730), Shape{1, 3, 8, 8})
	if a.Equal(c) {
		t.Fatal("different seeds should give different tensors")
	}
}

func TestMaxAbsDiff(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2, 3}, Shape{3})
	b, _ := FromSlice([]float32{1, 2.5, 2}, Shape{3})
	d, err := MaxAbsDiff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(d-1) > 1e-9 {
		t.Errorf("MaxAbsDiff = %v, want 1", d)
	}
	if _, err := MaxAbsDiff(a, Zeros(Shape{2})); err == nil {
		t.Error("expected shape mismatch error")
	}
	if AllClose(a, b, 0.5) {
		t.Error("AllClose should be false")
	}
}

func TestReductions(t *testing.T) {
	a, _ := FromSlice([]float32{-1, 4, 2}, Shape{3})
	if a.Sum() != 5 {
		t.Errorf("Sum() = %v", a.Sum())
	}
	if a.Max() != 4 || a.Argmax() != 1 {
		t.Errorf("Max/Argmax = %v/%d", a.Max(), a.Argmax())
	}
	s := Add(a, Scale(a, 2))
	if s.At(1) != 12 {
		t.Errorf("Add/Scale = %v", s.Data())
	}
}
