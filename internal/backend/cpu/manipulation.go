package cpu

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// splitAt returns the element counts before and after dim.
func splitAt(shape tensor.Shape, dim int) (outer, inner int) {
	outer, inner = 1, 1
	for i, d := range shape {
		switch {
		case i < dim:
			outer *= d
		case i > dim:
			inner *= d
		}
	}
	return outer, inner
}

func normDim(op string, dim, rank int) int {
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		panic(fmt.Sprintf("%s: dimension out of range for rank %d", op, rank))
	}
	return dim
}

// Cat concatenates tensors along dim. All other dimensions must match.
func (cpu *Backend) Cat(tensors []*tensor.Tensor, dim int) *tensor.Tensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	dim = normDim("cat", dim, len(first))

	total := 0
	for i, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) {
			panic(fmt.Sprintf("cat: tensor %d has rank %d, expected %d", i, len(s), len(first)))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: tensor %d shape %v incompatible with %v at dim %d", i, s, first, d))
			}
		}
		total += s[dim]
	}

	shape := first.Clone()
	shape[dim] = total
	out := alloc("cat", shape)
	o := out.Data()
	outer, inner := splitAt(shape, dim)

	pos := 0
	for o1 := 0; o1 < outer; o1++ {
		for _, t := range tensors {
			block := t.Dim(dim) * inner
			copy(o[pos:pos+block], t.Data()[o1*block:(o1+1)*block])
			pos += block
		}
	}
	return out
}

// Narrow returns a copy of x restricted to [start, start+length) along dim.
func (cpu *Backend) Narrow(x *tensor.Tensor, dim, start, length int) *tensor.Tensor {
	dim = normDim("narrow", dim, x.Rank())
	size := x.Dim(dim)
	if start < 0 || length <= 0 || start+length > size {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for size %d", start, start+length, size))
	}
	shape := x.Shape().Clone()
	shape[dim] = length
	out := alloc("narrow", shape)
	outer, inner := splitAt(x.Shape(), dim)
	in, o := x.Data(), out.Data()
	for o1 := 0; o1 < outer; o1++ {
		src := in[(o1*size+start)*inner : (o1*size+start+length)*inner]
		copy(o[o1*length*inner:(o1+1)*length*inner], src)
	}
	return out
}

// Chunk splits x into n equal parts along dim.
func (cpu *Backend) Chunk(x *tensor.Tensor, n, dim int) []*tensor.Tensor {
	dim = normDim("chunk", dim, x.Rank())
	size := x.Dim(dim)
	if n <= 0 || size%n != 0 {
		panic(fmt.Sprintf("chunk: size %d not divisible into %d parts", size, n))
	}
	parts := make([]*tensor.Tensor, n)
	step := size / n
	for i := range parts {
		parts[i] = cpu.Narrow(x, dim, i*step, step)
	}
	return parts
}

// ChannelShuffle interleaves channel groups of a [N, C, H, W] tensor:
// channel g*(C/groups)+k moves to k*groups+g.
func (cpu *Backend) ChannelShuffle(x *tensor.Tensor, groups int) *tensor.Tensor {
	requireRank("channel_shuffle", x, 4, "[N,C,H,W]")
	N, C, H, W := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	if groups <= 0 || C%groups != 0 {
		panic(fmt.Sprintf("channel_shuffle: %d channels not divisible by %d groups", C, groups))
	}
	per := C / groups
	plane := H * W
	out := alloc("channel_shuffle", x.Shape())
	in, o := x.Data(), out.Data()
	for n := 0; n < N; n++ {
		for g := 0; g < groups; g++ {
			for k := 0; k < per; k++ {
				src := (n*C + g*per + k) * plane
				dst := (n*C + k*groups + g) * plane
				copy(o[dst:dst+plane], in[src:src+plane])
			}
		}
	}
	return out
}
