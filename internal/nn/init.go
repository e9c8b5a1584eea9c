package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// FanMode selects which fan a Kaiming initializer preserves.
type FanMode int

// Fan modes.
const (
	FanIn FanMode = iota
	FanOut
)

// ReLUGain is the recommended gain for ReLU nonlinearities.
var ReLUGain = math.Sqrt2

// Fans returns fan_in and fan_out of a weight shape.
//
// For a weight of shape [out, in, k...] the receptive field is the product
// of the kernel dimensions:
//
//	fan_in  = in  * prod(k)
//	fan_out = out * prod(k)
func Fans(shape tensor.Shape) (fanIn, fanOut int) {
	if len(shape) < 2 {
		panic(fmt.Sprintf("init: fan in and fan out need at least 2 dimensions, got %v", shape))
	}
	field := 1
	for _, d := range shape[2:] {
		field *= d
	}
	return shape[1] * field, shape[0] * field
}

func fan(shape tensor.Shape, mode FanMode) int {
	in, out := Fans(shape)
	if mode == FanOut {
		return out
	}
	return in
}

// Uniform fills t with draws from U(lo, hi).
func Uniform(g *rng.Generator, t *tensor.Tensor, lo, hi float64) {
	g.FillUniform(t.Data(), lo, hi)
}

// Normal fills t with draws from N(mean, std^2).
func Normal(g *rng.Generator, t *tensor.Tensor, mean, std float64) {
	g.FillNormal(t.Data(), mean, std)
}

// TruncNormal fills t with draws from N(mean, std^2) restricted to [a, b].
func TruncNormal(g *rng.Generator, t *tensor.Tensor, mean, std, a, b float64) {
	g.FillTruncNormal(t.Data(), mean, std, a, b)
}

// Constant fills t with v. It draws nothing from the generator.
func Constant(t *tensor.Tensor, v float32) {
	d := t.Data()
	for i := range d {
		d[i] = v
	}
}

// KaimingUniform fills t from U(-bound, bound) with
// bound = gain * sqrt(3 / fan).
func KaimingUniform(g *rng.Generator, t *tensor.Tensor, mode FanMode, gain float64) {
	bound := gain * math.Sqrt(3/float64(fan(t.Shape(), mode)))
	Uniform(g, t, -bound, bound)
}

// KaimingNormal fills t from N(0, std^2) with std = gain / sqrt(fan).
func KaimingNormal(g *rng.Generator, t *tensor.Tensor, mode FanMode, gain float64) {
	std := gain / math.Sqrt(float64(fan(t.Shape(), mode)))
	Normal(g, t, 0, std)
}

// DefaultBound returns 1/sqrt(fan_in), the bound of the default uniform
// initialization of convolution and linear weights and biases.
func DefaultBound(weightShape tensor.Shape) float64 {
	in, _ := Fans(weightShape)
	return 1 / math.Sqrt(float64(in))
}

// defaultInit applies the default layer initialization: weight and bias
// are both drawn from U(-1/sqrt(fan_in), 1/sqrt(fan_in)), weight first.
func defaultInit(g *rng.Generator, weight, bias *Parameter) {
	bound := DefaultBound(weight.tensor.Shape())
	Uniform(g, weight.tensor, -bound, bound)
	if bias != nil {
		Uniform(g, bias.tensor, -bound, bound)
	}
}
