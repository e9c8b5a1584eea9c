package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// channelLayout splits a [N, C, ...] tensor into batch, channels and the
// number of elements per channel plane.
func channelLayout(op string, x *tensor.Tensor) (int, int, int) {
	if x.Rank() < 2 {
		panic(fmt.Sprintf("%s: expected at least 2D input [N,C,...], got %dD", op, x.Rank()))
	}
	N, C := x.Dim(0), x.Dim(1)
	return N, C, x.NumElements() / (N * C)
}

// BatchNorm normalizes each channel with the given statistics:
//
//	y = (x - mean) / sqrt(var + eps) * gamma + beta
//
// Works for [N, C], [N, C, H, W] and [N, C, T, H, W] inputs. gamma and beta
// may be nil (affine disabled).
func (cpu *Backend) BatchNorm(x, mean, variance, gamma, beta *tensor.Tensor, eps float64) *tensor.Tensor {
	N, C, S := channelLayout("batchnorm", x)
	for _, p := range []*tensor.Tensor{mean, variance, gamma, beta} {
		if p != nil && p.NumElements() != C {
			panic(fmt.Sprintf("batchnorm: statistic has %d elements, expected %d", p.NumElements(), C))
		}
	}

	scale := make([]float32, C)
	shift := make([]float32, C)
	m, v := mean.Data(), variance.Data()
	for c := 0; c < C; c++ {
		inv := 1 / math.Sqrt(float64(v[c])+eps)
		g, b := 1.0, 0.0
		if gamma != nil {
			g = float64(gamma.Data()[c])
		}
		if beta != nil {
			b = float64(beta.Data()[c])
		}
		scale[c] = float32(g * inv)
		shift[c] = float32(b - float64(m[c])*g*inv)
	}

	out := alloc("batchnorm", x.Shape())
	in, o := x.Data(), out.Data()
	parallel.ForBatch(N, C, S, func(n, c int) {
		base := (n*C + c) * S
		sc, sh := scale[c], shift[c]
		for i := base; i < base+S; i++ {
			o[i] = float32(in[i]*sc) + sh
		}
	}, cpu.cfg)
	return out
}

// ChannelStats returns the per-channel mean and biased variance of x over
// every dimension except dim 1.
func (cpu *Backend) ChannelStats(x *tensor.Tensor) (mean, variance *tensor.Tensor) {
	N, C, S := channelLayout("channel_stats", x)
	mean = tensor.Zeros(tensor.Shape{C})
	variance = tensor.Zeros(tensor.Shape{C})
	in, m, v := x.Data(), mean.Data(), variance.Data()
	count := float64(N * S)

	parallel.For(C, N*S, func(c int) {
		sum := 0.0
		for n := 0; n < N; n++ {
			for _, val := range in[(n*C+c)*S : (n*C+c+1)*S] {
				sum += float64(val)
			}
		}
		mu := sum / count
		sq := 0.0
		for n := 0; n < N; n++ {
			for _, val := range in[(n*C+c)*S : (n*C+c+1)*S] {
				d := float64(val) - mu
				sq += d * d
			}
		}
		m[c] = float32(mu)
		v[c] = float32(sq / count)
	}, cpu.cfg)
	return mean, variance
}
