package nn

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// BatchNorm normalizes each channel of a [N, C, ...] input.
//
// In training mode it normalizes with the batch statistics and updates the
// running estimates:
//
//	running = (1 - momentum) * running + momentum * batch
//
// where the variance estimate is unbiased. In evaluation mode it uses the
// running estimates only, so the output depends on nothing but the input.
//
// The same layer serves 2D feature maps and 3D video volumes.
type BatchNorm struct {
	Base
	features    int
	eps         float64
	momentum    float64
	weight      *Parameter
	bias        *Parameter
	runningMean *Parameter
	runningVar  *Parameter
	backend     *cpu.Backend
}

// BatchNormOption configures a BatchNorm layer.
type BatchNormOption func(*BatchNorm)

// WithEps sets the variance epsilon (default 1e-5).
func WithEps(eps float64) BatchNormOption {
	return func(bn *BatchNorm) { bn.eps = eps }
}

// WithMomentum sets the running-statistics momentum (default 0.1).
func WithMomentum(m float64) BatchNormOption {
	return func(bn *BatchNorm) { bn.momentum = m }
}

// NewBatchNorm creates a batch norm layer with weight 1, bias 0, running
// mean 0 and running variance 1. It draws nothing from the generator.
func NewBatchNorm(backend *cpu.Backend, features int, opts ...BatchNormOption) *BatchNorm {
	if features <= 0 {
		panic(fmt.Sprintf("batchnorm: invalid feature count %d", features))
	}
	bn := &BatchNorm{
		features:    features,
		eps:         1e-5,
		momentum:    0.1,
		weight:      NewParameter("weight", tensor.Ones(tensor.Shape{features})),
		bias:        NewParameter("bias", tensor.Zeros(tensor.Shape{features})),
		runningMean: NewBuffer("running_mean", tensor.Zeros(tensor.Shape{features})),
		runningVar:  NewBuffer("running_var", tensor.Ones(tensor.Shape{features})),
		backend:     backend,
	}
	for _, opt := range opts {
		opt(bn)
	}
	return bn
}

// Weight returns the scale parameter.
func (bn *BatchNorm) Weight() *Parameter { return bn.weight }

// Bias returns the shift parameter.
func (bn *BatchNorm) Bias() *Parameter { return bn.bias }

// RunningMean returns the running mean buffer.
func (bn *BatchNorm) RunningMean() *Parameter { return bn.runningMean }

// RunningVar returns the running variance buffer.
func (bn *BatchNorm) RunningVar() *Parameter { return bn.runningVar }

// OwnParameters returns weight, bias and the two running buffers.
func (bn *BatchNorm) OwnParameters() []*Parameter {
	return []*Parameter{bn.weight, bn.bias, bn.runningMean, bn.runningVar}
}

// Forward normalizes x.
func (bn *BatchNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Rank() < 2 || x.Dim(1) != bn.features {
		panic(fmt.Sprintf("batchnorm: expected input [N,%d,...], got %v", bn.features, x.Shape()))
	}
	if !bn.training {
		return bn.backend.BatchNorm(x, bn.runningMean.tensor, bn.runningVar.tensor,
			bn.weight.tensor, bn.bias.tensor, bn.eps)
	}

	mean, variance := bn.backend.ChannelStats(x)
	bn.updateRunning(mean, variance, 0, x.NumElements()/bn.features)
	return bn.backend.BatchNorm(x, mean, variance, bn.weight.tensor, bn.bias.tensor, bn.eps)
}

// ForwardSlice normalizes x as channels [offset, offset+C) of the layer's
// input, C being the channel count of x. The result equals slicing the
// output of Forward on the full input.
func (bn *BatchNorm) ForwardSlice(x *tensor.Tensor, offset int) *tensor.Tensor {
	if x.Rank() < 2 {
		panic(fmt.Sprintf("batchnorm: expected input [N,C,...], got %v", x.Shape()))
	}
	c := x.Dim(1)
	if offset < 0 || offset+c > bn.features {
		panic(fmt.Sprintf("batchnorm: channels [%d, %d) out of range for %d features", offset, offset+c, bn.features))
	}
	slice := func(p *Parameter) *tensor.Tensor { return bn.backend.Narrow(p.tensor, 0, offset, c) }
	if !bn.training {
		return bn.backend.BatchNorm(x, slice(bn.runningMean), slice(bn.runningVar),
			slice(bn.weight), slice(bn.bias), bn.eps)
	}
	mean, variance := bn.backend.ChannelStats(x)
	bn.updateRunning(mean, variance, offset, x.NumElements()/c)
	return bn.backend.BatchNorm(x, mean, variance, slice(bn.weight), slice(bn.bias), bn.eps)
}

// updateRunning folds batch statistics for channels starting at offset
// into the running estimates. n is the number of values per channel.
func (bn *BatchNorm) updateRunning(mean, variance *tensor.Tensor, offset, n int) {
	correction := 1.0
	if n > 1 {
		correction = float64(n) / float64(n-1)
	}
	rm, rv := bn.runningMean.tensor.Data()[offset:], bn.runningVar.tensor.Data()[offset:]
	for c, m := range mean.Data() {
		v := variance.Data()[c]
		rm[c] = float32((1-bn.momentum)*float64(rm[c]) + bn.momentum*float64(m))
		rv[c] = float32((1-bn.momentum)*float64(rv[c]) + bn.momentum*float64(v)*correction)
	}
}

// Script lowers the normalization.
func (bn *BatchNorm) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("batch_norm", in,
		script.Attr{Key: "features", Value: bn.features},
		script.Attr{Key: "eps", Value: bn.eps},
	)
}
