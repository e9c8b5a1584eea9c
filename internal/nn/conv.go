package nn

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Pair returns a square [2]int.
func Pair(n int) [2]int { return [2]int{n, n} }

// Triple returns a cubic [3]int.
func Triple(n int) [3]int { return [3]int{n, n, n} }

// ConvConfig configures a Conv2D layer. Zero Stride, Dilation and Groups
// default to 1.
type ConvConfig struct {
	In, Out  int
	Kernel   [2]int
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
	Groups   int
	Bias     bool
}

func (c ConvConfig) params() cpu.ConvParams {
	return cpu.ConvParams{Stride: c.Stride, Padding: c.Padding, Dilation: c.Dilation, Groups: c.Groups}
}

// Conv2D is a 2D convolutional layer.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels/groups, kernel_h, kernel_w]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out = (in + 2*padding - dilation*(kernel-1) - 1) / stride + 1
//
// Example:
//
//	conv := nn.NewConv2D(g, backend, nn.ConvConfig{
//	    In: 3, Out: 64, Kernel: nn.Pair(7), Stride: nn.Pair(2), Padding: nn.Pair(3),
//	})
//	out := conv.Forward(x) // [1, 64, 112, 112] for a 224x224 image
type Conv2D struct {
	Base
	cfg     ConvConfig
	weight  *Parameter
	bias    *Parameter
	backend *cpu.Backend
}

// NewConv2D creates a convolution with the default initialization
// (weight and bias from U(-1/sqrt(fan_in), 1/sqrt(fan_in))).
func NewConv2D(g *rng.Generator, backend *cpu.Backend, cfg ConvConfig) *Conv2D {
	for i := range 2 {
		if cfg.Stride[i] == 0 {
			cfg.Stride[i] = 1
		}
		if cfg.Dilation[i] == 0 {
			cfg.Dilation[i] = 1
		}
	}
	if cfg.Groups == 0 {
		cfg.Groups = 1
	}
	if cfg.In <= 0 || cfg.Out <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", cfg.In, cfg.Out))
	}
	if cfg.Kernel[0] <= 0 || cfg.Kernel[1] <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %v", cfg.Kernel))
	}
	if cfg.In%cfg.Groups != 0 || cfg.Out%cfg.Groups != 0 {
		panic(fmt.Sprintf("conv2d: channels in=%d out=%d not divisible by groups=%d", cfg.In, cfg.Out, cfg.Groups))
	}

	c := &Conv2D{
		cfg:     cfg,
		weight:  NewParameter("weight", tensor.Zeros(tensor.Shape{cfg.Out, cfg.In / cfg.Groups, cfg.Kernel[0], cfg.Kernel[1]})),
		backend: backend,
	}
	if cfg.Bias {
		c.bias = NewParameter("bias", tensor.Zeros(tensor.Shape{cfg.Out}))
	}
	defaultInit(g, c.weight, c.bias)
	return c
}

// Config returns the layer configuration.
func (c *Conv2D) Config() ConvConfig { return c.cfg }

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Parameter { return c.weight }

// Bias returns the bias parameter, or nil.
func (c *Conv2D) Bias() *Parameter { return c.bias }

// OwnParameters returns weight and (if present) bias.
func (c *Conv2D) OwnParameters() []*Parameter {
	if c.bias == nil {
		return []*Parameter{c.weight}
	}
	return []*Parameter{c.weight, c.bias}
}

// Forward performs the convolution.
func (c *Conv2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Rank() != 4 || x.Dim(1) != c.cfg.In {
		panic(fmt.Sprintf("conv2d: expected input [N,%d,H,W], got %v", c.cfg.In, x.Shape()))
	}
	var b *tensor.Tensor
	if c.bias != nil {
		b = c.bias.tensor
	}
	return c.backend.Conv2D(x, c.weight.tensor, b, c.cfg.params())
}

// Script lowers the convolution.
func (c *Conv2D) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Conv("conv2d", in, script.ConvSpec{
		InChannels:  c.cfg.In,
		OutChannels: c.cfg.Out,
		Kernel:      c.cfg.Kernel[:],
		Stride:      c.cfg.Stride[:],
		Padding:     c.cfg.Padding[:],
		Dilation:    c.cfg.Dilation[:],
		Groups:      c.cfg.Groups,
		Bias:        c.cfg.Bias,
	})
}

// Conv3DConfig configures a Conv3D layer over (time, height, width).
type Conv3DConfig struct {
	In, Out int
	Kernel  [3]int
	Stride  [3]int
	Padding [3]int
	Bias    bool
}

// Conv3D is a 3D convolution for video clips.
//
// Input shape:  [batch, in_channels, time, height, width]
// Output shape: [batch, out_channels, t_out, h_out, w_out]
type Conv3D struct {
	Base
	cfg     Conv3DConfig
	weight  *Parameter
	bias    *Parameter
	backend *cpu.Backend
}

// NewConv3D creates a 3D convolution with the default initialization.
func NewConv3D(g *rng.Generator, backend *cpu.Backend, cfg Conv3DConfig) *Conv3D {
	for i := range 3 {
		if cfg.Stride[i] == 0 {
			cfg.Stride[i] = 1
		}
		if cfg.Kernel[i] <= 0 {
			panic(fmt.Sprintf("conv3d: invalid kernel size %v", cfg.Kernel))
		}
	}
	if cfg.In <= 0 || cfg.Out <= 0 {
		panic(fmt.Sprintf("conv3d: invalid channels in=%d, out=%d", cfg.In, cfg.Out))
	}
	c := &Conv3D{
		cfg:     cfg,
		weight:  NewParameter("weight", tensor.Zeros(tensor.Shape{cfg.Out, cfg.In, cfg.Kernel[0], cfg.Kernel[1], cfg.Kernel[2]})),
		backend: backend,
	}
	if cfg.Bias {
		c.bias = NewParameter("bias", tensor.Zeros(tensor.Shape{cfg.Out}))
	}
	defaultInit(g, c.weight, c.bias)
	return c
}

// Weight returns the kernel parameter.
func (c *Conv3D) Weight() *Parameter { return c.weight }

// Bias returns the bias parameter, or nil.
func (c *Conv3D) Bias() *Parameter { return c.bias }

// OwnParameters returns weight and (if present) bias.
func (c *Conv3D) OwnParameters() []*Parameter {
	if c.bias == nil {
		return []*Parameter{c.weight}
	}
	return []*Parameter{c.weight, c.bias}
}

// Forward performs the convolution.
func (c *Conv3D) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Rank() != 5 || x.Dim(1) != c.cfg.In {
		panic(fmt.Sprintf("conv3d: expected input [N,%d,T,H,W], got %v", c.cfg.In, x.Shape()))
	}
	var b *tensor.Tensor
	if c.bias != nil {
		b = c.bias.tensor
	}
	return c.backend.Conv3D(x, c.weight.tensor, b, cpu.Conv3DParams{Stride: c.cfg.Stride, Padding: c.cfg.Padding})
}

// Script lowers the convolution.
func (c *Conv3D) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Conv("conv3d", in, script.ConvSpec{
		InChannels:  c.cfg.In,
		OutChannels: c.cfg.Out,
		Kernel:      c.cfg.Kernel[:],
		Stride:      c.cfg.Stride[:],
		Padding:     c.cfg.Padding[:],
		Dilation:    []int{1, 1, 1},
		Groups:      1,
		Bias:        c.cfg.Bias,
	})
}
