package nn

import (
	"github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// MaxPool2D is a 2D max pooling layer.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_h, out_w]
//
// With CeilMode the output size rounds up, as used by the GoogLeNet and
// SqueezeNet stems.
type MaxPool2D struct {
	Base
	p       cpu.PoolParams
	backend *cpu.Backend
}

// NewMaxPool2D creates a max pooling layer. A zero stride defaults to the
// kernel size.
func NewMaxPool2D(backend *cpu.Backend, p cpu.PoolParams) *MaxPool2D {
	return &MaxPool2D{p: p, backend: backend}
}

// Forward pools x.
func (m *MaxPool2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	return m.backend.MaxPool2D(x, m.p)
}

// Script lowers the layer.
func (m *MaxPool2D) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("max_pool2d", in,
		script.Attr{Key: "kernel", Value: m.p.Kernel},
		script.Attr{Key: "stride", Value: m.p.Stride},
		script.Attr{Key: "padding", Value: m.p.Padding},
		script.Attr{Key: "ceil_mode", Value: m.p.CeilMode},
	)
}

// AvgPool2D is a 2D average pooling layer.
type AvgPool2D struct {
	Base
	p               cpu.PoolParams
	countIncludePad bool
	backend         *cpu.Backend
}

// NewAvgPool2D creates an average pooling layer that counts padded
// positions in the divisor.
func NewAvgPool2D(backend *cpu.Backend, p cpu.PoolParams) *AvgPool2D {
	return &AvgPool2D{p: p, countIncludePad: true, backend: backend}
}

// Forward pools x.
func (a *AvgPool2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	return a.backend.AvgPool2D(x, a.p, a.countIncludePad)
}

// Script lowers the layer.
func (a *AvgPool2D) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("avg_pool2d", in,
		script.Attr{Key: "kernel", Value: a.p.Kernel},
		script.Attr{Key: "stride", Value: a.p.Stride},
		script.Attr{Key: "padding", Value: a.p.Padding},
	)
}

// AdaptiveAvgPool2D averages the input into a fixed output grid.
type AdaptiveAvgPool2D struct {
	Base
	h, w    int
	backend *cpu.Backend
}

// NewAdaptiveAvgPool2D creates an adaptive pooling layer with output h x w.
func NewAdaptiveAvgPool2D(backend *cpu.Backend, h, w int) *AdaptiveAvgPool2D {
	return &AdaptiveAvgPool2D{h: h, w: w, backend: backend}
}

// Forward pools x.
func (a *AdaptiveAvgPool2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	return a.backend.AdaptiveAvgPool2D(x, a.h, a.w)
}

// Script lowers the layer.
func (a *AdaptiveAvgPool2D) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("adaptive_avg_pool2d", in, script.Attr{Key: "output_size", Value: [2]int{a.h, a.w}})
}

// AdaptiveAvgPool3D averages a clip into a fixed output volume.
type AdaptiveAvgPool3D struct {
	Base
	t, h, w int
	backend *cpu.Backend
}

// NewAdaptiveAvgPool3D creates an adaptive 3D pooling layer.
func NewAdaptiveAvgPool3D(backend *cpu.Backend, t, h, w int) *AdaptiveAvgPool3D {
	return &AdaptiveAvgPool3D{t: t, h: h, w: w, backend: backend}
}

// Forward pools x.
func (a *AdaptiveAvgPool3D) Forward(x *tensor.Tensor) *tensor.Tensor {
	return a.backend.AdaptiveAvgPool3D(x, a.t, a.h, a.w)
}

// Script lowers the layer.
func (a *AdaptiveAvgPool3D) Script(b *script.Builder, in script.Value) (script.Value, error) {
	return b.Unary("adaptive_avg_pool3d", in, script.Attr{Key: "output_size", Value: [3]int{a.t, a.h, a.w}})
}
