// Package cpu implements the pure-Go CPU kernels behind the zoo's layers.
//
// Kernels take *tensor.Tensor values in NCHW (or NCTHW) layout and allocate
// their outputs. Shape violations are programming errors and panic, the same
// way an out-of-range slice index does; nothing in this package draws random
// numbers, so kernel results depend only on their inputs.
package cpu

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/parallel"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Backend holds kernel execution settings.
type Backend struct {
	cfg parallel.Config
}

// New creates a CPU backend that fans work out over all CPUs.
func New() *Backend {
	return &Backend{cfg: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with explicit parallel settings.
func NewWithConfig(cfg parallel.Config) *Backend {
	return &Backend{cfg: cfg}
}

// Name returns the backend name.
func (cpu *Backend) Name() string {
	return "CPU"
}

// Parallel returns the backend's parallel settings.
func (cpu *Backend) Parallel() parallel.Config {
	return cpu.cfg
}

// alloc creates an output tensor, panicking with the kernel name on an
// invalid shape.
func alloc(op string, shape tensor.Shape) *tensor.Tensor {
	out, err := tensor.New(shape)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create output tensor: %v", op, err))
	}
	return out
}

func requireRank(op string, t *tensor.Tensor, rank int, layout string) {
	if t.Rank() != rank {
		panic(fmt.Sprintf("%s: expected %dD input %s, got %dD", op, rank, layout, t.Rank()))
	}
}
