// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/visionzoo/internal/backend/cpu"
	"github.com/born-ml/visionzoo/internal/parallel"
)

// Backend represents the CPU backend implementation.
//
// The CPU backend provides pure Go kernels; convolutions, pooling and
// RoIAlign fan work out over a bounded set of goroutines.
type Backend = internalcpu.Backend

// Config bounds the parallelism of the kernels.
type Config = parallel.Config

// New creates a CPU backend using every available core.
//
// Example:
//
//	import (
//	    "github.com/born-ml/visionzoo/backend/cpu"
//	    "github.com/born-ml/visionzoo/models"
//	)
//
//	func main() {
//	    be := cpu.New()
//	    m, err := models.NewAlexNet(g, models.WithBackend(be))
//	}
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig creates a CPU backend with explicit parallelism limits.
func NewWithConfig(cfg Config) *Backend {
	return internalcpu.NewWithConfig(cfg)
}
