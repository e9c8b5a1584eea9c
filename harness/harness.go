// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
	"github.com/born-ml/visionzoo/zoo"
)

// ErrNoConstructor is returned when a descriptor has no constructor.
var ErrNoConstructor = errors.New("model has no constructor")

// Harness runs models under a synchronized generator.
type Harness struct {
	cfg Config
	g   *rng.Generator
	log *logrus.Entry
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the log entry the harness writes to.
func WithLogger(l *logrus.Entry) Option {
	return func(h *Harness) { h.log = l }
}

// New returns a harness with its own generator.
func New(cfg Config, opts ...Option) *Harness {
	h := &Harness{cfg: cfg, g: rng.New(cfg.Seed)}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		h.log = logrus.NewEntry(l)
	}
	h.log = h.log.WithField("seed", cfg.Seed)
	return h
}

// Config returns the harness settings.
func (h *Harness) Config() Config { return h.cfg }

// Generator returns the harness generator.
func (h *Harness) Generator() *rng.Generator { return h.g }

// Sync resets the generator to the configured seed.
func (h *Harness) Sync() { Sync(h.g, h.cfg.Seed) }

// BuildModel constructs d under a synchronized generator and switches it
// to evaluation mode.
func (h *Harness) BuildModel(d zoo.Descriptor, opts ...models.Option) (nn.Layer, error) {
	if d.New == nil {
		return nil, fmt.Errorf("%s: %w", d.Name, ErrNoConstructor)
	}
	type built struct {
		m   nn.Layer
		err error
	}
	b := RunSynced(h.g, h.cfg.Seed, func(g *rng.Generator) built {
		m, err := d.New(g, opts...)
		return built{m, err}
	})
	if b.err != nil {
		return nil, fmt.Errorf("build %s: %w", d.Name, b.err)
	}
	nn.Eval(b.m)
	h.log.WithFields(logrus.Fields{
		"model":  d.Name,
		"params": nn.NumParameters(b.m),
		"draws":  h.g.Draws(),
	}).Debug("Built model")
	return b.m, nil
}

// Input draws a uniform [0, 1) tensor under a synchronized generator.
func (h *Harness) Input(shape tensor.Shape) *tensor.Tensor {
	return RunSynced(h.g, h.cfg.Seed, func(g *rng.Generator) *tensor.Tensor {
		return tensor.Rand(g, shape)
	})
}

// Run applies m to x under a synchronized generator.
func (h *Harness) Run(m nn.Module, x *tensor.Tensor) *tensor.Tensor {
	return RunSynced(h.g, h.cfg.Seed, func(*rng.Generator) *tensor.Tensor {
		return m.Forward(x)
	})
}
