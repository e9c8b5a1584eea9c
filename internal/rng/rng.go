// Package rng provides the explicit pseudorandom generator that is threaded
// through model construction, input sampling and stochastic layers.
//
// There is no package-level generator. Every consumer receives a *Generator
// and draws from it, so two code paths only share a stream when they are
// handed the same value. Resetting a generator to a seed restarts its
// sequence exactly, on every platform: the stream is a 128-bit PCG
// (golang.org/x/exp/rand) whose output depends only on the seed.
package rng

import (
	"golang.org/x/exp/rand"
)

// Generator is a resettable PCG stream.
//
// A Generator is not safe for concurrent use. Callers that run work in
// parallel must give each goroutine its own Generator.
type Generator struct {
	src   *rand.PCGSource
	r     *rand.Rand
	seed  uint64
	draws uint64
}

// New returns a generator seeded with seed.
func New(seed uint64) *Generator {
	g := &Generator{src: &rand.PCGSource{}}
	g.Reset(seed)
	return g
}

// Reset rewinds the stream to the beginning of the sequence for seed.
func (g *Generator) Reset(seed uint64) {
	g.src.Seed(seed)
	g.r = rand.New(g.src)
	g.seed = seed
	g.draws = 0
}

// Seed returns the seed of the last Reset.
func (g *Generator) Seed() uint64 {
	return g.seed
}

// Draws returns the number of values drawn since the last Reset.
func (g *Generator) Draws() uint64 {
	return g.draws
}

// Float64 returns a uniform value in [0, 1).
func (g *Generator) Float64() float64 {
	g.draws++
	return g.r.Float64()
}

// Float32 returns a uniform value in [0, 1).
func (g *Generator) Float32() float32 {
	for {
		v := float32(g.Float64())
		// Rounding to float32 can produce exactly 1.
		if v < 1 {
			return v
		}
	}
}

// Uniform returns a uniform value in [lo, hi).
func (g *Generator) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*g.Float64()
}

// Normal returns a normally distributed value.
func (g *Generator) Normal(mean, std float64) float64 {
	g.draws++
	return mean + std*g.r.NormFloat64()
}

// TruncNormal returns a normal value restricted to [mean+a*std, mean+b*std]
// by rejection.
func (g *Generator) TruncNormal(mean, std, a, b float64) float64 {
	if a >= b {
		panic("rng: truncation bounds must satisfy a < b")
	}
	for {
		z := g.Normal(0, 1)
		if z >= a && z <= b {
			return mean + std*z
		}
	}
}

// Bernoulli returns true with probability p.
func (g *Generator) Bernoulli(p float64) bool {
	return g.Float64() < p
}

// FillUniform fills dst with uniform values in [lo, hi).
func (g *Generator) FillUniform(dst []float32, lo, hi float64) {
	for i := range dst {
		dst[i] = float32(g.Uniform(lo, hi))
	}
}

// FillNormal fills dst with normal values.
func (g *Generator) FillNormal(dst []float32, mean, std float64) {
	for i := range dst {
		dst[i] = float32(g.Normal(mean, std))
	}
}

// FillTruncNormal fills dst with normal values truncated to [a, b] standard
// deviations around mean.
func (g *Generator) FillTruncNormal(dst []float32, mean, std, a, b float64) {
	for i := range dst {
		dst[i] = float32(g.TruncNormal(mean, std, a, b))
	}
}
