// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"os"
	"sort"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// Golden is the recorded output of one model at a seed: Values[i] is the
// truncated value of output position Indices[i]. A golden without values
// names the positions to record but has not been captured yet.
type Golden struct {
	Model string
	Seed  uint64
	// InputShape is the input the values were captured on; empty means
	// StandardInputShape.
	InputShape []int `toml:",omitempty"`
	Indices    []int
	Values     []float64 `toml:",omitempty"`
}

// Shape returns the input shape the golden is compared on.
func (g Golden) Shape() tensor.Shape {
	if len(g.InputShape) == 0 {
		return StandardInputShape.Clone()
	}
	return tensor.Shape(g.InputShape).Clone()
}

// Captured reports whether the golden holds values.
func (g Golden) Captured() bool { return len(g.Values) > 0 }

// Table returns the values keyed by output position.
func (g Golden) Table() map[int]float64 {
	t := make(map[int]float64, len(g.Values))
	for i, v := range g.Values {
		t[g.Indices[i]] = v
	}
	return t
}

func (g Golden) validate() error {
	if g.Model == "" {
		return fmt.Errorf("golden without model name")
	}
	if len(g.Indices) == 0 {
		return fmt.Errorf("golden %s: no indices", g.Model)
	}
	if len(g.InputShape) > 0 {
		if err := tensor.Shape(g.InputShape).Validate(); err != nil || len(g.InputShape) != 4 {
			return fmt.Errorf("golden %s: input shape must be [N,C,H,W], got %v", g.Model, g.InputShape)
		}
	}
	if g.Captured() && len(g.Values) != len(g.Indices) {
		return fmt.Errorf("golden %s: %d values for %d indices", g.Model, len(g.Values), len(g.Indices))
	}
	return nil
}

// GoldenFile is the TOML document holding the golden tables.
type GoldenFile struct {
	Golden []Golden
}

// LoadGoldenFile reads and validates a golden file.
func LoadGoldenFile(path string) (*GoldenFile, error) {
	var f GoldenFile
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(f.Golden))
	for _, g := range f.Golden {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if seen[g.Model] {
			return nil, fmt.Errorf("%s: duplicate golden for %s", path, g.Model)
		}
		seen[g.Model] = true
	}
	return &f, nil
}

// Lookup returns the golden recorded for model.
func (f *GoldenFile) Lookup(model string) (Golden, bool) {
	for _, g := range f.Golden {
		if g.Model == model {
			return g, true
		}
	}
	return Golden{}, false
}

// Set records values for model at seed, captured on an input of shape,
// replacing any previous entry. The positions are stored in increasing
// order.
func (f *GoldenFile) Set(model string, seed uint64, shape tensor.Shape, values map[int]float64) {
	g := Golden{Model: model, Seed: seed, InputShape: []int(shape.Clone())}
	g.Indices = sortedKeys(values)
	for _, i := range g.Indices {
		g.Values = append(g.Values, values[i])
	}
	for i := range f.Golden {
		if f.Golden[i].Model == model {
			f.Golden[i] = g
			return
		}
	}
	f.Golden = append(f.Golden, g)
	sort.Slice(f.Golden, func(i, j int) bool { return f.Golden[i].Model < f.Golden[j].Model })
}

// Marshal encodes the file as TOML.
func (f *GoldenFile) Marshal() ([]byte, error) {
	return tomlSettings.Marshal(f)
}

// Save writes the file to path.
func (f *GoldenFile) Save(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
