// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// Standard settings of the regression suite.
const (
	StandardSeed = 1729

	// Epsilon is the absolute tolerance of golden comparisons.
	Epsilon = 1e-6

	// EquivalenceTolerance bounds the output difference between two
	// implementations of the same network.
	EquivalenceTolerance = 1e-5

	// CaseNumClasses is the class count the family cases build with, so a
	// default of 1000 cannot pass by accident.
	CaseNumClasses = 50
)

// StandardInputShape is the ImageNet input the golden values are taken on.
var StandardInputShape = tensor.Shape{1, 3, 224, 224}

// ScratchIndices are the output positions recorded by Capture by default.
var ScratchIndices = []int{65, 172, 195, 241, 319, 333, 538, 546, 763, 885}

// Config holds the harness settings.
type Config struct {
	Seed                 uint64
	Epsilon              float64
	EquivalenceTolerance float64
	NumClasses           int
	InputShape           []int
	GoldenFile           string `toml:",omitempty"`
	// Workers bounds the cases a sweep runs at once.
	Workers              int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Seed:                 StandardSeed,
		Epsilon:              Epsilon,
		EquivalenceTolerance: EquivalenceTolerance,
		NumClasses:           CaseNumClasses,
		InputShape:           []int(StandardInputShape.Clone()),
		Workers:              1,
	}
}

// Validate reports settings the harness cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Epsilon <= 0:
		return fmt.Errorf("epsilon must be positive, got %v", c.Epsilon)
	case c.EquivalenceTolerance <= 0:
		return fmt.Errorf("equivalence tolerance must be positive, got %v", c.EquivalenceTolerance)
	case c.NumClasses <= 0:
		return fmt.Errorf("num classes must be positive, got %d", c.NumClasses)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if err := tensor.Shape(c.InputShape).Validate(); err != nil {
		return fmt.Errorf("input shape: %w", err)
	}
	if len(c.InputShape) != 4 {
		return fmt.Errorf("input shape must be [N,C,H,W], got %v", c.InputShape)
	}
	return nil
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// LoadConfig decodes the TOML file at path over cfg. Fields absent from
// the file keep their values.
func LoadConfig(path string, cfg *Config) error {
	if err := decodeFile(path, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// MarshalConfig encodes cfg as TOML.
func MarshalConfig(cfg Config) ([]byte, error) {
	return tomlSettings.Marshal(&cfg)
}

func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(v)
	// Add file name to errors that have a line number.
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = errors.New(path + ", " + err.Error())
	}
	return err
}
