// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/zoo"
)

// VerdictError reports a static compile outcome other than the expected
// one.
type VerdictError struct {
	Model    string
	Expected bool
	// Cause is the compile error when compilation failed unexpectedly.
	Cause    error
}

func (e *VerdictError) Error() string {
	if e.Expected {
		return fmt.Sprintf("%s: expected to compile, but failed: %v", e.Model, e.Cause)
	}
	return fmt.Sprintf("%s: expected compilation to fail, but it succeeded", e.Model)
}

func (e *VerdictError) Unwrap() error { return e.Cause }

// Scriptable compiles m and reports whether it succeeded. Errors and
// panics both count as failure.
func Scriptable(m nn.Layer) bool {
	return script.IsScriptable(m)
}

// CheckScriptable compiles m and returns a *VerdictError if the outcome
// differs from expect.
func CheckScriptable(name string, m nn.Layer, expect bool) error {
	_, err := script.Compile(m)
	if got := err == nil; got != expect {
		return &VerdictError{Model: name, Expected: expect, Cause: err}
	}
	return nil
}

// CheckHubScript checks m against the hub table. Models absent from the
// table pass without being compiled.
func CheckHubScript(name string, m nn.Layer) error {
	expect, ok := zoo.HubScriptable(name)
	if !ok {
		return nil
	}
	return CheckScriptable(name, m, expect)
}
