// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package harness is the deterministic regression harness of the model
// zoo.
//
// A Harness owns one generator. Before a model is constructed, before its
// input is drawn and before it runs, the generator is reset to the
// configured seed, so every stage sees the same random stream on every run
// and platform:
//
//	h := harness.New(harness.DefaultConfig())
//	d, _ := zoo.Lookup("resnet18")
//	m, err := h.BuildModel(d)
//	if err != nil {
//	    return err
//	}
//	golden, err := harness.LoadGoldenFile("testdata/golden.toml")
//	if err != nil {
//	    return err
//	}
//	g, ok := golden.Lookup("resnet18")
//	if ok && g.Captured() {
//	    err = h.CheckGolden(m.(nn.Module), g)
//	}
//
// Assertion failures are returned as *MismatchError, *ShapeError and
// *VerdictError values. A Harness is not safe for concurrent use; Sweep
// gives each worker its own.
package harness
