// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpSummary(t *testing.T) {
	counts := map[string]int{"conv2d": 20, "relu": 17, "add": 8, "linear": 1, "batch_norm": 8}
	assert.Equal(t, "conv2d=20 relu=17 add=8", opSummary(counts))
	assert.Equal(t, "linear=1", opSummary(map[string]int{"linear": 1}))
	assert.Empty(t, opSummary(nil))
}

func TestCommandsAreSorted(t *testing.T) {
	for i := 1; i < len(app.Commands); i++ {
		assert.Less(t, app.Commands[i-1].Name, app.Commands[i].Name)
	}
}

func TestHubColumn(t *testing.T) {
	assert.Equal(t, "true", hubColumn("resnet18"))
	assert.Equal(t, "false", hubColumn("googlenet"))
	assert.Equal(t, "-", hubColumn("r3d_18"))
}
