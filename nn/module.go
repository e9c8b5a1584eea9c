// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/serialization"
	"github.com/born-ml/visionzoo/tensor"
)

// StateDict returns every parameter and buffer keyed by dotted path
// ("layer1.0.conv1.weight"). The tensors are shared with the model.
func StateDict(l Layer) map[string]*tensor.Tensor { return nn.StateDict(l) }

// StateDictKeys returns the state dict keys in registration order.
func StateDictKeys(l Layer) []string { return nn.StateDictKeys(l) }

// LoadStateDict copies sd into the tree. The keys and shapes must match
// the model exactly; nothing is copied otherwise.
func LoadStateDict(l Layer, sd map[string]*tensor.Tensor) error { return nn.LoadStateDict(l, sd) }

// Save writes the state dict of l to path in SafeTensors format.
//
// Example:
//
//	m, _ := models.NewResNet18(tensor.NewGenerator(1729))
//	err := nn.Save(m, "resnet18.safetensors", map[string]string{"arch": "resnet18"})
func Save(l Layer, path string, metadata map[string]string) error {
	return serialization.WriteFile(path, nn.StateDict(l), metadata)
}

// Load reads a SafeTensors file into l and returns the file metadata.
func Load(l Layer, path string) (map[string]string, error) {
	sd, meta, err := serialization.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := nn.LoadStateDict(l, sd); err != nil {
		return nil, err
	}
	return meta, nil
}
