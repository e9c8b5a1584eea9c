// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn exposes the layer tree of the model zoo.
//
// # Overview
//
// Every model is a tree of layers. This package provides:
//   - Layer and Module: tree nodes, and nodes mapping a tensor to a tensor
//   - Train and Eval: mode switches applied to a whole tree
//   - State dicts keyed by dotted paths ("layer1.0.conv1.weight")
//   - Save and Load: SafeTensors files holding a state dict
//   - Slice: the leading children of a model as a Sequential
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/visionzoo/models"
//	    "github.com/born-ml/visionzoo/nn"
//	    "github.com/born-ml/visionzoo/tensor"
//	)
//
//	func main() {
//	    g := tensor.NewGenerator(1729)
//	    model, err := models.NewResNet50(g)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    nn.Eval(model)
//
//	    // Feature extractor ending at layer4
//	    features, err := nn.Slice(model, "layer4")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    out := features.Forward(tensor.Rand(g, tensor.Shape{1, 3, 224, 224}))
//	    fmt.Println(out.Shape()) // [1 2048 7 7]
//	}
//
// # State Dicts
//
// Keys follow registration order and include batch norm running
// statistics:
//
//	for _, key := range nn.StateDictKeys(model) {
//	    fmt.Println(key)
//	}
//	err = nn.Save(model, "resnet50.safetensors", nil)
package nn
