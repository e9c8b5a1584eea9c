// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package models provides the classification architectures of the zoo.
//
// # Overview
//
// Every constructor takes the generator that draws the initial weights and
// a list of options:
//
//	g := rng.New(1729)
//	model, err := models.NewResNet18(g, models.WithNumClasses(50))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	nn.Eval(model)
//	logits := model.Forward(x) // [1, 50]
//
// Weights are drawn in module registration order, first by each layer's
// default initialization and then by the architecture's own
// initialization pass, so a constructor consumes a fixed number of draws
// for a given configuration.
//
// Families:
//   - AlexNet, VGG (11/13/16/19, with and without batch norm)
//   - ResNet (18/34/50/101/152), ResNeXt, Wide ResNet
//   - SqueezeNet 1.0 and 1.1
//   - Inception v3 and GoogLeNet
//   - DenseNet (121/161/169/201)
//   - MobileNetV2, MNASNet, ShuffleNetV2
//
// Segmentation, detection and video models live in the subpackages.
package models
