// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend the models run on.
//
// # Overview
//
// The backend implements the kernels of the model zoo on float32 tensors:
//   - 2D and 3D convolution (im2col + GEMM) with stride, padding,
//     dilation and groups, and a direct path for depthwise convolution
//   - Max, average and adaptive pooling
//   - Batch norm, activations, linear layers
//   - Bilinear and nearest resizing, concatenation, channel shuffle
//   - Box utilities, non-maximum suppression and RoIAlign
//
// Kernels never draw random numbers, so results depend only on inputs and
// weights.
//
// # Parallelism
//
// Work is split across goroutines once it exceeds a minimum size. Use
// NewWithConfig to bound the worker count, for example when several models
// run concurrently:
//
//	be := cpu.NewWithConfig(cpu.Config{Enabled: true, NumWorkers: 2, MinWork: 1 << 15})
package cpu
