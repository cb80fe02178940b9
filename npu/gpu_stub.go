// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !vgpu

package npu

import "fmt"

// GPUAvailable reports whether a compute GPU can be used.  Without the
// vgpu build tag there is no Vulkan support compiled in.
func GPUAvailable() bool {
	return false
}

// NewGPUBackend returns an error when built without the vgpu tag.
func NewGPUBackend(neuronCap, synapseCap int) (ComputeBackend, error) {
	return nil, fmt.Errorf("%w: GPU support not compiled in (build with -tags vgpu)", ErrBackendInit)
}
