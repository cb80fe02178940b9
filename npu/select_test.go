// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defConfig() *BackendConfig {
	cfg := &BackendConfig{}
	cfg.Defaults()
	return cfg
}

func TestSelectBackendSmallNetwork(t *testing.T) {
	dec := SelectBackend(1000, 50_000, defConfig())
	assert.Equal(t, CPU, dec.Type)
	assert.NotEmpty(t, dec.Reason)
}

func TestSelectBackendForceCPU(t *testing.T) {
	cfg := defConfig()
	cfg.ForceCPU = true
	// far past every threshold, still CPU
	dec := SelectBackend(10_000_000, 1_000_000_000, cfg)
	assert.Equal(t, CPU, dec.Type)
}

// withGPUCheck substitutes the device availability check for the
// duration of a test.
func withGPUCheck(t *testing.T, available bool) {
	t.Helper()
	prev := gpuCheck
	gpuCheck = func() bool { return available }
	t.Cleanup(func() { gpuCheck = prev })
}

func TestSelectBackendForceGPUWithoutDevice(t *testing.T) {
	withGPUCheck(t, false)
	cfg := defConfig()
	cfg.ForceGPU = true
	dec := SelectBackend(1000, 1000, cfg)
	assert.Equal(t, CPU, dec.Type)
	assert.Contains(t, dec.Reason, "falling back")
}

func TestSelectBackendForceGPUWithDevice(t *testing.T) {
	withGPUCheck(t, true)
	cfg := defConfig()
	cfg.ForceGPU = true
	// tiny network: the cost model would say CPU, force wins anyway
	dec := SelectBackend(1000, 1000, cfg)
	assert.Equal(t, GPU, dec.Type)
	assert.Contains(t, dec.Reason, "forced GPU")
}

func TestSelectBackendMidNetworkNoGPU(t *testing.T) {
	withGPUCheck(t, false)
	dec := SelectBackend(100_000, 1_000_000, defConfig())
	assert.Equal(t, CPU, dec.Type)
	assert.Contains(t, dec.Reason, "not available")
}

func TestSelectBackendLargeNetworkNoGPU(t *testing.T) {
	withGPUCheck(t, false)
	dec := SelectBackend(1_000_000, 100_000_000, defConfig())
	assert.Equal(t, CPU, dec.Type)
}

func TestSelectBackendLargeNetworkWithGPU(t *testing.T) {
	withGPUCheck(t, true)
	dec := SelectBackend(1_000_000, 100_000_000, defConfig())
	assert.Equal(t, GPU, dec.Type)
	assert.Greater(t, dec.EstimatedSpeedup, float32(1.5))
	assert.Contains(t, dec.Reason, "large network")
}

func TestSelectBackendOverThresholdLowSpeedup(t *testing.T) {
	withGPUCheck(t, true)
	// over the neuron threshold but with almost no synapses the
	// transfer cost dominates and the estimated speedup stays low
	dec := SelectBackend(500_000, 0, defConfig())
	assert.Equal(t, CPU, dec.Type)
}

func TestEstimateGPUSpeedupMonotone(t *testing.T) {
	small := EstimateGPUSpeedup(1000, 10_000)
	large := EstimateGPUSpeedup(1_000_000, 100_000_000)
	assert.Less(t, small, large)
	// tiny networks lose to transfer overhead
	assert.Less(t, small, float32(1))
	assert.Greater(t, large, float32(1.5))
}

func TestEstimateGPUSpeedupClamped(t *testing.T) {
	lo := EstimateGPUSpeedup(1, 1)
	assert.GreaterOrEqual(t, lo, float32(0.1))
	hi := EstimateGPUSpeedup(100_000_000, 100_000_000_000)
	assert.LessOrEqual(t, hi, float32(100))
}

func TestBackendTypeFromString(t *testing.T) {
	for s, want := range map[string]BackendType{"cpu": CPU, "GPU": GPU, "Auto": Auto} {
		bt, err := BackendTypeFromString(s)
		assert.NoError(t, err)
		assert.Equal(t, want, bt)
	}
	_, err := BackendTypeFromString("tpu")
	assert.ErrorIs(t, err, ErrInvalidBackend)
}
