// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import "fmt"

// BackendConfig configures backend auto-selection.
type BackendConfig struct {

	// minimum neuron count before the GPU is considered
	GPUNeuronThreshold int `def:"500000"`

	// minimum synapse count before the GPU is considered
	GPUSynapseThreshold int `def:"50000000"`

	// minimum expected firing rate for GPU parallelism to pay off
	GPUMinFiringRate float32 `def:"0.005"`

	// force the CPU backend regardless of counts or the cost model
	ForceCPU bool

	// force the GPU backend regardless of the cost model; falls back to
	// CPU with a recorded reason when no GPU is available
	ForceGPU bool
}

// Defaults sets default selection thresholds.
func (bc *BackendConfig) Defaults() {
	bc.GPUNeuronThreshold = 500_000
	bc.GPUSynapseThreshold = 50_000_000
	bc.GPUMinFiringRate = 0.005
	bc.ForceCPU = false
	bc.ForceGPU = false
}

// gpuCheck reports whether a compute device can be used.  A variable so
// selection logic can be tested on machines without a device.
var gpuCheck = GPUAvailable

// BackendDecision records a backend selection with its rationale, so
// status surfaces can report why the engine is running where it is.
type BackendDecision struct {
	Type             BackendType
	Reason           string
	EstimatedSpeedup float32
}

// Cost model constants.  Empirical, for commodity hardware: PCIe 4.0
// class transfer bandwidth, a ~10 TFLOPS GPU, and ~100 GFLOPS effective
// CPU throughput after cache and branch effects.
const (
	transferBandwidthBytesPerSec = 25e9
	transferFixedOverheadSecs    = 200e-6
	cpuFlops                     = 100e9
	gpuFlops                     = 10e12
	opsPerSynapse                = 10
	opsPerNeuron                 = 20
	assumedFiringRate            = 0.01
	minWorthwhileSpeedup         = 1.5
)

// EstimateGPUSpeedup estimates CPU time over GPU time for one burst at
// the given network size.  Synapse state is persistent on the device, so
// the per-burst transfer cost covers membrane potentials both ways, the
// bit-packed fired mask, and fired neuron ids at the assumed firing
// rate.  The result is clamped to [0.1, 100].
func EstimateGPUSpeedup(neurons, synapses int) float32 {
	nf := float64(neurons)
	sf := float64(synapses)

	transferBytes := nf*4*2 + nf*0.125 + nf*assumedFiringRate*4
	transferSecs := transferBytes/transferBandwidthBytesPerSec + transferFixedOverheadSecs

	cpuSecs := (sf*opsPerSynapse + nf*opsPerNeuron) / cpuFlops
	gpuSecs := transferSecs + (sf*opsPerSynapse+nf*opsPerNeuron)/gpuFlops

	speedup := cpuSecs / gpuSecs
	if speedup > 100 {
		speedup = 100
	}
	if speedup < 0.1 {
		speedup = 0.1
	}
	return float32(speedup)
}

// SelectBackend chooses a backend for the given network size.  Force
// flags bypass the cost model entirely and are honored even when the
// GPU is unavailable (recording the fallback).  Otherwise the GPU is
// chosen only when it is available, a size threshold is met, and the
// estimated speedup clears the worthwhile minimum.
func SelectBackend(neurons, synapses int, cfg *BackendConfig) BackendDecision {
	if cfg.ForceCPU {
		return BackendDecision{
			Type:             CPU,
			Reason:           "forced CPU via configuration",
			EstimatedSpeedup: 1,
		}
	}
	if cfg.ForceGPU {
		if gpuCheck() {
			return BackendDecision{
				Type:             GPU,
				Reason:           "forced GPU via configuration",
				EstimatedSpeedup: EstimateGPUSpeedup(neurons, synapses),
			}
		}
		return BackendDecision{
			Type:             CPU,
			Reason:           "GPU forced but not available, falling back to CPU",
			EstimatedSpeedup: 1,
		}
	}

	if neurons >= cfg.GPUNeuronThreshold || synapses >= cfg.GPUSynapseThreshold {
		if gpuCheck() {
			speedup := EstimateGPUSpeedup(neurons, synapses)
			if speedup > minWorthwhileSpeedup {
				return BackendDecision{
					Type:             GPU,
					Reason:           fmt.Sprintf("large network (%d neurons, %d synapses) benefits from GPU", neurons, synapses),
					EstimatedSpeedup: speedup,
				}
			}
		}
	}

	return BackendDecision{
		Type:             CPU,
		Reason:           fmt.Sprintf("small network (%d neurons, %d synapses) or GPU not available", neurons, synapses),
		EstimatedSpeedup: 1,
	}
}
