// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

// note: requires the gosl tool (go install'd) plus glslc on the path;
// regenerates shaders/burstnpu.hlsl, shaders/propagate.hlsl,
// shaders/dynamics.hlsl and compiles the entry-point shaders to .spv

//go:generate gosl -keep gpu_kernels.go

//gosl: start burstnpu

// pcgHash is a PCG-family integer hash used for the excitability draw.
// A stateless hash (rather than a seeded RNG) keeps the draw identical
// across compute backends for the same (neuron, burst) pair.
func pcgHash(input uint32) uint32 {
	state := input*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// fireDraw returns a uniform [0,1) value keyed by neuron id and burst
// number, so the same neuron gets a fresh draw every burst.
func fireDraw(id, burst uint32) float32 {
	return float32(pcgHash(id*2654435761+burst*1597334677)) / 4294967296.0
}

// gpuParams is the uniform parameter block passed to the compute
// kernels.  Field order and padding must match the shader layout.
type gpuParams struct {
	Burst      uint32
	NumNeurons uint32
	NumSyns    uint32
	pad        uint32
}

// gpuNeuron is the per-neuron state block resident on the device.
// Persistent across bursts; synced back after each dynamics pass.
type gpuNeuron struct {
	Potential  float32
	Threshold  float32
	Leak       float32
	Resting    float32
	Exc        float32
	Countdown  uint32
	ConsecCnt  uint32
	Limit      uint32
	Refractory uint32
	Snooze     uint32
	Flags      uint32 // bit 0: valid, bit 1: charge accumulation
	pad        uint32
}

// gpuSynapse is the per-synapse record resident on the device.
// Weight, psp, polarity, and the validity flag pack into Packed as
// four bytes.
type gpuSynapse struct {
	Source uint32
	Target uint32
	Packed uint32
	pad    uint32
}

// SynContrib decodes one packed synapse record into its signed
// contribution: weight times psp magnitude, negated for inhibitory.
func (p *gpuParams) SynContrib(sy *gpuSynapse) float32 {
	c := float32(sy.Packed&0xff) * float32((sy.Packed>>8)&0xff)
	if (sy.Packed>>16)&0xff != 0 {
		c = -c
	}
	return c
}

// FirePass applies the probabilistic excitability gate for this burst:
// excitability of effectively 1 always fires, 0 or less never does,
// anything between fires with that probability per burst.
func (p *gpuParams) FirePass(exc float32, id uint32) bool {
	if exc >= 0.999 {
		return true
	}
	if exc <= 0 {
		return false
	}
	return fireDraw(id, p.Burst) < exc
}

// CycleNeuron advances one candidate neuron by its summed contribution
// for this burst, returning 1 if it fired, 2 if its refractory
// countdown blocked it, and 0 otherwise.  Must mirror the sequential
// stepNeuron rules exactly.
func (p *gpuParams) CycleNeuron(nrn *gpuNeuron, contrib float32, id uint32) uint32 {
	if nrn.Flags&1 == 0 {
		return 0
	}
	if nrn.Countdown > 0 {
		nrn.Countdown--
		if nrn.Countdown == 0 && nrn.Limit > 0 && nrn.ConsecCnt >= nrn.Limit {
			nrn.ConsecCnt = 0
		}
		return 2
	}
	v := nrn.Potential
	if nrn.Flags&2 != 0 {
		v += contrib
	} else {
		v = contrib
	}
	if nrn.Leak > 0 {
		v -= nrn.Leak * (v - nrn.Resting)
	}
	nrn.Potential = v
	if v >= nrn.Threshold && p.FirePass(nrn.Exc, id) {
		nrn.Potential = nrn.Resting
		nrn.ConsecCnt++
		if nrn.Limit > 0 && nrn.ConsecCnt >= nrn.Limit {
			nrn.Countdown = nrn.Refractory + nrn.Snooze
		} else {
			nrn.Countdown = nrn.Refractory
		}
		return 1
	}
	if nrn.Limit > 0 {
		nrn.ConsecCnt = 0
	}
	return 0
}

//gosl: end burstnpu

//gosl: hlsl propagate
// #include "burstnpu.hlsl"
//
// [[vk::binding(0, 0)]] uniform gpuParams Params;
// [[vk::binding(0, 1)]] RWStructuredBuffer<gpuNeuron> Neurons;
// [[vk::binding(1, 1)]] RWStructuredBuffer<gpuSynapse> Synapses;
// [[vk::binding(2, 1)]] RWStructuredBuffer<uint> Contribs;
// [[vk::binding(3, 1)]] RWStructuredBuffer<uint> Fired;
// [[vk::binding(4, 1)]] RWStructuredBuffer<uint> Present;
//
// // float add via compare-exchange on the raw bits: HLSL has no
// // native float atomics and synapses sharing a target race otherwise
// void ContribAdd(uint t, float c)
// {
//     uint prev = Contribs[t];
//     uint cur;
//     while (true) {
//         uint next = asuint(asfloat(prev) + c);
//         InterlockedCompareExchange(Contribs[t], prev, next, cur);
//         if (cur == prev) {
//             break;
//         }
//         prev = cur;
//     }
// }
//
// [numthreads(1, 1, 1)]
// void main(uint3 idx : SV_DispatchThreadID)
// {
//     if (idx.x >= Params.NumSyns) {
//         return;
//     }
//     gpuSynapse sy = Synapses[idx.x];
//     if (((sy.Packed >> 24) & 0xff) == 0) {
//         return;
//     }
//     if (Fired[sy.Source] == 0) {
//         return;
//     }
//     ContribAdd(sy.Target, Params.SynContrib(&Synapses[idx.x]));
// }
//gosl: end propagate

//gosl: hlsl dynamics
// #include "burstnpu.hlsl"
//
// [[vk::binding(0, 0)]] uniform gpuParams Params;
// [[vk::binding(0, 1)]] RWStructuredBuffer<gpuNeuron> Neurons;
// [[vk::binding(1, 1)]] RWStructuredBuffer<gpuSynapse> Synapses;
// [[vk::binding(2, 1)]] RWStructuredBuffer<float> Contribs;
// [[vk::binding(3, 1)]] RWStructuredBuffer<uint> Fired;
// [[vk::binding(4, 1)]] RWStructuredBuffer<uint> Present;
//
// [numthreads(1, 1, 1)]
// void main(uint3 idx : SV_DispatchThreadID)
// {
//     if (idx.x >= Params.NumNeurons) {
//         return;
//     }
//     if (Present[idx.x] == 0) {
//         return;
//     }
//     Fired[idx.x] = Params.CycleNeuron(&Neurons[idx.x], Contribs[idx.x], idx.x);
// }
//gosl: end dynamics
