// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package npu implements a burst-cycle spiking neuron processing unit.

Computation proceeds in discrete bursts.  Each burst, the neurons that
fired in the previous burst propagate charge through their outgoing
synapses into a fire candidate list, which accumulates one summed
contribution per target neuron.  Neural dynamics then evaluates every
candidate: refractory gating, charge application, leak toward the
resting potential, threshold crossing with a probabilistic excitability
gate, and post-fire bookkeeping (consecutive-fire limits with extended
snooze refractory).  Neurons that fire become the propagation sources
of the next burst.

All neuron and synapse state lives in fixed-capacity structure-of-arrays
stores (NeuronStore, SynapseStore), so the hot path walks flat arrays
and the whole state can be handed to a compute backend in one piece.
Backends implement ComputeBackend: the CPU backend shards work across
goroutines above size thresholds, and the GPU backend (build tag vgpu)
runs both phases as Vulkan compute kernels with device-resident state.
SelectBackend picks between them with a transfer-aware cost model.

Runner drives the burst loop on a dedicated goroutine at a target
frequency, with guarded external access (With, TryWith) interleaved
between bursts and jitter statistics for timing verification.
*/
package npu
