// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packNeuron mirrors the device upload layout for one neuron slot.
func packNeuron(ns *NeuronStore, id NeuronID) gpuNeuron {
	i := int(id)
	gn := gpuNeuron{
		Potential:  ns.Potentials[i],
		Threshold:  ns.Thresholds[i],
		Leak:       ns.Leaks[i],
		Resting:    ns.Restings[i],
		Exc:        ns.Excitabilities[i],
		Countdown:  uint32(ns.RefractoryCountdowns[i]),
		ConsecCnt:  uint32(ns.ConsecFireCounts[i]),
		Limit:      uint32(ns.ConsecFireLimits[i]),
		Refractory: uint32(ns.RefractoryPeriods[i]),
		Snooze:     uint32(ns.SnoozePeriods[i]),
	}
	if ns.Valid[i] {
		gn.Flags |= 1
	}
	if ns.ChargeAccums[i] {
		gn.Flags |= 2
	}
	return gn
}

// The device kernel must walk the same rule sequence as stepNeuron:
// refractory block with countdown decrement, charge apply, leak,
// threshold, fire reset, and the consecutive-fire snooze.  Drive both
// forms through an identical contribution trace and compare every
// piece of state each burst.
func TestKernelCycleNeuronMatchesStepNeuron(t *testing.T) {
	ns := NewNeuronStore(4)
	id, err := ns.Add(&NeuronParams{
		Threshold:        10,
		Leak:             0.2,
		Resting:          1,
		RefractoryPeriod: 2,
		Excitability:     1,
		ConsecFireLimit:  2,
		SnoozePeriod:     3,
		ChargeAccum:      true,
	}, 0, 0, 0, 0)
	require.NoError(t, err)

	gn := packNeuron(ns, id)

	// enough charge to fire repeatedly, then silence, then charge again
	trace := []float32{20, 20, 20, 0, 0, 0, 0, 5, 20, 20, 20, 20, 0, 20}
	for b, contrib := range trace {
		burst := uint64(b + 1)
		fired, refrac := stepNeuron(ns, id, contrib, burst)

		p := gpuParams{Burst: uint32(burst)}
		code := p.CycleNeuron(&gn, contrib, uint32(id))

		want := uint32(0)
		if fired {
			want = 1
		} else if refrac {
			want = 2
		}
		assert.Equal(t, want, code, "burst %d fire code", burst)
		assert.Equal(t, ns.Potentials[id], gn.Potential, "burst %d potential", burst)
		assert.Equal(t, uint32(ns.RefractoryCountdowns[id]), gn.Countdown, "burst %d countdown", burst)
		assert.Equal(t, uint32(ns.ConsecFireCounts[id]), gn.ConsecCnt, "burst %d consec count", burst)
	}
}

func TestKernelCycleNeuronOverwriteCharge(t *testing.T) {
	ns := NewNeuronStore(1)
	id, err := ns.Add(&NeuronParams{Threshold: 50, Excitability: 1}, 0, 0, 0, 0)
	require.NoError(t, err)

	gn := packNeuron(ns, id)
	p := gpuParams{Burst: 1}

	// overwrite semantics: 30 then 10 leaves 10, not 40
	fired, _ := stepNeuron(ns, id, 30, 1)
	assert.False(t, fired)
	assert.Equal(t, uint32(0), p.CycleNeuron(&gn, 30, uint32(id)))

	p.Burst = 2
	fired, _ = stepNeuron(ns, id, 10, 2)
	assert.False(t, fired)
	assert.Equal(t, uint32(0), p.CycleNeuron(&gn, 10, uint32(id)))
	assert.Equal(t, float32(10), gn.Potential)
	assert.Equal(t, ns.Potentials[id], gn.Potential)
}

func TestKernelCycleNeuronSkipsInvalid(t *testing.T) {
	p := gpuParams{Burst: 1}
	gn := gpuNeuron{Potential: 5, Threshold: 0, Exc: 1} // valid bit unset
	assert.Equal(t, uint32(0), p.CycleNeuron(&gn, 100, 0))
	assert.Equal(t, float32(5), gn.Potential)
}

// The packed synapse decode must agree with the store's contribution.
func TestKernelSynContribMatchesStore(t *testing.T) {
	ss := NewSynapseStore(4)
	_, err := ss.Add(0, 1, 200, 255, Excitatory)
	require.NoError(t, err)
	_, err = ss.Add(0, 2, 100, 128, Inhibitory)
	require.NoError(t, err)

	p := gpuParams{}
	for i := 0; i < ss.N; i++ {
		pol := uint32(0)
		if ss.Polarities[i] == Inhibitory {
			pol = 1
		}
		sy := gpuSynapse{
			Source: uint32(ss.Sources[i]),
			Target: uint32(ss.Targets[i]),
			Packed: uint32(ss.Weights[i]) | uint32(ss.Psps[i])<<8 | pol<<16 | 1<<24,
		}
		assert.Equal(t, ss.Contribution(i), p.SynContrib(&sy), "synapse %d", i)
	}
}

// The excitability gate is a stateless hash shared between backends;
// both gates must agree draw for draw.
func TestKernelFirePassMatchesExcitabilityPass(t *testing.T) {
	for _, exc := range []float32{0, 0.3, 0.7, 1} {
		for burst := uint64(1); burst <= 64; burst++ {
			p := gpuParams{Burst: uint32(burst)}
			assert.Equal(t, excitabilityPass(exc, 9, burst), p.FirePass(exc, 9),
				"exc %v burst %d", exc, burst)
		}
	}
}
