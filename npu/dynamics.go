// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

// excitabilityDraw returns a uniform [0,1) value keyed by neuron id and
// burst number, so the same neuron gets a fresh draw every burst.  The
// draw shares fireDraw's stateless hash with the device kernels, so
// both backends gate identically for the same (neuron, burst) pair.
func excitabilityDraw(id NeuronID, burst uint64) float32 {
	return fireDraw(uint32(id), uint32(burst))
}

// excitabilityPass applies the probabilistic firing gate: excitability
// of effectively 1 always fires, 0 or less never does, anything between
// fires with that probability per burst.
func excitabilityPass(exc float32, id NeuronID, burst uint64) bool {
	if exc >= 0.999 {
		return true
	}
	if exc <= 0 {
		return false
	}
	return excitabilityDraw(id, burst) < exc
}

// dynamicsStats are the per-burst counters produced by neural dynamics.
type dynamicsStats struct {
	processed    int
	fired        int
	inRefractory int
}

// stepNeuron applies one burst of membrane dynamics to a single
// candidate neuron, returning whether it fired and whether it was in its
// refractory window.
//
// Rules, in order: a neuron in refractory decrements its countdown and
// is blocked for the whole burst (when an extended snooze countdown
// expires, the consecutive-fire counter resets).  Otherwise the
// accumulated candidate contribution is applied to the membrane
// potential -- added when the charge accumulation flag is set, replacing
// it when not -- then leak pulls the potential toward resting.  The
// neuron fires when the potential reaches threshold and the excitability
// draw passes: potential resets to resting, the consecutive-fire counter
// increments, and the refractory countdown is set to the refractory
// period, extended by the snooze period when the counter has hit its
// limit.  A non-firing neuron resets its consecutive-fire counter.
func stepNeuron(ns *NeuronStore, id NeuronID, contrib float32, burst uint64) (fired, refrac bool) {
	i := int(id)
	if i >= ns.N || !ns.Valid[i] {
		return false, false
	}

	if ns.RefractoryCountdowns[i] > 0 {
		ns.RefractoryCountdowns[i]--
		limit := ns.ConsecFireLimits[i]
		if ns.RefractoryCountdowns[i] == 0 && limit > 0 && ns.ConsecFireCounts[i] >= limit {
			ns.ConsecFireCounts[i] = 0
		}
		return false, true
	}

	v := ns.Potentials[i]
	if ns.ChargeAccums[i] {
		v += contrib
	} else {
		v = contrib
	}
	if ns.Leaks[i] > 0 {
		v -= ns.Leaks[i] * (v - ns.Restings[i])
	}
	ns.Potentials[i] = v

	if v >= ns.Thresholds[i] && excitabilityPass(ns.Excitabilities[i], id, burst) {
		ns.Potentials[i] = ns.Restings[i]
		ns.ConsecFireCounts[i]++
		limit := ns.ConsecFireLimits[i]
		if limit > 0 && ns.ConsecFireCounts[i] >= limit {
			ns.RefractoryCountdowns[i] = ns.RefractoryPeriods[i] + ns.SnoozePeriods[i]
		} else {
			ns.RefractoryCountdowns[i] = ns.RefractoryPeriods[i]
		}
		return true, false
	}

	if ns.ConsecFireLimits[i] > 0 {
		ns.ConsecFireCounts[i] = 0
	}
	return false, false
}

// runNeuralDynamics evaluates every candidate in the list against the
// neuron store, area by area, returning the fired neuron ids and counts.
// Candidate grouping by area happens first, so dynamics walks each
// area's contribution set as a unit.
func runNeuralDynamics(fcl *FireCandidateList, ns *NeuronStore, burst uint64) ([]NeuronID, dynamicsStats) {
	var st dynamicsStats
	if fcl.Len() == 0 {
		return nil, st
	}
	groups := fcl.GroupByArea(ns)
	fired := make([]NeuronID, 0, fcl.Len()/8+1)
	for _, cands := range groups {
		for _, c := range cands {
			f, r := stepNeuron(ns, c.ID, c.Contrib, burst)
			st.processed++
			if f {
				fired = append(fired, c.ID)
				st.fired++
			}
			if r {
				st.inRefractory++
			}
		}
	}
	return fired, st
}
