// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"runtime"
	"sync"
)

// Candidate is one (target neuron, accumulated contribution) pair in the
// fire candidate list.
type Candidate struct {
	ID      NeuronID
	Contrib float32
}

// FireCandidateList is the per-burst sparse accumulator of incoming
// charge contributions, keyed by target neuron id.  It is built fresh
// each burst by synaptic propagation (plus sensory and power injection)
// and consumed by neural dynamics.  Contributions to the same target
// always sum -- multiple synapses commonly converge on one neuron within
// a single burst, and overwriting would drop charge.
type FireCandidateList struct {
	contribs map[NeuronID]float32
}

// NewFireCandidateList returns an empty list.
func NewFireCandidateList() *FireCandidateList {
	return &FireCandidateList{contribs: make(map[NeuronID]float32)}
}

// Add accumulates a signed contribution for a target neuron.
func (fcl *FireCandidateList) Add(id NeuronID, contrib float32) {
	fcl.contribs[id] += contrib
}

// Contrib returns the accumulated contribution for a neuron (0 if none).
func (fcl *FireCandidateList) Contrib(id NeuronID) float32 {
	return fcl.contribs[id]
}

// Len returns the number of distinct candidate neurons.
func (fcl *FireCandidateList) Len() int { return len(fcl.contribs) }

// Candidates returns all (neuron, contribution) pairs in unspecified
// order.  The per-area contribution *sets* are the contract; ordering
// within them is not.
func (fcl *FireCandidateList) Candidates() []Candidate {
	cs := make([]Candidate, 0, len(fcl.contribs))
	for id, c := range fcl.contribs {
		cs = append(cs, Candidate{ID: id, Contrib: c})
	}
	return cs
}

// Clear empties the list, retaining allocated capacity for the next burst.
func (fcl *FireCandidateList) Clear() {
	clear(fcl.contribs)
}

// Merge adds every contribution from another list into this one.
func (fcl *FireCandidateList) Merge(other *FireCandidateList) {
	for id, c := range other.contribs {
		fcl.contribs[id] += c
	}
}

// AreaGrouping maps owning cortical area to that area's candidate pairs
// for the burst being computed.  Dynamics processes one area at a time.
type AreaGrouping map[AreaID][]Candidate

// GroupParallelThreshold is the candidate count above which GroupByArea
// switches from direct insert-or-accumulate to parallel partition and
// merge.  Sequential insertion scales super-linearly under hash
// contention past roughly this size.
const GroupParallelThreshold = 1_000_000

// GroupByArea partitions the candidate list by the owning area of each
// target neuron.  Candidates whose target is invalid or out of range are
// dropped here, so dynamics never sees them.  Above
// GroupParallelThreshold the grouping runs as a parallel partition over
// shards of the candidate set followed by a concatenating merge; both
// strategies produce the same per-area contribution sets.
func (fcl *FireCandidateList) GroupByArea(ns *NeuronStore) AreaGrouping {
	if len(fcl.contribs) >= GroupParallelThreshold {
		return fcl.groupByAreaPar(ns)
	}
	groups := make(AreaGrouping)
	for id, c := range fcl.contribs {
		if !ns.IsValid(id) {
			continue
		}
		area := ns.Areas[id]
		groups[area] = append(groups[area], Candidate{ID: id, Contrib: c})
	}
	return groups
}

// groupByAreaPar groups via parallel partition-and-merge: the flattened
// candidate set is sharded across workers, each worker builds a local
// area grouping, and the local groupings are concatenated per area.
// Concatenation order differs run to run, which is fine: per-area sets,
// not sequences, are the contract.
func (fcl *FireCandidateList) groupByAreaPar(ns *NeuronStore) AreaGrouping {
	cands := fcl.Candidates()
	nw := runtime.GOMAXPROCS(0)
	if nw > len(cands) {
		nw = 1
	}
	locals := make([]AreaGrouping, nw)
	var wg sync.WaitGroup
	shard := (len(cands) + nw - 1) / nw
	for w := 0; w < nw; w++ {
		lo := w * shard
		hi := lo + shard
		if hi > len(cands) {
			hi = len(cands)
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			local := make(AreaGrouping)
			for _, c := range cands[lo:hi] {
				if !ns.IsValid(c.ID) {
					continue
				}
				area := ns.Areas[c.ID]
				local[area] = append(local[area], c)
			}
			locals[w] = local
		}(w, lo, hi)
	}
	wg.Wait()

	groups := make(AreaGrouping)
	for _, local := range locals {
		for area, cs := range local {
			groups[area] = append(groups[area], cs...)
		}
	}
	return groups
}
