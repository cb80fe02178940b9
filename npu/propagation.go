// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"runtime"
	"sync"
)

// PropagateParallelThreshold is the synapse event count above which
// propagation shards fired sources across worker goroutines, each
// accumulating into a local candidate list that is merged at the end.
// Below it, a single pass of insert-or-accumulate into the shared list
// wins on overhead.
const PropagateParallelThreshold = 1_000_000

// propagateSynapses computes the signed contribution of every outgoing
// synapse of every fired source and accumulates it into the fire
// candidate list, returning the number of synapse events processed.
// All propagation for a burst completes before dynamics evaluates any
// target; there is no partial-burst visibility.
func propagateSynapses(fired []NeuronID, ss *SynapseStore, fcl *FireCandidateList) int {
	if len(fired) == 0 {
		return 0
	}
	// estimate event count to pick a strategy
	events := 0
	for _, src := range fired {
		events += len(ss.Outgoing(src))
	}
	if events == 0 {
		return 0
	}
	if events < PropagateParallelThreshold {
		return propagateSeq(fired, ss, fcl)
	}
	return propagatePar(fired, ss, fcl)
}

func propagateSeq(fired []NeuronID, ss *SynapseStore, fcl *FireCandidateList) int {
	n := 0
	for _, src := range fired {
		for _, si := range ss.Outgoing(src) {
			i := int(si)
			if !ss.Valid[i] {
				continue
			}
			fcl.Add(ss.Targets[i], ss.Contribution(i))
			n++
		}
	}
	return n
}

// propagatePar shards the fired sources across workers.  Each worker
// accumulates into a private candidate list, then the lists are merged
// into the shared one.  Duplicate targets across shards sum during the
// merge, so the final accumulation matches the sequential strategy up to
// float addition order.
func propagatePar(fired []NeuronID, ss *SynapseStore, fcl *FireCandidateList) int {
	nw := runtime.GOMAXPROCS(0)
	if nw > len(fired) {
		nw = len(fired)
	}
	locals := make([]*FireCandidateList, nw)
	counts := make([]int, nw)
	var wg sync.WaitGroup
	shard := (len(fired) + nw - 1) / nw
	for w := 0; w < nw; w++ {
		lo := w * shard
		hi := lo + shard
		if hi > len(fired) {
			hi = len(fired)
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			local := NewFireCandidateList()
			n := 0
			for _, src := range fired[lo:hi] {
				for _, si := range ss.Outgoing(src) {
					i := int(si)
					if !ss.Valid[i] {
						continue
					}
					local.Add(ss.Targets[i], ss.Contribution(i))
					n++
				}
			}
			locals[w] = local
			counts[w] = n
		}(w, lo, hi)
	}
	wg.Wait()

	total := 0
	for w := 0; w < nw; w++ {
		fcl.Merge(locals[w])
		total += counts[w]
	}
	return total
}
