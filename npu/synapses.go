// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"fmt"

	"github.com/c2h5oh/datasize"
)

// SynWeight is a quantized synaptic weight (0..255).  Conversion to float
// is a direct cast with no normalization: a stored 200 contributes 200.0.
type SynWeight uint8

// Float returns the weight as a float32.
func (w SynWeight) Float() float32 { return float32(w) }

// SynPsp is a quantized post-synaptic potential magnitude (0..255), the
// per-event conductance multiplier.  Direct cast, no normalization.
type SynPsp uint8

// Float returns the psp magnitude as a float32.
func (p SynPsp) Float() float32 { return float32(p) }

// SynapseStore holds all synapse state in structure-of-arrays layout,
// sized to a fixed capacity at construction.  A source->synapse index
// supports O(outgoing) lookup of a fired neuron's synapses; it is
// maintained incrementally on add and rebuilt after removals.
type SynapseStore struct {

	// maximum number of synapse slots, fixed at construction
	Capacity int

	// number of slots handed out so far (including removed slots)
	N int

	// source neuron id per synapse
	Sources []NeuronID

	// target neuron id per synapse
	Targets []NeuronID

	// quantized weight per synapse
	Weights []SynWeight

	// quantized post-synaptic potential magnitude per synapse
	Psps []SynPsp

	// polarity tag per synapse: sign of the contribution
	Polarities []Polarity

	// validity flags: false after removal
	Valid []bool

	// source neuron -> indices of its outgoing synapses
	srcIndex map[NeuronID][]int32
}

// NewSynapseStore returns a store with all attribute arrays allocated to
// the given fixed capacity.
func NewSynapseStore(capacity int) *SynapseStore {
	return &SynapseStore{
		Capacity:   capacity,
		Sources:    make([]NeuronID, capacity),
		Targets:    make([]NeuronID, capacity),
		Weights:    make([]SynWeight, capacity),
		Psps:       make([]SynPsp, capacity),
		Polarities: make([]Polarity, capacity),
		Valid:      make([]bool, capacity),
		srcIndex:   make(map[NeuronID][]int32),
	}
}

// Add creates one synapse, returning its slot index.  Fails with
// ErrCapacityExceeded when the store is full.  Neuron id validity is the
// caller's concern (the NPU checks against its neuron store); the store
// itself only manages slots.
func (ss *SynapseStore) Add(source, target NeuronID, weight SynWeight, psp SynPsp, pol Polarity) (int, error) {
	if ss.N >= ss.Capacity {
		return 0, fmt.Errorf("add synapse: %d slots in use: %w", ss.N, ErrCapacityExceeded)
	}
	i := ss.N
	ss.N++
	ss.Sources[i] = source
	ss.Targets[i] = target
	ss.Weights[i] = weight
	ss.Psps[i] = psp
	ss.Polarities[i] = pol
	ss.Valid[i] = true
	ss.srcIndex[source] = append(ss.srcIndex[source], int32(i))
	return i, nil
}

// SynapseBatch holds equal-length attribute slices for batch insertion.
type SynapseBatch struct {
	Sources    []NeuronID
	Targets    []NeuronID
	Weights    []SynWeight
	Psps       []SynPsp
	Polarities []Polarity
}

// Len returns the number of synapses in the batch.
func (sb *SynapseBatch) Len() int { return len(sb.Sources) }

// Append adds one synapse entry to the batch.
func (sb *SynapseBatch) Append(source, target NeuronID, weight SynWeight, psp SynPsp, pol Polarity) {
	sb.Sources = append(sb.Sources, source)
	sb.Targets = append(sb.Targets, target)
	sb.Weights = append(sb.Weights, weight)
	sb.Psps = append(sb.Psps, psp)
	sb.Polarities = append(sb.Polarities, pol)
}

// Slice returns the sub-batch covering [lo, hi), sharing backing arrays.
func (sb *SynapseBatch) Slice(lo, hi int) *SynapseBatch {
	return &SynapseBatch{
		Sources:    sb.Sources[lo:hi],
		Targets:    sb.Targets[lo:hi],
		Weights:    sb.Weights[lo:hi],
		Psps:       sb.Psps[lo:hi],
		Polarities: sb.Polarities[lo:hi],
	}
}

// AddBatch inserts as many synapses from the batch as capacity allows, in
// order, returning the number actually added.  A truncated insert returns
// ErrCapacityExceeded along with the added count.
func (ss *SynapseStore) AddBatch(sb *SynapseBatch) (int, error) {
	req := sb.Len()
	if len(sb.Targets) != req || len(sb.Weights) != req || len(sb.Psps) != req || len(sb.Polarities) != req {
		return 0, fmt.Errorf("add synapses batch: attribute slices must have equal length")
	}
	free := ss.Capacity - ss.N
	n := req
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		if _, err := ss.Add(sb.Sources[i], sb.Targets[i], sb.Weights[i], sb.Psps[i], sb.Polarities[i]); err != nil {
			return i, err
		}
	}
	if n < req {
		return n, fmt.Errorf("add synapses batch: added %d of %d: %w", n, req, ErrCapacityExceeded)
	}
	return n, nil
}

// Outgoing returns the slot indices of a neuron's outgoing synapses.
// The returned slice is owned by the index; callers must not mutate it.
func (ss *SynapseStore) Outgoing(source NeuronID) []int32 {
	return ss.srcIndex[source]
}

// Remove marks the first synapse from source to target invalid, returning
// whether one was found.  The source index entry is pruned in place.
func (ss *SynapseStore) Remove(source, target NeuronID) bool {
	idxs := ss.srcIndex[source]
	for n, si := range idxs {
		i := int(si)
		if ss.Valid[i] && ss.Targets[i] == target {
			ss.Valid[i] = false
			ss.srcIndex[source] = append(idxs[:n], idxs[n+1:]...)
			return true
		}
	}
	return false
}

// RemoveFromSources invalidates all outgoing synapses of the given source
// neurons, returning the number removed.
func (ss *SynapseStore) RemoveFromSources(sources []NeuronID) int {
	n := 0
	for _, src := range sources {
		for _, si := range ss.srcIndex[src] {
			if ss.Valid[si] {
				ss.Valid[si] = false
				n++
			}
		}
		delete(ss.srcIndex, src)
	}
	return n
}

// UpdateWeight sets the weight of the synapse from source to target,
// returning whether one was found.
func (ss *SynapseStore) UpdateWeight(source, target NeuronID, weight SynWeight) bool {
	for _, si := range ss.srcIndex[source] {
		if ss.Valid[si] && ss.Targets[si] == target {
			ss.Weights[si] = weight
			return true
		}
	}
	return false
}

// Contribution returns the signed charge contribution of synapse slot i:
// +/- weight x psp, sign from polarity.
func (ss *SynapseStore) Contribution(i int) float32 {
	return ss.Weights[i].Float() * ss.Psps[i].Float() * ss.Polarities[i].Sign()
}

// NumValid returns the number of live (non-removed) synapses.
func (ss *SynapseStore) NumValid() int {
	n := 0
	for i := 0; i < ss.N; i++ {
		if ss.Valid[i] {
			n++
		}
	}
	return n
}

// RebuildSourceIndex rebuilds the source->synapse index from scratch,
// dropping removed slots.  Call after bulk removals or an imported
// topology change.
func (ss *SynapseStore) RebuildSourceIndex() {
	ss.srcIndex = make(map[NeuronID][]int32, len(ss.srcIndex))
	for i := 0; i < ss.N; i++ {
		if ss.Valid[i] {
			ss.srcIndex[ss.Sources[i]] = append(ss.srcIndex[ss.Sources[i]], int32(i))
		}
	}
}

// MemSize returns the approximate memory footprint of the store's
// attribute arrays in bytes.
func (ss *SynapseStore) MemSize() int {
	return ss.Capacity * (4 + 4 + 1 + 1 + 1 + 1)
}

// SizeReport returns a human-readable memory usage summary.
func (ss *SynapseStore) SizeReport() string {
	return fmt.Sprintf("Synapses: %d / %d \t Mem: %v", ss.NumValid(), ss.Capacity,
		(datasize.ByteSize)(ss.MemSize()).HumanReadable())
}
