// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/goki/ki/kit"
)

// NeuronID indexes a neuron slot in the NeuronStore.  Ids are stable for
// the lifetime of a store: neurons never move slots, so an id handed out
// once remains a valid O(1) index until the neuron is deleted.
type NeuronID uint32

// AreaID identifies a cortical area -- a named grouping of neurons that
// share topology and role, used for coordinate indexing and for grouping
// synaptic contributions during a burst.
type AreaID uint32

// Polarity is the excitatory/inhibitory type tag of a neuron or synapse.
type Polarity int8

const (
	// Excitatory contributions add charge to the target neuron.
	Excitatory Polarity = iota

	// Inhibitory contributions remove charge from the target neuron.
	Inhibitory

	PolarityN
)

var KiT_Polarity = kit.Enums.AddEnum(PolarityN, kit.NotBitFlag, nil)

func (p Polarity) String() string {
	switch p {
	case Excitatory:
		return "Excitatory"
	case Inhibitory:
		return "Inhibitory"
	}
	return fmt.Sprintf("Polarity(%d)", int8(p))
}

// Sign returns +1 for excitatory and -1 for inhibitory.
func (p Polarity) Sign() float32 {
	if p == Inhibitory {
		return -1
	}
	return 1
}

// NeuronParams are the per-neuron dynamics parameters supplied at
// creation time.  Zero values are legal (a zero-threshold neuron fires on
// any positive accumulated charge).
type NeuronParams struct {

	// firing threshold: neuron fires when membrane potential >= Threshold
	Threshold float32

	// leak coefficient (0..1): fraction of the distance between membrane
	// potential and resting potential lost per burst for non-firing neurons
	Leak float32

	// resting potential: the value membrane potential decays toward, and
	// the value it is reset to on firing
	Resting float32

	// excitatory / inhibitory type tag
	Polarity Polarity

	// refractory period in bursts: mandatory non-firing interval after a fire
	RefractoryPeriod uint16

	// excitability (0..1): probabilistic gate applied at threshold crossing;
	// >= 0.999 always fires, <= 0 never fires
	Excitability float32

	// maximum number of consecutive bursts this neuron may fire before the
	// extended snooze refractory kicks in; 0 = unlimited
	ConsecFireLimit uint16

	// snooze period in bursts: extended refractory added on top of the
	// normal refractory period when the consecutive-fire limit is reached
	SnoozePeriod uint16

	// whether incoming charge accumulates onto the membrane potential
	// (true) or overwrites it (false)
	ChargeAccum bool
}

// coordKey is the hash key for the coordinate->id index.
type coordKey struct {
	Area    AreaID
	X, Y, Z uint32
}

// NeuronStore holds all neuron state in structure-of-arrays layout: each
// attribute is a contiguous slice indexed by NeuronID, allocated once at
// the capacity given to NewNeuronStore.  The layout keeps the burst hot
// path (dynamics) walking flat float32 / uint16 arrays.
type NeuronStore struct {

	// maximum number of neuron slots, fixed at construction
	Capacity int

	// number of slots handed out so far (including deleted slots)
	N int

	// membrane potential per neuron: accumulated, leaking charge
	Potentials []float32

	// firing threshold per neuron
	Thresholds []float32

	// leak coefficient per neuron
	Leaks []float32

	// resting potential per neuron
	Restings []float32

	// polarity type tag per neuron
	Polarities []Polarity

	// configured refractory period per neuron, in bursts
	RefractoryPeriods []uint16

	// live refractory countdown per neuron; > 0 blocks firing
	RefractoryCountdowns []uint16

	// excitability gate probability per neuron
	Excitabilities []float32

	// consecutive-fire counters per neuron
	ConsecFireCounts []uint16

	// consecutive-fire limits per neuron; 0 = unlimited
	ConsecFireLimits []uint16

	// snooze periods per neuron, in bursts
	SnoozePeriods []uint16

	// charge accumulation flags per neuron
	ChargeAccums []bool

	// owning cortical area per neuron
	Areas []AreaID

	// x,y,z voxel coordinates, 3 entries per neuron
	Coords []uint32

	// validity flags: false after deletion, slot contents stale
	Valid []bool

	// coordinate -> id index for O(1) voxel lookups; maintained on add,
	// rebuilt by RebuildCoordIndex after deletions or bulk edits
	coordIndex map[coordKey]NeuronID
}

// NewNeuronStore returns a store with all attribute arrays allocated to
// the given fixed capacity.
func NewNeuronStore(capacity int) *NeuronStore {
	ns := &NeuronStore{
		Capacity:             capacity,
		Potentials:           make([]float32, capacity),
		Thresholds:           make([]float32, capacity),
		Leaks:                make([]float32, capacity),
		Restings:             make([]float32, capacity),
		Polarities:           make([]Polarity, capacity),
		RefractoryPeriods:    make([]uint16, capacity),
		RefractoryCountdowns: make([]uint16, capacity),
		Excitabilities:       make([]float32, capacity),
		ConsecFireCounts:     make([]uint16, capacity),
		ConsecFireLimits:     make([]uint16, capacity),
		SnoozePeriods:        make([]uint16, capacity),
		ChargeAccums:         make([]bool, capacity),
		Areas:                make([]AreaID, capacity),
		Coords:               make([]uint32, 3*capacity),
		Valid:                make([]bool, capacity),
		coordIndex:           make(map[coordKey]NeuronID),
	}
	return ns
}

// Add creates one neuron at the given area and voxel coordinate,
// returning its id.  Fails with ErrCapacityExceeded when the store is
// full.
func (ns *NeuronStore) Add(par *NeuronParams, area AreaID, x, y, z uint32) (NeuronID, error) {
	if ns.N >= ns.Capacity {
		return 0, fmt.Errorf("add neuron: %d slots in use: %w", ns.N, ErrCapacityExceeded)
	}
	id := NeuronID(ns.N)
	i := ns.N
	ns.N++
	ns.Potentials[i] = par.Resting
	ns.Thresholds[i] = par.Threshold
	ns.Leaks[i] = par.Leak
	ns.Restings[i] = par.Resting
	ns.Polarities[i] = par.Polarity
	ns.RefractoryPeriods[i] = par.RefractoryPeriod
	ns.RefractoryCountdowns[i] = 0
	ns.Excitabilities[i] = par.Excitability
	ns.ConsecFireCounts[i] = 0
	ns.ConsecFireLimits[i] = par.ConsecFireLimit
	ns.SnoozePeriods[i] = par.SnoozePeriod
	ns.ChargeAccums[i] = par.ChargeAccum
	ns.Areas[i] = area
	ns.Coords[3*i] = x
	ns.Coords[3*i+1] = y
	ns.Coords[3*i+2] = z
	ns.Valid[i] = true
	ns.coordIndex[coordKey{area, x, y, z}] = id
	return id, nil
}

// NeuronBatch holds equal-length attribute slices for batch insertion.
type NeuronBatch struct {
	Params []NeuronParams
	Areas  []AreaID
	Xs     []uint32
	Ys     []uint32
	Zs     []uint32
}

// Len returns the number of neurons in the batch.
func (nb *NeuronBatch) Len() int { return len(nb.Params) }

// Append adds one neuron entry to the batch.
func (nb *NeuronBatch) Append(par NeuronParams, area AreaID, x, y, z uint32) {
	nb.Params = append(nb.Params, par)
	nb.Areas = append(nb.Areas, area)
	nb.Xs = append(nb.Xs, x)
	nb.Ys = append(nb.Ys, y)
	nb.Zs = append(nb.Zs, z)
}

// AddBatch inserts as many neurons from the batch as capacity allows, in
// order, returning the number actually added.  When the store cannot hold
// the entire batch the insert is truncated and ErrCapacityExceeded is
// returned along with the added count, so callers always learn both the
// requested and the actual number.
func (ns *NeuronStore) AddBatch(nb *NeuronBatch) (int, error) {
	req := nb.Len()
	if len(nb.Areas) != req || len(nb.Xs) != req || len(nb.Ys) != req || len(nb.Zs) != req {
		return 0, fmt.Errorf("add neurons batch: attribute slices must have equal length")
	}
	free := ns.Capacity - ns.N
	n := req
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		if _, err := ns.Add(&nb.Params[i], nb.Areas[i], nb.Xs[i], nb.Ys[i], nb.Zs[i]); err != nil {
			return i, err
		}
	}
	if n < req {
		return n, fmt.Errorf("add neurons batch: added %d of %d: %w", n, req, ErrCapacityExceeded)
	}
	return n, nil
}

// Delete marks a neuron slot invalid and drops it from the coordinate
// index.  The slot is not reused; ids of other neurons are unaffected.
// Returns false if the id is out of range or already invalid.
func (ns *NeuronStore) Delete(id NeuronID) bool {
	i := int(id)
	if i >= ns.N || !ns.Valid[i] {
		return false
	}
	ns.Valid[i] = false
	delete(ns.coordIndex, coordKey{ns.Areas[i], ns.Coords[3*i], ns.Coords[3*i+1], ns.Coords[3*i+2]})
	return true
}

// IsValid reports whether id names a live neuron slot.
func (ns *NeuronStore) IsValid(id NeuronID) bool {
	return int(id) < ns.N && ns.Valid[id]
}

// NumValid returns the number of live (non-deleted) neurons.
func (ns *NeuronStore) NumValid() int {
	n := 0
	for i := 0; i < ns.N; i++ {
		if ns.Valid[i] {
			n++
		}
	}
	return n
}

// AtCoordinate returns the neuron occupying the given voxel in an area.
// Absence is a normal condition in sparse coordinate spaces, so it is
// reported as ok == false, never as an error -- callers (morphology
// generators) skip and log as they see fit.
func (ns *NeuronStore) AtCoordinate(area AreaID, x, y, z uint32) (NeuronID, bool) {
	id, ok := ns.coordIndex[coordKey{area, x, y, z}]
	return id, ok
}

// AtCoordinates is the batch form of AtCoordinate: coordinates with no
// occupying neuron are silently skipped, so the result may be shorter
// than the input.  Coordinate triples are consumed from the flat xyz
// slice three at a time.
func (ns *NeuronStore) AtCoordinates(area AreaID, xyz []uint32) []NeuronID {
	ids := make([]NeuronID, 0, len(xyz)/3)
	for i := 0; i+2 < len(xyz); i += 3 {
		if id, ok := ns.coordIndex[coordKey{area, xyz[i], xyz[i+1], xyz[i+2]}]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// RebuildCoordIndex rebuilds the coordinate->id hash index from scratch.
// Call after deletions or bulk coordinate edits; the index is otherwise
// maintained incrementally by Add.  Repeated linear scans during synapse
// construction dominate build latency on large networks, which is why the
// index exists at all.
func (ns *NeuronStore) RebuildCoordIndex() {
	ns.coordIndex = make(map[coordKey]NeuronID, ns.N)
	for i := 0; i < ns.N; i++ {
		if !ns.Valid[i] {
			continue
		}
		k := coordKey{ns.Areas[i], ns.Coords[3*i], ns.Coords[3*i+1], ns.Coords[3*i+2]}
		ns.coordIndex[k] = NeuronID(i)
	}
}

// Coordinate returns the x,y,z voxel coordinate of a neuron.
func (ns *NeuronStore) Coordinate(id NeuronID) (x, y, z uint32) {
	i := int(id)
	return ns.Coords[3*i], ns.Coords[3*i+1], ns.Coords[3*i+2]
}

// Area returns the owning cortical area of a neuron.
func (ns *NeuronStore) Area(id NeuronID) AreaID {
	return ns.Areas[id]
}

// InArea returns the ids of all valid neurons in an area.  This is a
// linear scan; it is intended for inspection and bulk maintenance, not
// the burst hot path.
func (ns *NeuronStore) InArea(area AreaID) []NeuronID {
	var ids []NeuronID
	for i := 0; i < ns.N; i++ {
		if ns.Valid[i] && ns.Areas[i] == area {
			ids = append(ids, NeuronID(i))
		}
	}
	return ids
}

// forEachInArea applies fn to the index of every valid neuron in an area,
// returning the number visited.  Shared by the per-area batch updaters.
func (ns *NeuronStore) forEachInArea(area AreaID, fn func(i int)) int {
	n := 0
	for i := 0; i < ns.N; i++ {
		if ns.Valid[i] && ns.Areas[i] == area {
			fn(i)
			n++
		}
	}
	return n
}

// UpdateAreaThreshold sets the firing threshold of every neuron in an
// area, returning the number updated.
func (ns *NeuronStore) UpdateAreaThreshold(area AreaID, v float32) int {
	return ns.forEachInArea(area, func(i int) { ns.Thresholds[i] = v })
}

// UpdateAreaLeak sets the leak coefficient of every neuron in an area.
func (ns *NeuronStore) UpdateAreaLeak(area AreaID, v float32) int {
	return ns.forEachInArea(area, func(i int) { ns.Leaks[i] = v })
}

// UpdateAreaExcitability sets the excitability of every neuron in an area.
func (ns *NeuronStore) UpdateAreaExcitability(area AreaID, v float32) int {
	return ns.forEachInArea(area, func(i int) { ns.Excitabilities[i] = v })
}

// UpdateAreaRefractoryPeriod sets the refractory period of every neuron
// in an area.  Live countdowns are left to run out on their own.
func (ns *NeuronStore) UpdateAreaRefractoryPeriod(area AreaID, v uint16) int {
	return ns.forEachInArea(area, func(i int) { ns.RefractoryPeriods[i] = v })
}

// UpdateAreaSnoozePeriod sets the snooze period of every neuron in an area.
func (ns *NeuronStore) UpdateAreaSnoozePeriod(area AreaID, v uint16) int {
	return ns.forEachInArea(area, func(i int) { ns.SnoozePeriods[i] = v })
}

// UpdateAreaConsecFireLimit sets the consecutive-fire limit of every
// neuron in an area.
func (ns *NeuronStore) UpdateAreaConsecFireLimit(area AreaID, v uint16) int {
	return ns.forEachInArea(area, func(i int) { ns.ConsecFireLimits[i] = v })
}

// UpdateAreaRestingPotential sets the resting potential of every neuron
// in an area.
func (ns *NeuronStore) UpdateAreaRestingPotential(area AreaID, v float32) int {
	return ns.forEachInArea(area, func(i int) { ns.Restings[i] = v })
}

// UpdateAreaChargeAccum sets the charge accumulation flag of every neuron
// in an area.
func (ns *NeuronStore) UpdateAreaChargeAccum(area AreaID, accum bool) int {
	return ns.forEachInArea(area, func(i int) { ns.ChargeAccums[i] = accum })
}

// MemSize returns the approximate memory footprint of the store's
// attribute arrays in bytes.
func (ns *NeuronStore) MemSize() int {
	c := ns.Capacity
	return c*(4+4+4+4+1+2+2+4+2+2+2+1+4+1) + 3*c*4
}

// SizeReport returns a human-readable memory usage summary.
func (ns *NeuronStore) SizeReport() string {
	return fmt.Sprintf("Neurons: %d / %d \t Mem: %v", ns.NumValid(), ns.Capacity,
		(datasize.ByteSize)(ns.MemSize()).HumanReadable())
}
