// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/emer/emergent/timer"
	"github.com/goki/mat32"
)

// AreaInfo is the registry entry for one cortical area.
type AreaInfo struct {

	// human-readable area name
	Name string

	// voxel grid dimensions, set when the area's neurons are created
	Dims mat32.Vec3i
}

// InjectedPotential is one staged external stimulation event.
type InjectedPotential struct {
	ID     NeuronID
	Amount float32
}

// BurstResult is what one complete burst cycle returns.
type BurstResult struct {

	// burst number of this cycle (monotonic, starts at 1)
	Burst uint64

	// ids of neurons that fired this burst
	Fired []NeuronID

	// number of candidate neurons evaluated
	NeuronsProcessed int

	// number of candidates blocked by their refractory countdown
	NeuronsInRefractory int

	// number of synapse events propagated
	SynapsesProcessed int

	// per-phase timing
	Timing BurstTiming
}

// NPU is a burst-cycle spiking neuron processing unit.  It owns the
// neuron and synapse stores, the fire candidate list, and the fire
// queues, and drives a compute backend through discrete burst cycles.
//
// An NPU is not internally synchronized: callers serialize access
// themselves, normally through a Runner which interleaves bursts with
// guarded external access.  The status Counters and staged injections
// are the two exceptions and are safe to touch concurrently.
type NPU struct {

	// all neuron state, structure-of-arrays
	Neurons *NeuronStore

	// all synapse state, structure-of-arrays
	Synapses *SynapseStore

	// lock-free health counters, safe for concurrent reads
	Counters StatusCounters

	// rolling per-area fire history
	Ledger *FireLedger

	// timers for each major processing phase
	FunTimes map[string]*timer.Time

	// when true, ProcessBurst records per-phase times into FunTimes
	TimeBursts bool

	// backend selection configuration
	Config BackendConfig

	fcl       *FireCandidateList
	prevFired []NeuronID
	fireQueue []FiringNeuron

	areas map[AreaID]*AreaInfo

	// staged external injections, guarded separately so sensory feeds
	// never contend with the burst loop
	pendingMu sync.Mutex
	pending   []InjectedPotential

	// continuous power injection: every burst, powerAmount is delivered
	// to every neuron of powerArea
	powerOn     bool
	powerArea   AreaID
	powerAmount float32
	powerIDs    []NeuronID

	backend  ComputeBackend
	decision BackendDecision

	burst uint64

	// downstream sampling subscriptions
	vizOn   bool
	motorOn bool
}

// New creates a processing unit with fixed store capacities and the
// given backend preference.  Auto resolves through the cost model; a
// GPU that fails to initialize falls back to the CPU with the reason
// recorded in the backend decision.
func New(neuronCap, synapseCap int, bt BackendType, cfg *BackendConfig) (*NPU, error) {
	if cfg == nil {
		cfg = &BackendConfig{}
		cfg.Defaults()
	}
	pu := &NPU{
		Neurons:  NewNeuronStore(neuronCap),
		Synapses: NewSynapseStore(synapseCap),
		Ledger:   NewFireLedger(0),
		FunTimes: make(map[string]*timer.Time),
		Config:   *cfg,
		fcl:      NewFireCandidateList(),
		areas:    make(map[AreaID]*AreaInfo),
	}
	if bt == Auto {
		pu.decision = SelectBackend(neuronCap, synapseCap, &pu.Config)
	} else {
		pu.decision = BackendDecision{Type: bt, Reason: "explicit backend request", EstimatedSpeedup: 1}
	}
	be, err := NewBackend(pu.decision.Type, pu.Neurons, pu.Synapses, &pu.Config)
	if err != nil {
		if !errors.Is(err, ErrBackendInit) {
			return nil, err
		}
		// GPU setup failed: recover on the CPU rather than running an
		// uninitialized backend
		log.Printf("backend init failed, falling back to CPU: %v", err)
		pu.decision = BackendDecision{
			Type:             CPU,
			Reason:           fmt.Sprintf("fallback after init failure: %v", err),
			EstimatedSpeedup: 1,
		}
		be = NewCPUBackend()
	}
	pu.backend = be
	if err := be.InitializePersistentData(pu.Neurons, pu.Synapses); err != nil {
		return nil, err
	}
	pu.Counters.Ready.Store(true)
	return pu, nil
}

// Backend returns the active compute backend.
func (pu *NPU) Backend() ComputeBackend { return pu.backend }

// BackendDecision returns the recorded selection rationale.
func (pu *NPU) BackendDecision() BackendDecision { return pu.decision }

// Burst returns the current burst number.
func (pu *NPU) Burst() uint64 { return pu.burst }

// RegisterArea names a cortical area.  Dims are filled in by
// CreateAreaNeurons; registering an already-known area updates its name.
func (pu *NPU) RegisterArea(area AreaID, name string) {
	if ai, ok := pu.areas[area]; ok {
		ai.Name = name
		return
	}
	pu.areas[area] = &AreaInfo{Name: name}
}

// AreaInfo returns the registry entry for an area, or an error for an
// unknown one.
func (pu *NPU) AreaInfo(area AreaID) (*AreaInfo, error) {
	ai, ok := pu.areas[area]
	if !ok {
		return nil, fmt.Errorf("area %d: %w", area, ErrUnknownArea)
	}
	return ai, nil
}

// Areas returns the registered area ids in ascending order.
func (pu *NPU) Areas() []AreaID {
	ids := make([]AreaID, 0, len(pu.areas))
	for a := range pu.areas {
		ids = append(ids, a)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CreateNeuron adds one neuron, registering its area on first use.
func (pu *NPU) CreateNeuron(par *NeuronParams, area AreaID, x, y, z uint32) (NeuronID, error) {
	id, err := pu.Neurons.Add(par, area, x, y, z)
	if err != nil {
		return 0, err
	}
	if _, ok := pu.areas[area]; !ok {
		pu.areas[area] = &AreaInfo{Name: fmt.Sprintf("area-%d", area)}
	}
	pu.Counters.Neurons.Store(uint64(pu.Neurons.NumValid()))
	return id, nil
}

// CreateNeurons batch-adds neurons; on capacity overflow the batch is
// truncated, the count of added neurons is returned, and the error
// wraps ErrCapacityExceeded.
func (pu *NPU) CreateNeurons(nb *NeuronBatch) (int, error) {
	n, err := pu.Neurons.AddBatch(nb)
	for i := 0; i < n; i++ {
		if _, ok := pu.areas[nb.Areas[i]]; !ok {
			pu.areas[nb.Areas[i]] = &AreaInfo{Name: fmt.Sprintf("area-%d", nb.Areas[i])}
		}
	}
	pu.Counters.Neurons.Store(uint64(pu.Neurons.NumValid()))
	return n, err
}

// CreateAreaNeurons fills an area's full voxel grid with neurons,
// perVoxel per coordinate, all with the same parameters, and records
// the grid dimensions in the area registry.  Returns the number of
// neurons created.
func (pu *NPU) CreateAreaNeurons(area AreaID, dims mat32.Vec3i, perVoxel int, par *NeuronParams) (int, error) {
	if perVoxel <= 0 {
		perVoxel = 1
	}
	nb := &NeuronBatch{}
	for z := int32(0); z < dims.Z; z++ {
		for y := int32(0); y < dims.Y; y++ {
			for x := int32(0); x < dims.X; x++ {
				for v := 0; v < perVoxel; v++ {
					nb.Append(*par, area, uint32(x), uint32(y), uint32(z))
				}
			}
		}
	}
	n, err := pu.CreateNeurons(nb)
	ai, ok := pu.areas[area]
	if !ok {
		ai = &AreaInfo{Name: fmt.Sprintf("area-%d", area)}
		pu.areas[area] = ai
	}
	ai.Dims = dims
	return n, err
}

// DeleteNeuron removes a neuron and all synapses originating from it.
// Synapses targeting it stay in place and become inert (propagation
// drops contributions aimed at invalid neurons).
func (pu *NPU) DeleteNeuron(id NeuronID) bool {
	if !pu.Neurons.Delete(id) {
		return false
	}
	pu.Synapses.RemoveFromSources([]NeuronID{id})
	pu.Counters.Neurons.Store(uint64(pu.Neurons.NumValid()))
	pu.Counters.Synapses.Store(uint64(pu.Synapses.NumValid()))
	return true
}

// CreateSynapse adds one synapse after validating both endpoints.
func (pu *NPU) CreateSynapse(source, target NeuronID, weight SynWeight, psp SynPsp, pol Polarity) error {
	if !pu.Neurons.IsValid(source) {
		return fmt.Errorf("synapse source %d: %w", source, ErrInvalidNeuron)
	}
	if !pu.Neurons.IsValid(target) {
		return fmt.Errorf("synapse target %d: %w", target, ErrInvalidNeuron)
	}
	if _, err := pu.Synapses.Add(source, target, weight, psp, pol); err != nil {
		return err
	}
	pu.Counters.Synapses.Store(uint64(pu.Synapses.NumValid()))
	return nil
}

// CreateSynapses batch-adds synapses after validating every endpoint;
// one invalid endpoint fails the whole batch before any insertion.
// On capacity overflow the batch is truncated and the error wraps
// ErrCapacityExceeded.
func (pu *NPU) CreateSynapses(sb *SynapseBatch) (int, error) {
	for i := 0; i < sb.Len(); i++ {
		if !pu.Neurons.IsValid(sb.Sources[i]) {
			return 0, fmt.Errorf("synapse %d source %d: %w", i, sb.Sources[i], ErrInvalidNeuron)
		}
		if !pu.Neurons.IsValid(sb.Targets[i]) {
			return 0, fmt.Errorf("synapse %d target %d: %w", i, sb.Targets[i], ErrInvalidNeuron)
		}
	}
	n, err := pu.Synapses.AddBatch(sb)
	pu.Counters.Synapses.Store(uint64(pu.Synapses.NumValid()))
	return n, err
}

// InjectPotential stages one external stimulation event for the next
// burst.  Safe to call concurrently with the burst loop and with
// guarded topology edits: only the staging queue is touched here, and
// validity is checked when the queue drains under the burst guard.
// Ids beyond the store's fixed capacity fail immediately; ids whose
// neuron is deleted before the drain are silently dropped.
func (pu *NPU) InjectPotential(id NeuronID, amount float32) error {
	if int(id) >= pu.Neurons.Capacity {
		return fmt.Errorf("inject target %d: %w", id, ErrInvalidNeuron)
	}
	pu.pendingMu.Lock()
	pu.pending = append(pu.pending, InjectedPotential{ID: id, Amount: amount})
	pu.pendingMu.Unlock()
	return nil
}

// InjectPotentials stages a batch of stimulation events in one lock
// acquisition.  Like InjectPotential it is safe to call concurrently
// with the burst loop; events beyond the store capacity are skipped and
// the number staged is returned.
func (pu *NPU) InjectPotentials(evs []InjectedPotential) int {
	pu.pendingMu.Lock()
	n := 0
	for _, ev := range evs {
		if int(ev.ID) < pu.Neurons.Capacity {
			pu.pending = append(pu.pending, ev)
			n++
		}
	}
	pu.pendingMu.Unlock()
	return n
}

// InjectAtCoordinates stages stimulation by voxel coordinate: each xyz
// triple in an area receives the same amount.  Unoccupied voxels are
// skipped; it returns the number of neurons stimulated.  Unlike the
// id-based injectors this resolves the coordinate index, so concurrent
// callers must hold the runner guard.
func (pu *NPU) InjectAtCoordinates(area AreaID, xyz []uint32, amount float32) int {
	ids := pu.Neurons.AtCoordinates(area, xyz)
	evs := make([]InjectedPotential, len(ids))
	for i, id := range ids {
		evs[i] = InjectedPotential{ID: id, Amount: amount}
	}
	return pu.InjectPotentials(evs)
}

// SetPowerInjection enables continuous stimulation of an area: every
// burst, amount is delivered to each of the area's neurons.  The
// neuron set is cached; call OnGenomeChange after modifying the area.
// amount <= 0 disables.
func (pu *NPU) SetPowerInjection(area AreaID, amount float32) {
	if amount <= 0 {
		pu.powerOn = false
		pu.powerIDs = nil
		return
	}
	pu.powerOn = true
	pu.powerArea = area
	pu.powerAmount = amount
	pu.powerIDs = pu.Neurons.InArea(area)
}

// SetVizSampling toggles per-burst fire queue sampling for
// visualization subscribers.
func (pu *NPU) SetVizSampling(on bool) { pu.vizOn = on }

// SetMotorSampling toggles per-burst fire queue sampling for motor
// output subscribers.
func (pu *NPU) SetMotorSampling(on bool) { pu.motorOn = on }

// FunTimerStart starts the named phase timer, creating it on first use.
func (pu *NPU) FunTimerStart(fun string) {
	ft, ok := pu.FunTimes[fun]
	if !ok {
		ft = &timer.Time{}
		pu.FunTimes[fun] = ft
	}
	ft.Start()
}

// FunTimerStop stops the named phase timer, which must already exist.
func (pu *NPU) FunTimerStop(fun string) {
	pu.FunTimes[fun].Stop()
}

// ProcessBurst runs one complete burst cycle: the previous burst's
// fired neurons propagate through their synapses into the candidate
// list (joining injections staged since the last cycle), dynamics
// evaluates every candidate, and the results are archived before the
// fire queues swap.  Fresh injections and power are staged into the
// cleared list at the end, so external charge always lands one full
// cycle after staging.
func (pu *NPU) ProcessBurst() (*BurstResult, error) {
	burst := pu.burst + 1

	if pu.TimeBursts {
		pu.FunTimerStart("Burst")
	}
	res, err := pu.backend.ProcessBurst(pu.prevFired, pu.Synapses, pu.Neurons, pu.fcl, burst)
	if pu.TimeBursts {
		pu.FunTimerStop("Burst")
	}
	if err != nil {
		// the sequence number only advances on a completed burst
		return nil, fmt.Errorf("burst %d: %w", burst, err)
	}
	pu.burst = burst

	pu.Ledger.Record(pu.burst, res.Fired, pu.Neurons)
	if pu.vizOn || pu.motorOn {
		pu.fireQueue = buildFireQueue(res.Fired, pu.Neurons)
	} else {
		pu.fireQueue = nil
	}
	pu.prevFired = res.Fired
	pu.fcl.Clear()

	if pu.TimeBursts {
		pu.FunTimerStart("Inject")
	}
	pu.pendingMu.Lock()
	staged := pu.pending
	pu.pending = nil
	pu.pendingMu.Unlock()
	for _, ev := range staged {
		// validity is checked here, under the guard, not at staging time
		if pu.Neurons.IsValid(ev.ID) {
			pu.fcl.Add(ev.ID, ev.Amount)
		}
	}
	if pu.powerOn {
		for _, id := range pu.powerIDs {
			pu.fcl.Add(id, pu.powerAmount)
		}
	}
	if pu.TimeBursts {
		pu.FunTimerStop("Inject")
	}

	pu.Counters.Bursts.Store(pu.burst)
	pu.Counters.LastFired.Store(uint64(len(res.Fired)))

	return &BurstResult{
		Burst:               pu.burst,
		Fired:               res.Fired,
		NeuronsProcessed:    res.NeuronsProcessed,
		NeuronsInRefractory: res.NeuronsInRefractory,
		SynapsesProcessed:   res.SynapsesProcessed,
		Timing:              res.Timing,
	}, nil
}

// FiredNeuronIDs returns the neurons that fired in the most recent
// burst.  The slice is reused internally; callers must not hold it
// across bursts.
func (pu *NPU) FiredNeuronIDs() []NeuronID { return pu.prevFired }

// NeuronCount returns the number of valid neurons.
func (pu *NPU) NeuronCount() int { return pu.Neurons.NumValid() }

// SynapseCount returns the number of valid synapses.
func (pu *NPU) SynapseCount() int { return pu.Synapses.NumValid() }

// OnGenomeChange rebuilds derived indexes and backend-resident state
// after structural changes (neuron or synapse creation or deletion,
// bulk parameter edits).  Also re-resolves the power injection cache.
func (pu *NPU) OnGenomeChange() error {
	pu.Neurons.RebuildCoordIndex()
	pu.Synapses.RebuildSourceIndex()
	if pu.powerOn {
		pu.powerIDs = pu.Neurons.InArea(pu.powerArea)
	}
	pu.Counters.Neurons.Store(uint64(pu.Neurons.NumValid()))
	pu.Counters.Synapses.Store(uint64(pu.Synapses.NumValid()))
	return pu.backend.OnGenomeChange()
}

// TimerReport prints the per-phase timing breakdown accumulated while
// TimeBursts was on.
func (pu *NPU) TimerReport() {
	fmt.Printf("TimerReport: bursts: %v\n", pu.burst)
	fmt.Printf("\tFunction Name\tTotal Secs\tPct\n")
	nfn := len(pu.FunTimes)
	fnms := make([]string, 0, nfn)
	for k := range pu.FunTimes {
		fnms = append(fnms, k)
	}
	sort.StringSlice(fnms).Sort()
	pcts := make([]float64, nfn)
	tot := 0.0
	for i, fn := range fnms {
		pcts[i] = pu.FunTimes[fn].TotalSecs()
		tot += pcts[i]
	}
	for i, fn := range fnms {
		fmt.Printf("\t%v \t%6.4g\t%6.4g\n", fn, pcts[i], 100*(pcts[i]/tot))
	}
	fmt.Printf("\tTotal   \t%6.4g\n", tot)
}

// MemSize returns the approximate total memory footprint in bytes.
func (pu *NPU) MemSize() int {
	return pu.Neurons.MemSize() + pu.Synapses.MemSize()
}

// SizeReport returns a human-readable memory usage summary for the
// whole unit.
func (pu *NPU) SizeReport() string {
	return fmt.Sprintf("%s\n%s\nTotal: %v\n", pu.Neurons.SizeReport(), pu.Synapses.SizeReport(),
		(datasize.ByteSize)(pu.MemSize()).HumanReadable())
}
