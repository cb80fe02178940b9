// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"fmt"
	"strings"

	"github.com/emer/emergent/timer"
	"github.com/goki/ki/kit"
)

// BackendType selects a compute backend implementation.
type BackendType int

var KiT_BackendType = kit.Enums.AddEnum(BackendTypeN, kit.NotBitFlag, nil)

const (
	// CPU runs propagation and dynamics on the host, parallelized across
	// worker goroutines above the event thresholds.
	CPU BackendType = iota

	// GPU runs propagation and dynamics as compute shaders with
	// backend-resident neuron and synapse state (build tag vgpu).
	GPU

	// Auto defers the choice to the backend selector's cost model.
	Auto

	BackendTypeN
)

func (bt BackendType) String() string {
	switch bt {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	case Auto:
		return "Auto"
	}
	return fmt.Sprintf("BackendType(%d)", int(bt))
}

// BackendTypeFromString parses a backend name from configuration.
// Unknown names fail with ErrInvalidBackend.
func BackendTypeFromString(s string) (BackendType, error) {
	switch strings.ToLower(s) {
	case "cpu":
		return CPU, nil
	case "gpu":
		return GPU, nil
	case "auto":
		return Auto, nil
	}
	return CPU, fmt.Errorf("%w: %q", ErrInvalidBackend, s)
}

// BurstTiming is the per-phase timing breakdown of one burst, in seconds.
type BurstTiming struct {

	// time spent on synaptic propagation
	PropagationSecs float64

	// time spent on neural dynamics
	DynamicsSecs float64

	// time spent on host<->device transfers (zero for CPU)
	TransferSecs float64

	// total burst compute time
	TotalSecs float64
}

// BackendBurstResult is what a compute backend returns for one burst.
type BackendBurstResult struct {

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

// ComputeBackend abstracts where burst computation runs.  Backends are
// stateful: InitializePersistentData must be called before the first
// burst (a no-op on CPU, a device upload on GPU), and OnGenomeChange
// must be called whenever network topology changes so backend-side
// caches are invalidated.
type ComputeBackend interface {

	// Name identifies the backend for logging and selection records.
	Name() string

	// ProcessSynapticPropagation consumes the previous burst's fired
	// neuron list and accumulates contributions into the fire candidate
	// list, returning the number of synapse events processed.
	ProcessSynapticPropagation(fired []NeuronID, ss *SynapseStore, ns *NeuronStore, fcl *FireCandidateList) (int, error)

	// ProcessNeuralDynamics evaluates the candidate list against the
	// neuron store, returning fired ids, candidates processed, and
	// candidates in refractory.
	ProcessNeuralDynamics(fcl *FireCandidateList, ns *NeuronStore, burst uint64) (firedIDs []NeuronID, processed, inRefractory int, err error)

	// ProcessBurst runs one full burst cycle.  Most backends use the
	// RunBurst composition; a backend overrides it only to keep
	// intermediate data resident on its device between the two phases.
	ProcessBurst(fired []NeuronID, ss *SynapseStore, ns *NeuronStore, fcl *FireCandidateList, burst uint64) (*BackendBurstResult, error)

	// InitializePersistentData uploads or prepares backend-resident
	// state prior to the first burst.
	InitializePersistentData(ns *NeuronStore, ss *SynapseStore) error

	// OnGenomeChange invalidates backend-side caches (e.g., device
	// copies of the synapse index) after topology changes.
	OnGenomeChange() error
}

// RunBurst is the default ProcessBurst composition shared by backends:
// propagation, then dynamics, with a per-phase timing breakdown.  It is
// supplied once here so backends only diverge when they have a real
// optimization to make.
func RunBurst(be ComputeBackend, fired []NeuronID, ss *SynapseStore, ns *NeuronStore, fcl *FireCandidateList, burst uint64) (*BackendBurstResult, error) {
	total := timer.Time{}
	total.Start()

	phase := timer.Time{}
	phase.Start()
	nsyn, err := be.ProcessSynapticPropagation(fired, ss, ns, fcl)
	phase.Stop()
	propSecs := phase.TotalSecs()
	if err != nil {
		return nil, fmt.Errorf("synaptic propagation: %w", err)
	}

	phase.Reset()
	phase.Start()
	newFired, processed, inRefrac, err := be.ProcessNeuralDynamics(fcl, ns, burst)
	phase.Stop()
	if err != nil {
		return nil, fmt.Errorf("neural dynamics: %w", err)
	}

	total.Stop()
	return &BackendBurstResult{
		Fired:               newFired,
		NeuronsProcessed:    processed,
		NeuronsInRefractory: inRefrac,
		SynapsesProcessed:   nsyn,
		Timing: BurstTiming{
			PropagationSecs: propSecs,
			DynamicsSecs:    phase.TotalSecs(),
			TotalSecs:       total.TotalSecs(),
		},
	}, nil
}

// NewBackend constructs a backend of the given type.  Auto resolves
// through SelectBackend using current store counts.  A GPU request when
// no GPU is available falls back to CPU with a logged reason, never to
// an uninitialized backend.
func NewBackend(bt BackendType, ns *NeuronStore, ss *SynapseStore, cfg *BackendConfig) (ComputeBackend, error) {
	if bt == Auto {
		dec := SelectBackend(ns.NumValid(), ss.NumValid(), cfg)
		bt = dec.Type
	}
	switch bt {
	case CPU:
		return NewCPUBackend(), nil
	case GPU:
		be, err := NewGPUBackend(ns.Capacity, ss.Capacity)
		if err != nil {
			return nil, err
		}
		return be, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidBackend, bt)
}
