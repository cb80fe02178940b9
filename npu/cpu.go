// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

// CPUBackend runs burst computation on the host.  Propagation and
// grouping shard across worker goroutines above the parallel thresholds;
// dynamics itself is a single pass, since it mutates the neuron store
// in place.
type CPUBackend struct{}

// NewCPUBackend returns a ready CPU backend; no initialization needed.
func NewCPUBackend() *CPUBackend { return &CPUBackend{} }

func (cb *CPUBackend) Name() string { return "CPU" }

func (cb *CPUBackend) ProcessSynapticPropagation(fired []NeuronID, ss *SynapseStore, ns *NeuronStore, fcl *FireCandidateList) (int, error) {
	return propagateSynapses(fired, ss, fcl), nil
}

func (cb *CPUBackend) ProcessNeuralDynamics(fcl *FireCandidateList, ns *NeuronStore, burst uint64) ([]NeuronID, int, int, error) {
	fired, st := runNeuralDynamics(fcl, ns, burst)
	return fired, st.processed, st.inRefractory, nil
}

func (cb *CPUBackend) ProcessBurst(fired []NeuronID, ss *SynapseStore, ns *NeuronStore, fcl *FireCandidateList, burst uint64) (*BackendBurstResult, error) {
	return RunBurst(cb, fired, ss, ns, fcl, burst)
}

// InitializePersistentData is a no-op: the CPU backend works directly on
// the shared stores.
func (cb *CPUBackend) InitializePersistentData(ns *NeuronStore, ss *SynapseStore) error {
	return nil
}

// OnGenomeChange is a no-op: the CPU backend holds no topology caches of
// its own.
func (cb *CPUBackend) OnGenomeChange() error { return nil }
