// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build vgpu

package npu

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/goki/vgpu/vgpu"
)

func init() {
	// must lock main thread for gpu
	runtime.LockOSThread()
}

// GPUAvailable reports whether a Vulkan compute device can be used.
func GPUAvailable() bool {
	return vgpu.Init() == nil
}

// GPUBackend runs synaptic propagation and neural dynamics as Vulkan
// compute kernels via vgpu.  Synapse and neuron state live on the
// device between bursts; per-burst traffic is limited to the fired,
// present, and contribution buffers going up and the fire codes and
// updated neuron state coming back.
type GPUBackend struct {
	gp     *vgpu.GPU
	sy     *vgpu.System
	plProp *vgpu.Pipeline
	plDyn  *vgpu.Pipeline

	neuronCap  int
	synapseCap int

	// host-side staging mirrors of the device buffers
	neurons  []gpuNeuron
	synapses []gpuSynapse
	contribs []float32
	fired    []uint32
	present  []uint32

	// stores last uploaded, re-read on genome change
	ns *NeuronStore
	ss *SynapseStore

	synced bool
}

// NewGPUBackend initializes a Vulkan compute system sized for the given
// capacities.  The kernels come from gpu_kernels.go via the gosl
// generate step, which compiles them to shaders/propagate.spv and
// shaders/dynamics.spv; they are loaded relative to the working
// directory.
func NewGPUBackend(neuronCap, synapseCap int) (ComputeBackend, error) {
	if err := vgpu.Init(); err != nil {
		return nil, fmt.Errorf("%w: vulkan init: %v", ErrBackendInit, err)
	}
	gp := vgpu.NewComputeGPU()
	gp.Config("burstnpu")

	gb := &GPUBackend{gp: gp, neuronCap: neuronCap, synapseCap: synapseCap}
	gb.neurons = make([]gpuNeuron, neuronCap)
	gb.synapses = make([]gpuSynapse, synapseCap)
	gb.contribs = make([]float32, neuronCap)
	gb.fired = make([]uint32, neuronCap)
	gb.present = make([]uint32, neuronCap)

	sy := gp.NewComputeSystem("burstnpu")
	gb.sy = sy
	gb.plProp = sy.NewPipeline("propagate")
	gb.plProp.AddShaderFile("propagate", vgpu.ComputeShader, "shaders/propagate.spv")
	gb.plDyn = sy.NewPipeline("dynamics")
	gb.plDyn.AddShaderFile("dynamics", vgpu.ComputeShader, "shaders/dynamics.spv")

	vars := sy.Vars()
	setp := vars.AddSet()
	setd := vars.AddSet()

	setp.AddStruct("Params", int(unsafe.Sizeof(gpuParams{})), 1, vgpu.Uniform, vgpu.ComputeShader)
	setd.AddStruct("Neurons", int(unsafe.Sizeof(gpuNeuron{})), neuronCap, vgpu.Storage, vgpu.ComputeShader)
	setd.AddStruct("Synapses", int(unsafe.Sizeof(gpuSynapse{})), synapseCap, vgpu.Storage, vgpu.ComputeShader)
	setd.AddStruct("Contribs", 4, neuronCap, vgpu.Storage, vgpu.ComputeShader)
	setd.AddStruct("Fired", 4, neuronCap, vgpu.Storage, vgpu.ComputeShader)
	setd.AddStruct("Present", 4, neuronCap, vgpu.Storage, vgpu.ComputeShader)

	setp.ConfigVals(1)
	setd.ConfigVals(1)
	sy.Config()

	return gb, nil
}

func (gb *GPUBackend) Name() string { return "GPU" }

// loadStores packs host SoA state into the device layouts.
func (gb *GPUBackend) loadStores(ns *NeuronStore, ss *SynapseStore) {
	for i := 0; i < ns.N; i++ {
		gn := &gb.neurons[i]
		gn.Potential = ns.Potentials[i]
		gn.Threshold = ns.Thresholds[i]
		gn.Leak = ns.Leaks[i]
		gn.Resting = ns.Restings[i]
		gn.Exc = ns.Excitabilities[i]
		gn.Countdown = uint32(ns.RefractoryCountdowns[i])
		gn.ConsecCnt = uint32(ns.ConsecFireCounts[i])
		gn.Limit = uint32(ns.ConsecFireLimits[i])
		gn.Refractory = uint32(ns.RefractoryPeriods[i])
		gn.Snooze = uint32(ns.SnoozePeriods[i])
		var fl uint32
		if ns.Valid[i] {
			fl |= 1
		}
		if ns.ChargeAccums[i] {
			fl |= 2
		}
		gn.Flags = fl
	}
	for i := 0; i < ss.N; i++ {
		gs := &gb.synapses[i]
		gs.Source = uint32(ss.Sources[i])
		gs.Target = uint32(ss.Targets[i])
		pol := uint32(0)
		if ss.Polarities[i] == Inhibitory {
			pol = 1
		}
		valid := uint32(0)
		if ss.Valid[i] {
			valid = 1
		}
		gs.Packed = uint32(ss.Weights[i]) | uint32(ss.Psps[i])<<8 | pol<<16 | valid<<24
	}
}

// val fetches a configured buffer value by set and name, wrapping any
// lookup failure as a backend init error.
func (gb *GPUBackend) val(set int, name string) (*vgpu.Val, error) {
	v, err := gb.sy.Vars().VarByNameTry(set, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	vl, err := v.Vals.ValByIdxTry(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	return vl, nil
}

// InitializePersistentData uploads neuron and synapse state to the
// device.  Called once before the first burst and again after any
// structural change.
func (gb *GPUBackend) InitializePersistentData(ns *NeuronStore, ss *SynapseStore) error {
	if ns.N > gb.neuronCap || ss.N > gb.synapseCap {
		return fmt.Errorf("%w: store exceeds GPU capacity (%d/%d neurons, %d/%d synapses)",
			ErrBackendInit, ns.N, gb.neuronCap, ss.N, gb.synapseCap)
	}
	gb.ns = ns
	gb.ss = ss
	gb.loadStores(ns, ss)

	nvl, err := gb.val(1, "Neurons")
	if err != nil {
		return err
	}
	nvl.CopyFromBytes(unsafe.Pointer(&gb.neurons[0]))

	svl, err := gb.val(1, "Synapses")
	if err != nil {
		return err
	}
	svl.CopyFromBytes(unsafe.Pointer(&gb.synapses[0]))

	gb.sy.Mem.SyncToGPU()
	gb.synced = true
	return nil
}

// OnGenomeChange re-uploads device state after structural mutation.
func (gb *GPUBackend) OnGenomeChange() error {
	if gb.ns == nil || gb.ss == nil {
		return nil
	}
	return gb.InitializePersistentData(gb.ns, gb.ss)
}

func (gb *GPUBackend) bindAll() {
	vars := gb.sy.Vars()
	vars.BindDynValIdx(0, "Params", 0)
	vars.BindDynValIdx(1, "Neurons", 0)
	vars.BindDynValIdx(1, "Synapses", 0)
	vars.BindDynValIdx(1, "Contribs", 0)
	vars.BindDynValIdx(1, "Fired", 0)
	vars.BindDynValIdx(1, "Present", 0)
	gb.sy.CmdResetBindVars(gb.sy.CmdPool.Buff, 0)
}

// uploadPerBurst refreshes the params block, fired mask, and
// contribution buffer on the device.
func (gb *GPUBackend) uploadPerBurst(burst uint64, numSyns int) error {
	pars := gpuParams{Burst: uint32(burst), NumNeurons: uint32(gb.ns.N), NumSyns: uint32(numSyns)}
	pvl, err := gb.val(0, "Params")
	if err != nil {
		return err
	}
	pvl.CopyFromBytes(unsafe.Pointer(&pars))

	cvl, err := gb.val(1, "Contribs")
	if err != nil {
		return err
	}
	cvl.CopyFromBytes(unsafe.Pointer(&gb.contribs[0]))

	fvl, err := gb.val(1, "Fired")
	if err != nil {
		return err
	}
	fvl.CopyFromBytes(unsafe.Pointer(&gb.fired[0]))

	pvl2, err := gb.val(1, "Present")
	if err != nil {
		return err
	}
	pvl2.CopyFromBytes(unsafe.Pointer(&gb.present[0]))
	return nil
}

// ProcessSynapticPropagation runs the propagation kernel over all
// synapses, scattering contributions from the fired set into the
// device contribution buffer, then reads it back into the candidate
// list.
func (gb *GPUBackend) ProcessSynapticPropagation(fired []NeuronID, ss *SynapseStore, ns *NeuronStore, fcl *FireCandidateList) (int, error) {
	if !gb.synced {
		if err := gb.InitializePersistentData(ns, ss); err != nil {
			return 0, err
		}
	}
	for i := range gb.fired {
		gb.fired[i] = 0
	}
	nsyn := 0
	for _, id := range fired {
		gb.fired[id] = 1
		nsyn += len(ss.Outgoing(id))
	}
	for i := range gb.contribs {
		gb.contribs[i] = 0
	}
	for i := range gb.present {
		gb.present[i] = 0
	}

	if err := gb.uploadPerBurst(0, ss.N); err != nil {
		return 0, err
	}
	gb.sy.Mem.SyncToGPU()
	gb.bindAll()

	gb.plProp.RunComputeWait(gb.sy.CmdPool.Buff, ss.N, 1, 1)

	gb.sy.Mem.SyncValIdxFmGPU(1, "Contribs", 0)
	cvl, err := gb.val(1, "Contribs")
	if err != nil {
		return 0, err
	}
	cvl.CopyToBytes(unsafe.Pointer(&gb.contribs[0]))

	for i := 0; i < ns.N; i++ {
		if gb.contribs[i] != 0 {
			fcl.Add(NeuronID(i), gb.contribs[i])
		}
	}
	return nsyn, nil
}

// ProcessNeuralDynamics runs the dynamics kernel over the neurons with
// pending contributions and reads back the fire codes and updated
// neuron state.  Non-candidate neurons are masked out by the Present
// buffer so the kernel never touches their device state.
func (gb *GPUBackend) ProcessNeuralDynamics(fcl *FireCandidateList, ns *NeuronStore, burst uint64) ([]NeuronID, int, int, error) {
	for i := range gb.contribs {
		gb.contribs[i] = 0
	}
	for i := range gb.fired {
		gb.fired[i] = 0
	}
	for i := range gb.present {
		gb.present[i] = 0
	}
	for _, c := range fcl.Candidates() {
		if int(c.ID) < ns.N {
			gb.contribs[c.ID] = c.Contrib
			gb.present[c.ID] = 1
		}
	}

	if err := gb.uploadPerBurst(burst, 0); err != nil {
		return nil, 0, 0, err
	}
	gb.sy.Mem.SyncToGPU()
	gb.bindAll()

	gb.plDyn.RunComputeWait(gb.sy.CmdPool.Buff, ns.N, 1, 1)

	gb.sy.Mem.SyncValIdxFmGPU(1, "Neurons", 0)
	gb.sy.Mem.SyncValIdxFmGPU(1, "Fired", 0)

	nvl, err := gb.val(1, "Neurons")
	if err != nil {
		return nil, 0, 0, err
	}
	nvl.CopyToBytes(unsafe.Pointer(&gb.neurons[0]))

	fvl, err := gb.val(1, "Fired")
	if err != nil {
		return nil, 0, 0, err
	}
	fvl.CopyToBytes(unsafe.Pointer(&gb.fired[0]))

	var out []NeuronID
	processed, inRefrac := 0, 0
	for i := 0; i < ns.N; i++ {
		if gb.present[i] == 0 {
			continue
		}
		processed++
		gn := &gb.neurons[i]
		ns.Potentials[i] = gn.Potential
		ns.RefractoryCountdowns[i] = uint16(gn.Countdown)
		ns.ConsecFireCounts[i] = uint16(gn.ConsecCnt)
		// fire codes from the kernel: 1 fired, 2 blocked in refractory
		switch gb.fired[i] {
		case 1:
			out = append(out, NeuronID(i))
		case 2:
			inRefrac++
		}
	}
	return out, processed, inRefrac, nil
}

// ProcessBurst composes propagation and dynamics with phase timing.
func (gb *GPUBackend) ProcessBurst(fired []NeuronID, ss *SynapseStore, ns *NeuronStore, fcl *FireCandidateList, burst uint64) (*BackendBurstResult, error) {
	return RunBurst(gb, fired, ss, ns, fcl, burst)
}

// Destroy releases all device resources.
func (gb *GPUBackend) Destroy() {
	if gb.sy != nil {
		gb.sy.Destroy()
		gb.sy = nil
	}
	if gb.gp != nil {
		gb.gp.Destroy()
		gb.gp = nil
	}
	vgpu.Terminate()
}
