// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"fmt"

	"github.com/emer/etable/etensor"
)

// FiringNeuron is one fire queue entry: a fired neuron with its
// location and post-burst membrane potential, ready for downstream
// consumers without further store lookups.
type FiringNeuron struct {
	ID        NeuronID
	Area      AreaID
	X, Y, Z   uint32
	Potential float32
}

// buildFireQueue expands fired ids into full fire queue entries.
func buildFireQueue(fired []NeuronID, ns *NeuronStore) []FiringNeuron {
	fq := make([]FiringNeuron, len(fired))
	for i, id := range fired {
		x, y, z := ns.Coordinate(id)
		fq[i] = FiringNeuron{
			ID:        id,
			Area:      ns.Area(id),
			X:         x,
			Y:         y,
			Z:         z,
			Potential: ns.Potentials[id],
		}
	}
	return fq
}

// FireQueue returns the most recent burst's fire queue.  Empty unless
// viz or motor sampling is enabled.
func (pu *NPU) FireQueue() []FiringNeuron { return pu.fireQueue }

// AreaSample is the per-area slice of one burst's fire queue, in
// structure-of-arrays form for cheap serialization.
type AreaSample struct {
	Area       AreaID
	Burst      uint64
	IDs        []NeuronID
	Xs, Ys, Zs []uint32
	Potentials []float32
}

// SampleFireQueue splits the current fire queue by area.  Areas with no
// fires this burst are absent from the result.
func (pu *NPU) SampleFireQueue() map[AreaID]*AreaSample {
	out := make(map[AreaID]*AreaSample)
	for _, fn := range pu.fireQueue {
		as, ok := out[fn.Area]
		if !ok {
			as = &AreaSample{Area: fn.Area, Burst: pu.burst}
			out[fn.Area] = as
		}
		as.IDs = append(as.IDs, fn.ID)
		as.Xs = append(as.Xs, fn.X)
		as.Ys = append(as.Ys, fn.Y)
		as.Zs = append(as.Zs, fn.Z)
		as.Potentials = append(as.Potentials, fn.Potential)
	}
	return out
}

// VoxelSnapshot renders one area's current membrane potentials into a
// dense Z,Y,X tensor over the area's registered voxel grid, suitable
// for visualization.  Voxels holding multiple neurons report the
// maximum potential.  Fails for areas with no recorded dimensions.
func (pu *NPU) VoxelSnapshot(area AreaID) (*etensor.Float32, error) {
	ai, err := pu.AreaInfo(area)
	if err != nil {
		return nil, err
	}
	d := ai.Dims
	if d.X <= 0 || d.Y <= 0 || d.Z <= 0 {
		return nil, fmt.Errorf("area %d has no voxel dimensions: %w", area, ErrUnknownArea)
	}
	tsr := etensor.NewFloat32([]int{int(d.Z), int(d.Y), int(d.X)}, nil, []string{"Z", "Y", "X"})
	tsr.SetZeros()
	ns := pu.Neurons
	for i := 0; i < ns.N; i++ {
		if !ns.Valid[i] || ns.Areas[i] != area {
			continue
		}
		x := int(ns.Coords[3*i])
		y := int(ns.Coords[3*i+1])
		z := int(ns.Coords[3*i+2])
		if x >= int(d.X) || y >= int(d.Y) || z >= int(d.Z) {
			continue
		}
		v := ns.Potentials[i]
		if cur := tsr.Value([]int{z, y, x}); v > cur {
			tsr.Set([]int{z, y, x}, v)
		}
	}
	return tsr, nil
}

// VoxelFireSnapshot renders one area's most recent fire queue as a
// dense Z,Y,X tensor of fire counts per voxel.
func (pu *NPU) VoxelFireSnapshot(area AreaID) (*etensor.Float32, error) {
	ai, err := pu.AreaInfo(area)
	if err != nil {
		return nil, err
	}
	d := ai.Dims
	if d.X <= 0 || d.Y <= 0 || d.Z <= 0 {
		return nil, fmt.Errorf("area %d has no voxel dimensions: %w", area, ErrUnknownArea)
	}
	tsr := etensor.NewFloat32([]int{int(d.Z), int(d.Y), int(d.X)}, nil, []string{"Z", "Y", "X"})
	tsr.SetZeros()
	for _, fn := range pu.fireQueue {
		if fn.Area != area {
			continue
		}
		x, y, z := int(fn.X), int(fn.Y), int(fn.Z)
		if x >= int(d.X) || y >= int(d.Y) || z >= int(d.Z) {
			continue
		}
		idx := []int{z, y, x}
		tsr.Set(idx, tsr.Value(idx)+1)
	}
	return tsr, nil
}
