// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeuronStoreCapacity(t *testing.T) {
	const cap = 16
	ns := NewNeuronStore(cap)
	par := &NeuronParams{Threshold: 1, Excitability: 1}

	for i := 0; i < cap; i++ {
		id, err := ns.Add(par, 1, uint32(i), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, NeuronID(i), id)
	}
	_, err := ns.Add(par, 1, uint32(cap), 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Equal(t, cap, ns.NumValid())
}

func TestNeuronStoreBatchTruncation(t *testing.T) {
	ns := NewNeuronStore(10)
	par := NeuronParams{Threshold: 1}

	nb := &NeuronBatch{}
	for i := 0; i < 15; i++ {
		nb.Append(par, 2, uint32(i), 0, 0)
	}
	n, err := ns.AddBatch(nb)
	assert.Equal(t, 10, n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Equal(t, 10, ns.NumValid())

	// a second batch on a full store adds nothing
	n, err = ns.AddBatch(nb)
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
}

func TestNeuronStoreCoordLookup(t *testing.T) {
	ns := NewNeuronStore(8)
	par := &NeuronParams{}
	a, err := ns.Add(par, 1, 2, 3, 4)
	require.NoError(t, err)
	b, err := ns.Add(par, 1, 5, 6, 7)
	require.NoError(t, err)
	// same coordinate, different area
	c, err := ns.Add(par, 2, 2, 3, 4)
	require.NoError(t, err)

	id, ok := ns.AtCoordinate(1, 2, 3, 4)
	require.True(t, ok)
	assert.Equal(t, a, id)
	id, ok = ns.AtCoordinate(2, 2, 3, 4)
	require.True(t, ok)
	assert.Equal(t, c, id)

	// unoccupied voxel: absence, not error
	_, ok = ns.AtCoordinate(1, 9, 9, 9)
	assert.False(t, ok)

	// batch form skips the missing voxel
	ids := ns.AtCoordinates(1, []uint32{2, 3, 4, 9, 9, 9, 5, 6, 7})
	assert.Equal(t, []NeuronID{a, b}, ids)
}

func TestNeuronStoreDelete(t *testing.T) {
	ns := NewNeuronStore(4)
	par := &NeuronParams{}
	a, _ := ns.Add(par, 1, 0, 0, 0)
	b, _ := ns.Add(par, 1, 1, 0, 0)

	require.True(t, ns.Delete(a))
	assert.False(t, ns.Delete(a))
	assert.False(t, ns.IsValid(a))
	assert.True(t, ns.IsValid(b))
	assert.Equal(t, 1, ns.NumValid())

	// deleted neuron leaves the coordinate index
	_, ok := ns.AtCoordinate(1, 0, 0, 0)
	assert.False(t, ok)

	// ids are stable: b keeps its slot
	x, y, z := ns.Coordinate(b)
	assert.Equal(t, [3]uint32{1, 0, 0}, [3]uint32{x, y, z})
}

func TestNeuronStoreAreaUpdates(t *testing.T) {
	ns := NewNeuronStore(8)
	par := &NeuronParams{Threshold: 1}
	for i := 0; i < 4; i++ {
		ns.Add(par, 1, uint32(i), 0, 0)
	}
	for i := 0; i < 3; i++ {
		ns.Add(par, 2, uint32(i), 0, 0)
	}

	n := ns.UpdateAreaThreshold(1, 5)
	assert.Equal(t, 4, n)
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(5), ns.Thresholds[i])
	}
	// other area untouched
	assert.Equal(t, float32(1), ns.Thresholds[4])

	n = ns.UpdateAreaRefractoryPeriod(2, 7)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint16(7), ns.RefractoryPeriods[5])
	assert.Equal(t, uint16(0), ns.RefractoryPeriods[0])
}

func TestNeuronStoreRebuildCoordIndex(t *testing.T) {
	ns := NewNeuronStore(4)
	par := &NeuronParams{}
	a, _ := ns.Add(par, 1, 0, 0, 0)
	ns.Delete(a)
	b, _ := ns.Add(par, 1, 1, 1, 1)

	ns.RebuildCoordIndex()
	_, ok := ns.AtCoordinate(1, 0, 0, 0)
	assert.False(t, ok)
	id, ok := ns.AtCoordinate(1, 1, 1, 1)
	require.True(t, ok)
	assert.Equal(t, b, id)
}
