// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFireCandidateListSumming(t *testing.T) {
	fcl := NewFireCandidateList()
	fcl.Add(3, 10)
	fcl.Add(3, 5)
	fcl.Add(3, -2)
	fcl.Add(7, 1)

	assert.Equal(t, 2, fcl.Len())
	assert.Equal(t, float32(13), fcl.Contrib(3))
	assert.Equal(t, float32(1), fcl.Contrib(7))
	assert.Equal(t, float32(0), fcl.Contrib(99))

	fcl.Clear()
	assert.Equal(t, 0, fcl.Len())
}

func TestFireCandidateListMerge(t *testing.T) {
	a := NewFireCandidateList()
	a.Add(1, 2)
	a.Add(2, 3)
	b := NewFireCandidateList()
	b.Add(2, 4)
	b.Add(5, 1)

	a.Merge(b)
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, float32(7), a.Contrib(2))
	assert.Equal(t, float32(1), a.Contrib(5))
}

func buildGroupingFixture(t *testing.T) (*NeuronStore, *FireCandidateList) {
	t.Helper()
	ns := NewNeuronStore(64)
	par := &NeuronParams{}
	for i := 0; i < 60; i++ {
		_, err := ns.Add(par, AreaID(i%4), uint32(i), 0, 0)
		require.NoError(t, err)
	}
	fcl := NewFireCandidateList()
	for i := 0; i < 60; i++ {
		fcl.Add(NeuronID(i), float32(i))
	}
	return ns, fcl
}

func TestGroupByAreaDropsInvalid(t *testing.T) {
	ns, fcl := buildGroupingFixture(t)
	ns.Delete(8)
	fcl.Add(200, 1) // never created

	groups := fcl.GroupByArea(ns)
	assert.Len(t, groups, 4)
	total := 0
	for _, cands := range groups {
		for _, c := range cands {
			assert.NotEqual(t, NeuronID(8), c.ID)
			assert.NotEqual(t, NeuronID(200), c.ID)
			total++
		}
	}
	assert.Equal(t, 58, total)
}

// sequential and sharded grouping must produce the same per-area sets;
// ordering within an area is not part of the contract.
func TestGroupByAreaParallelEquivalence(t *testing.T) {
	ns, fcl := buildGroupingFixture(t)

	seq := fcl.GroupByArea(ns)
	par := fcl.groupByAreaPar(ns)

	require.Equal(t, len(seq), len(par))
	for area, scands := range seq {
		pcands, ok := par[area]
		require.True(t, ok, "area %d missing from parallel grouping", area)
		sset := make(map[NeuronID]float32, len(scands))
		for _, c := range scands {
			sset[c.ID] = c.Contrib
		}
		pset := make(map[NeuronID]float32, len(pcands))
		for _, c := range pcands {
			pset[c.ID] = c.Contrib
		}
		assert.Equal(t, sset, pset)
	}
}
