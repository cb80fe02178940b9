// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import "sync/atomic"

// StatusCounters are the externally visible health counters of a
// processing unit.  All fields are atomic so status endpoints can read
// them without taking the engine guard, even mid-burst.
type StatusCounters struct {

	// total bursts processed since construction
	Bursts atomic.Uint64

	// current number of valid neurons
	Neurons atomic.Uint64

	// current number of valid synapses
	Synapses atomic.Uint64

	// number of neurons fired in the most recent burst
	LastFired atomic.Uint64

	// whether the unit is initialized and accepting work
	Ready atomic.Bool
}

// CounterSnapshot is a plain-value copy of the status counters.
type CounterSnapshot struct {
	Bursts    uint64
	Neurons   uint64
	Synapses  uint64
	LastFired uint64
	Ready     bool
}

// Snapshot reads all counters without locking.  Values are individually
// atomic but not mutually consistent; good enough for health reporting.
func (sc *StatusCounters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Bursts:    sc.Bursts.Load(),
		Neurons:   sc.Neurons.Load(),
		Synapses:  sc.Synapses.Load(),
		LastFired: sc.LastFired.Load(),
		Ready:     sc.Ready.Load(),
	}
}
