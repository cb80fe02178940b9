// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package burstnpu is the overall repository for the burst-cycle spiking
neuron processing unit.

This top-level of the repository has no functional code -- everything is
organized into the following sub-packages:

* npu: the processing unit itself -- structure-of-arrays neuron and
synapse stores, the per-burst fire candidate list, synaptic propagation
and neural dynamics, CPU and GPU compute backends with a cost-model
selector, and the frequency-controlled burst loop runner.

* burststat: per-burst telemetry recording, in memory by default and to
sqlite with the sqlite build tag.

* examples: these compile into runnable programs.  examples/bench wires
a random network and reports burst throughput and timing for different
sizes and backends.
*/
package burstnpu
