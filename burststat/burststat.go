// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package burststat records per-burst telemetry for offline analysis.
// The default recorder keeps a bounded in-memory window; building with
// the sqlite tag adds a durable recorder backed by modernc.org/sqlite.
package burststat

import (
	"context"

	"github.com/neurokit/burstnpu/npu"
)

// Stat is one burst's telemetry row.
type Stat struct {
	Burst        uint64
	Fired        int
	Processed    int
	InRefractory int
	Synapses     int
	TotalSecs    float64
	Backend      string
}

// FromResult builds a telemetry row from a burst result.
func FromResult(res *npu.BurstResult, backend string) Stat {
	return Stat{
		Burst:        res.Burst,
		Fired:        len(res.Fired),
		Processed:    res.NeuronsProcessed,
		InRefractory: res.NeuronsInRefractory,
		Synapses:     res.SynapsesProcessed,
		TotalSecs:    res.Timing.TotalSecs,
		Backend:      backend,
	}
}

// Recorder persists burst telemetry.
type Recorder interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, st Stat) error

	// Recent returns up to n most recent rows, oldest first.
	Recent(ctx context.Context, n int) ([]Stat, error)

	Close() error
}
