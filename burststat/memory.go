// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package burststat

import (
	"context"
	"sync"
)

// MemoryRecorder keeps a bounded in-memory window of burst telemetry.
type MemoryRecorder struct {
	mu    sync.Mutex
	limit int
	rows  []Stat
}

// NewMemoryRecorder returns a recorder keeping at most limit rows;
// limit <= 0 selects 10000.
func NewMemoryRecorder(limit int) *MemoryRecorder {
	if limit <= 0 {
		limit = 10000
	}
	return &MemoryRecorder{limit: limit}
}

func (m *MemoryRecorder) Init(ctx context.Context) error { return nil }

func (m *MemoryRecorder) Record(ctx context.Context, st Stat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, st)
	if len(m.rows) > m.limit {
		m.rows = m.rows[len(m.rows)-m.limit:]
	}
	return nil
}

func (m *MemoryRecorder) Recent(ctx context.Context, n int) ([]Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.rows) {
		n = len(m.rows)
	}
	out := make([]Stat, n)
	copy(out, m.rows[len(m.rows)-n:])
	return out, nil
}

func (m *MemoryRecorder) Close() error { return nil }
