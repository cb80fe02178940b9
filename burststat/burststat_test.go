// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package burststat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecorderWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRecorder(5)
	require.NoError(t, m.Init(ctx))

	for b := uint64(1); b <= 8; b++ {
		require.NoError(t, m.Record(ctx, Stat{Burst: b, Fired: int(b)}))
	}

	rows, err := m.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, uint64(4), rows[0].Burst)
	assert.Equal(t, uint64(8), rows[4].Burst)

	rows, err = m.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(7), rows[0].Burst)

	require.NoError(t, m.Close())
}
