// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import "errors"

var (
	// ErrCapacityExceeded is returned when a neuron or synapse store
	// has no free slots left for an add operation.  Batch adds truncate
	// instead, reporting the number actually added alongside this error.
	ErrCapacityExceeded = errors.New("npu: store capacity exceeded")

	// ErrLockUnavailable is returned by non-blocking guard acquisition
	// when the burst guard is held by another goroutine.  It is fatal to
	// the calling operation only -- the scheduler retries next tick.
	ErrLockUnavailable = errors.New("npu: burst guard unavailable")

	// ErrInvalidBackend is returned when a backend name in configuration
	// does not correspond to a known backend type.
	ErrInvalidBackend = errors.New("npu: invalid backend")

	// ErrBackendInit is returned when a backend (typically GPU) fails to
	// initialize.  Callers recover by falling back to the CPU backend.
	ErrBackendInit = errors.New("npu: backend initialization failed")

	// ErrInvalidNeuron is returned when a synapse references a neuron id
	// that is out of range or marked invalid at creation time.
	ErrInvalidNeuron = errors.New("npu: invalid neuron id")

	// ErrAlreadyRunning is returned by Runner.Start when the burst loop
	// is already live.
	ErrAlreadyRunning = errors.New("npu: burst loop already running")

	// ErrUnknownArea is returned for operations on an area id that has
	// not been registered.
	ErrUnknownArea = errors.New("npu: unknown cortical area")
)
