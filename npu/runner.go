// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goki/ki/ints"
)

// DefaultSynapseChunk is the batch size used by CreateSynapsesChunked:
// large enough to amortize the guard, small enough that a mid-build
// burst loop keeps its timing.
const DefaultSynapseChunk = 50_000

// jitterRingSize is how many recent burst intervals the runner keeps
// for jitter statistics.
const jitterRingSize = 256

// Runner drives an NPU's burst loop on a dedicated goroutine at a
// configurable frequency, interleaving bursts with guarded external
// access.  All non-atomic NPU access from outside the loop goes through
// With or TryWith, which hold the same guard the loop takes per burst.
type Runner struct {

	// called after every successful burst, while the guard is held
	OnBurst func(*BurstResult)

	// called when a burst fails; the loop continues.  Defaults to
	// logging via the standard logger.
	OnError func(error)

	mu sync.Mutex
	pu *NPU

	// target burst frequency in Hz; interval is derived
	freq     float64
	interval time.Duration

	running atomic.Bool
	stop    atomic.Bool
	done    chan struct{}

	bursts atomic.Uint64

	// ring of recent actual burst intervals
	ringMu  sync.Mutex
	ring    [jitterRingSize]time.Duration
	ringN   int
	ringIdx int
}

// NewRunner wraps an NPU with a burst loop at the given frequency.
func NewRunner(pu *NPU, freqHz float64) *Runner {
	r := &Runner{pu: pu}
	r.setFreq(freqHz)
	return r
}

func (r *Runner) setFreq(freqHz float64) {
	if freqHz <= 0 {
		freqHz = 1
	}
	r.freq = freqHz
	r.interval = time.Duration(float64(time.Second) / freqHz)
}

// Frequency returns the target burst frequency in Hz.
func (r *Runner) Frequency() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freq
}

// SetFrequency changes the target burst frequency; takes effect from
// the next burst.
func (r *Runner) SetFrequency(freqHz float64) {
	r.mu.Lock()
	r.setFreq(freqHz)
	r.clearJitter()
	r.mu.Unlock()
}

// BurstCount returns the number of bursts completed since Start.
func (r *Runner) BurstCount() uint64 { return r.bursts.Load() }

// IsRunning reports whether the burst loop is live.
func (r *Runner) IsRunning() bool { return r.running.Load() }

// Start launches the burst loop goroutine.  Fails with
// ErrAlreadyRunning if the loop is already live.
func (r *Runner) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("burst loop: %w", ErrAlreadyRunning)
	}
	r.stop.Store(false)
	r.done = make(chan struct{})
	go r.loop()
	return nil
}

// Stop signals the loop to exit and waits for it to drain.  Stopping a
// stopped runner is a no-op.
func (r *Runner) Stop() {
	if !r.running.Load() {
		return
	}
	r.stop.Store(true)
	<-r.done
}

// With runs fn with exclusive access to the NPU, blocking the burst
// loop for the duration.  Keep fn short at high frequencies; long
// holds show up directly as burst jitter.
func (r *Runner) With(fn func(pu *NPU) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.pu)
}

// TryWith is the non-blocking form of With: if the guard is held (a
// burst is in flight), it fails immediately with ErrLockUnavailable
// instead of waiting.
func (r *Runner) TryWith(fn func(pu *NPU) error) error {
	if !r.mu.TryLock() {
		return fmt.Errorf("engine busy: %w", ErrLockUnavailable)
	}
	defer r.mu.Unlock()
	return fn(r.pu)
}

// CreateSynapsesChunked inserts a large synapse batch in chunks,
// releasing the guard between chunks so a live burst loop keeps
// running during long builds.  chunk <= 0 selects DefaultSynapseChunk.
// Returns the total number inserted; a capacity overflow stops the
// build at the truncated chunk.
func (r *Runner) CreateSynapsesChunked(sb *SynapseBatch, chunk int) (int, error) {
	if chunk <= 0 {
		chunk = DefaultSynapseChunk
	}
	total := 0
	n := sb.Len()
	for lo := 0; lo < n; lo += chunk {
		hi := ints.MinInt(lo+chunk, n)
		part := sb.Slice(lo, hi)
		var added int
		err := r.With(func(pu *NPU) error {
			var cerr error
			added, cerr = pu.CreateSynapses(part)
			return cerr
		})
		total += added
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// loop is the burst loop body.  Between bursts it keeps pace with the
// target interval using a sleep strategy matched to the frequency:
// plain sleep at low rates, sleep for most of the wait plus a busy
// tail at moderate rates, and a pure busy wait at high rates where
// scheduler wakeup latency would dominate the period.
func (r *Runner) loop() {
	defer func() {
		r.running.Store(false)
		close(r.done)
	}()
	last := time.Now()
	for !r.stop.Load() {
		start := time.Now()

		r.mu.Lock()
		res, err := r.pu.ProcessBurst()
		if err == nil {
			r.bursts.Add(1)
			if r.OnBurst != nil {
				r.OnBurst(res)
			}
		}
		interval := r.interval
		freq := r.freq
		r.mu.Unlock()

		if err != nil {
			if r.OnError != nil {
				r.OnError(err)
			} else {
				log.Printf("burst failed: %v", err)
			}
		}

		r.recordInterval(start.Sub(last))
		last = start

		r.pace(start, interval, freq)
	}
}

// pace waits out the remainder of the burst interval.
func (r *Runner) pace(start time.Time, interval time.Duration, freq float64) {
	deadline := start.Add(interval)
	switch {
	case freq < 5:
		// wakeup latency is noise at this scale
		if d := time.Until(deadline); d > 0 {
			r.sleepInterruptible(d)
		}
	case freq <= 100:
		// sleep through most of the wait, burn the tail
		if d := time.Until(deadline); d > 0 {
			r.sleepInterruptible(d * 8 / 10)
		}
		for time.Now().Before(deadline) && !r.stop.Load() {
		}
	default:
		for time.Now().Before(deadline) && !r.stop.Load() {
		}
	}
}

// sleepInterruptible sleeps up to d, waking early on stop.  Sliced so
// Stop never waits longer than one slice at low frequencies.
func (r *Runner) sleepInterruptible(d time.Duration) {
	const slice = 20 * time.Millisecond
	deadline := time.Now().Add(d)
	for !r.stop.Load() {
		rem := time.Until(deadline)
		if rem <= 0 {
			return
		}
		if rem > slice {
			rem = slice
		}
		time.Sleep(rem)
	}
}

func (r *Runner) recordInterval(d time.Duration) {
	// first sample measures from Start, not a real period
	if r.bursts.Load() <= 1 {
		return
	}
	r.ringMu.Lock()
	r.ring[r.ringIdx] = d
	r.ringIdx = (r.ringIdx + 1) % jitterRingSize
	if r.ringN < jitterRingSize {
		r.ringN++
	}
	r.ringMu.Unlock()
}

func (r *Runner) clearJitter() {
	r.ringMu.Lock()
	r.ringN = 0
	r.ringIdx = 0
	r.ringMu.Unlock()
}

// JitterReport summarizes recent burst interval stability against the
// target period.
type JitterReport struct {

	// number of intervals in the sample
	N int

	// target burst period
	Target time.Duration

	// mean observed period
	Mean time.Duration

	// coefficient of variation of the observed periods
	CV float64

	// 99th percentile observed period
	P99 time.Duration

	// P99 as a multiple of the target period
	P99Ratio float64
}

// JitterStats computes interval statistics over the recent burst
// window.  Returns a zero-count report when fewer than two intervals
// have been recorded.
func (r *Runner) JitterStats() JitterReport {
	// interval is written under mu (SetFrequency); take it there, not
	// under the ring lock
	r.mu.Lock()
	target := r.interval
	r.mu.Unlock()

	r.ringMu.Lock()
	n := r.ringN
	samples := make([]time.Duration, n)
	copy(samples, r.ring[:n])
	r.ringMu.Unlock()

	rep := JitterReport{N: n, Target: target}
	if n < 2 {
		return rep
	}
	var sum float64
	for _, d := range samples {
		sum += float64(d)
	}
	mean := sum / float64(n)
	var sq float64
	for _, d := range samples {
		dev := float64(d) - mean
		sq += dev * dev
	}
	sd := math.Sqrt(sq / float64(n))

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	p99 := samples[(n*99)/100]

	rep.Mean = time.Duration(mean)
	rep.CV = sd / mean
	rep.P99 = p99
	rep.P99Ratio = float64(p99) / float64(target)
	return rep
}

// DefaultJitterBudget returns an acceptable P99 ratio for a given
// frequency and contention level (0 = idle, 1 = heavily shared).
// Budgets loosen as frequency rises, since scheduler wakeup latency is
// a larger fraction of shorter periods, and as external access
// contends for the guard.
func DefaultJitterBudget(freqHz, load float64) float64 {
	budget := 1.1
	if freqHz > 30 {
		budget = 1.25
	}
	if freqHz > 100 {
		budget = 1.5
	}
	if load > 0 {
		budget += 0.5 * load
	}
	return budget
}
