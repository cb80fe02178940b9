// Copyright (c) 2025, The BurstNPU Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package npu

// DefaultLedgerWindow is the number of recent bursts of fire history
// kept per area when no per-area window is configured.
const DefaultLedgerWindow = 100

// FireRecord is one burst's worth of fired neurons within one area.
type FireRecord struct {
	Burst uint64
	IDs   []NeuronID
}

// FireLedger keeps a rolling window of fire history per cortical area,
// for downstream consumers that need short-term activity (novelty
// detection, plasticity windows, activity readouts) without replaying
// bursts.
type FireLedger struct {

	// default rolling window length, in bursts
	Window int

	// per-area window overrides
	windows map[AreaID]int

	// per-area history, oldest first
	history map[AreaID][]FireRecord
}

// NewFireLedger returns a ledger with the given default window; window
// <= 0 selects DefaultLedgerWindow.
func NewFireLedger(window int) *FireLedger {
	if window <= 0 {
		window = DefaultLedgerWindow
	}
	return &FireLedger{
		Window:  window,
		windows: make(map[AreaID]int),
		history: make(map[AreaID][]FireRecord),
	}
}

// SetAreaWindow overrides the rolling window for one area; w <= 0
// removes the override.
func (fl *FireLedger) SetAreaWindow(area AreaID, w int) {
	if w <= 0 {
		delete(fl.windows, area)
		return
	}
	fl.windows[area] = w
}

func (fl *FireLedger) windowFor(area AreaID) int {
	if w, ok := fl.windows[area]; ok {
		return w
	}
	return fl.Window
}

// Record archives one burst's fired neurons, split by owning area.
// Areas with no fires this burst get no record; History callers infer
// silence from the burst gap.
func (fl *FireLedger) Record(burst uint64, fired []NeuronID, ns *NeuronStore) {
	if len(fired) == 0 {
		return
	}
	byArea := make(map[AreaID][]NeuronID)
	for _, id := range fired {
		a := ns.Area(id)
		byArea[a] = append(byArea[a], id)
	}
	for a, ids := range byArea {
		recs := append(fl.history[a], FireRecord{Burst: burst, IDs: ids})
		if w := fl.windowFor(a); len(recs) > w {
			recs = recs[len(recs)-w:]
		}
		fl.history[a] = recs
	}
}

// History returns the recorded fire history for an area, oldest first.
// The returned slice is the ledger's own backing store; callers must
// not mutate it.
func (fl *FireLedger) History(area AreaID) []FireRecord {
	return fl.history[area]
}

// Since returns the records for an area with burst number >= burst.
func (fl *FireLedger) Since(area AreaID, burst uint64) []FireRecord {
	recs := fl.history[area]
	for i, r := range recs {
		if r.Burst >= burst {
			return recs[i:]
		}
	}
	return nil
}

// Clear drops all history, keeping window configuration.
func (fl *FireLedger) Clear() {
	fl.history = make(map[AreaID][]FireRecord)
}
