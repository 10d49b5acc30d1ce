// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusionorch

import "math"

// SilenceWatch tracks per-sensor-stream silence and decides when to raise
// a restart-signal event; restarting is policy for the surrounding system.
// Holds an attempt counter with exponential backoff so a dead stream does
// not flood its consumer -- this type only ever decides whether to signal,
// never acts.
type SilenceWatch struct {
	thresholdSecs float64
	maxAttempts   int

	seen       bool
	lastSeenTS float64
	attempt    int
	lastSignal float64
	haveSignal bool
}

// NewSilenceWatch returns a watch that considers the stream silent once
// more than thresholdSecs has elapsed since the last touch, capping
// restart-signal attempts at maxAttempts with exponential backoff (base 2,
// capped at 30s).
func NewSilenceWatch(thresholdSecs float64, maxAttempts int) *SilenceWatch {
	return &SilenceWatch{thresholdSecs: thresholdSecs, maxAttempts: maxAttempts}
}

// Touch records a fresh sample at timestamp ts, resetting the backoff
// attempt counter.
func (w *SilenceWatch) Touch(ts float64) {
	w.seen = true
	w.lastSeenTS = ts
	w.attempt = 0
}

// Check evaluates silence as of "now" (the timestamp of whatever sample
// triggered this check on another stream). Returns fire=true at most once
// per backoff window, with the attempt count and backoff duration used to
// populate the resulting SensorSilence event.
func (w *SilenceWatch) Check(now float64) (fire bool, gapSecs float64, attempt int, backoffSecs float64) {
	if !w.seen {
		return false, 0, 0, 0
	}
	gap := now - w.lastSeenTS
	if gap < w.thresholdSecs {
		return false, gap, w.attempt, 0
	}
	if w.attempt >= w.maxAttempts {
		return false, gap, w.attempt, 0
	}
	backoff := math.Min(30, math.Pow(2, float64(w.attempt)))
	if w.haveSignal && now-w.lastSignal < backoff {
		return false, gap, w.attempt, 0
	}
	w.attempt++
	w.lastSignal = now
	w.haveSignal = true
	return true, gap, w.attempt, backoff
}
