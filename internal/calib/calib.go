// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calib implements the startup bias-averaging and online gravity
// refinement: a short stationary window at session start
// establishes the initial gravity and gyro-bias estimates, and an
// exponential moving average keeps the gravity estimate current while the
// vehicle is parked, raising a drift alarm if it wanders too far from the
// startup value.
package calib

import "math"

// Config carries the tunable knobs for calibration.
type Config struct {
	StartupSamples int     // ~50
	EMAAlpha       float64 // 0.1
	MinSamples     int     // 30
	DriftThreshold float64 // 0.5 m/s^2
}

// DefaultConfig returns the stock calibration tuning.
func DefaultConfig() Config {
	return Config{StartupSamples: 50, EMAAlpha: 0.1, MinSamples: 30, DriftThreshold: 0.5}
}

// Engine accumulates accelerometer and gyroscope samples during the startup
// window, then keeps refining the gravity estimate opportunistically while
// stationary.
type Engine struct {
	cfg Config

	startupAccel   [][3]float64
	startupGyro    [][3]float64
	startupDone    bool
	gravity        [3]float64
	startupGravity [3]float64
	gyroBias       [3]float64

	refineAccum [][3]float64
	refineCount int
	drift       float64
	driftWarned bool
}

// NewEngine returns an engine ready to collect the startup window.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, gravity: [3]float64{0, 0, 9.81}}
}

// Complete reports whether the startup phase has finished.
func (e *Engine) Complete() bool { return e.startupDone }

// Gravity returns the current gravity estimate (body-frame, m/s^2).
func (e *Engine) Gravity() [3]float64 { return e.gravity }

// GyroBias returns the startup gyro bias estimate (rad/s). This is a
// one-shot seed; the filter's own ZUPT-gyro update takes over refinement
// afterward.
func (e *Engine) GyroBias() [3]float64 { return e.gyroBias }

// Drift returns the accumulated drift of the gravity estimate from its
// startup value, m/s^2.
func (e *Engine) Drift() float64 { return e.drift }

// FeedStartupAccel accumulates one stationary accelerometer sample during
// the startup window. Returns true exactly once, the tick the startup
// window completes.
func (e *Engine) FeedStartupAccel(a [3]float64) (justCompleted bool) {
	if e.startupDone {
		return false
	}
	e.startupAccel = append(e.startupAccel, a)
	if len(e.startupAccel) < e.cfg.StartupSamples || len(e.startupGyro) < e.cfg.StartupSamples {
		return false
	}
	e.gravity = mean(e.startupAccel)
	e.startupGravity = e.gravity
	e.gyroBias = mean(e.startupGyro)
	e.startupDone = true
	return true
}

// FeedStartupGyro accumulates one stationary gyroscope sample during the
// startup window.
func (e *Engine) FeedStartupGyro(g [3]float64) {
	if e.startupDone {
		return
	}
	e.startupGyro = append(e.startupGyro, g)
}

// RefineResult reports what an online refinement tick did.
type RefineResult struct {
	Refined       bool
	Count         int
	Estimate      [3]float64
	Magnitude     float64
	Drift         float64
	DriftWarning  bool
}

// FeedStationary accumulates a filtered accel sample while the motion
// classifier flags stationary and roughness is low. Every >=MinSamples
// samples it refines the gravity estimate via EMA and clears the
// accumulator.
func (e *Engine) FeedStationary(aFiltered [3]float64) RefineResult {
	if !e.startupDone {
		return RefineResult{}
	}
	e.refineAccum = append(e.refineAccum, aFiltered)
	if len(e.refineAccum) < e.cfg.MinSamples {
		return RefineResult{}
	}

	batchMean := mean(e.refineAccum)
	e.refineCount++
	e.refineAccum = e.refineAccum[:0]

	for i := 0; i < 3; i++ {
		e.gravity[i] = e.cfg.EMAAlpha*batchMean[i] + (1-e.cfg.EMAAlpha)*e.gravity[i]
	}

	e.drift = norm(sub(e.gravity, e.startupGravity))
	warn := false
	if e.drift > e.cfg.DriftThreshold && !e.driftWarned {
		e.driftWarned = true
		warn = true
	} else if e.drift <= e.cfg.DriftThreshold {
		e.driftWarned = false
	}

	return RefineResult{
		Refined:      true,
		Count:        e.refineCount,
		Estimate:     e.gravity,
		Magnitude:    norm(e.gravity),
		Drift:        e.drift,
		DriftWarning: warn,
	}
}

// SetBiases seeds the engine's gravity/gyro-bias estimates directly,
// bypassing the startup window, for callers that already have a warm
// estimate from a previous session segment.
func (e *Engine) SetBiases(gravity, gyroBias [3]float64) {
	e.gravity = gravity
	e.startupGravity = gravity
	e.gyroBias = gyroBias
	e.startupDone = true
}

func mean(vs [][3]float64) [3]float64 {
	var sum [3]float64
	for _, v := range vs {
		sum[0] += v[0]
		sum[1] += v[1]
		sum[2] += v[2]
	}
	n := float64(len(vs))
	if n == 0 {
		return sum
	}
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
