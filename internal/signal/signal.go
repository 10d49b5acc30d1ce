// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package signal conditions the raw accelerometer stream before it reaches
// the filter: a first-order low-pass to tame sensor noise, a Hann-window
// smoother for the magnitude trace used by calibration and ZUPT, and a
// Butterworth high-pass feeding a roughness (vibration) estimator used to
// gate gravity refinement.
package signal

import "math"

// LowPass is a first-order RC low-pass filter, y[n] = y[n-1] + alpha*(x[n]
// - y[n-1]), with alpha supplied directly by the caller. The first sample
// passes through unchanged and primes the filter.
type LowPass struct {
	alpha   float64
	value   [3]float64
	primed  bool
}

// NewLowPass builds a low-pass filter with the given alpha in [0, 1].
func NewLowPass(alpha float64) *LowPass {
	return &LowPass{alpha: alpha}
}

// Apply filters one 3-vector sample.
func (lp *LowPass) Apply(x [3]float64) [3]float64 {
	if !lp.primed {
		lp.value = x
		lp.primed = true
		return x
	}
	for i := 0; i < 3; i++ {
		lp.value[i] += lp.alpha * (x[i] - lp.value[i])
	}
	return lp.value
}

// HannSmoother applies Hann-window weighted averaging to a scalar trace:
// a bounded ring buffer plus a per-window-length weight cache, since the
// window grows sample-by-sample from 1 up to windowSize before
// stabilizing.
type HannSmoother struct {
	window     []float64
	windowSize int
	cache      map[int][]float64
}

// NewHannSmoother returns a smoother with the given window size (typically
// 9 samples at a 50Hz accel rate).
func NewHannSmoother(windowSize int) *HannSmoother {
	return &HannSmoother{windowSize: windowSize, cache: make(map[int][]float64)}
}

// Apply pushes magnitude into the window and returns the Hann-weighted
// average of the current window contents.
func (h *HannSmoother) Apply(magnitude float64) float64 {
	h.window = append(h.window, magnitude)
	if len(h.window) > h.windowSize {
		h.window = h.window[len(h.window)-h.windowSize:]
	}

	length := len(h.window)
	if length == 1 {
		return magnitude
	}

	weights, ok := h.cache[length]
	if !ok {
		weights = hannWeights(length)
		h.cache[length] = weights
	}

	var smoothed float64
	for i, v := range h.window {
		smoothed += v * weights[i]
	}
	return smoothed
}

// Len reports the current (not max) window length.
func (h *HannSmoother) Len() int { return len(h.window) }

func hannWeights(length int) []float64 {
	if length <= 1 {
		return []float64{1.0}
	}
	if length == 2 {
		return []float64{0.5, 0.5}
	}

	weights := make([]float64, length)
	var sum float64
	for i := 0; i < length; i++ {
		angle := 2 * math.Pi * float64(i) / float64(length-1)
		w := 0.5 - 0.5*math.Cos(angle)
		weights[i] = w
		sum += w
	}
	if sum <= 0 {
		sum = 1
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// HighPass is a second-order Butterworth high-pass biquad, used to isolate
// the vibration content of the accel magnitude trace for the roughness
// estimator. Coefficients are for a fixed normalized cutoff, matching the
// fixed-coefficient biquad used upstream.
type HighPass struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// NewHighPass returns a Butterworth high-pass biquad with a ~0.4Hz cutoff
// at a nominal 50Hz sample rate.
func NewHighPass() *HighPass {
	return &HighPass{
		b0: 0.9655,
		b1: -1.9310,
		b2: 0.9655,
		a1: -1.9290,
		a2: 0.9314,
	}
}

// Apply filters one scalar sample.
func (hp *HighPass) Apply(x float64) float64 {
	y := hp.b0*x + hp.b1*hp.x1 + hp.b2*hp.x2 - hp.a1*hp.y1 - hp.a2*hp.y2
	hp.x2, hp.x1 = hp.x1, x
	hp.y2, hp.y1 = hp.y1, y
	return y
}

// RoughnessEstimator tracks an exponentially-weighted moving average of the
// high-pass-filtered accel magnitude, used as a vibration/roughness metric
// that gates when the calibration engine is allowed to trust a "stationary"
// classification for gravity refinement.
type RoughnessEstimator struct {
	hp    *HighPass
	alpha float64
	value float64
}

// NewRoughnessEstimator returns an estimator with the given EWMA alpha.
func NewRoughnessEstimator(alpha float64) *RoughnessEstimator {
	return &RoughnessEstimator{hp: NewHighPass(), alpha: alpha}
}

// Update feeds one accel-magnitude sample and returns the updated roughness
// value.
func (r *RoughnessEstimator) Update(magnitude float64) float64 {
	hpOut := r.hp.Apply(magnitude)
	r.value += r.alpha * (math.Abs(hpOut) - r.value)
	return r.value
}

// Value returns the current roughness estimate without feeding a sample.
func (r *RoughnessEstimator) Value() float64 { return r.value }
