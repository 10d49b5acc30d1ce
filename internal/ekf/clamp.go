// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

// SpeedClampScaleOffset returns the (scale, offset) pair used to derive a
// speed limit from the recent GPS envelope: (1.5, 5) in normal
// operation, tightening to (1.1, 2) during a GPS gap.
func SpeedClampScaleOffset(inGap bool) (scale, offset float64) {
	if inGap {
		return 1.1, 2
	}
	return 1.5, 5
}

// ClampSpeed enforces |v| <= limit where limit = scale*maxRecentGPSSpeed +
// offset. If the current speed exceeds the limit, velocity is rescaled to
// length limit, velocity/position diagonals are floored to >=0.01, and a
// small 1e-4 diagonal bump is added everywhere to preserve PSD. Returns the
// limit and whether the clamp actually fired.
func (f *Filter) ClampSpeed(maxRecentGPSSpeed float64, inGap bool) (limit float64, clamped bool) {
	scale, offset := SpeedClampScaleOffset(inGap)
	limit = scale*maxRecentGPSSpeed + offset

	speed := f.Speed()
	if speed <= limit || speed < 1e-9 {
		return limit, false
	}

	v := f.velocity()
	k := limit / speed
	f.setVelocity([3]float64{v[0] * k, v[1] * k, v[2] * k})

	for i := 0; i < 6; i++ {
		if f.P.At(i, i) < 0.01 {
			f.P.Set(i, i, 0.01)
		}
	}
	for i := 0; i < N; i++ {
		f.P.Set(i, i, f.P.At(i, i)+1e-4)
	}
	f.settle()
	return limit, true
}

// ScrubVelocityCovariance zeros the velocity rows/cols of P except for a
// small diagonal floor. Unlike ForceZeroVelocity it leaves the velocity
// state itself untouched.
func (f *Filter) ScrubVelocityCovariance() {
	for _, r := range [3]int{VX, VY, VZ} {
		for c := 0; c < N; c++ {
			f.P.Set(r, c, 0)
			f.P.Set(c, r, 0)
		}
		f.P.Set(r, r, diagFloor)
	}
	f.settle()
}
