// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"

	"github.com/xhlsa/fusion-core/internal/quat"
)

// Skew3 exposes the cross-product matrix for building measurement
// Jacobians; within this package it builds the attitude block of the
// ZUPT-accel update.
func Skew3(v [3]float64) [3][3]float64 { return quat.Skew(v) }

// rollPitchFromGravity computes roll/pitch from a body-frame accelerometer
// reading taken while stationary, using the standard two-axis leveling
// formula. Yaw is not observable from gravity alone.
func rollPitchFromGravity(a [3]float64) (roll, pitch float64) {
	roll = math.Atan2(a[1], a[2])
	pitch = math.Atan2(-a[0], math.Sqrt(a[1]*a[1]+a[2]*a[2]))
	return
}

// eulerToQuat builds a unit quaternion from ZYX roll/pitch/yaw.
func eulerToQuat(roll, pitch, yaw float64) quat.Quat {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return quat.Quat{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}.Normalize()
}
