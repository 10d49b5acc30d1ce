// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MagMagnitudeOK reports whether a magnetometer reading's magnitude falls
// in the plausible Earth-field range [20, 80] uT.
func MagMagnitudeOK(m [3]float64) bool {
	mag := math.Sqrt(m[0]*m[0] + m[1]*m[1] + m[2]*m[2])
	return mag >= 20 && mag <= 80
}

// wrapAngle wraps an angle to (-pi, pi].
func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// MagYawInnovation computes the tilt-compensated magnetic heading
// innovation against the filter's current yaw. It does not
// mutate the filter. Returns ok=false if the innovation exceeds pi/2 and
// should be rejected.
func (f *Filter) MagYawInnovation(m [3]float64, declinationRad float64) (innovation float64, ok bool) {
	roll, pitch, yaw := f.quaternion().Euler()
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)

	mhx := m[0]*cp + m[1]*sr*sp + m[2]*cr*sp
	mhy := m[1]*cr - m[2]*sr

	magYaw := math.Atan2(mhy, mhx) + declinationRad
	innov := wrapAngle(magYaw - yaw)
	if math.Abs(innov) > math.Pi/2 {
		return innov, false
	}
	return innov, true
}

// ApplyMagYawCorrection nudges yaw toward the magnetometer heading by a
// partial-correction gain (0.3), preserving roll/pitch. This is a direct
// blend, not a Joseph-form Kalman update: mag heading is too glitchy for
// a full measurement update and is only ever applied damped.
func (f *Filter) ApplyMagYawCorrection(innovation float64, gain float64) {
	roll, pitch, yaw := f.quaternion().Euler()
	newYaw := yaw + gain*innovation
	f.setQuaternion(eulerToQuat(roll, pitch, newYaw))
	f.settle()
}

// SetYaw rewrites the attitude to the given yaw (radians, world-frame,
// measured from East toward North), preserving roll and pitch. Used by the
// orchestrator's one-shot heading alignment from the first confident GPS
// bearing.
func (f *Filter) SetYaw(yaw float64) {
	roll, pitch, _ := f.quaternion().Euler()
	f.setQuaternion(eulerToQuat(roll, pitch, yaw))
	// Yaw is now pinned to an external reference; reset its uncertainty.
	f.P.Set(AttZ, AttZ, 0.1)
	f.settle()
}

// UpdateGyroBiasFromHeading applies a scalar Joseph update of the
// gyro Z-bias against a smoothed GPS bearing rate: predicted rate is
// omegaZRaw - b_gz, measurement is bearingRate, noise sigma ~0.01 rad/s.
func (f *Filter) UpdateGyroBiasFromHeading(omegaZRaw, bearingRate, sigma float64) (nis float64, applied bool) {
	bgz := f.X.AtVec(BGZ)
	predicted := omegaZRaw - bgz
	innov := bearingRate - predicted

	H := mat.NewDense(1, N, nil)
	H.Set(0, BGZ, -1)

	R := mat.NewDense(1, 1, nil)
	R.Set(0, 0, sigma*sigma)

	y := mat.NewVecDense(1, []float64{innov})
	nis, ok := f.josephUpdate(H, R, y)
	return nis, ok
}
