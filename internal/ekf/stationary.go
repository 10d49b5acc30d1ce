// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import "gonum.org/v1/gonum/mat"

// UpdateStationaryAccel applies the ZUPT-accel measurement:
// expected measurement is R^T(q)*gravityVec + b_a, simultaneously aligning
// pitch/roll to gravity and estimating accelerometer bias. gravityVec is
// the calibration engine's current gravity estimate (world frame, m/s^2).
func (f *Filter) UpdateStationaryAccel(accelFiltered, gravityVec [3]float64, sigma float64) (nis float64, applied bool) {
	q := f.quaternion()
	expected := q.RotateWorldToBody(gravityVec)
	ba := f.AccelBias()

	pred := [3]float64{expected[0] + ba[0], expected[1] + ba[1], expected[2]}
	innov := [3]float64{accelFiltered[0] - pred[0], accelFiltered[1] - pred[1], accelFiltered[2] - pred[2]}

	sk := Skew3(expected)

	H := mat.NewDense(3, N, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			H.Set(i, AttX+j, sk[i][j])
		}
	}
	H.Set(0, BAX, 1)
	H.Set(1, BAY, 1)

	s2 := sigma * sigma
	R := mat.NewDense(3, 3, nil)
	R.Set(0, 0, s2)
	R.Set(1, 1, s2)
	R.Set(2, 2, s2)

	y := mat.NewVecDense(3, innov[:])
	nis, ok := f.josephUpdate(H, R, y)
	if !ok {
		return 0, false
	}
	f.AccelUpdates++
	return nis, true
}

// UpdateStationaryGyro applies the ZUPT-gyro measurement: the
// expected measurement is the gyro bias itself, directly estimating it from
// the raw (unclamped) gyro sample.
func (f *Filter) UpdateStationaryGyro(gyroRaw [3]float64, sigma float64) (nis float64, applied bool) {
	bg := f.GyroBias()
	innov := [3]float64{gyroRaw[0] - bg[0], gyroRaw[1] - bg[1], gyroRaw[2] - bg[2]}

	H := mat.NewDense(3, N, nil)
	H.Set(0, BGX, 1)
	H.Set(1, BGY, 1)
	H.Set(2, BGZ, 1)

	s2 := sigma * sigma
	R := mat.NewDense(3, 3, nil)
	R.Set(0, 0, s2)
	R.Set(1, 1, s2)
	R.Set(2, 2, s2)

	y := mat.NewVecDense(3, innov[:])
	nis, ok := f.josephUpdate(H, R, y)
	if !ok {
		return 0, false
	}
	f.GyroUpdates++
	return nis, true
}

// ForceZeroVelocity sets velocity to zero and scrubs the velocity rows and
// columns of P to zero except for a small diagonal floor, part of the
// stationary policy.
func (f *Filter) ForceZeroVelocity() {
	f.setVelocity([3]float64{0, 0, 0})
	for _, r := range [3]int{VX, VY, VZ} {
		for c := 0; c < N; c++ {
			f.P.Set(r, c, 0)
			f.P.Set(c, r, 0)
		}
		f.P.Set(r, r, diagFloor)
	}
	f.settle()
}

// AlignToGravity realigns roll/pitch from an averaged body-frame
// accelerometer reading taken while stationary, preserving yaw. Only the
// attitude covariance's roll/pitch components
// (AttX, AttY) are reset; yaw uncertainty (AttZ) is untouched.
func (f *Filter) AlignToGravity(accelBodyAvg [3]float64) {
	norm := accelBodyAvg[0]*accelBodyAvg[0] + accelBodyAvg[1]*accelBodyAvg[1] + accelBodyAvg[2]*accelBodyAvg[2]
	if norm < 1e-9 {
		return
	}

	q := f.quaternion()
	_, _, yaw := q.Euler()

	roll, pitch := rollPitchFromGravity(accelBodyAvg)
	aligned := eulerToQuat(roll, pitch, yaw)
	f.setQuaternion(aligned)

	f.P.Set(AttX, AttX, 0.1)
	f.P.Set(AttY, AttY, 0.1)
	f.settle()
}
