// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"

	"github.com/xhlsa/fusion-core/internal/quat"
	"gonum.org/v1/gonum/mat"
)

// attitudeCoupling is kappa, the damping factor on the velocity/attitude and
// velocity/accel-bias Jacobian blocks. The textbook form is 1.0; 0.2 is
// retained to match observed behavior, per the design notes on this filter.
const attitudeCoupling = 0.2

// accelNoiseStd returns the speed-scaled accelerometer noise standard
// deviation used to build the predict step's process noise: 0.1 below
// 2 m/s, ramping linearly to 1.5 at 10 m/s, constant above.
func accelNoiseStd(speed float64) float64 {
	switch {
	case speed <= 2:
		return 0.1
	case speed >= 10:
		return 1.5
	default:
		return 0.1 + (speed-2)/(10-2)*(1.5-0.1)
	}
}

// Predict advances the filter by dt seconds given raw (bias-uncorrected)
// accelerometer and gyroscope samples.
func (f *Filter) Predict(accelRaw, gyroRaw [3]float64, dt float64) {
	if dt <= 0 {
		return
	}

	if dt > 0.5 {
		// Stale tick: IMU data is non-informative. Inflate position and
		// velocity uncertainty so the filter stays ready to accept the next
		// GPS fix, but do not integrate.
		factor := dt / 0.02
		for i := 0; i < 6; i++ {
			f.P.Set(i, i, f.P.At(i, i)*factor)
		}
		f.settle()
		return
	}

	speed := f.Speed()
	sigmaA := accelNoiseStd(speed)

	ba := f.AccelBias()
	bg := f.GyroBias()
	a := [3]float64{accelRaw[0] - ba[0], accelRaw[1] - ba[1], accelRaw[2] - ba[2]}
	omega := [3]float64{gyroRaw[0] - bg[0], gyroRaw[1] - bg[1], gyroRaw[2] - bg[2]}

	q := f.quaternion()
	qNew := quat.Integrate(q, omega, dt)
	f.setQuaternion(qNew)

	aWorld := qNew.RotateBodyToWorld(a)
	v := f.velocity()
	v[0] += aWorld[0] * dt
	v[1] += aWorld[1] * dt
	v[2] += (aWorld[2] - gravity) * dt
	f.setVelocity(v)

	p := f.position()
	p[0] += v[0] * dt
	p[1] += v[1] * dt
	p[2] += v[2] * dt
	f.X.SetVec(PX, p[0])
	f.X.SetVec(PY, p[1])
	f.X.SetVec(PZ, p[2])

	F := f.predictJacobian(qNew, a, dt)
	Q := f.processNoise(sigmaA, dt)

	var fp mat.Dense
	fp.Mul(F, f.P)
	var fpft mat.Dense
	fpft.Mul(&fp, F.T())
	fpft.Add(&fpft, Q)
	f.P.Copy(&fpft)

	f.settle()
}

// PredictAttitude advances attitude only from a gyro sample: bias-subtract,
// integrate the quaternion, and propagate the attitude/gyro-bias covariance
// blocks. Used on the gyro stream, where no accelerometer sample accompanies
// the rotation.
func (f *Filter) PredictAttitude(gyroRaw [3]float64, dt float64) {
	if dt <= 0 || dt > 0.5 {
		return
	}

	bg := f.GyroBias()
	omega := [3]float64{gyroRaw[0] - bg[0], gyroRaw[1] - bg[1], gyroRaw[2] - bg[2]}

	q := f.quaternion()
	f.setQuaternion(quat.Integrate(q, omega, dt))

	F := identity(N)
	F.Set(AttX, BGX, -dt)
	F.Set(AttY, BGY, -dt)
	F.Set(AttZ, BGZ, -dt)

	var fp mat.Dense
	fp.Mul(F, f.P)
	var fpft mat.Dense
	fpft.Mul(&fp, F.T())
	f.P.Copy(&fpft)

	attQ := 1e-6 * dt
	f.P.Set(AttX, AttX, f.P.At(AttX, AttX)+attQ)
	f.P.Set(AttY, AttY, f.P.At(AttY, AttY)+attQ)
	f.P.Set(AttZ, AttZ, f.P.At(AttZ, AttZ)+attQ)

	f.settle()
}

// predictJacobian builds the 15x15 error-state transition matrix F for the
// predict step.
func (f *Filter) predictJacobian(q quat.Quat, aCorrected [3]float64, dt float64) *mat.Dense {
	F := identity(N)

	// dp/dv = I*dt
	F.Set(PX, VX, dt)
	F.Set(PY, VY, dt)
	F.Set(PZ, VZ, dt)

	r := q.RotationMatrix()
	sk := quat.Skew(aCorrected)

	// -R(q)*skew(a)
	var rsk [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += r[i][k] * sk[k][j]
			}
			rsk[i][j] = -sum
		}
	}

	// dv/dtheta = -R(q)*skew(a)*dt*kappa, mapped to attitude columns.
	attCols := [3]int{AttX, AttY, AttZ}
	velRows := [3]int{VX, VY, VZ}
	for i, vr := range velRows {
		for j, ac := range attCols {
			F.Set(vr, ac, rsk[i][j]*dt*attitudeCoupling)
		}
	}

	// dv/dba = -R(q)*dt*kappa, mapped to columns BAX, BAY only (BAZ pinned).
	for i, vr := range velRows {
		F.Set(vr, BAX, -r[i][0]*dt*attitudeCoupling)
		F.Set(vr, BAY, -r[i][1]*dt*attitudeCoupling)
	}

	// dtheta/dbg = -I*dt, rows AttX..AttZ, columns BGX..BGZ.
	F.Set(AttX, BGX, -dt)
	F.Set(AttY, BGY, -dt)
	F.Set(AttZ, BGZ, -dt)

	return F
}

// processNoise builds the 15x15 process noise matrix Q. Position-block
// noise scales with the speed-dependent accel std; remaining blocks use
// fixed small diagonal terms consistent with slow bias/attitude
// random-walk.
func (f *Filter) processNoise(sigmaA, dt float64) *mat.Dense {
	Q := mat.NewDense(N, N, nil)
	posQ := math.Max(1000*0.25*dt*dt*dt*dt*sigmaA*sigmaA, 1e-5)
	for i := 0; i < 3; i++ {
		Q.Set(i, i, posQ)
	}
	velQ := sigmaA * sigmaA * dt
	for i := 3; i < 6; i++ {
		Q.Set(i, i, velQ)
	}
	attQ := 1e-6 * dt
	Q.Set(AttX, AttX, attQ)
	Q.Set(AttY, AttY, attQ)
	Q.Set(AttZ, AttZ, attQ)
	Q.Set(QW, QW, 1e-9)
	gyroBiasQ := 1e-8 * dt
	for i := BGX; i <= BGZ; i++ {
		Q.Set(i, i, gyroBiasQ)
	}
	accelBiasQ := 1e-7 * dt
	Q.Set(BAX, BAX, accelBiasQ)
	Q.Set(BAY, BAY, accelBiasQ)
	return Q
}
