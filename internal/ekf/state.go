// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ekf implements the 15-state error-state Extended Kalman Filter
// that fuses IMU, GPS, magnetometer and barometer measurements into a
// position/velocity/attitude/bias estimate. The filter is a pure value: no
// field here performs I/O, blocks, or owns a goroutine. Callers are
// responsible for serializing calls per the single-consumer contract.
package ekf

import (
	"math"

	"github.com/xhlsa/fusion-core/internal/quat"
	"gonum.org/v1/gonum/mat"
)

// State vector layout. The attitude block (indices AttX..AttZ) is used in
// every Jacobian and measurement matrix as a 3-parameter rotation-error
// proxy living directly in the quaternion's vector part (QX, QY, QZ); QW is
// never touched by a Jacobian and is recovered purely by renormalization
// after each write. The state keeps a 4-component quaternion but
// linearizes attitude error as 3 numbers co-located with QX..QZ rather
// than carrying a true reduced 14-dimensional error state.
const (
	PX = 0
	PY = 1
	PZ = 2
	VX = 3
	VY = 4
	VZ = 5
	QW = 6
	QX = 7
	QY = 8
	QZ = 9
	// AttX, AttY, AttZ alias the quaternion vector-part columns when they
	// are used as the attitude-error block of a Jacobian or H matrix.
	AttX = QX
	AttY = QY
	AttZ = QZ
	BGX  = 10
	BGY  = 11
	BGZ  = 12
	BAX  = 13
	BAY  = 14

	N = 15
)

const (
	gravity   = 9.81
	diagFloor = 1e-9
)

// Filter holds the 15-vector state x and 15x15 covariance P plus the
// update-counter bookkeeping that belongs to the raw EKF rather than to
// the orchestration policy above it.
type Filter struct {
	X *mat.VecDense
	P *mat.Dense

	GPSUpdates   int
	AccelUpdates int
	GyroUpdates  int

	originSet  bool
	originLat  float64
	originLon  float64
	lastGPSPos [3]float64
}

// New returns a filter at the state-vector default described in the data
// model: identity quaternion, zero position/velocity/bias, and a large
// diagonal covariance reflecting total initial uncertainty.
func New() *Filter {
	x := mat.NewVecDense(N, nil)
	x.SetVec(QW, 1)

	p := mat.NewDense(N, N, nil)
	for i := 0; i < N; i++ {
		switch {
		case i < 3:
			p.Set(i, i, 100) // position: 10^2 m^2
		case i < 6:
			p.Set(i, i, 10) // velocity: 10 m^2/s^2
		case i < 10:
			p.Set(i, i, 0.1) // quaternion
		default:
			p.Set(i, i, 0.1) // biases
		}
	}

	return &Filter{X: x, P: p}
}

func (f *Filter) position() [3]float64 {
	return [3]float64{f.X.AtVec(PX), f.X.AtVec(PY), f.X.AtVec(PZ)}
}

func (f *Filter) velocity() [3]float64 {
	return [3]float64{f.X.AtVec(VX), f.X.AtVec(VY), f.X.AtVec(VZ)}
}

func (f *Filter) setVelocity(v [3]float64) {
	f.X.SetVec(VX, v[0])
	f.X.SetVec(VY, v[1])
	f.X.SetVec(VZ, v[2])
}

func (f *Filter) quaternion() quat.Quat {
	return quat.Quat{W: f.X.AtVec(QW), X: f.X.AtVec(QX), Y: f.X.AtVec(QY), Z: f.X.AtVec(QZ)}
}

func (f *Filter) setQuaternion(q quat.Quat) {
	f.X.SetVec(QW, q.W)
	f.X.SetVec(QX, q.X)
	f.X.SetVec(QY, q.Y)
	f.X.SetVec(QZ, q.Z)
}

// GyroBias returns the current gyroscope bias estimate, rad/s.
func (f *Filter) GyroBias() [3]float64 {
	return [3]float64{f.X.AtVec(BGX), f.X.AtVec(BGY), f.X.AtVec(BGZ)}
}

// AccelBias returns the current accelerometer bias estimate, m/s^2. The Z
// component is always zero: it is unobservable from IMU alone and is
// deliberately pinned, with the online gravity estimator absorbing any
// constant Z offset instead.
func (f *Filter) AccelBias() [3]float64 {
	return [3]float64{f.X.AtVec(BAX), f.X.AtVec(BAY), 0}
}

// Quaternion returns the current body->world attitude.
func (f *Filter) Quaternion() quat.Quat { return f.quaternion() }

// SeedGyroBias writes a startup gyro-bias estimate into the state, tightening
// its covariance to reflect the averaging already done by calibration.
func (f *Filter) SeedGyroBias(bg [3]float64) {
	f.X.SetVec(BGX, bg[0])
	f.X.SetVec(BGY, bg[1])
	f.X.SetVec(BGZ, bg[2])
	for i := BGX; i <= BGZ; i++ {
		f.P.Set(i, i, 0.01)
	}
	f.settle()
}

// Position returns the current ENU position estimate, meters.
func (f *Filter) Position() [3]float64 { return f.position() }

// Velocity returns the current ENU velocity estimate, m/s.
func (f *Filter) Velocity() [3]float64 { return f.velocity() }

// Speed returns the horizontal+vertical speed (norm of velocity), m/s.
func (f *Filter) Speed() float64 {
	v := f.velocity()
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Heading returns the current yaw, radians, ZYX convention.
func (f *Filter) Heading() float64 {
	_, _, yaw := f.quaternion().Euler()
	return yaw
}

// CovarianceTrace returns trace(P), a cheap scalar summary of total
// uncertainty for the snapshot surface.
func (f *Filter) CovarianceTrace() float64 {
	var tr float64
	for i := 0; i < N; i++ {
		tr += f.P.At(i, i)
	}
	return tr
}

// symmetrize enforces P <- (P + P^T)/2.
func (f *Filter) symmetrize() {
	var pt mat.Dense
	pt.CloneFrom(f.P)

	var sym mat.Dense
	sym.Add(f.P, pt.T())
	sym.Scale(0.5, &sym)
	f.P.Copy(&sym)
}

// floorDiagonal enforces every diagonal entry of P to be at least floor.
func (f *Filter) floorDiagonal(floor float64) {
	for i := 0; i < N; i++ {
		if f.P.At(i, i) < floor {
			f.P.Set(i, i, floor)
		}
	}
}

// normalizeAttitude re-derives a unit quaternion after any write that
// touched the quaternion slots, per invariant 1.
func (f *Filter) normalizeAttitude() {
	q := f.quaternion().Normalize()
	f.setQuaternion(q)
}

// settle is the common tail of every update: renormalize attitude,
// symmetrize P, and floor its diagonal. Every measurement update and the
// predict step end by calling this.
func (f *Filter) settle() {
	f.normalizeAttitude()
	f.symmetrize()
	f.floorDiagonal(diagFloor)
}

// josephUpdate performs the numerically stable covariance update for an
// m-dimensional measurement with Jacobian H (m x N), innovation y (m), and
// measurement noise R (m x m). It returns the NIS (y^T S^-1 y) and whether
// S was invertible; on a singular S it leaves x and P untouched.
func (f *Filter) josephUpdate(H, R *mat.Dense, y *mat.VecDense) (nis float64, ok bool) {
	var ph mat.Dense
	ph.Mul(f.P, H.T()) // P H^T : N x m

	var s mat.Dense
	s.Mul(H, &ph) // H P H^T : m x m
	s.Add(&s, R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return math.Inf(1), false
	}

	var sy mat.VecDense
	sy.MulVec(&sInv, y)
	nis = mat.Dot(y, &sy)

	var k mat.Dense
	k.Mul(&ph, &sInv) // K = P H^T S^-1 : N x m

	var ky mat.VecDense
	ky.MulVec(&k, y)
	f.X.AddVec(f.X, &ky)

	ident := identity(N)
	var kh mat.Dense
	kh.Mul(&k, H)
	var imkh mat.Dense
	imkh.Sub(ident, &kh)

	var p1 mat.Dense
	p1.Mul(&imkh, f.P)
	var p2 mat.Dense
	p2.Mul(&p1, imkh.T())

	var kr mat.Dense
	kr.Mul(&k, R)
	var krkt mat.Dense
	krkt.Mul(&kr, k.T())

	var newP mat.Dense
	newP.Add(&p2, &krkt)
	f.P.Copy(&newP)

	f.settle()
	return nis, true
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
