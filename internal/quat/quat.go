// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package quat implements the body<->world rotation math the filter needs:
// a unit quaternion type, axis-angle integration, Euler extraction for
// diagnostics, and the skew-symmetric cross-product matrix used to build
// measurement Jacobians.
package quat

import "math"

// Quat is a unit quaternion in (w, x, y, z) order, representing a
// body-to-world rotation.
type Quat struct {
	W, X, Y, Z float64
}

// Identity returns the zero-rotation quaternion.
func Identity() Quat {
	return Quat{W: 1}
}

// Norm returns the Euclidean norm of q.
func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit length. If q is (numerically) zero it
// returns Identity rather than dividing by zero.
func (q Quat) Normalize() Quat {
	n := q.Norm()
	if n < 1e-12 {
		return Identity()
	}
	return Quat{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Mul computes the Hamilton product q*r (q applied after r).
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// RotationMatrix returns the 3x3 body->world rotation matrix R(q), in
// row-major order as [3][3]float64.
func (q Quat) RotationMatrix() [3][3]float64 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	xx, yy, zz := x*x, y*y, z*z
	wx, wy, wz := w*x, w*y, w*z
	xy, xz, yz := x*y, x*z, y*z

	return [3][3]float64{
		{1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy)},
		{2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx)},
		{2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy)},
	}
}

// RotateBodyToWorld produces the world-frame image of a body vector v,
// equivalent to R(q)*v.
func (q Quat) RotateBodyToWorld(v [3]float64) [3]float64 {
	r := q.RotationMatrix()
	return [3]float64{
		r[0][0]*v[0] + r[0][1]*v[1] + r[0][2]*v[2],
		r[1][0]*v[0] + r[1][1]*v[1] + r[1][2]*v[2],
		r[2][0]*v[0] + r[2][1]*v[1] + r[2][2]*v[2],
	}
}

// RotateWorldToBody produces the body-frame image of a world vector v,
// equivalent to R(q)^T*v.
func (q Quat) RotateWorldToBody(v [3]float64) [3]float64 {
	r := q.RotationMatrix()
	return [3]float64{
		r[0][0]*v[0] + r[1][0]*v[1] + r[2][0]*v[2],
		r[0][1]*v[0] + r[1][1]*v[1] + r[2][1]*v[2],
		r[0][2]*v[0] + r[1][2]*v[1] + r[2][2]*v[2],
	}
}

// Integrate advances q by a body-frame angular rate omega (rad/s) over dt
// seconds, using the exponential map. Angular rates below 1e-6 rad/s are
// treated as no rotation.
func Integrate(q Quat, omega [3]float64, dt float64) Quat {
	mag := math.Sqrt(omega[0]*omega[0] + omega[1]*omega[1] + omega[2]*omega[2])
	if mag < 1e-6 {
		return q
	}
	theta := mag * dt / 2
	s := sinc(theta) * dt / 2
	dq := Quat{
		W: math.Cos(theta),
		X: s * omega[0],
		Y: s * omega[1],
		Z: s * omega[2],
	}
	return dq.Mul(q).Normalize()
}

// sinc is sin(x)/x, with the removable singularity at x=0 filled in.
func sinc(x float64) float64 {
	if math.Abs(x) < 1e-8 {
		return 1
	}
	return math.Sin(x) / x
}

// Euler returns roll, pitch, yaw (ZYX convention, radians) for diagnostics
// and magnetometer tilt compensation.
func (q Quat) Euler() (roll, pitch, yaw float64) {
	r := q.RotationMatrix()
	roll = math.Atan2(r[2][1], r[2][2])
	pitch = math.Asin(clamp(-r[2][0], -1, 1))
	yaw = math.Atan2(r[1][0], r[0][0])
	return
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

// Skew returns the 3x3 cross-product matrix of v, such that Skew(v)*w ==
// v cross w.
func Skew(v [3]float64) [3][3]float64 {
	return [3][3]float64{
		{0, -v[2], v[1]},
		{v[2], 0, -v[0]},
		{-v[1], v[0], 0},
	}
}
