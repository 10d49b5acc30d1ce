// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// UpdateBodyVelocityNHC applies the non-holonomic constraint:
// lateral and vertical velocity in the vehicle frame are assumed ~0, with a
// constant yaw offset (mountYawOffset, radians) between the phone's body
// frame and the vehicle's. Forward speed has no independent measurement on
// a phone-only rig, so it is fed as 0 with a huge noise variance (999),
// leaving it effectively unconstrained; the forward-speed term exists only
// to keep the measurement 3-dimensional. noiseInflation multiplies the
// lateral/vertical
// variance (used by the orchestrator to fade the constraint out across a
// GPS gap).
func (f *Filter) UpdateBodyVelocityNHC(mountYawOffset, sigmaYZ, noiseInflation float64) (nis float64, applied bool) {
	q := f.quaternion()
	r := q.RotationMatrix() // body->world; R^T is world->body

	cm, sm := math.Cos(mountYawOffset), math.Sin(mountYawOffset)
	rMount := [3][3]float64{
		{cm, -sm, 0},
		{sm, cm, 0},
		{0, 0, 1},
	}

	// H_vel = R_mount * R(q)^T, i.e. H_vel[i][j] = sum_k rMount[i][k]*r[j][k]
	var hVel [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rMount[i][k] * r[j][k]
			}
			hVel[i][j] = sum
		}
	}

	v := f.velocity()
	pred := [3]float64{
		hVel[0][0]*v[0] + hVel[0][1]*v[1] + hVel[0][2]*v[2],
		hVel[1][0]*v[0] + hVel[1][1]*v[1] + hVel[1][2]*v[2],
		hVel[2][0]*v[0] + hVel[2][1]*v[1] + hVel[2][2]*v[2],
	}

	meas := [3]float64{0, 0, 0}
	innov := [3]float64{meas[0] - pred[0], meas[1] - pred[1], meas[2] - pred[2]}

	H := mat.NewDense(3, N, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			H.Set(i, VX+j, hVel[i][j])
		}
	}

	s2 := sigmaYZ * sigmaYZ * noiseInflation
	R := mat.NewDense(3, 3, nil)
	R.Set(0, 0, 999)
	R.Set(1, 1, s2)
	R.Set(2, 2, s2)

	y := mat.NewVecDense(3, innov[:])
	nis, ok := f.josephUpdate(H, R, y)
	return nis, ok
}
