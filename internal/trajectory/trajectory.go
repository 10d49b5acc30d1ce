// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trajectory implements the open-loop forward simulation behind
// fusionorch.Core.PredictTrajectory, either with exponential decay on the
// seed acceleration (the gating setting) or without it (debug/export
// traces). The GPS outlier gate in internal/ekf does not call this package;
// it projects position at constant velocity.
package trajectory

import "math"

// Point is one sample of a predicted trajectory.
type Point struct {
	Time       float64
	Position   [3]float64
	Velocity   [3]float64
	Quaternion [4]float64 // w, x, y, z
	PosCov     [3][3]float64
}

// Params controls the forward simulation.
type Params struct {
	Decay       float64 // lambda in a(t) = a(0)*exp(-lambda*t); 0.3 for gating, 0 for viz
	StepSeconds float64
	Steps       int
}

// Predict runs the forward simulation from the given seed state and linear
// acceleration, returning one Point per step. There is no angular-rate
// input: attitude stays at the seed quaternion for the whole trace.
func Predict(pos, vel [3]float64, quat [4]float64, accelLinear [3]float64, posCov [3][3]float64, posProcessNoise float64, params Params) []Point {
	out := make([]Point, 0, params.Steps)
	p, v := pos, vel
	cov := posCov

	for i := 1; i <= params.Steps; i++ {
		t := float64(i) * params.StepSeconds
		decayFactor := math.Exp(-params.Decay * t)
		a := [3]float64{accelLinear[0] * decayFactor, accelLinear[1] * decayFactor, accelLinear[2] * decayFactor}

		for k := 0; k < 3; k++ {
			p[k] += v[k]*params.StepSeconds + 0.5*a[k]*params.StepSeconds*params.StepSeconds
		}

		horizAccelNorm := math.Sqrt(a[0]*a[0] + a[1]*a[1])
		tilt := math.Atan2(math.Sqrt(quat[1]*quat[1]+quat[2]*quat[2]), math.Max(quat[0], 1e-9))
		damp := 0.95
		if horizAccelNorm < 2 && tilt < 0.2 {
			damp = 0.80
		}
		v[0] += a[0] * params.StepSeconds
		v[1] += a[1] * params.StepSeconds
		v[2] = (v[2] + a[2]*params.StepSeconds) * damp
		if v[2] > 5 {
			v[2] = 5
		}
		if v[2] < -5 {
			v[2] = -5
		}

		for r := 0; r < 3; r++ {
			cov[r][r] += posProcessNoise * params.StepSeconds
		}

		out = append(out, Point{
			Time:       t,
			Position:   p,
			Velocity:   v,
			Quaternion: quat,
			PosCov:     cov,
		})
	}

	return out
}
