// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// PressureToAltitude converts pressure (hPa) to altitude (meters) via the
// standard-atmosphere formula, using referenceHPa as local sea-level
// pressure P0.
func PressureToAltitude(pressureHPa, referenceHPa float64) float64 {
	return 44330 * (1 - math.Pow(pressureHPa/referenceHPa, 0.1903))
}

// UpdateBarometerAltitude applies a scalar position-Z update: the barometric altitude is treated as a direct measurement of
// p_z, with noise sigma in meters (1-3m when pressure is stable, inflated
// when it isn't; see the orchestrator's stability gating).
func (f *Filter) UpdateBarometerAltitude(altitude, sigma float64) (nis float64, applied bool) {
	pz := f.X.AtVec(PZ)
	innov := altitude - pz

	H := mat.NewDense(1, N, nil)
	H.Set(0, PZ, 1)

	R := mat.NewDense(1, 1, nil)
	R.Set(0, 0, sigma*sigma)

	y := mat.NewVecDense(1, []float64{innov})
	nis, ok := f.josephUpdate(H, R, y)
	return nis, ok
}

// ZeroVerticalVelocity applies a scalar v_z = 0 constraint, a vertical-rate
// sanity check used alongside the altitude update during GPS gaps.
func (f *Filter) ZeroVerticalVelocity(sigma float64) (nis float64, applied bool) {
	vz := f.X.AtVec(VZ)

	H := mat.NewDense(1, N, nil)
	H.Set(0, VZ, 1)

	R := mat.NewDense(1, 1, nil)
	R.Set(0, 0, sigma*sigma)

	y := mat.NewVecDense(1, []float64{-vz})
	nis, ok := f.josephUpdate(H, R, y)
	return nis, ok
}
