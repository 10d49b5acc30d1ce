// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const earthRadiusMeters = 6371000.0

// latLonToMeters projects (lat, lon) into the local ENU plane centered on
// (originLat, originLon) via the small-angle approximation: scale by the
// Earth radius and cos(originLat).
func latLonToMeters(originLat, originLon, lat, lon float64) (east, north float64) {
	originLatRad := originLat * math.Pi / 180
	dLat := (lat - originLat) * math.Pi / 180
	dLon := (lon - originLon) * math.Pi / 180
	north = dLat * earthRadiusMeters
	east = dLon * earthRadiusMeters * math.Cos(originLatRad)
	return
}

// gpsAccuracyFloor returns the dynamic noise floor for GPS position
// accuracy: 10 m below 3 m/s, falling linearly to 3 m at 15 m/s, constant
// above. The effective sigma used in the update is max(reportedSigma,
// floor), so inertia is favored at low speed and GPS at cruise.
func gpsAccuracyFloor(speed float64) float64 {
	switch {
	case speed <= 3:
		return 10
	case speed >= 15:
		return 3
	default:
		return 10 + (speed-3)/(15-3)*(3-10)
	}
}

// GPSPositionResult reports what UpdateGPSPosition actually did, since the
// filter itself is silent; the orchestrator decides which event, if any,
// to emit from these flags.
type GPSPositionResult struct {
	ColdStart bool
	Snapped   bool
	NIS       float64
	Applied   bool
}

// OriginSet reports whether the session-local ENU origin has been fixed yet.
func (f *Filter) OriginSet() bool { return f.originSet }

// SetOrigin pins the ENU origin without performing a measurement update.
// UpdateGPSPosition calls it on the first fix; it is exported so a caller
// can also pin the origin directly.
func (f *Filter) SetOrigin(lat, lon float64) {
	f.originSet = true
	f.originLat = lat
	f.originLon = lon
}

// ProjectToENU converts a (lat, lon) pair to the session's local ENU plane.
// ok is false until the origin has been set by the first accepted fix.
func (f *Filter) ProjectToENU(lat, lon float64) (east, north float64, ok bool) {
	if !f.originSet {
		return 0, 0, false
	}
	east, north = latLonToMeters(f.originLat, f.originLon, lat, lon)
	return east, north, true
}

// UpdateGPSPosition applies a GPS position fix. lastFixAge is
// the elapsed time since the last accepted fix (used only for the
// divergence-snap velocity inference); callers that have already run
// outlier gating on this fix should call this directly.
func (f *Filter) UpdateGPSPosition(lat, lon, alt, reportedSigma, lastFixAge float64) GPSPositionResult {
	if !f.originSet {
		f.SetOrigin(lat, lon)
		f.X.SetVec(PX, 0)
		f.X.SetVec(PY, 0)
		f.lastGPSPos = [3]float64{0, 0, f.X.AtVec(PZ)}
		f.GPSUpdates++
		f.settle()
		return GPSPositionResult{ColdStart: true}
	}

	east, north := latLonToMeters(f.originLat, f.originLon, lat, lon)
	meas := [3]float64{east, north, alt}

	sigma := math.Max(reportedSigma, gpsAccuracyFloor(f.Speed()))

	pos := f.position()
	innov := [3]float64{meas[0] - pos[0], meas[1] - pos[1], meas[2] - pos[2]}
	innovNorm := math.Sqrt(innov[0]*innov[0] + innov[1]*innov[1] + innov[2]*innov[2])

	if innovNorm > 30 && sigma < 20 {
		f.snapToFix(meas, sigma, lastFixAge)
		f.GPSUpdates++
		f.lastGPSPos = meas
		return GPSPositionResult{Snapped: true}
	}

	H := mat.NewDense(3, N, nil)
	H.Set(0, PX, 1)
	H.Set(1, PY, 1)
	H.Set(2, PZ, 1)

	R := mat.NewDense(3, 3, nil)
	R.Set(0, 0, sigma*sigma)
	R.Set(1, 1, sigma*sigma)
	R.Set(2, 2, 4*sigma*sigma)

	y := mat.NewVecDense(3, innov[:])
	nis, ok := f.josephUpdate(H, R, y)
	f.GPSUpdates++
	f.lastGPSPos = meas
	if !ok {
		return GPSPositionResult{}
	}
	return GPSPositionResult{NIS: nis, Applied: true}
}

// snapToFix implements the divergence-recovery teleport: position jumps to
// the fix, velocity is inferred from drift since the last accepted fix
// (clamped to +-35 m/s per axis) or, when lastFixAge is too small to use,
// the current velocity is damped by 0.9, and covariance is reset to a soft
// position trust with high velocity uncertainty.
func (f *Filter) snapToFix(meas [3]float64, sigma, lastFixAge float64) {
	var inferredV [3]float64
	if lastFixAge > 1e-3 {
		for i := 0; i < 3; i++ {
			v := (meas[i] - f.lastGPSPos[i]) / lastFixAge
			inferredV[i] = clamp(v, -35, 35)
		}
	} else {
		v := f.velocity()
		inferredV = [3]float64{v[0] * 0.9, v[1] * 0.9, v[2] * 0.9}
	}

	f.X.SetVec(PX, meas[0])
	f.X.SetVec(PY, meas[1])
	f.X.SetVec(PZ, meas[2])
	f.setVelocity(inferredV)

	for i := 0; i < 3; i++ {
		f.P.Set(i, i, sigma*sigma)
	}
	f.P.Set(VX, VX, 400)
	f.P.Set(VY, VY, 400)
	f.P.Set(VZ, VZ, 100)
	for i := BGX; i <= BGZ; i++ {
		if f.P.At(i, i) < 0.01 {
			f.P.Set(i, i, 0.01)
		}
	}
	f.P.Set(BAX, BAX, math.Max(f.P.At(BAX, BAX), 0.01))
	f.P.Set(BAY, BAY, math.Max(f.P.At(BAY, BAY), 0.01))

	f.settle()
}

// UpdateGPSVelocity applies a GPS-derived (speed, bearing) fix as an ENU
// velocity measurement.
func (f *Filter) UpdateGPSVelocity(speed, bearing, sigmaV float64) (nis float64, applied bool) {
	vE := speed * math.Sin(bearing)
	vN := speed * math.Cos(bearing)
	meas := [3]float64{vE, vN, 0}

	for i := VX; i <= VZ; i++ {
		if f.P.At(i, i) < 0.1 {
			f.P.Set(i, i, 0.1)
		}
	}

	v := f.velocity()
	innov := [3]float64{
		clamp(meas[0]-v[0], -50, 50),
		clamp(meas[1]-v[1], -50, 50),
		clamp(meas[2]-v[2], -50, 50),
	}

	H := mat.NewDense(3, N, nil)
	H.Set(0, VX, 1)
	H.Set(1, VY, 1)
	H.Set(2, VZ, 1)

	sv2 := math.Max(sigmaV*sigmaV, 1e-4)
	R := mat.NewDense(3, 3, nil)
	R.Set(0, 0, sv2)
	R.Set(1, 1, sv2)
	R.Set(2, 2, 2*sv2)

	y := mat.NewVecDense(3, innov[:])
	nis, ok := f.josephUpdate(H, R, y)
	if !ok {
		return 0, false
	}
	return nis, true
}

// PredictedPositionCovariance returns the 3x3 position covariance block
// propagated forward by dtSinceLast as P_pos(t+dt) = P_pos(t) + Q_pos*dt,
// the forward-projection used by outlier gating. It does not mutate
// the filter.
func (f *Filter) PredictedPositionCovariance(dtSinceLast float64) [3][3]float64 {
	sigmaA := accelNoiseStd(f.Speed())
	posQ := math.Max(1000*0.25*dtSinceLast*dtSinceLast*dtSinceLast*dtSinceLast*sigmaA*sigmaA, 1e-5)
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = f.P.At(i, j)
		}
		out[i][i] += posQ * dtSinceLast
	}
	return out
}

// PredictedPosition returns the position the motion model would reach
// after dtSinceLast seconds of straight-line integration at the current
// velocity, used as the prediction target for outlier gating.
func (f *Filter) PredictedPosition(dtSinceLast float64) [3]float64 {
	p := f.position()
	v := f.velocity()
	return [3]float64{p[0] + v[0]*dtSinceLast, p[1] + v[1]*dtSinceLast, p[2] + v[2]*dtSinceLast}
}

// IsGPSOutlier Mahalanobis-gates a fresh fix against the
// forward-predicted position. meas is the fix already projected to ENU.
func (f *Filter) IsGPSOutlier(meas [3]float64, dtSinceLast float64) (mahalanobis float64, outlier bool) {
	pred := f.PredictedPosition(dtSinceLast)
	pCov := f.PredictedPositionCovariance(dtSinceLast)

	innov := [3]float64{meas[0] - pred[0], meas[1] - pred[1], meas[2] - pred[2]}

	S := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			S.Set(i, j, pCov[i][j])
		}
	}
	S.Set(0, 0, S.At(0, 0)+25)   // R_gps horizontal std 5m
	S.Set(1, 1, S.At(1, 1)+25)
	S.Set(2, 2, S.At(2, 2)+400) // R_gps vertical std 20m

	var sInv mat.Dense
	if err := sInv.Inverse(S); err != nil {
		dist := math.Sqrt(innov[0]*innov[0] + innov[1]*innov[1] + innov[2]*innov[2])
		return dist, dist > 3
	}

	y := mat.NewVecDense(3, innov[:])
	var sy mat.VecDense
	sy.MulVec(&sInv, y)
	d2 := mat.Dot(y, &sy)
	if d2 < 0 {
		d2 = 0
	}
	d := math.Sqrt(d2)
	return d, d > 3
}

// LastGPSPosition returns the ENU position of the last accepted fix, the
// reference the divergence snap uses to infer velocity.
func (f *Filter) LastGPSPosition() [3]float64 { return f.lastGPSPos }
