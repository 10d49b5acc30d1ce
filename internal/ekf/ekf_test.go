// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertInvariants(t *testing.T, f *Filter) {
	t.Helper()
	q := f.quaternion()
	assert.InDelta(t, 1, q.Norm(), 1e-6)
	for i := 0; i < N; i++ {
		assert.GreaterOrEqual(t, f.P.At(i, i), diagFloor-1e-12)
		for j := 0; j < N; j++ {
			assert.InDelta(t, f.P.At(i, j), f.P.At(j, i), 1e-9)
		}
	}
}

func TestNewFilterInvariants(t *testing.T) {
	f := New()
	assertInvariants(t, f)
	assert.Equal(t, 0.0, f.Speed())
}

func TestPredictStationaryKeepsSpeedLow(t *testing.T) {
	f := New()
	for i := 0; i < 3000; i++ {
		f.Predict([3]float64{0, 0, 9.81}, [3]float64{0, 0, 0}, 0.02)
	}
	assertInvariants(t, f)
	assert.Less(t, f.Speed(), 0.01)
}

func TestPredictStaleTickInflatesCovarianceOnly(t *testing.T) {
	f := New()
	before := f.P.At(PX, PX)
	f.Predict([3]float64{0, 0, 9.81}, [3]float64{0, 0, 0}, 0.6)
	assertInvariants(t, f)
	assert.Greater(t, f.P.At(PX, PX), before)
	assert.Equal(t, [3]float64{0, 0, 0}, f.Position())
}

func TestGPSColdStartSetsOrigin(t *testing.T) {
	f := New()
	res := f.UpdateGPSPosition(40.0, -74.0, 0, 5, 0)
	require.True(t, res.ColdStart)
	require.True(t, f.OriginSet())
	assert.Equal(t, [3]float64{0, 0, 0}, f.Position())
}

func TestGPSPositionUpdateMovesTowardFix(t *testing.T) {
	f := New()
	f.UpdateGPSPosition(40.0, -74.0, 0, 5, 0)
	// second fix ~10m east: small innovation, should apply normally.
	east := 10.0
	lon := -74.0 + east/(earthRadiusMeters*math.Cos(40.0*math.Pi/180))*180/math.Pi
	res := f.UpdateGPSPosition(40.0, lon, 0, 5, 1.0)
	assertInvariants(t, f)
	assert.True(t, res.Applied)
	assert.Greater(t, f.Position()[0], 0.0)
}

func TestGPSDivergenceSnaps(t *testing.T) {
	f := New()
	f.UpdateGPSPosition(40.0, -74.0, 0, 5, 0)
	f.X.SetVec(PX, 50)
	f.setVelocity([3]float64{0, 10, 0})
	res := f.UpdateGPSPosition(40.0, -74.0, 0, 5, 1.0)
	assertInvariants(t, f)
	assert.True(t, res.Snapped)
	assert.InDelta(t, 0, f.Position()[0], 1e-6)
}

func TestOutlierRejectsFarFix(t *testing.T) {
	f := New()
	f.UpdateGPSPosition(40.0, -74.0, 0, 5, 0)
	d, outlier := f.IsGPSOutlier([3]float64{500, 0, 0}, 1.0)
	assert.True(t, outlier)
	assert.Greater(t, d, 3.0)
}

func TestZuptGyroEstimatesBias(t *testing.T) {
	f := New()
	for i := 0; i < 200; i++ {
		f.UpdateStationaryGyro([3]float64{0.01, -0.02, 0.005}, 0.01)
	}
	assertInvariants(t, f)
	bg := f.GyroBias()
	assert.InDelta(t, 0.01, bg[0], 0.01)
	assert.InDelta(t, -0.02, bg[1], 0.01)
}

func TestForceZeroVelocityScrubsCovariance(t *testing.T) {
	f := New()
	f.setVelocity([3]float64{5, 5, 5})
	f.ForceZeroVelocity()
	assertInvariants(t, f)
	assert.Equal(t, [3]float64{0, 0, 0}, f.Velocity())
	assert.InDelta(t, diagFloor, f.P.At(VX, VX), 1e-12)
}

func TestClampSpeedRescalesVelocity(t *testing.T) {
	f := New()
	f.setVelocity([3]float64{30, 0, 0})
	limit, clamped := f.ClampSpeed(10, false) // limit = 1.5*10+5 = 20
	assertInvariants(t, f)
	assert.True(t, clamped)
	assert.InDelta(t, 20, limit, 1e-9)
	assert.InDelta(t, 20, f.Speed(), 1e-6)
}

func TestClampSpeedNoOpBelowLimit(t *testing.T) {
	f := New()
	f.setVelocity([3]float64{5, 0, 0})
	_, clamped := f.ClampSpeed(10, false)
	assert.False(t, clamped)
}

func TestBarometerAltitudeUpdate(t *testing.T) {
	f := New()
	alt := PressureToAltitude(1000, 1013.25)
	nis, ok := f.UpdateBarometerAltitude(alt, 2)
	assertInvariants(t, f)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, nis, 0.0)
	assert.InDelta(t, alt, f.Position()[2], 5)
}

func TestMagMagnitudeGate(t *testing.T) {
	assert.True(t, MagMagnitudeOK([3]float64{30, 0, 0}))
	assert.False(t, MagMagnitudeOK([3]float64{5, 0, 0}))
	assert.False(t, MagMagnitudeOK([3]float64{90, 0, 0}))
}

func TestNHCConstrainsLateralVelocity(t *testing.T) {
	f := New()
	f.setVelocity([3]float64{10, 3, 1})
	for i := 0; i < 50; i++ {
		f.UpdateBodyVelocityNHC(0, 0.3, 1.0)
	}
	assertInvariants(t, f)
	// lateral/vertical body-frame velocity should shrink toward 0 while
	// forward speed is left essentially unconstrained.
	v := f.Velocity()
	assert.Less(t, math.Abs(v[1]), 3.0)
}
