// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusionorch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhlsa/fusion-core/internal/config"
	"github.com/xhlsa/fusion-core/internal/incident"
)

const (
	tick    = 0.02
	lat0    = 40.0
	lon0    = -74.0
	earthR  = 6371000.0
	gravity = 9.81
)

// lonAtEast returns the longitude eastMeters east of (lat0, lon0).
func lonAtEast(eastMeters float64) float64 {
	return lon0 + eastMeters/(earthR*math.Cos(lat0*math.Pi/180))*180/math.Pi
}

// feedStationaryIMU runs n ticks of perfectly still IMU starting at t0,
// returning the timestamp after the last tick.
func feedStationaryIMU(c *Core, t0 float64, n int) float64 {
	ts := t0
	for i := 0; i < n; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		c.FeedAccel(ts, 0, 0, gravity)
		c.Tick()
	}
	return ts
}

func newCalibratedCore(t *testing.T) (*Core, float64) {
	t.Helper()
	c := New(config.Default())
	ts := feedStationaryIMU(c, 0, 60)
	require.True(t, c.Snapshot().CalibrationComplete)
	return c, ts
}

func collect(events ...[]Event) []Event {
	var all []Event
	for _, evs := range events {
		all = append(all, evs...)
	}
	return all
}

func hasKind(events []Event, kind EventKind) *Event {
	for i := range events {
		if events[i].Kind == kind {
			return &events[i]
		}
	}
	return nil
}

func TestColdStartFirstFix(t *testing.T) {
	c := New(config.Default())

	// 60s of stationary IMU.
	ts := feedStationaryIMU(c, 0, 3000)
	snap := c.Snapshot()
	require.True(t, snap.CalibrationComplete)
	assert.True(t, snap.IsStationary)
	assert.Less(t, snap.Speed, 0.01)

	events := c.FeedGPS(ts+0.1, lat0, lon0, 5, 0, 0, 0)
	cold := hasKind(events, EventColdStartInitialized)
	require.NotNil(t, cold)
	assert.InDelta(t, lat0, cold.ColdStartLat, 1e-9)
	assert.InDelta(t, lon0, cold.ColdStartLon, 1e-9)

	snap = c.Snapshot()
	assert.InDelta(t, 0, snap.Position[0], 1e-6)
	assert.InDelta(t, 0, snap.Position[1], 1e-6)
	assert.Less(t, snap.Speed, 0.01)
}

func TestStationarityPreservesState(t *testing.T) {
	c := New(config.Default())
	ts := 0.0
	for i := 0; i < 3000; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		c.FeedAccel(ts, 0, 0, gravity)
		c.Tick()
		assert.Less(t, c.Snapshot().Speed, 0.01)
	}
}

func TestConstantVelocityEast(t *testing.T) {
	c, ts := newCalibratedCore(t)

	var headingAligned *Event
	start := ts
	nextFix := ts
	for ts < start+61 {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		c.FeedAccel(ts, 0, 0, gravity)
		c.Tick()
		if ts >= nextFix {
			east := 10 * (nextFix - start)
			events := c.FeedGPS(ts, lat0, lonAtEast(east), 5, 10, 90, ts)
			if ev := hasKind(events, EventHeadingAligned); ev != nil {
				headingAligned = ev
			}
			nextFix += 1.0
		}
	}

	require.NotNil(t, headingAligned)
	assert.InDelta(t, 90, headingAligned.HeadingBearingDeg, 1e-9)

	snap := c.Snapshot()
	assert.InDelta(t, 600, snap.Position[0], 20)
	assert.InDelta(t, 0, snap.Position[1], 15)
	assert.InDelta(t, 10, snap.Speed, 0.5)
	assert.InDelta(t, math.Pi/2, snap.HeadingRad, 0.1)
	assert.True(t, snap.HeadingInitialized)
}

func TestBrakingIncident(t *testing.T) {
	c, ts := newCalibratedCore(t)

	// Establish cruise context: one accepted fix at 15 m/s.
	c.FeedGPS(ts+0.1, lat0, lon0, 5, 15, 90, 0)
	ts += 0.1

	// 1s of hard braking.
	var all []Event
	for i := 0; i < 50; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		all = collect(all, c.FeedAccel(ts, -5, 0, gravity))
		c.Tick()
	}

	ev := hasKind(all, EventIncidentDetected)
	require.NotNil(t, ev)
	assert.Equal(t, incident.HardManeuver, ev.IncidentKind)
	assert.InDelta(t, 5, ev.IncidentMagnitude, 1.5)
	require.NotNil(t, ev.IncidentGPSSpeed)
	assert.InDelta(t, 15, *ev.IncidentGPSSpeed, 1e-9)
}

func TestImpactFiresOnRawMagnitude(t *testing.T) {
	c, ts := newCalibratedCore(t)

	events := c.FeedAccel(ts+tick, 25, 0, gravity)
	ev := hasKind(events, EventIncidentDetected)
	require.NotNil(t, ev)
	assert.Equal(t, incident.Impact, ev.IncidentKind)
	assert.Greater(t, ev.IncidentMagnitude, 20.0)
}

func TestGPSGapClamp(t *testing.T) {
	c, ts := newCalibratedCore(t)

	// 5s of good GPS at 20 m/s heading east.
	start := ts
	nextFix := ts
	for ts < start+5 {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		c.FeedAccel(ts, 0, 0, gravity)
		c.Tick()
		if ts >= nextFix {
			east := 20 * (nextFix - start)
			c.FeedGPS(ts, lat0, lonAtEast(east), 5, 20, 90, ts)
			nextFix += 1.0
		}
	}

	// 20s without GPS; a slight forward push tries to grow speed past the
	// gap envelope. Until the gap exceeds gapTriggerSecs the normal envelope
	// (1.5*20+5) applies; once gap mode engages, the tighter 1.1*20+2.
	var all []Event
	for i := 0; i < 1000; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		all = collect(all, c.FeedAccel(ts, 0.5, 0, gravity))
		c.Tick()
		snap := c.Snapshot()
		bound := 1.5*20 + 5 + 0.1
		if snap.InGapMode {
			bound = 1.1*20 + 2 + 0.1
		}
		assert.LessOrEqual(t, snap.Speed, bound)
	}

	ev := hasKind(all, EventGapClampActive)
	require.NotNil(t, ev)
	assert.InDelta(t, 1.1*20+2, ev.GapClampLimit, 1e-6)
	assert.Greater(t, ev.GapClampGapSecs, gapTriggerSecs)
	assert.True(t, c.Snapshot().InGapMode)

	// GPS resumes: gap mode exits.
	events := c.FeedGPS(ts+0.1, lat0, lonAtEast(20*5), 5, 20, 90, 0)
	assert.NotNil(t, hasKind(events, EventGapModeExited))
	assert.False(t, c.Snapshot().InGapMode)
}

func TestOutlierFixRejected(t *testing.T) {
	c, ts := newCalibratedCore(t)

	c.FeedGPS(ts+0.1, lat0, lon0, 5, 0, 0, 0)
	before := c.Snapshot().Position

	// A fix 500m away with sigma=5 one second later is a >3-sigma outlier.
	events := c.FeedGPS(ts+1.1, lat0, lonAtEast(500), 5, 0, 0, 0)
	rej := hasKind(events, EventGpsRejected)
	require.NotNil(t, rej)
	assert.InDelta(t, 5, rej.RejectedAccuracy, 1e-9)

	after := c.Snapshot().Position
	assert.InDelta(t, before[0], after[0], 1e-6)
	assert.InDelta(t, before[1], after[1], 1e-6)
}

func TestAccuracyGateRejects(t *testing.T) {
	c, ts := newCalibratedCore(t)
	events := c.FeedGPS(ts+0.1, lat0, lon0, 80, 3, 0, 0)
	rej := hasKind(events, EventGpsRejected)
	require.NotNil(t, rej)
	assert.InDelta(t, 80, rej.RejectedAccuracy, 1e-9)
	assert.Equal(t, 0, c.Snapshot().GPSUpdates)
}

func TestDuplicateFixDropped(t *testing.T) {
	c, ts := newCalibratedCore(t)

	first := c.FeedGPS(ts+0.1, lat0, lon0, 5, 0, 0, 0)
	require.NotNil(t, hasKind(first, EventColdStartInitialized))
	countAfterFirst := c.Snapshot().GPSUpdates

	second := c.FeedGPS(ts+0.1, lat0, lon0, 5, 0, 0, 0)
	assert.Empty(t, second)
	assert.Equal(t, countAfterFirst, c.Snapshot().GPSUpdates)
}

func TestMagCorrectionInLongGap(t *testing.T) {
	cfg := config.Default()
	cfg.DeclinationRad = 0
	c := New(cfg)
	ts := feedStationaryIMU(c, 0, 60)

	// A few fixes at 3 m/s east so filter speed converges above the mag
	// gate, then a long gap while still moving.
	start := ts
	for i := 0; i < 6; i++ {
		ts += 1.0
		c.FeedGPS(ts, lat0, lonAtEast(3*(ts-start)), 5, 3, 90, 0)
	}

	var all []Event
	for i := 0; i < 500; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		// Magnetometer reads true heading 30 degrees off the filter's yaw.
		c.FeedMag(ts, 40*math.Cos(30*math.Pi/180), 40*math.Sin(30*math.Pi/180), 0)
		all = collect(all, c.FeedAccel(ts, 0, 0, gravity))
		c.Tick()
	}

	ev := hasKind(all, EventMagCorrection)
	require.NotNil(t, ev)
	assert.InDelta(t, 30, ev.MagInnovationDeg, 5)
	assert.Greater(t, ev.MagGapSecs, c.cfg.MagGPSGapSecs)
}

func TestMagRejectedOutsideMagnitudeWindow(t *testing.T) {
	c, ts := newCalibratedCore(t)
	c.FeedMag(ts+tick, 5, 0, 0) // 5 uT: below the Earth-field window
	assert.False(t, c.haveMag)
	c.FeedMag(ts+2*tick, 40, 0, 0)
	assert.True(t, c.haveMag)
}

func TestSensorSilenceSignal(t *testing.T) {
	c, ts := newCalibratedCore(t)

	// Keep the accel stream alive while the gyro stream goes quiet.
	var all []Event
	for i := 0; i < 150; i++ {
		ts += tick
		c.FeedAccel(ts, 0, 0, gravity)
		all = collect(all, c.Tick())
	}

	ev := hasKind(all, EventSensorSilence)
	require.NotNil(t, ev)
	assert.Equal(t, "gyro", ev.SilenceStream)
	assert.Greater(t, ev.SilenceGapSecs, 1.0)
}

func TestCountersMonotonic(t *testing.T) {
	c, ts := newCalibratedCore(t)

	prev := c.Snapshot()
	for i := 0; i < 200; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		c.FeedAccel(ts, 0, 0, gravity)
		c.Tick()
		snap := c.Snapshot()
		assert.GreaterOrEqual(t, snap.GPSUpdates, prev.GPSUpdates)
		assert.GreaterOrEqual(t, snap.AccelUpdates, prev.AccelUpdates)
		assert.GreaterOrEqual(t, snap.GyroUpdates, prev.GyroUpdates)
		prev = snap
	}
	assert.Greater(t, prev.AccelUpdates, 0)
	assert.Greater(t, prev.GyroUpdates, 0)
}

func TestSetBiasesSkipsStartupWindow(t *testing.T) {
	c := New(config.Default())
	c.SetBiases([3]float64{0, 0, 9.81}, [3]float64{0.01, -0.01, 0.002})
	assert.True(t, c.Snapshot().CalibrationComplete)
	bg := c.Snapshot().GyroBias
	assert.InDelta(t, 0.01, bg[0], 1e-9)
}

func TestSetCalibrationFromWindows(t *testing.T) {
	c := New(config.Default())
	accel := make([][3]float64, 50)
	gyro := make([][3]float64, 50)
	for i := range accel {
		accel[i] = [3]float64{0, 0, 9.81}
		gyro[i] = [3]float64{0.005, 0, 0}
	}
	c.SetCalibration(accel, gyro)
	assert.True(t, c.Snapshot().CalibrationComplete)
	assert.InDelta(t, 0.005, c.Snapshot().GyroBias[0], 1e-9)
}

func TestHighLatencyFixFlagged(t *testing.T) {
	c, ts := newCalibratedCore(t)
	events := c.FeedGPS(ts+0.1, lat0, lon0, 5, 0, 0, ts+2.5)
	require.NotNil(t, hasKind(events, EventHighGpsLatency))
}

func TestPredictTrajectoryExtrapolatesForward(t *testing.T) {
	c, ts := newCalibratedCore(t)
	c.FeedGPS(ts+0.1, lat0, lon0, 5, 10, 90, 0)
	ts += 0.1
	for i := 0; i < 100; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		c.FeedAccel(ts, 0, 0, gravity)
		c.Tick()
		if i%25 == 0 {
			c.FeedGPS(ts, lat0, lonAtEast(10*(float64(i)*tick)), 5, 10, 90, 0)
		}
	}

	pts := c.PredictTrajectory(2, true)
	require.NotEmpty(t, pts)
	last := pts[len(pts)-1]
	assert.InDelta(t, 2, last.Time, tick)
	// Moving east: the forward simulation keeps heading that way.
	assert.Greater(t, last.Position[0], c.Snapshot().Position[0])
	// Position uncertainty grows along the trace.
	assert.Greater(t, last.PosCov[0][0], pts[0].PosCov[0][0])
}

func TestGravityRefinementEmitsEvents(t *testing.T) {
	c := New(config.Default())
	ts := feedStationaryIMU(c, 0, 60)

	var all []Event
	for i := 0; i < 200; i++ {
		ts += tick
		c.FeedGyro(ts, 0, 0, 0)
		all = collect(all, c.FeedAccel(ts, 0, 0, gravity))
		c.Tick()
	}

	ev := hasKind(all, EventGravityRefined)
	require.NotNil(t, ev)
	assert.Greater(t, ev.GravityCount, 0)
	assert.InDelta(t, 9.81, ev.GravityMagnitude, 0.1)
	assert.NotNil(t, hasKind(all, EventZuptApplied))
}
