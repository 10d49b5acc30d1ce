// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusionorch owns the multi-rate tick loop around the EKF: timestamp
// validation, calibration hand-off, motion classification, gap-mode policy,
// GPS gating and latency compensation, incident detection, and the typed
// event stream consumed by loggers and telemetry. The Core is a plain value;
// callers serialize Feed*/Tick per the single-consumer contract and may run
// producers as goroutines funneling into one channel, a select loop, or a
// straight replay.
package fusionorch

import (
	"math"

	"github.com/xhlsa/fusion-core/internal/calib"
	"github.com/xhlsa/fusion-core/internal/config"
	"github.com/xhlsa/fusion-core/internal/ekf"
	"github.com/xhlsa/fusion-core/internal/incident"
	"github.com/xhlsa/fusion-core/internal/signal"
	"github.com/xhlsa/fusion-core/internal/trajectory"
)

const (
	gapTriggerSecs     = 5.0 // time since last accepted fix before gap-mode clamping engages
	staleSampleSecs    = 1.0
	gpsStationarySpeed = 0.5

	zuptGyroSigma = 0.01 // rad/s, floor on the ZUPT-gyro measurement noise
	nhcSigmaYZ    = 0.5  // m/s
	magYawGain    = 0.3

	roughnessRefineMax = 0.3

	baroReferenceHPa  = 1013.25
	baroStableSigma   = 2.0  // m
	baroUnstableSigma = 10.0 // m

	zuptEventIntervalSecs = 1.0
)

type stream struct {
	seen bool
	last float64
}

type speedSample struct {
	ts    float64
	speed float64
}

type baroSample struct {
	ts       float64
	pressure float64 // hPa
}

// Core is the fusion session. Construct with New, feed samples in timestamp
// order per stream, and drain the returned event slices.
type Core struct {
	cfg    *config.Config
	filter *ekf.Filter
	cal    *calib.Engine

	detector       *incident.Detector
	sharedCooldown *incident.Cooldown

	lowPass   *signal.LowPass
	smoother  *signal.HannSmoother
	roughness *signal.RoughnessEstimator

	accelStream, gyroStream, gpsStream, magStream, baroStream stream
	now      float64
	timeSeen bool

	accelWatch, gyroWatch, gpsWatch *SilenceWatch

	filteredAccel [3]float64
	smoothedMag   float64
	lastRawGyro   [3]float64
	roughnessVal  float64

	stationary bool

	haveFix        bool
	lastFixTime    float64
	lastGPSSpeed   float64
	lastGPSLat     float64
	lastGPSLon     float64
	lastBearingRad float64
	haveBearing    bool
	speedWindow    []speedSample
	inGap          bool
	headingInit    bool

	mountYawOffset float64

	lastNHCTime   float64
	haveNHCTime   bool
	lastZuptEvent float64
	haveZuptEvent bool

	pendingMag          [3]float64
	haveMag             bool
	baroPrev            baroSample
	haveBaroPrev        bool
	pendingBaroAltitude float64
	pendingBaroStable   bool
	haveBaro            bool
}

// New builds a core at session start: uncalibrated, origin unset, identity
// attitude.
func New(cfg *config.Config) *Core {
	return &Core{
		cfg:    cfg,
		filter: ekf.New(),
		cal: calib.NewEngine(calib.Config{
			StartupSamples: 50,
			EMAAlpha:       cfg.DynCalibEMAAlpha,
			MinSamples:     cfg.DynCalibMinSamples,
			DriftThreshold: cfg.DynCalibDriftThresh,
		}),
		detector: incident.NewDetector(incident.Config{
			BrakeThreshold:    cfg.BrakeThreshold,
			TurnThreshold:     cfg.TurnThreshold,
			CrashThreshold:    cfg.CrashThreshold,
			SwerveCooldownSec: 5,
		}),
		sharedCooldown: incident.NewCooldown(1),
		lowPass:        signal.NewLowPass(0.2),
		smoother:       signal.NewHannSmoother(cfg.AccelSmootherWindow),
		roughness:      signal.NewRoughnessEstimator(0.05),
		accelWatch:     NewSilenceWatch(1, 5),
		gyroWatch:      NewSilenceWatch(1, 5),
		gpsWatch:       NewSilenceWatch(30, 5),
	}
}

// Filter exposes the underlying EKF for diagnostics and trajectory export.
func (c *Core) Filter() *ekf.Filter { return c.filter }

// SetMountYawOffset sets the constant yaw offset (radians) between the phone
// body frame and the vehicle frame, used by the NHC update.
func (c *Core) SetMountYawOffset(rad float64) { c.mountYawOffset = rad }

// SetBiases seeds gravity and gyro-bias estimates directly, bypassing the
// startup averaging window.
func (c *Core) SetBiases(gravity, gyroBias [3]float64) {
	c.cal.SetBiases(gravity, gyroBias)
	c.seedFromCalibration()
}

// SetCalibration replays pre-recorded stationary accel/gyro windows through
// the startup averaging, for callers that captured calibration material
// before constructing the session.
func (c *Core) SetCalibration(accelWindow, gyroWindow [][3]float64) {
	for _, g := range gyroWindow {
		c.cal.FeedStartupGyro(g)
	}
	for _, a := range accelWindow {
		if c.cal.FeedStartupAccel(a) {
			c.seedFromCalibration()
		}
	}
}

func (c *Core) seedFromCalibration() {
	c.filter.SeedGyroBias(c.cal.GyroBias())
	c.filter.AlignToGravity(c.cal.Gravity())
}

// accept validates one sample timestamp against its stream: strictly
// monotonic within the stream, and not more than staleSampleSecs behind the
// core's current time. A stream's first sample is accepted without either
// check. Returns the in-stream dt (0 for the first sample).
func (c *Core) accept(s *stream, ts float64) (dt float64, ok bool) {
	if s.seen {
		if ts <= s.last {
			return 0, false
		}
		if c.timeSeen && c.now-ts > staleSampleSecs {
			return 0, false
		}
		dt = ts - s.last
	}
	s.seen = true
	s.last = ts
	if !c.timeSeen || ts > c.now {
		c.now = ts
		c.timeSeen = true
	}
	return dt, true
}

func (c *Core) gpsGapSecs() float64 {
	if !c.haveFix {
		return 0
	}
	gap := c.now - c.lastFixTime
	if gap < 0 {
		return 0
	}
	return gap
}

func (c *Core) maxRecentGPSSpeed() float64 {
	var m float64
	for _, s := range c.speedWindow {
		if s.speed > m {
			m = s.speed
		}
	}
	return m
}

// classifyStationary applies the three-condition gate from the stationary
// policy: filtered accel magnitude inside the gravity window, low rotation,
// and GPS agreeing the vehicle is still (or absent GPS, a gap with a prior
// stationary classification).
func (c *Core) classifyStationary() {
	aN := c.smoothedMag
	gN := norm3(c.lastRawGyro)

	gravityWin := aN >= c.cfg.ZuptAccelLow && aN <= c.cfg.ZuptAccelHigh
	gyroStill := gN < c.cfg.ZuptGyroThresh

	gpsStill := !c.haveFix && !c.inGap
	if c.haveFix {
		if c.gpsGapSecs() > gapTriggerSecs {
			gpsStill = c.stationary
		} else {
			gpsStill = c.lastGPSSpeed < gpsStationarySpeed
		}
	}

	c.stationary = gravityWin && gyroStill && gpsStill
}

// FeedAccel processes one accelerometer sample through the full per-tick
// contract: conditioning, gap policy, predict, opportunistic constraints,
// incident detection, and stationary handling.
func (c *Core) FeedAccel(ts, x, y, z float64) []Event {
	dt, ok := c.accept(&c.accelStream, ts)
	if !ok {
		return nil
	}
	c.accelWatch.Touch(ts)

	raw := [3]float64{x, y, z}
	c.filteredAccel = c.lowPass.Apply(raw)
	filteredNorm := norm3(c.filteredAccel)
	c.smoothedMag = c.smoother.Apply(filteredNorm)
	c.roughnessVal = c.roughness.Update(filteredNorm)

	if !c.cal.Complete() {
		if c.cal.FeedStartupAccel(c.filteredAccel) {
			c.seedFromCalibration()
		}
		return nil
	}

	var events []Event
	c.classifyStationary()

	gap := c.gpsGapSecs()
	if c.haveFix {
		if gap > gapTriggerSecs {
			c.inGap = true
			before := c.filter.Speed()
			limit, clamped := c.filter.ClampSpeed(c.maxRecentGPSSpeed(), true)
			if clamped {
				events = append(events, Event{
					Kind: EventGapClampActive, Timestamp: ts,
					GapClampGapSecs: gap, GapClampSpeed: before, GapClampLimit: limit,
				})
			}
		} else {
			before := c.filter.Speed()
			limit, clamped := c.filter.ClampSpeed(c.maxRecentGPSSpeed(), false)
			if clamped {
				events = append(events, Event{
					Kind: EventSpeedClamped, Timestamp: ts,
					ClampFrom: before, ClampToLimit: limit, ClampGapSecs: gap,
				})
			}
		}
	}

	if dt > 0 {
		// Rotation is integrated on the gyro stream (PredictAttitude);
		// feeding the bias back as the rate keeps the accel tick from
		// integrating the same rotation twice.
		c.filter.Predict(raw, c.filter.GyroBias(), dt)
	}

	if c.haveBaro && (c.pendingBaroStable || c.inGap) {
		sigma := baroStableSigma
		if !c.pendingBaroStable {
			sigma = baroUnstableSigma
		}
		c.filter.UpdateBarometerAltitude(c.pendingBaroAltitude, sigma)
		if c.inGap {
			c.filter.ZeroVerticalVelocity(1)
		}
		c.haveBaro = false
	}

	if !c.haveNHCTime || ts-c.lastNHCTime >= c.cfg.NHCIntervalSecs {
		c.lastNHCTime = ts
		c.haveNHCTime = true
		if gap > c.cfg.NHCMaxGapSecs {
			events = append(events, Event{Kind: EventNhcSkipped, Timestamp: ts, NhcGapSecs: gap})
		} else {
			inflation := math.Min(1+0.5*gap, 5)
			c.filter.UpdateBodyVelocityNHC(c.mountYawOffset, nhcSigmaYZ, inflation)
		}
	}

	if c.haveMag && gap > c.cfg.MagGPSGapSecs &&
		c.lastGPSSpeed > c.cfg.MagMinSpeed && c.filter.Speed() > c.cfg.MagMinSpeed {
		innov, magOK := c.filter.MagYawInnovation(c.pendingMag, c.cfg.DeclinationRad)
		if magOK {
			c.filter.ApplyMagYawCorrection(innov, magYawGain)
			events = append(events, Event{
				Kind: EventMagCorrection, Timestamp: ts,
				MagGapSecs: gap, MagInnovationDeg: innov * 180 / math.Pi,
			})
		}
		c.haveMag = false
	}

	events = append(events, c.detectIncident(ts, raw)...)

	if c.stationary {
		c.filter.UpdateStationaryAccel(c.filteredAccel, [3]float64{0, 0, norm3(c.cal.Gravity())}, c.cfg.AccelNoiseStd)
		c.filter.ForceZeroVelocity()
		if !c.haveZuptEvent || ts-c.lastZuptEvent >= zuptEventIntervalSecs {
			c.lastZuptEvent = ts
			c.haveZuptEvent = true
			events = append(events, Event{Kind: EventZuptApplied, Timestamp: ts})
		}
		if c.roughnessVal < roughnessRefineMax {
			res := c.cal.FeedStationary(c.filteredAccel)
			if res.Refined {
				c.filter.AlignToGravity(res.Estimate)
				events = append(events, Event{
					Kind: EventGravityRefined, Timestamp: ts,
					GravityCount: res.Count, GravityEstimate: res.Estimate,
					GravityMagnitude: res.Magnitude, GravityDrift: res.Drift,
				})
				if res.DriftWarning {
					events = append(events, Event{
						Kind: EventGravityDriftWarning, Timestamp: ts,
						DriftWarningDrift: res.Drift, DriftWarningThreshold: c.cfg.DynCalibDriftThresh,
					})
				}
			}
		}
	}

	return events
}

func (c *Core) detectIncident(ts float64, accelRaw [3]float64) []Event {
	ba := c.filter.AccelBias()
	corrected := [3]float64{
		c.filteredAccel[0] - ba[0],
		c.filteredAccel[1] - ba[1],
		c.filteredAccel[2] - ba[2],
	}
	world := c.filter.Quaternion().RotateBodyToWorld(corrected)
	linear := [3]float64{world[0], world[1], world[2] - 9.81}

	var gpsSpeed, lat, lon *float64
	if c.haveFix {
		s, la, lo := c.lastGPSSpeed, c.lastGPSLat, c.lastGPSLon
		gpsSpeed, lat, lon = &s, &la, &lo
	}

	inc := c.detector.Detect(ts, norm3(accelRaw), norm3(linear), c.lastRawGyro[2]*180/math.Pi, gpsSpeed, lat, lon)
	if inc == nil || !c.sharedCooldown.ReadyAndTouch(ts) {
		return nil
	}
	return []Event{{
		Kind: EventIncidentDetected, Timestamp: ts,
		IncidentKind: inc.Kind, IncidentMagnitude: inc.Magnitude,
		IncidentGPSSpeed: inc.GPSSpeed, IncidentLat: inc.Lat, IncidentLon: inc.Lon,
	}}
}

// FeedGyro processes one gyroscope sample: attitude-only predict with the
// straight-road yaw clamp, plus the ZUPT-gyro bias update when stationary.
func (c *Core) FeedGyro(ts, x, y, z float64) []Event {
	dt, ok := c.accept(&c.gyroStream, ts)
	if !ok {
		return nil
	}
	c.gyroWatch.Touch(ts)

	raw := [3]float64{x, y, z}
	c.lastRawGyro = raw

	if !c.cal.Complete() {
		c.cal.FeedStartupGyro(raw)
		return nil
	}

	g := raw
	bg := c.filter.GyroBias()
	if math.Abs(raw[2]-bg[2]) < c.cfg.GyroStraightThreshold && c.filter.Speed() > c.cfg.GyroStraightMinSpeed {
		// Straight and fast: treat residual yaw rate as pure bias.
		g[2] = bg[2]
	}

	if dt > 0 {
		c.filter.PredictAttitude(g, dt)
	}

	if c.stationary {
		c.filter.UpdateStationaryGyro(raw, math.Max(c.cfg.GyroNoiseStd, zuptGyroSigma))
	}
	return nil
}

// FeedGPS processes one GPS fix through the acceptance pipeline: accuracy
// gate, latency projection, outlier gate, origin/position/velocity updates,
// heading alignment, stationary prior, and gap-mode bookkeeping.
func (c *Core) FeedGPS(ts, lat, lon, accuracy, speed, bearingDeg, wallClock float64) []Event {
	_, ok := c.accept(&c.gpsStream, ts)
	if !ok {
		return nil
	}

	var events []Event

	if accuracy <= 0 {
		accuracy = c.cfg.GPSNoiseStd
	}
	if accuracy > c.cfg.GPSMaxAccuracy {
		return append(events, Event{
			Kind: EventGpsRejected, Timestamp: ts,
			RejectedAccuracy: accuracy, RejectedSpeed: speed,
		})
	}

	bearingRad := bearingDeg * math.Pi / 180

	if wallClock > 0 {
		latency := wallClock - ts
		if latency >= c.cfg.GPSMaxLatencySecs {
			events = append(events, Event{Kind: EventHighGpsLatency, Timestamp: ts, LatencySecs: latency})
		} else if latency > 0 {
			lat, lon = c.projectFixForward(lat, lon, latency)
		}
	}

	dtSince := 0.0
	if c.haveFix {
		dtSince = ts - c.lastFixTime
	}

	if east, north, originOK := c.filter.ProjectToENU(lat, lon); originOK && c.haveFix && dtSince > 0 {
		meas := [3]float64{east, north, c.filter.Position()[2]}
		if _, outlier := c.filter.IsGPSOutlier(meas, dtSince); outlier {
			return append(events, Event{
				Kind: EventGpsRejected, Timestamp: ts,
				RejectedAccuracy: accuracy, RejectedSpeed: speed,
			})
		}
	}

	res := c.filter.UpdateGPSPosition(lat, lon, 0, accuracy, dtSince)
	if res.ColdStart {
		events = append(events, Event{
			Kind: EventColdStartInitialized, Timestamp: ts,
			ColdStartLat: lat, ColdStartLon: lon,
		})
	} else {
		sigmaV := math.Max(0.5, accuracy*0.1)
		c.filter.UpdateGPSVelocity(speed, bearingRad, sigmaV)
	}

	if !c.headingInit && speed > 5 {
		yaw := wrapPi(math.Pi/2 - bearingRad)
		c.filter.SetYaw(yaw)
		c.headingInit = true
		events = append(events, Event{
			Kind: EventHeadingAligned, Timestamp: ts,
			HeadingBearingDeg: bearingDeg, HeadingYawDeg: yaw * 180 / math.Pi, HeadingSpeed: speed,
		})
	}

	if c.haveBearing && dtSince > 0 && speed > c.cfg.GyroStraightMinSpeed {
		bg := c.filter.GyroBias()
		if math.Abs(c.lastRawGyro[2]-bg[2]) < c.cfg.GyroStraightThreshold {
			// Bearing increases clockwise; body yaw rate is counterclockwise.
			yawRate := -wrapPi(bearingRad-c.lastBearingRad) / dtSince
			c.filter.UpdateGyroBiasFromHeading(c.lastRawGyro[2], yawRate, 0.01)
		}
	}

	if speed < gpsStationarySpeed && c.stationary {
		c.filter.ForceZeroVelocity()
	} else {
		c.filter.ZeroVerticalVelocity(1)
	}

	if c.inGap {
		c.inGap = false
		events = append(events, Event{Kind: EventGapModeExited, Timestamp: ts})
	}

	c.haveFix = true
	c.lastFixTime = ts
	c.lastGPSSpeed = speed
	c.lastGPSLat = lat
	c.lastGPSLon = lon
	c.lastBearingRad = bearingRad
	c.haveBearing = true
	c.gpsWatch.Touch(ts)

	c.speedWindow = append(c.speedWindow, speedSample{ts: ts, speed: speed})
	cutoff := ts - c.cfg.GPSSpeedWindowSecs
	for len(c.speedWindow) > 0 && c.speedWindow[0].ts < cutoff {
		c.speedWindow = c.speedWindow[1:]
	}

	return events
}

// projectFixForward compensates GPS latency by advancing the reported fix
// along the filter's current velocity, component-capped at the configured
// projection speed.
func (c *Core) projectFixForward(lat, lon, latency float64) (float64, float64) {
	v := c.filter.Velocity()
	vMax := c.cfg.GPSProjectionSpeed
	dE := clampF(v[0], -vMax, vMax) * latency
	dN := clampF(v[1], -vMax, vMax) * latency

	const earthRadius = 6371000.0
	lat += dN / earthRadius * 180 / math.Pi
	lon += dE / (earthRadius * math.Cos(lat*math.Pi/180)) * 180 / math.Pi
	return lat, lon
}

// FeedMag records a magnetometer sample (uT) for the next accel tick's
// gap-mode yaw correction. Samples outside the plausible Earth-field
// magnitude window are dropped.
func (c *Core) FeedMag(ts, x, y, z float64) {
	if _, ok := c.accept(&c.magStream, ts); !ok {
		return
	}
	m := [3]float64{x, y, z}
	if !ekf.MagMagnitudeOK(m) {
		return
	}
	c.pendingMag = m
	c.haveMag = true
}

// FeedBaro records a barometer sample (hPa), deriving the pressure rate from
// the two-sample buffer to decide stability for the vertical constraint.
func (c *Core) FeedBaro(ts, pressureHPa float64) {
	if _, ok := c.accept(&c.baroStream, ts); !ok {
		return
	}

	stable := false
	if c.haveBaroPrev {
		dt := ts - c.baroPrev.ts
		if dt > 0 {
			ratePaPerSec := (pressureHPa - c.baroPrev.pressure) * 100 / dt
			stable = math.Abs(ratePaPerSec) < c.cfg.BaroPressureRateThreshold
		}
	}
	c.baroPrev = baroSample{ts: ts, pressure: pressureHPa}
	c.haveBaroPrev = true

	c.pendingBaroAltitude = ekf.PressureToAltitude(pressureHPa, baroReferenceHPa)
	c.pendingBaroStable = stable
	c.haveBaro = true
}

// Tick runs the post-accel housekeeping: per-stream silence watches. ZUPT
// and gravity refinement already ran on the accel path; Tick only surfaces
// what requires comparing streams against each other.
func (c *Core) Tick() []Event {
	if !c.timeSeen {
		return nil
	}

	var events []Event
	for _, w := range []struct {
		name  string
		watch *SilenceWatch
	}{
		{"accel", c.accelWatch},
		{"gyro", c.gyroWatch},
		{"gps", c.gpsWatch},
	} {
		if fire, gap, attempt, backoff := w.watch.Check(c.now); fire {
			events = append(events, Event{
				Kind: EventSensorSilence, Timestamp: c.now,
				SilenceStream: w.name, SilenceGapSecs: gap,
				SilenceAttempt: attempt, SilenceBackoffSecs: backoff,
			})
		}
	}
	return events
}

// PredictTrajectory runs the open-loop forward simulation from the current
// state over horizonSecs at the nominal tick period. forGating applies the
// exponential acceleration decay of the gating setting (lambda 0.3); without
// it the trace is suitable for debug/export overlays. FeedGPS's outlier gate
// does not use this trace.
func (c *Core) PredictTrajectory(horizonSecs float64, forGating bool) []trajectory.Point {
	ba := c.filter.AccelBias()
	corrected := [3]float64{
		c.filteredAccel[0] - ba[0],
		c.filteredAccel[1] - ba[1],
		c.filteredAccel[2] - ba[2],
	}
	q := c.filter.Quaternion()
	world := q.RotateBodyToWorld(corrected)
	linear := [3]float64{world[0], world[1], world[2] - 9.81}

	decay := 0.0
	if forGating {
		decay = 0.3
	}
	step := c.cfg.DtNominal
	steps := int(horizonSecs / step)
	if steps < 1 {
		steps = 1
	}

	return trajectory.Predict(
		c.filter.Position(), c.filter.Velocity(),
		[4]float64{q.W, q.X, q.Y, q.Z},
		linear,
		c.filter.PredictedPositionCovariance(0),
		0.1,
		trajectory.Params{Decay: decay, StepSeconds: step, Steps: steps},
	)
}

// Snapshot is a cheap copy of the fused state plus derived scalars.
type Snapshot struct {
	Position   [3]float64
	Velocity   [3]float64
	Quaternion [4]float64 // w, x, y, z
	GyroBias   [3]float64
	AccelBias  [3]float64

	Speed           float64
	HeadingRad      float64 // compass convention: 0 north, pi/2 east
	CovarianceTrace float64

	GPSUpdates   int
	AccelUpdates int
	GyroUpdates  int

	IsStationary        bool
	InGapMode           bool
	GPSGapSecs          float64
	GravityDrift        float64
	Roughness           float64
	CalibrationComplete bool
	HeadingInitialized  bool
}

// Snapshot returns the current fused state.
func (c *Core) Snapshot() Snapshot {
	q := c.filter.Quaternion()
	return Snapshot{
		Position:   c.filter.Position(),
		Velocity:   c.filter.Velocity(),
		Quaternion: [4]float64{q.W, q.X, q.Y, q.Z},
		GyroBias:   c.filter.GyroBias(),
		AccelBias:  c.filter.AccelBias(),

		Speed:           c.filter.Speed(),
		HeadingRad:      wrapPi(math.Pi/2 - c.filter.Heading()),
		CovarianceTrace: c.filter.CovarianceTrace(),

		GPSUpdates:   c.filter.GPSUpdates,
		AccelUpdates: c.filter.AccelUpdates,
		GyroUpdates:  c.filter.GyroUpdates,

		IsStationary:        c.stationary,
		InGapMode:           c.inGap,
		GPSGapSecs:          c.gpsGapSecs(),
		GravityDrift:        c.cal.Drift(),
		Roughness:           c.roughnessVal,
		CalibrationComplete: c.cal.Complete(),
		HeadingInitialized:  c.headingInit,
	}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
