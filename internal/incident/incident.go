// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package incident implements the braking/swerve/impact detector: a small
// priority state machine over filtered IMU and GPS streams, with its own swerve cooldown and room for a caller-held shared
// cooldown gating whether Detect runs at all.
package incident

import "math"

// Kind enumerates the incident taxonomy.
type Kind string

const (
	Impact       Kind = "impact"
	HardManeuver Kind = "hard_maneuver"
	Swerving     Kind = "swerving"
)

// Incident is one detected event, carrying the payload the outward
// IncidentDetected event needs.
type Incident struct {
	Timestamp float64
	Kind      Kind
	Magnitude float64
	GPSSpeed  *float64
	Lat, Lon  *float64
}

// Config carries the incident thresholds.
type Config struct {
	BrakeThreshold    float64 // m/s^2, also used for hard_maneuver
	TurnThreshold     float64 // deg/s, swerving
	CrashThreshold    float64 // m/s^2, impact
	SwerveCooldownSec float64
}

// DefaultConfig returns the stock thresholds: 4 m/s^2 maneuvers, 45 deg/s
// swerves, 20 m/s^2 impacts.
func DefaultConfig() Config {
	return Config{BrakeThreshold: 4, TurnThreshold: 45, CrashThreshold: 20, SwerveCooldownSec: 5}
}

// Detector is the incident state machine. It holds only the swerve
// cooldown internally; the shared 1-second cooldown across all incident
// kinds is the caller's responsibility (see Cooldown below), mirroring
// the split in the original source between a detector-internal swerve gate
// and an orchestrator-held shared gate.
type Detector struct {
	cfg            Config
	lastSwerveTime float64
}

// NewDetector returns a detector using cfg.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, lastSwerveTime: math.Inf(-1)}
}

// Detect evaluates one sample against the priority order impact ->
// hard_maneuver -> swerving, returning at most one incident per call.
// accelRaw is ||a|| before bias correction (impact uses the raw signal so a
// sensor clipping event isn't masked by bias removal); accelCorrected is
// ||a|| after bias correction; gyroZDegPerSec is the raw yaw rate.
func (d *Detector) Detect(timestamp, accelRaw, accelCorrected, gyroZDegPerSec float64, gpsSpeed, lat, lon *float64) *Incident {
	if accelRaw > d.cfg.CrashThreshold {
		return &Incident{Timestamp: timestamp, Kind: Impact, Magnitude: accelRaw, GPSSpeed: gpsSpeed, Lat: lat, Lon: lon}
	}
	if accelCorrected > d.cfg.BrakeThreshold {
		return &Incident{Timestamp: timestamp, Kind: HardManeuver, Magnitude: accelCorrected, GPSSpeed: gpsSpeed, Lat: lat, Lon: lon}
	}
	if math.Abs(gyroZDegPerSec) > d.cfg.TurnThreshold {
		if timestamp-d.lastSwerveTime < d.cfg.SwerveCooldownSec {
			return nil
		}
		d.lastSwerveTime = timestamp
		return &Incident{Timestamp: timestamp, Kind: Swerving, Magnitude: math.Abs(gyroZDegPerSec), GPSSpeed: gpsSpeed, Lat: lat, Lon: lon}
	}
	return nil
}

// Cooldown is the shared 1-second gate the orchestrator holds across all
// calls to Detect, regardless of kind.
type Cooldown struct {
	intervalSec float64
	last        float64
}

// NewCooldown returns a cooldown gate with the given interval (1s default).
func NewCooldown(intervalSec float64) *Cooldown {
	return &Cooldown{intervalSec: intervalSec, last: math.Inf(-1)}
}

// ReadyAndTouch reports whether enough time has passed since the last
// successful gate, and if so, records now as the new last-touch time.
func (c *Cooldown) ReadyAndTouch(now float64) bool {
	if now-c.last < c.intervalSec {
		return false
	}
	c.last = now
	return true
}
