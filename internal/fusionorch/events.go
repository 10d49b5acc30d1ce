// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusionorch

import "github.com/xhlsa/fusion-core/internal/incident"

// EventKind enumerates the taxonomy of outward events the orchestrator can
// emit from a single Feed* or Tick call.
type EventKind string

const (
	EventSpeedClamped         EventKind = "speed_clamped"
	EventGpsRejected          EventKind = "gps_rejected"
	EventColdStartInitialized EventKind = "cold_start_initialized"
	EventHeadingAligned       EventKind = "heading_aligned"
	EventHighGpsLatency       EventKind = "high_gps_latency"
	EventNhcSkipped           EventKind = "nhc_skipped"
	EventMagCorrection        EventKind = "mag_correction"
	EventGravityRefined       EventKind = "gravity_refined"
	EventGravityDriftWarning  EventKind = "gravity_drift_warning"
	EventZuptApplied          EventKind = "zupt_applied"
	EventGapClampActive       EventKind = "gap_clamp_active"
	EventGapModeExited        EventKind = "gap_mode_exited"
	EventIncidentDetected     EventKind = "incident_detected"
	// EventSensorSilence is the restart signal raised when a sensor stream
	// goes quiet beyond its per-stream threshold; consumed by whatever
	// restart manager wraps the session.
	EventSensorSilence EventKind = "sensor_silence"
)

// Event is a single outward notification. Only the fields relevant to Kind
// are populated; the rest are zero. Kept as one flat struct rather than a
// Kind-specific type hierarchy, matching how this codebase's other small
// state machines (see internal/incident) represent heterogeneous payloads.
type Event struct {
	Kind      EventKind
	Timestamp float64

	// SpeedClamped
	ClampFrom, ClampToLimit, ClampGapSecs float64

	// GpsRejected
	RejectedAccuracy, RejectedSpeed float64

	// ColdStartInitialized
	ColdStartLat, ColdStartLon float64

	// HeadingAligned
	HeadingBearingDeg, HeadingYawDeg, HeadingSpeed float64

	// HighGpsLatency
	LatencySecs float64

	// NhcSkipped
	NhcGapSecs float64

	// MagCorrection
	MagGapSecs, MagInnovationDeg float64

	// GravityRefined
	GravityCount                   int
	GravityEstimate                [3]float64
	GravityMagnitude, GravityDrift float64

	// GravityDriftWarning
	DriftWarningDrift, DriftWarningThreshold float64

	// GapClampActive
	GapClampGapSecs, GapClampSpeed, GapClampLimit float64

	// IncidentDetected
	IncidentKind      incident.Kind
	IncidentMagnitude float64
	IncidentGPSSpeed  *float64
	IncidentLat       *float64
	IncidentLon       *float64

	// SensorSilence
	SilenceStream     string
	SilenceGapSecs    float64
	SilenceAttempt    int
	SilenceBackoffSecs float64
}
