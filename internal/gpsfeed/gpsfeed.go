// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gpsfeed turns raw NMEA text into the (lat, lon, accuracy, speed,
// bearing) tuples the fusion core's GPS entry consumes. Data is accumulated
// across sentence types the way a receiver emits them: GGA and GSA decorate
// the current solution epoch, and an RMC closes it out as one Fix.
package gpsfeed

import (
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

const knotsToMS = 0.514444

// Fix is one combined GPS solution accumulated from RMC, GGA and GSA
// sentences.
type Fix struct {
	Time string `json:"time"` // e.g. "12:34:56"
	Date string `json:"date"` // e.g. "2025-12-06"

	Latitude  float64 `json:"lat"`        // decimal degrees
	Longitude float64 `json:"lon"`        // decimal degrees
	Altitude  float64 `json:"altitude_m"` // above mean sea level

	SpeedMS   float64 `json:"speed_ms"`   // speed over ground
	CourseDeg float64 `json:"course_deg"` // course over ground

	HDOP          float64 `json:"hdop"`
	NumSatellites int64   `json:"num_satellites"`
	Valid         bool    `json:"valid"` // RMC validity flag "A"
}

// AccuracyMeters estimates the horizontal 1-sigma accuracy from HDOP using
// a 5m user-equivalent range error, the usual consumer-receiver
// approximation. Receivers that never report HDOP get a conservative 10m.
func (f Fix) AccuracyMeters() float64 {
	if f.HDOP <= 0 {
		return 10
	}
	return f.HDOP * 5
}

// Accumulator merges an NMEA sentence stream into fixes.
type Accumulator struct {
	current Fix
}

// Feed parses one NMEA line. It returns a completed *Fix when an RMC
// sentence with a valid status closes the current epoch, nil otherwise.
// Blank and non-NMEA lines are skipped silently; malformed sentences return
// the parse error so callers can count them.
func (a *Accumulator) Feed(line string) (*Fix, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return nil, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return nil, err
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		a.current.Time = m.Time.String()
		a.current.Date = m.Date.String()
		a.current.Latitude = m.Latitude
		a.current.Longitude = m.Longitude
		a.current.SpeedMS = m.Speed * knotsToMS
		a.current.CourseDeg = m.Course
		a.current.Valid = m.Validity == "A"
		if !a.current.Valid {
			return nil, nil
		}
		fix := a.current
		return &fix, nil

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		a.current.Altitude = m.Altitude
		a.current.NumSatellites = m.NumSatellites
		a.current.HDOP = m.HDOP

	case nmea.TypeGSA:
		m := sentence.(nmea.GSA)
		a.current.HDOP = m.HDOP

	default:
		// VTG, GSV and friends carry nothing the fusion core consumes.
	}
	return nil, nil
}
