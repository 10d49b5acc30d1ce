// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires the fusion core to the outside world: the replay driver
// that feeds a recorded sensor log through a session and republishes the
// resulting events and snapshots over MQTT.
package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	"github.com/xhlsa/fusion-core/internal/config"
	"github.com/xhlsa/fusion-core/internal/fusionorch"
	"github.com/xhlsa/fusion-core/internal/gpsfeed"
	"github.com/xhlsa/fusion-core/internal/telemetry"
)

// ReplayOptions configures one replay run.
type ReplayOptions struct {
	LogPath    string
	ConfigPath string // optional KEY=VALUE file; defaults apply when empty
	MQTTBroker string // optional; no telemetry when empty

	EventTopic    string
	SnapshotTopic string

	// SnapshotEverySecs throttles snapshot publication; 0 means 1s.
	SnapshotEverySecs float64
}

// record is one line of the JSONL sensor log. Lines starting with '$' are
// raw NMEA instead and go through the gpsfeed accumulator.
type record struct {
	Type string  `json:"type"` // accel | gyro | gps | mag | baro
	T    float64 `json:"t"`    // seconds since session epoch

	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
	Speed    float64 `json:"speed"`
	Bearing  float64 `json:"bearing"`
	Wall     float64 `json:"wall"`

	HPa float64 `json:"hpa"`
}

// RunReplay replays a recorded log through a fresh fusion session,
// log.Printf-ing every emitted event and optionally republishing events and
// periodic snapshots to MQTT.
func RunReplay(opts ReplayOptions) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	var sink *telemetry.Sink
	if opts.MQTTBroker != "" {
		s, err := telemetry.Dial(opts.MQTTBroker, "fusion-replay", opts.EventTopic, opts.SnapshotTopic)
		if err != nil {
			return err
		}
		sink = s
		defer sink.Close()
		log.Printf("replay connected to MQTT broker at %s", opts.MQTTBroker)
	}

	file, err := os.Open(opts.LogPath)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	core := fusionorch.New(cfg)
	var nmeaAcc gpsfeed.Accumulator

	snapshotEvery := opts.SnapshotEverySecs
	if snapshotEvery <= 0 {
		snapshotEvery = 1
	}

	var (
		lastT        float64
		lastSnapshot float64
		lineNum      int
		parseErrors  int
	)

	emit := func(events []fusionorch.Event) error {
		for _, ev := range events {
			log.Printf("event %s at t=%.3f", ev.Kind, ev.Timestamp)
		}
		if sink != nil && len(events) > 0 {
			return sink.PublishEvents(events)
		}
		return nil
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "$") {
			fix, err := nmeaAcc.Feed(line)
			if err != nil {
				parseErrors++
				continue
			}
			if fix != nil {
				events := core.FeedGPS(lastT, fix.Latitude, fix.Longitude,
					fix.AccuracyMeters(), fix.SpeedMS, fix.CourseDeg, 0)
				if err := emit(events); err != nil {
					return err
				}
			}
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			parseErrors++
			continue
		}
		lastT = rec.T

		var events []fusionorch.Event
		switch rec.Type {
		case "accel":
			events = core.FeedAccel(rec.T, rec.X, rec.Y, rec.Z)
			events = append(events, core.Tick()...)
		case "gyro":
			events = core.FeedGyro(rec.T, rec.X, rec.Y, rec.Z)
		case "gps":
			events = core.FeedGPS(rec.T, rec.Lat, rec.Lon, rec.Accuracy, rec.Speed, rec.Bearing, rec.Wall)
		case "mag":
			core.FeedMag(rec.T, rec.X, rec.Y, rec.Z)
		case "baro":
			core.FeedBaro(rec.T, rec.HPa)
		default:
			log.Printf("line %d: unknown record type %q", lineNum, rec.Type)
			continue
		}

		if err := emit(events); err != nil {
			return err
		}

		if sink != nil && rec.T-lastSnapshot >= snapshotEvery {
			lastSnapshot = rec.T
			if err := sink.PublishSnapshot(core.Snapshot()); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log: %w", err)
	}

	snap := core.Snapshot()
	log.Printf("replay done: %d lines (%d parse errors)", lineNum, parseErrors)
	log.Printf("final state: pos=(%.1f, %.1f, %.1f)m speed=%.2fm/s heading=%.1fdeg "+
		"gps=%d accel=%d gyro=%d updates, cov trace=%.3f",
		snap.Position[0], snap.Position[1], snap.Position[2],
		snap.Speed, snap.HeadingRad*180/math.Pi,
		snap.GPSUpdates, snap.AccelUpdates, snap.GyroUpdates, snap.CovarianceTrace)
	return nil
}
