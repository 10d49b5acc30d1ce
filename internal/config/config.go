// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads the fusion core's tunable knobs from a KEY=VALUE
// line file. There is no process-wide singleton: Load and Default return
// a *Config the caller owns and threads explicitly into the orchestrator.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every knob in the external configuration surface.
type Config struct {
	DtNominal float64 // s, nominal tick period

	GPSNoiseStd   float64 // m
	AccelNoiseStd float64 // m/s^2
	GyroNoiseStd  float64 // rad/s

	ZuptAccelLow   float64 // m/s^2
	ZuptAccelHigh  float64 // m/s^2
	ZuptGyroThresh float64 // rad/s

	BrakeThreshold float64 // m/s^2
	TurnThreshold  float64 // deg/s
	CrashThreshold float64 // m/s^2

	NHCIntervalSecs float64 // s
	NHCMaxGapSecs   float64 // s

	MagMinSpeed    float64 // m/s
	MagGPSGapSecs  float64 // s
	DeclinationRad float64 // rad

	BaroPressureRateThreshold float64 // Pa/s

	GPSMaxAccuracy     float64 // m
	GPSMaxLatencySecs  float64 // s
	GPSProjectionSpeed float64 // m/s
	GPSSpeedWindowSecs float64 // s

	DynCalibEMAAlpha    float64
	DynCalibMinSamples  int
	DynCalibDriftThresh float64 // m/s^2

	AccelSmootherWindow int // samples

	GyroStraightThreshold float64 // rad/s
	GyroStraightMinSpeed  float64 // m/s
}

// Default returns the defaults enumerated in the configuration surface.
func Default() *Config {
	return &Config{
		DtNominal: 0.05,

		GPSNoiseStd:   8,
		AccelNoiseStd: 0.3,
		GyroNoiseStd:  5e-4,

		ZuptAccelLow:   9.5,
		ZuptAccelHigh:  10.1,
		ZuptGyroThresh: 0.1,

		BrakeThreshold: 4,
		TurnThreshold:  45,
		CrashThreshold: 20,

		NHCIntervalSecs: 1,
		NHCMaxGapSecs:   10,

		MagMinSpeed:    2,
		MagGPSGapSecs:  3,
		DeclinationRad: 0.157,

		BaroPressureRateThreshold: 0.5,

		GPSMaxAccuracy:     50,
		GPSMaxLatencySecs:  1,
		GPSProjectionSpeed: 50,
		GPSSpeedWindowSecs: 10,

		DynCalibEMAAlpha:    0.1,
		DynCalibMinSamples:  30,
		DynCalibDriftThresh: 0.5,

		AccelSmootherWindow: 9,

		GyroStraightThreshold: 0.02,
		GyroStraightMinSpeed:  5,
	}
}

// Load reads a KEY=VALUE config file on top of Default, overriding any
// knob the file mentions and leaving the rest at their defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setValue(key, value string) error {
	switch key {
	case "DT_NOMINAL":
		return c.setFloat(&c.DtNominal, key, value)
	case "GPS_NOISE_STD":
		return c.setFloat(&c.GPSNoiseStd, key, value)
	case "ACCEL_NOISE_STD":
		return c.setFloat(&c.AccelNoiseStd, key, value)
	case "GYRO_NOISE_STD":
		return c.setFloat(&c.GyroNoiseStd, key, value)
	case "ZUPT_ACCEL_LOW":
		return c.setFloat(&c.ZuptAccelLow, key, value)
	case "ZUPT_ACCEL_HIGH":
		return c.setFloat(&c.ZuptAccelHigh, key, value)
	case "ZUPT_GYRO_THRESHOLD":
		return c.setFloat(&c.ZuptGyroThresh, key, value)
	case "BRAKE_THRESHOLD":
		return c.setFloat(&c.BrakeThreshold, key, value)
	case "TURN_THRESHOLD":
		return c.setFloat(&c.TurnThreshold, key, value)
	case "CRASH_THRESHOLD":
		return c.setFloat(&c.CrashThreshold, key, value)
	case "NHC_INTERVAL_SECS":
		return c.setFloat(&c.NHCIntervalSecs, key, value)
	case "NHC_MAX_GAP_SECS":
		return c.setFloat(&c.NHCMaxGapSecs, key, value)
	case "MAG_MIN_SPEED":
		return c.setFloat(&c.MagMinSpeed, key, value)
	case "MAG_GPS_GAP_SECS":
		return c.setFloat(&c.MagGPSGapSecs, key, value)
	case "DECLINATION_RAD":
		return c.setFloat(&c.DeclinationRad, key, value)
	case "BARO_PRESSURE_RATE_THRESHOLD":
		return c.setFloat(&c.BaroPressureRateThreshold, key, value)
	case "GPS_MAX_ACCURACY":
		return c.setFloat(&c.GPSMaxAccuracy, key, value)
	case "GPS_MAX_LATENCY_SECS":
		return c.setFloat(&c.GPSMaxLatencySecs, key, value)
	case "GPS_PROJECTION_SPEED":
		return c.setFloat(&c.GPSProjectionSpeed, key, value)
	case "GPS_SPEED_WINDOW_SECS":
		return c.setFloat(&c.GPSSpeedWindowSecs, key, value)
	case "DYN_CALIB_EMA_ALPHA":
		return c.setFloat(&c.DynCalibEMAAlpha, key, value)
	case "DYN_CALIB_MIN_SAMPLES":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		c.DynCalibMinSamples = v
	case "DYN_CALIB_DRIFT_THRESHOLD":
		return c.setFloat(&c.DynCalibDriftThresh, key, value)
	case "ACCEL_SMOOTHER_WINDOW":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		c.AccelSmootherWindow = v
	case "GYRO_STRAIGHT_THRESHOLD":
		return c.setFloat(&c.GyroStraightThreshold, key, value)
	case "GYRO_STRAIGHT_MIN_SPEED":
		return c.setFloat(&c.GyroStraightMinSpeed, key, value)
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return nil
}

func (c *Config) setFloat(dst *float64, key, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

// validate checks derived consistency across knobs: hard failures for
// contradictions, WARNING-prefixed soft checks for values that merely
// look wrong.
func (c *Config) validate() error {
	if c.ZuptAccelLow >= c.ZuptAccelHigh {
		return fmt.Errorf("ZUPT_ACCEL_LOW must be less than ZUPT_ACCEL_HIGH")
	}
	if c.DtNominal <= 0 {
		return fmt.Errorf("DT_NOMINAL must be positive")
	}
	if c.GPSMaxAccuracy <= 0 {
		return fmt.Errorf("GPS_MAX_ACCURACY must be positive")
	}
	if c.AccelSmootherWindow < 1 {
		return fmt.Errorf("ACCEL_SMOOTHER_WINDOW must be at least 1")
	}
	if c.NHCIntervalSecs <= 0 {
		fmt.Printf("WARNING: NHC_INTERVAL_SECS=%.3f is non-positive, NHC will run unthrottled\n", c.NHCIntervalSecs)
	}
	if c.DynCalibEMAAlpha <= 0 || c.DynCalibEMAAlpha >= 1 {
		fmt.Printf("WARNING: DYN_CALIB_EMA_ALPHA=%.3f outside (0,1), gravity refinement may not converge\n", c.DynCalibEMAAlpha)
	}
	return nil
}
