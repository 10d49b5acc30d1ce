// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/xhlsa/fusion-core/internal/app"
)

func main() {
	logPath := flag.String("log", "", "sensor log to replay (JSONL, NMEA lines allowed)")
	configPath := flag.String("config", "", "optional KEY=VALUE config file")
	broker := flag.String("broker", "", "optional MQTT broker, e.g. tcp://localhost:1883")
	eventTopic := flag.String("event-topic", "fusion/events", "MQTT topic for events")
	snapshotTopic := flag.String("snapshot-topic", "fusion/snapshot", "MQTT topic for snapshots")
	flag.Parse()

	if *logPath == "" {
		log.Fatal("usage: replay -log <sensor.jsonl> [-config file] [-broker url]")
	}

	log.Println("starting fusion-core replay")

	if err := app.RunReplay(app.ReplayOptions{
		LogPath:       *logPath,
		ConfigPath:    *configPath,
		MQTTBroker:    *broker,
		EventTopic:    *eventTopic,
		SnapshotTopic: *snapshotTopic,
	}); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
