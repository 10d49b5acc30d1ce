// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry publishes fusion events and state snapshots to MQTT as
// JSON: every event on one event topic, snapshots on a separate snapshot
// topic. It is the event bus's outward consumer; the
// core itself never touches the network.
package telemetry

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/xhlsa/fusion-core/internal/fusionorch"
)

// Sink holds a connected MQTT client plus the topics it publishes on.
type Sink struct {
	client        mqtt.Client
	eventTopic    string
	snapshotTopic string
}

// Dial connects to the broker and returns a ready sink.
func Dial(broker, clientID, eventTopic, snapshotTopic string) (*Sink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect: %w", token.Error())
	}
	return &Sink{client: client, eventTopic: eventTopic, snapshotTopic: snapshotTopic}, nil
}

// PublishEvents marshals and publishes each event on the event topic.
func (s *Sink) PublishEvents(events []fusionorch.Event) error {
	for _, ev := range events {
		if err := s.publishJSON(s.eventTopic, ev); err != nil {
			return err
		}
	}
	return nil
}

// PublishSnapshot marshals and publishes one state snapshot.
func (s *Sink) PublishSnapshot(snap fusionorch.Snapshot) error {
	return s.publishJSON(s.snapshotTopic, snap)
}

func (s *Sink) publishJSON(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON marshal for %s: %w", topic, err)
	}
	token := s.client.Publish(topic, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight publishes 250ms to
// drain.
func (s *Sink) Close() {
	s.client.Disconnect(250)
}
