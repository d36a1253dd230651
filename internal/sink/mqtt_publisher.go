// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Publisher is the part of mqtt.Client the publisher needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes each sample as JSON ({"value":…,"timestamp":…}).
type MQTTPublisher[T any] struct {
	filter.Base[T]
	client   Publisher
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
}

// NewMQTTPublisher publishes to topic with QoS 0, not retained.
func NewMQTTPublisher[T any](name string, client Publisher, topic string) *MQTTPublisher[T] {
	p := &MQTTPublisher[T]{
		client:  client,
		topic:   topic,
		timeout: 250 * time.Millisecond,
	}
	p.Init(p, name)
	return p
}

// Retain makes the broker keep the last message for new subscribers.
func (p *MQTTPublisher[T]) Retain() *MQTTPublisher[T] {
	p.retained = true
	return p
}

// Topic is the destination topic.
func (p *MQTTPublisher[T]) Topic() string { return p.topic }

func (p *MQTTPublisher[T]) Receive(d data.Data[T]) error {
	if err := p.CheckOpen(); err != nil {
		return err
	}
	return errors.Join(p.publish(d), p.Send(d))
}

func (p *MQTTPublisher[T]) publish(d data.Data[T]) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", p.topic, err)
	}
	token := p.client.Publish(p.topic, p.qos, p.retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%w (%s)", ErrPublishTimeout, p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", p.topic, err)
	}
	return nil
}
