// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/rover_position/internal/config"
	"github.com/relabs-tech/rover_position/internal/data"
)

// formatNineDoF renders one IMU sample; groups without data print as "-".
func formatNineDoF(tag string, d data.Data[data.NineDoFData]) string {
	vec := func(v *data.Data[data.Vector]) string {
		if v == nil {
			return fmt.Sprintf("%26s", "-")
		}
		return fmt.Sprintf("%8.3f %8.3f %8.3f", v.Value.X, v.Value.Y, v.Value.Z)
	}
	temp := "     -"
	if t := d.Value.Temperature; t != nil {
		temp = fmt.Sprintf("%6.2f", t.Value)
	}
	return fmt.Sprintf("[%s] t=%10.3f  acc=%s  gyro=%s  mag=%s  temp=%s",
		tag, d.Timestamp, vec(d.Value.Acceleration), vec(d.Value.AngularVelocity), vec(d.Value.MagneticField), temp)
}

func formatPosition(d data.Data[data.Position]) string {
	p := d.Value.Position
	return fmt.Sprintf("[POS  ] t=%10.3f  x=%7.3f y=%7.3f z=%7.3f", d.Timestamp, p.X, p.Y, p.Z)
}

func formatAbsolute(d data.Data[data.Vector]) string {
	return fmt.Sprintf("[UWB  ] t=%10.3f  x=%7.3f y=%7.3f z=%7.3f", d.Timestamp, d.Value.X, d.Value.Y, d.Value.Z)
}

// printer decodes payloads of type T and writes them with format.
func printer[T any](out io.Writer, topic string, format func(data.Data[T]) string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var d data.Data[T]
		if err := json.Unmarshal(msg.Payload(), &d); err != nil {
			log.Printf("console: %s unmarshal error: %v", topic, err)
			return
		}
		fmt.Fprintln(out, format(d))
	}
}

// RunConsoleMQTT prints everything the position service publishes until
// SIGINT or SIGTERM.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialised")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	out := os.Stdout
	handlers := map[string]mqtt.MessageHandler{
		cfg.TopicIMURaw:    printer(out, cfg.TopicIMURaw, func(d data.Data[data.NineDoFData]) string { return formatNineDoF("RAW  ", d) }),
		cfg.TopicIMUScaled: printer(out, cfg.TopicIMUScaled, func(d data.Data[data.NineDoFData]) string { return formatNineDoF("SCALE", d) }),
		cfg.TopicAbsolute:  printer(out, cfg.TopicAbsolute, formatAbsolute),
		cfg.TopicPosition:  printer(out, cfg.TopicPosition, formatPosition),
	}
	handlers[cfg.TopicCalibration] = func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Fprintf(out, "[CAL  ] %s\n", msg.Payload())
	}
	for topic, h := range handlers {
		token := client.Subscribe(topic, 0, h)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
