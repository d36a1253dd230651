// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
# broker
MQTT_BROKER=tcp://rover.local:1883
COMMAND_TOPIC_PREFIX = rover/cmd

IMU_SIMULATE=true
IMU_ACCEL_RANGE=2
IMU_GYRO_RANGE=1
IMU_SMPLRT_DIV=4
IMU_INT_PIN=GPIO25
MAG_I2C_ADDR=0x1e
DECAWAVE_SERIAL_PORT=/dev/ttyACM0
DECAWAVE_UPDATE_INTERVAL=50
WEB_SERVER_PORT=9090
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "tcp://rover.local:1883", cfg.MQTTBroker)
	assert.Equal(t, "rover/cmd/", cfg.CommandTopicPrefix, "trailing slash is added")
	assert.True(t, cfg.IMUSimulate)
	assert.Equal(t, byte(2), cfg.IMUAccelRange)
	assert.Equal(t, byte(1), cfg.IMUGyroRange)
	assert.Equal(t, byte(4), cfg.IMUSampleRateDiv)
	assert.Equal(t, "GPIO25", cfg.IMUIntPin)
	assert.Equal(t, uint16(0x1E), cfg.MagI2CAddr)
	assert.Equal(t, "/dev/ttyACM0", cfg.DecawaveSerialPort)
	assert.Equal(t, 50, cfg.DecawaveUpdateInterval)
	assert.Equal(t, 9090, cfg.WebServerPort)

	// Untouched keys keep their defaults.
	d := Defaults()
	assert.Equal(t, d.TopicIMURaw, cfg.TopicIMURaw)
	assert.Equal(t, d.IMUSPISpeedHz, cfg.IMUSPISpeedHz)
	assert.Equal(t, d.GyroCalibrationSamples, cfg.GyroCalibrationSamples)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line int
		key  string
	}{
		{"unknown key", "MQTT_BROKER=x\nFOO=1", 2, "FOO"},
		{"no equals", "MQTT_BROKER", 1, ""},
		{"accel range", "IMU_ACCEL_RANGE=4", 1, "IMU_ACCEL_RANGE"},
		{"dlpf", "IMU_DLPF_CFG=8", 1, "IMU_DLPF_CFG"},
		{"not a number", "DECAWAVE_BAUD_RATE=fast", 1, "DECAWAVE_BAUD_RATE"},
		{"zero interval", "DECAWAVE_UPDATE_INTERVAL=0", 1, "DECAWAVE_UPDATE_INTERVAL"},
		{"i2c addr", "MAG_I2C_ADDR=0x80", 1, "MAG_I2C_ADDR"},
		{"port", "WEB_SERVER_PORT=70000", 1, "WEB_SERVER_PORT"},
		{"bool", "IMU_SIMULATE=maybe", 1, "IMU_SIMULATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.in))
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.line, cerr.Line)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}
}

func TestValidate(t *testing.T) {
	_, err := Parse(strings.NewReader("MQTT_BROKER="))
	assert.ErrorContains(t, err, "MQTT_BROKER is required")

	_, err = Parse(strings.NewReader("IMU_SPI_DEVICE="))
	assert.ErrorContains(t, err, "IMU_SPI_DEVICE")

	_, err = Parse(strings.NewReader("IMU_SPI_DEVICE=\nIMU_SIMULATE=true"))
	assert.NoError(t, err)
}

func TestLoadAndGlobal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "position.cfg")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	require.NoError(t, InitGlobal(path))
	require.NotNil(t, Get())
	assert.Equal(t, "rover/cmd/", Get().CommandTopicPrefix)

	// Later calls do not reload.
	require.NoError(t, InitGlobal(filepath.Join(t.TempDir(), "other.cfg")))
	assert.Equal(t, "tcp://rover.local:1883", Get().MQTTBroker)
}
