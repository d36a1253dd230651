// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientID        string
	MQTTClientIDConsole string
	CommandTopicPrefix  string

	// Topics
	TopicIMURaw      string
	TopicIMUScaled   string
	TopicAbsolute    string
	TopicPosition    string
	TopicCalibration string

	// IMU Hardware
	IMUSPIDevice  string
	IMUCSPin      string
	IMUIntPin     string
	IMUSPISpeedHz int64
	IMUSimulate   bool

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// IMU Sample Rate Configuration
	IMUDLPFConfig    byte // Digital Low Pass Filter configuration (0-7)
	IMUSampleRateDiv byte // Sample rate divider (output rate = internal rate / (1 + div))
	IMUSelfTest      bool
	IMUPollTimeoutMS int

	// Magnetometer (HMC5983 on I2C, optional)
	MagEnabled bool
	MagI2CBus  string
	MagI2CAddr uint16
	MagGain    byte

	// Decawave UWB tag
	DecawaveSerialPort     string
	DecawaveBaudRate       int
	DecawaveUpdateInterval int // milliseconds

	// Files
	IMUCalibrationFile      string
	DecawaveCalibrationFile string
	AnchorFile              string
	RecordDir               string

	// Calibration
	GyroCalibrationSamples int

	// Acquisition loop gives up after this many failures in a row (0 = never)
	MaxConsecutiveErrors int

	// Web Server
	WebServerPort int
}

// ConfigError points at the offending line of a config file.
type ConfigError struct {
	Line int
	Key  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("config line %d (%s): %v", e.Line, e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages go through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock for initialization,
//     read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the values used for keys missing from the file.
func Defaults() *Config {
	return &Config{
		MQTTBroker:              "tcp://localhost:1883",
		MQTTClientID:            "rover-position",
		MQTTClientIDConsole:     "rover-position-console",
		CommandTopicPrefix:      "position/command/",
		TopicIMURaw:             "position/imu/raw",
		TopicIMUScaled:          "position/imu/scaled",
		TopicAbsolute:           "position/absolute",
		TopicPosition:           "position/position",
		TopicCalibration:        "position/imu/calibration",
		IMUSPIDevice:            "/dev/spidev0.0",
		IMUCSPin:                "8",
		IMUSPISpeedHz:           1_000_000,
		IMUSampleRateDiv:        9,
		IMUDLPFConfig:           3,
		IMUPollTimeoutMS:        100,
		MagI2CBus:               "1",
		MagI2CAddr:              0x1E,
		MagGain:                 1,
		DecawaveBaudRate:        115200,
		DecawaveUpdateInterval:  100,
		IMUCalibrationFile:      "imu_calibration.json",
		DecawaveCalibrationFile: "decawave_calibration.json",
		AnchorFile:              "anchors.yaml",
		RecordDir:               ".",
		GyroCalibrationSamples:  500,
		MaxConsecutiveErrors:    10,
		WebServerPort:           8080,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, &ConfigError{Line: lineNum, Err: fmt.Errorf("invalid config line %q", line)}
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, &ConfigError{Line: lineNum, Key: key, Err: err}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseRange(value string, max int) (byte, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", value, err)
	}
	if v < 0 || v > max {
		return 0, fmt.Errorf("must be 0-%d, got %d", max, v)
	}
	return byte(v), nil
}

func parsePositive(value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "COMMAND_TOPIC_PREFIX":
		if !strings.HasSuffix(value, "/") {
			value += "/"
		}
		c.CommandTopicPrefix = value

	// Topics
	case "TOPIC_IMU_RAW":
		c.TopicIMURaw = value
	case "TOPIC_IMU_SCALED":
		c.TopicIMUScaled = value
	case "TOPIC_ABSOLUTE":
		c.TopicAbsolute = value
	case "TOPIC_POSITION":
		c.TopicPosition = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_INT_PIN":
		c.IMUIntPin = value
	case "IMU_SPI_SPEED_HZ":
		var hz int
		hz, err = parsePositive(value)
		c.IMUSPISpeedHz = int64(hz)
	case "IMU_SIMULATE":
		c.IMUSimulate, err = strconv.ParseBool(value)

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(value, 3)
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(value, 3)

	// IMU Sample Rate Configuration
	case "IMU_DLPF_CFG":
		c.IMUDLPFConfig, err = parseRange(value, 7)
	case "IMU_SMPLRT_DIV":
		c.IMUSampleRateDiv, err = parseRange(value, 255)
	case "IMU_SELF_TEST":
		c.IMUSelfTest, err = strconv.ParseBool(value)
	case "IMU_POLL_TIMEOUT_MS":
		c.IMUPollTimeoutMS, err = parsePositive(value)

	// Magnetometer
	case "MAG_ENABLED":
		c.MagEnabled, err = strconv.ParseBool(value)
	case "MAG_I2C_BUS":
		c.MagI2CBus = value
	case "MAG_I2C_ADDR":
		var addr uint64
		addr, err = strconv.ParseUint(value, 0, 7)
		c.MagI2CAddr = uint16(addr)
	case "MAG_GAIN":
		c.MagGain, err = parseRange(value, 7)

	// Decawave
	case "DECAWAVE_SERIAL_PORT":
		c.DecawaveSerialPort = value
	case "DECAWAVE_BAUD_RATE":
		c.DecawaveBaudRate, err = parsePositive(value)
	case "DECAWAVE_UPDATE_INTERVAL":
		c.DecawaveUpdateInterval, err = parsePositive(value)

	// Files
	case "IMU_CALIBRATION_FILE":
		c.IMUCalibrationFile = value
	case "DECAWAVE_CALIBRATION_FILE":
		c.DecawaveCalibrationFile = value
	case "ANCHOR_FILE":
		c.AnchorFile = value
	case "RECORD_DIR":
		c.RecordDir = value

	case "GYRO_CALIBRATION_SAMPLES":
		c.GyroCalibrationSamples, err = parsePositive(value)
	case "MAX_CONSECUTIVE_ERRORS":
		c.MaxConsecutiveErrors, err = strconv.Atoi(value)
		if err == nil && c.MaxConsecutiveErrors < 0 {
			err = fmt.Errorf("must not be negative, got %d", c.MaxConsecutiveErrors)
		}

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = strconv.Atoi(value)
		if err == nil && (c.WebServerPort < 0 || c.WebServerPort > 65535) {
			err = fmt.Errorf("must be 0-65535, got %d", c.WebServerPort)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.CommandTopicPrefix == "" || c.CommandTopicPrefix == "/" {
		return fmt.Errorf("COMMAND_TOPIC_PREFIX is required")
	}
	if !c.IMUSimulate && c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required unless IMU_SIMULATE=true")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
