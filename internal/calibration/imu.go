// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration holds the corrections applied to raw sensor data and
// the files they are stored in.
package calibration

import (
	"fmt"
	"log"

	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
)

// AxisCalibration corrects one 3-axis sensor: scaled = (raw - Offset) * Multiplier.
type AxisCalibration struct {
	Offset     data.Vector `json:"offset" yaml:"offset"`
	Multiplier data.Vector `json:"multiplier" yaml:"multiplier"`
}

// IdentityAxis leaves readings unchanged.
func IdentityAxis() AxisCalibration {
	return AxisCalibration{Offset: data.Zero, Multiplier: data.One}
}

// Apply corrects v.
func (a AxisCalibration) Apply(v data.Vector) data.Vector {
	return v.Sub(a.Offset).Mul(a.Multiplier)
}

// TemperatureCalibration corrects the die temperature reading.
type TemperatureCalibration struct {
	Offset     float64 `json:"offset" yaml:"offset"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

// Apply corrects t.
func (c TemperatureCalibration) Apply(t float64) float64 {
	return (t - c.Offset) * c.Multiplier
}

// ImuScaler turns raw NineDoF readings into calibrated ones.
type ImuScaler struct {
	Accelerometer AxisCalibration        `json:"accelerometer" yaml:"accelerometer"`
	Gyroscope     AxisCalibration        `json:"gyroscope" yaml:"gyroscope"`
	Magnetometer  AxisCalibration        `json:"magnetometer" yaml:"magnetometer"`
	Temperature   TemperatureCalibration `json:"temperature" yaml:"temperature"`
}

var _ filter.Scaler[data.NineDoFData] = (*ImuScaler)(nil)

// NewImuScaler returns a scaler that changes nothing.
func NewImuScaler() *ImuScaler {
	return &ImuScaler{
		Accelerometer: IdentityAxis(),
		Gyroscope:     IdentityAxis(),
		Magnetometer:  IdentityAxis(),
		Temperature:   TemperatureCalibration{Multiplier: 1},
	}
}

// Scale returns a corrected copy of d. Absent groups stay absent and every
// group keeps its own timestamp.
func (s *ImuScaler) Scale(d data.Data[data.NineDoFData]) data.Data[data.NineDoFData] {
	in := d.Value
	var out data.NineDoFData
	if in.Acceleration != nil {
		out.Acceleration = data.Ptr(data.New(s.Accelerometer.Apply(in.Acceleration.Value), in.Acceleration.Timestamp))
	}
	if in.AngularVelocity != nil {
		out.AngularVelocity = data.Ptr(data.New(s.Gyroscope.Apply(in.AngularVelocity.Value), in.AngularVelocity.Timestamp))
	}
	if in.MagneticField != nil {
		out.MagneticField = data.Ptr(data.New(s.Magnetometer.Apply(in.MagneticField.Value), in.MagneticField.Timestamp))
	}
	if in.Temperature != nil {
		out.Temperature = data.Ptr(data.New(s.Temperature.Apply(in.Temperature.Value), in.Temperature.Timestamp))
	}
	return data.New(out, d.Timestamp)
}

// GyroBiasCollector averages the raw angular velocity of a stationary IMU
// and stores the mean as the gyroscope offset. Attach it to the raw stream;
// after Samples readings it calls OnDone once and ignores the rest.
type GyroBiasCollector struct {
	filter.Base[data.NineDoFData]
	scaler  *ImuScaler
	samples int
	sum     data.Vector
	count   int
	done    bool

	// OnDone is called with the new offset.
	OnDone func(offset data.Vector)
}

// NewGyroBiasCollector collects samples readings into scaler.
func NewGyroBiasCollector(name string, scaler *ImuScaler, samples int) (*GyroBiasCollector, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("calibration: sample count must be positive, got %d", samples)
	}
	c := &GyroBiasCollector{scaler: scaler, samples: samples}
	c.Init(c, name)
	return c, nil
}

// Done reports whether the offset has been written.
func (c *GyroBiasCollector) Done() bool { return c.done }

func (c *GyroBiasCollector) Receive(d data.Data[data.NineDoFData]) error {
	if err := c.CheckOpen(); err != nil {
		return err
	}
	if c.done || d.Value.AngularVelocity == nil {
		return nil
	}
	c.sum = c.sum.Add(d.Value.AngularVelocity.Value)
	c.count++
	if c.count < c.samples {
		return nil
	}
	c.done = true
	offset := c.sum.Scale(1 / float64(c.count))
	c.scaler.Gyroscope.Offset = offset
	log.Printf("calibration: gyro offset %.5f %.5f %.5f from %d samples", offset.X, offset.Y, offset.Z, c.count)
	if c.OnDone != nil {
		c.OnDone(offset)
	}
	return nil
}
