// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package imu acquires 9-DoF samples (accelerometer, gyroscope, magnetometer
// and die temperature) from the rover IMU.
//
// A Provider is driven by a poll/get cycle: Poll blocks until the chip
// signals data ready, Get reads and timestamps the sample. Hardware access
// lives behind the Driver interface so the provider can run on real chips
// (MPU9250 + HMC5983 via periph) or on a simulator.
package imu

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/rover_position/internal/data"
)

var (
	// ErrNotPolled is returned by Get when no successful Poll preceded it.
	ErrNotPolled = errors.New("imu: get without a successful poll")
	// ErrNoMagnetometer is returned by drivers without a magnetometer.
	ErrNoMagnetometer = errors.New("imu: no magnetometer")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("imu: provider closed")
)

// AcquisitionError wraps a hardware read failure.
type AcquisitionError struct {
	Op  string
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("imu: %s: %v", e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Driver is the chip-level access the provider needs. Units: g, °/s, µT, °C.
type Driver interface {
	// WaitDataReady blocks until a new sample is available or timeout passes.
	WaitDataReady(timeout time.Duration) (bool, error)
	// ReadAccelGyroTemp reads the sample the chip latched at data ready.
	ReadAccelGyroTemp() (acc, gyro data.Vector, temp float64, err error)
	// ReadMag returns ErrNoMagnetometer when none is fitted.
	ReadMag() (data.Vector, error)
	Close() error
}

// Provider turns a Driver into timestamped NineDoFData. It is not safe for
// concurrent use; one goroutine polls and gets.
type Provider struct {
	driver Driver
	clock  data.Clock

	polled   bool
	pollErr  error
	pollTime float64
	closed   bool

	timeouts uint64
}

// NewProvider wraps driver. Timestamps come from clock.
func NewProvider(driver Driver, clock data.Clock) *Provider {
	return &Provider{driver: driver, clock: clock}
}

// Timeouts is the number of polls that found no data.
func (p *Provider) Timeouts() uint64 { return p.timeouts }

// Poll waits up to timeout for data ready. On success the time is captured
// as the timestamp of the acceleration, angular velocity and temperature of
// the next Get. A failure while waiting also returns true: the next Get
// reports it as an *AcquisitionError.
func (p *Provider) Poll(timeout time.Duration) bool {
	if p.closed {
		return false
	}
	ready, err := p.driver.WaitDataReady(timeout)
	if err != nil {
		p.polled = true
		p.pollErr = err
		return true
	}
	if !ready {
		p.timeouts++
		log.Printf("imu: no data within %v (%d timeouts)", timeout, p.timeouts)
		return false
	}
	p.polled = true
	p.pollTime = p.clock.Now()
	return true
}

// Get reads the sample signalled by the last Poll. Read errors are returned
// as *AcquisitionError; retrying is the caller's decision.
func (p *Provider) Get() (data.Data[data.NineDoFData], error) {
	if p.closed {
		return data.Data[data.NineDoFData]{}, ErrClosed
	}
	if !p.polled {
		return data.Data[data.NineDoFData]{}, ErrNotPolled
	}
	p.polled = false
	if err := p.pollErr; err != nil {
		p.pollErr = nil
		return data.Data[data.NineDoFData]{}, &AcquisitionError{Op: "wait data ready", Err: err}
	}

	acc, gyro, temp, err := p.driver.ReadAccelGyroTemp()
	if err != nil {
		return data.Data[data.NineDoFData]{}, &AcquisitionError{Op: "read accel/gyro/temp", Err: err}
	}
	sample := data.NineDoFData{
		Acceleration:    data.Ptr(data.New(acc, p.pollTime)),
		AngularVelocity: data.Ptr(data.New(gyro, p.pollTime)),
		Temperature:     data.Ptr(data.New(temp, p.pollTime)),
	}

	mag, err := p.driver.ReadMag()
	switch {
	case errors.Is(err, ErrNoMagnetometer), errors.Is(err, ErrNoMagReading):
	case err != nil:
		return data.Data[data.NineDoFData]{}, &AcquisitionError{Op: "read magnetometer", Err: err}
	default:
		// The magnetometer runs on its own clock.
		sample.MagneticField = data.Ptr(data.New(mag, p.clock.Now()))
	}
	return data.New(sample, p.clock.Now()), nil
}

// Close releases the driver. Safe to call more than once.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.polled = false
	p.pollErr = nil
	if err := p.driver.Close(); err != nil {
		return fmt.Errorf("imu: close: %w", err)
	}
	return nil
}
