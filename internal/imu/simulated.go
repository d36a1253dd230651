// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/rover_position/internal/data"
)

// SimulatedDriver generates smoothly changing readings at a fixed rate, for
// running the service without hardware.
type SimulatedDriver struct {
	start  time.Time
	period time.Duration
	next   time.Time
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewSimulatedDriver produces rateHz samples per second.
func NewSimulatedDriver(rateHz float64) (*SimulatedDriver, error) {
	if !(rateHz > 0) || math.IsInf(rateHz, 0) {
		return nil, fmt.Errorf("imu: simulated rate must be positive, got %v", rateHz)
	}
	now := time.Now()
	period := time.Duration(float64(time.Second) / rateHz)
	return &SimulatedDriver{
		start:  now,
		period: period,
		next:   now.Add(period),
		now:    time.Now,
		sleep:  time.Sleep,
	}, nil
}

func (s *SimulatedDriver) WaitDataReady(timeout time.Duration) (bool, error) {
	wait := s.next.Sub(s.now())
	if wait > timeout {
		s.sleep(timeout)
		return false, nil
	}
	if wait > 0 {
		s.sleep(wait)
	}
	s.next = s.next.Add(s.period)
	return true, nil
}

func (s *SimulatedDriver) elapsed() float64 {
	return s.now().Sub(s.start).Seconds()
}

func (s *SimulatedDriver) ReadAccelGyroTemp() (acc, gyro data.Vector, temp float64, err error) {
	t := s.elapsed()
	roll := 20 * math.Sin(t) * math.Pi / 180
	pitch := 15 * math.Cos(t*0.7) * math.Pi / 180
	// Gravity seen by a tilted, otherwise still body.
	acc = data.Vector{
		X: -math.Sin(pitch),
		Y: math.Sin(roll) * math.Cos(pitch),
		Z: math.Cos(roll) * math.Cos(pitch),
	}
	// Derivatives of the roll and pitch curves, plus a steady 30°/s yaw.
	gyro = data.Vector{
		X: 20 * math.Cos(t),
		Y: -15 * 0.7 * math.Sin(t*0.7),
		Z: 30,
	}
	temp = 25 + 0.5*math.Sin(t/60)
	return acc, gyro, temp, nil
}

func (s *SimulatedDriver) ReadMag() (data.Vector, error) {
	yaw := math.Mod(s.elapsed()*30, 360) * math.Pi / 180
	// 48 µT field, 60° inclination.
	h := 24.0
	return data.Vector{X: h * math.Cos(yaw), Y: -h * math.Sin(yaw), Z: 41.6}, nil
}

func (s *SimulatedDriver) Close() error { return nil }
