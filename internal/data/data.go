// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package data holds the timestamped values that flow through the filter chain.
package data

import (
	"math"
	"time"
)

// Data is a value together with the monotonic time (seconds, arbitrary epoch)
// at which the measurement was considered valid.
type Data[T any] struct {
	Value     T       `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// New is a convenience constructor.
func New[T any](value T, timestamp float64) Data[T] {
	return Data[T]{Value: value, Timestamp: timestamp}
}

// Ptr returns a pointer to a copy of d. Used for the optional fields of NineDoFData.
func Ptr[T any](d Data[T]) *Data[T] {
	return &d
}

// Clock returns monotonic timestamps in seconds.
type Clock interface {
	Now() float64
}

// MonotonicClock reads Go's monotonic clock relative to its creation time.
type MonotonicClock struct {
	epoch time.Time
}

// NewMonotonicClock starts a clock at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{epoch: time.Now()}
}

// Now returns the seconds elapsed since the clock was created.
func (c *MonotonicClock) Now() float64 {
	return time.Since(c.epoch).Seconds()
}

// Vector is a 3-component value used for IMU readings and coordinates.
type Vector struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Zero is the origin.
var Zero = Vector{}

// One has every component set to 1. It is the identity multiplier.
var One = Vector{X: 1, Y: 1, Z: 1}

// Scale multiplies every component by k.
func (v Vector) Scale(k float64) Vector {
	return Vector{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Add returns v + o.
func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Mul is the componentwise product.
func (v Vector) Mul(o Vector) Vector {
	return Vector{X: v.X * o.X, Y: v.Y * o.Y, Z: v.Z * o.Z}
}

// Magnitude is the euclidean length.
func (v Vector) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Equal reports exact componentwise equality.
func (v Vector) Equal(o Vector) bool {
	return v == o
}

// NineDoFData is one IMU tick. Acceleration and angular velocity are sampled
// together, the magnetometer may run on its own cadence, so each group
// carries its own timestamp. A nil field means the group had no data this tick.
type NineDoFData struct {
	Acceleration    *Data[Vector]  `json:"acceleration,omitempty"`
	AngularVelocity *Data[Vector]  `json:"angular_velocity,omitempty"`
	MagneticField   *Data[Vector]  `json:"magnetic_field,omitempty"`
	Temperature     *Data[float64] `json:"temperature,omitempty"`
}

// Equal compares every present field by value and timestamp.
func (n NineDoFData) Equal(o NineDoFData) bool {
	return ptrEqual(n.Acceleration, o.Acceleration) &&
		ptrEqual(n.AngularVelocity, o.AngularVelocity) &&
		ptrEqual(n.MagneticField, o.MagneticField) &&
		ptrEqual(n.Temperature, o.Temperature)
}

func ptrEqual[T comparable](a, b *Data[T]) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
