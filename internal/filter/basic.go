// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import (
	"fmt"
	"math"

	"github.com/relabs-tech/rover_position/internal/data"
)

// FanOut forwards every sample unchanged. It is the usual root of a chain.
type FanOut[T any] struct {
	Base[T]
}

// NewFanOut creates a pass-through node.
func NewFanOut[T any](name string) *FanOut[T] {
	f := &FanOut[T]{}
	f.Init(f, name)
	return f
}

func (f *FanOut[T]) Receive(d data.Data[T]) error {
	if err := f.CheckOpen(); err != nil {
		return err
	}
	return f.Send(d)
}

// MapFunc converts one sample. Returning false drops it.
type MapFunc[In, Out any] func(d data.Data[In]) (data.Data[Out], bool)

// Map applies a function to every sample.
type Map[In, Out any] struct {
	Base[Out]
	fn MapFunc[In, Out]
}

// NewMap creates a transforming node.
func NewMap[In, Out any](name string, fn MapFunc[In, Out]) *Map[In, Out] {
	m := &Map[In, Out]{fn: fn}
	m.Init(m, name)
	return m
}

func (m *Map[In, Out]) Receive(d data.Data[In]) error {
	if err := m.CheckOpen(); err != nil {
		return err
	}
	out, ok := m.fn(d)
	if !ok {
		return nil
	}
	return m.Send(out)
}

// SamplingFilter forwards at most one sample per period and drops the rest.
type SamplingFilter[T any] struct {
	Base[T]
	period float64
	last   float64
	seen   bool
}

// NewSamplingFilter forwards samples at up to frequency Hz.
func NewSamplingFilter[T any](name string, frequency float64) (*SamplingFilter[T], error) {
	period, err := periodOf(frequency)
	if err != nil {
		return nil, err
	}
	s := &SamplingFilter[T]{period: period}
	s.Init(s, name)
	return s, nil
}

func (s *SamplingFilter[T]) Receive(d data.Data[T]) error {
	if err := s.CheckOpen(); err != nil {
		return err
	}
	if s.seen && d.Timestamp-s.last < s.period {
		return nil
	}
	s.seen = true
	s.last = d.Timestamp
	return s.Send(d)
}

// Scaler corrects a sample, for example applying calibration offsets.
type Scaler[T any] interface {
	Scale(d data.Data[T]) data.Data[T]
}

// ScalingFilter applies a Scaler to every sample.
type ScalingFilter[T any] struct {
	Base[T]
	scaler Scaler[T]
}

// NewScalingFilter wraps scaler. The scaler is read on every sample, so
// updating its calibration takes effect immediately.
func NewScalingFilter[T any](name string, scaler Scaler[T]) *ScalingFilter[T] {
	s := &ScalingFilter[T]{scaler: scaler}
	s.Init(s, name)
	return s
}

func (s *ScalingFilter[T]) Receive(d data.Data[T]) error {
	if err := s.CheckOpen(); err != nil {
		return err
	}
	return s.Send(s.scaler.Scale(d))
}

// Sink is a receiver with no downstream, backed by a function.
type Sink[T any] struct {
	Base[T]
	fn func(d data.Data[T]) error
}

// NewSink creates a terminal node calling fn for every sample.
func NewSink[T any](name string, fn func(d data.Data[T]) error) *Sink[T] {
	s := &Sink[T]{fn: fn}
	s.Init(s, name)
	return s
}

func (s *Sink[T]) Receive(d data.Data[T]) error {
	if err := s.CheckOpen(); err != nil {
		return err
	}
	return s.fn(d)
}

func periodOf(frequency float64) (float64, error) {
	if !(frequency > 0) || math.IsInf(frequency, 0) {
		return 0, fmt.Errorf("%w: %v Hz", ErrInvalidFrequency, frequency)
	}
	return 1 / frequency, nil
}
