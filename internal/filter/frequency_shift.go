// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import (
	"errors"
	"math"

	"github.com/relabs-tech/rover_position/internal/data"
)

// ErrInvalidFrequency is returned for a non-positive or non-finite output rate.
var ErrInvalidFrequency = errors.New("filter: frequency must be positive and finite")

const (
	columns = 10 // acc xyz, gyro xyz, mag xyz, temperature

	// initial row capacity; a 1 kHz IMU decimated to 10 Hz fills 100 rows per window
	defaultWindowRows = 128
)

// FrequencyShiftFilter decimates a NineDoFData stream to a fixed output rate
// by averaging every sample received during each output period.
//
// Windows sit on a fixed grid starting at the first sample's timestamp.
// When a sample arrives after the current window ends, the window start moves
// forward by exactly one period and the mean of the buffered samples is sent,
// stamped with the timestamp of the last sample in the buffer. After a gap of
// several periods the start therefore lags behind and catches up one period
// per sample.
//
// Close drops a partially filled window. Call Flush first to emit it.
type FrequencyShiftFilter struct {
	Base[data.NineDoFData]
	period float64
	start  float64
	begun  bool
	latest float64
	rows   [][columns]float64
}

// NewFrequencyShiftFilter creates a decimator emitting at frequency Hz.
func NewFrequencyShiftFilter(name string, frequency float64) (*FrequencyShiftFilter, error) {
	period, err := periodOf(frequency)
	if err != nil {
		return nil, err
	}
	f := &FrequencyShiftFilter{
		period: period,
		rows:   make([][columns]float64, 0, defaultWindowRows),
	}
	f.Init(f, name)
	return f, nil
}

// Period is the output period in seconds.
func (f *FrequencyShiftFilter) Period() float64 { return f.period }

// Pending is the number of samples in the current window.
func (f *FrequencyShiftFilter) Pending() int { return len(f.rows) }

func (f *FrequencyShiftFilter) Receive(d data.Data[data.NineDoFData]) error {
	if err := f.CheckOpen(); err != nil {
		return err
	}
	ts := d.Timestamp
	if !f.begun {
		f.begun = true
		f.start = ts
	}
	var err error
	if ts > f.start+f.period {
		f.start += f.period
		err = f.emit()
	}
	f.rows = append(f.rows, flatten(d.Value))
	f.latest = ts
	return err
}

// Flush sends the mean of the current partial window, if any.
func (f *FrequencyShiftFilter) Flush() error {
	if err := f.CheckOpen(); err != nil {
		return err
	}
	return f.emit()
}

// Close discards the buffered window and closes the receivers.
func (f *FrequencyShiftFilter) Close() {
	f.rows = f.rows[:0]
	f.Base.Close()
}

func (f *FrequencyShiftFilter) emit() error {
	if len(f.rows) == 0 {
		return nil
	}
	mean := columnMeans(f.rows)
	f.rows = f.rows[:0]
	return f.Send(data.New(unflatten(mean, f.latest), f.latest))
}

func flatten(n data.NineDoFData) [columns]float64 {
	var row [columns]float64
	putVector(row[0:3], n.Acceleration)
	putVector(row[3:6], n.AngularVelocity)
	putVector(row[6:9], n.MagneticField)
	if n.Temperature != nil {
		row[9] = n.Temperature.Value
	} else {
		row[9] = math.NaN()
	}
	return row
}

func putVector(dst []float64, v *data.Data[data.Vector]) {
	if v == nil {
		dst[0], dst[1], dst[2] = math.NaN(), math.NaN(), math.NaN()
		return
	}
	dst[0], dst[1], dst[2] = v.Value.X, v.Value.Y, v.Value.Z
}

// columnMeans averages each column, skipping NaN (absent) cells.
// A column with no values comes out as NaN.
func columnMeans(rows [][columns]float64) [columns]float64 {
	var sum [columns]float64
	var count [columns]int
	for _, row := range rows {
		for c, v := range row {
			if !math.IsNaN(v) {
				sum[c] += v
				count[c]++
			}
		}
	}
	var mean [columns]float64
	for c := range mean {
		if count[c] == 0 {
			mean[c] = math.NaN()
		} else {
			mean[c] = sum[c] / float64(count[c])
		}
	}
	return mean
}

func unflatten(row [columns]float64, ts float64) data.NineDoFData {
	n := data.NineDoFData{
		Acceleration:    vectorAt(row[0:3], ts),
		AngularVelocity: vectorAt(row[3:6], ts),
		MagneticField:   vectorAt(row[6:9], ts),
	}
	if !math.IsNaN(row[9]) {
		n.Temperature = &data.Data[float64]{Value: row[9], Timestamp: ts}
	}
	return n
}

func vectorAt(v []float64, ts float64) *data.Data[data.Vector] {
	if math.IsNaN(v[0]) {
		return nil
	}
	return &data.Data[data.Vector]{Value: data.Vector{X: v[0], Y: v[1], Z: v[2]}, Timestamp: ts}
}
