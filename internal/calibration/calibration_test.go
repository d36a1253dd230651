// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/westphae/quaternion"

	"github.com/relabs-tech/rover_position/internal/anchors"
	"github.com/relabs-tech/rover_position/internal/data"
)

func tick(ts float64, gyro data.Vector) data.Data[data.NineDoFData] {
	return data.New(data.NineDoFData{
		Acceleration:    data.Ptr(data.New(data.Vector{X: 1, Y: 2, Z: 3}, ts)),
		AngularVelocity: data.Ptr(data.New(gyro, ts)),
		MagneticField:   data.Ptr(data.New(data.Vector{X: 10, Y: 20, Z: 30}, ts+0.001)),
		Temperature:     data.Ptr(data.New(25.0, ts)),
	}, ts+0.002)
}

func TestImuScalerIdentity(t *testing.T) {
	in := tick(1, data.Vector{X: 0.1, Y: 0.2, Z: 0.3})
	out := NewImuScaler().Scale(in)
	assert.True(t, in.Value.Equal(out.Value))
	assert.Equal(t, in.Timestamp, out.Timestamp)
}

func TestImuScalerApplies(t *testing.T) {
	s := NewImuScaler()
	s.Accelerometer = AxisCalibration{Offset: data.Vector{X: 1, Y: 1, Z: 1}, Multiplier: data.Vector{X: 2, Y: 2, Z: 0.5}}
	s.Magnetometer.Multiplier = data.Vector{X: -1, Y: 1, Z: 1}
	s.Temperature = TemperatureCalibration{Offset: 5, Multiplier: 0.5}

	in := tick(1, data.Zero)
	out := s.Scale(in)
	assert.Equal(t, data.Vector{X: 0, Y: 2, Z: 1}, out.Value.Acceleration.Value)
	assert.Equal(t, data.Vector{X: -10, Y: 20, Z: 30}, out.Value.MagneticField.Value)
	assert.Equal(t, 10.0, out.Value.Temperature.Value)
	assert.Equal(t, in.Value.MagneticField.Timestamp, out.Value.MagneticField.Timestamp, "group timestamps are kept")
	assert.Equal(t, data.Vector{X: 1, Y: 2, Z: 3}, in.Value.Acceleration.Value, "input is not modified")

	in.Value.MagneticField = nil
	assert.Nil(t, s.Scale(in).Value.MagneticField)
}

func TestGyroBiasCollector(t *testing.T) {
	s := NewImuScaler()
	c, err := NewGyroBiasCollector("bias", s, 4)
	require.NoError(t, err)
	var calls int
	var got data.Vector
	c.OnDone = func(offset data.Vector) {
		calls++
		got = offset
	}

	for i, g := range []data.Vector{{X: 1}, {X: 3, Y: 1}, {X: 2, Z: -4}, {X: 2, Y: -1}} {
		require.NoError(t, c.Receive(tick(float64(i), g)))
		assert.Equal(t, i == 3, c.Done())
	}
	noGyro := tick(5, data.Zero)
	noGyro.Value.AngularVelocity = nil
	require.NoError(t, c.Receive(noGyro))
	require.NoError(t, c.Receive(tick(6, data.Vector{X: 100})))

	assert.Equal(t, 1, calls)
	assert.Equal(t, data.Vector{X: 2, Y: 0, Z: -1}, got)
	assert.Equal(t, got, s.Gyroscope.Offset)

	_, err = NewGyroBiasCollector("bad", s, 0)
	assert.Error(t, err)
}

func TestRotationScaler(t *testing.T) {
	r := NewRotationScaler()
	v := data.New(data.Vector{X: 1, Y: 2, Z: 3}, 4)
	assert.Equal(t, v, r.Scale(v))

	// 90° about Z.
	r.Rotation = quaternion.Quaternion{W: math.Cos(math.Pi / 4), Z: math.Sin(math.Pi / 4)}
	out := r.Scale(data.New(data.Vector{X: 1}, 4))
	assert.InDelta(t, 0, out.Value.X, 1e-12)
	assert.InDelta(t, 1, out.Value.Y, 1e-12)
	assert.Equal(t, 4.0, out.Timestamp)
}

func TestRangeScaler(t *testing.T) {
	assert.Equal(t, 3.5, NewRangeScaler().Scale(3.5, 40))

	r := RangeScaler{Offset: 0.1, Multiplier: 1.02, ReferenceTemperature: 20, TemperatureCoefficient: 0.002}
	assert.InDelta(t, (3.0-0.1)*1.02-0.002*5, r.Scale(3.0, 25), 1e-12)
	assert.InDelta(t, (3.0-0.1)*1.02, r.Scale(3.0, 20), 1e-12)
}

func testLayout(t *testing.T) *AnchorLayout {
	t.Helper()
	p, err := anchors.New(anchors.Ranges{D12: 4, D23: 3, D34: 4, D14: 3, D13: 5, D24: 5}, 0.5)
	require.NoError(t, err)
	l, err := NewAnchorLayout([4]uint16{0x1a01, 0x1a02, 0x1a03, 0x1a04}, p)
	require.NoError(t, err)
	return l
}

func TestAnchorLayout(t *testing.T) {
	l := testLayout(t)
	require.Len(t, l.Anchors, 4)
	pos, ok := l.Position(0x1a02)
	require.True(t, ok)
	assert.Equal(t, data.Vector{X: 4, Y: 0, Z: 0.5}, pos)
	_, ok = l.Position(0xffff)
	assert.False(t, ok)

	p, err := anchors.New(anchors.Ranges{D12: 4, D23: 3, D34: 4, D14: 3, D13: 5, D24: 5}, 0.5)
	require.NoError(t, err)
	_, err = NewAnchorLayout([4]uint16{1, 2, 2, 4}, p)
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"imu.json", "imu.yaml", "imu.YML"} {
		t.Run(name, func(t *testing.T) {
			s := NewImuScaler()
			s.Gyroscope.Offset = data.Vector{X: 0.01, Y: -0.02, Z: 0.003}
			s.Temperature.Offset = 1.5
			path := filepath.Join(dir, name)
			require.NoError(t, Save(path, s))

			var got ImuScaler
			require.NoError(t, Load(path, &got))
			assert.Equal(t, *s, got)
		})
	}

	t.Run("layout yaml", func(t *testing.T) {
		l := testLayout(t)
		path := filepath.Join(dir, "anchors.yaml")
		require.NoError(t, Save(path, l))
		var got AnchorLayout
		require.NoError(t, Load(path, &got))
		assert.Equal(t, *l, got)
	})

	t.Run("decawave json", func(t *testing.T) {
		c := NewDecawaveCalibration()
		c.Range.Offset = 0.12
		path := filepath.Join(dir, "uwb.json")
		require.NoError(t, Save(path, c))
		var got DecawaveCalibration
		require.NoError(t, Load(path, &got))
		assert.Equal(t, *c, got)
	})
}

func TestLoadErrors(t *testing.T) {
	var s ImuScaler
	err := Load(filepath.Join(t.TempDir(), "absent.json"), &s)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	err = Load(path, &s)
	require.Error(t, err)
	assert.NotErrorIs(t, err, os.ErrNotExist)
}
