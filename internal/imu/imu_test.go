// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"

	"github.com/relabs-tech/rover_position/internal/data"
)

// stepClock advances by step on every reading.
type stepClock struct {
	t, step float64
}

func (c *stepClock) Now() float64 {
	c.t += c.step
	return c.t
}

type fakeDriver struct {
	ready    []bool
	readyErr error
	readErr  error
	mag      data.Vector
	magErr   error
	closed   int
}

func (f *fakeDriver) WaitDataReady(time.Duration) (bool, error) {
	if f.readyErr != nil {
		return false, f.readyErr
	}
	if len(f.ready) == 0 {
		return true, nil
	}
	r := f.ready[0]
	f.ready = f.ready[1:]
	return r, nil
}

func (f *fakeDriver) ReadAccelGyroTemp() (acc, gyro data.Vector, temp float64, err error) {
	if f.readErr != nil {
		return acc, gyro, 0, f.readErr
	}
	return data.Vector{Z: 1}, data.Vector{X: 0.5}, 31.5, nil
}

func (f *fakeDriver) ReadMag() (data.Vector, error) { return f.mag, f.magErr }

func (f *fakeDriver) Close() error {
	f.closed++
	return nil
}

func TestProviderTimestamps(t *testing.T) {
	drv := &fakeDriver{mag: data.Vector{X: 20, Y: -5, Z: 40}}
	clock := &stepClock{step: 1}
	p := NewProvider(drv, clock)

	require.True(t, p.Poll(time.Millisecond))
	d, err := p.Get()
	require.NoError(t, err)

	v := d.Value
	require.NotNil(t, v.Acceleration)
	require.NotNil(t, v.MagneticField)
	assert.Equal(t, 1.0, v.Acceleration.Timestamp, "poll time")
	assert.Equal(t, 1.0, v.AngularVelocity.Timestamp)
	assert.Equal(t, 1.0, v.Temperature.Timestamp)
	assert.Equal(t, 2.0, v.MagneticField.Timestamp, "own reading time")
	assert.Equal(t, 3.0, d.Timestamp, "stamped after assembly")
	assert.Equal(t, data.Vector{Z: 1}, v.Acceleration.Value)
	assert.Equal(t, 31.5, v.Temperature.Value)
	assert.Equal(t, data.Vector{X: 20, Y: -5, Z: 40}, v.MagneticField.Value)
}

func TestProviderGetWithoutPoll(t *testing.T) {
	p := NewProvider(&fakeDriver{ready: []bool{false}}, &stepClock{step: 1})
	_, err := p.Get()
	assert.ErrorIs(t, err, ErrNotPolled)

	assert.False(t, p.Poll(time.Millisecond))
	assert.Equal(t, uint64(1), p.Timeouts())
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrNotPolled, "a timed out poll does not arm Get")

	require.True(t, p.Poll(time.Millisecond))
	_, err = p.Get()
	require.NoError(t, err)
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrNotPolled, "each poll allows one get")
}

func TestProviderMissingMagnetometer(t *testing.T) {
	for _, magErr := range []error{ErrNoMagnetometer, ErrNoMagReading} {
		p := NewProvider(&fakeDriver{magErr: magErr}, &stepClock{step: 1})
		require.True(t, p.Poll(time.Millisecond))
		d, err := p.Get()
		require.NoError(t, err)
		assert.Nil(t, d.Value.MagneticField)
		assert.NotNil(t, d.Value.Acceleration)
	}
}

func TestProviderErrors(t *testing.T) {
	broken := errors.New("bus fault")

	p := NewProvider(&fakeDriver{readErr: broken}, &stepClock{step: 1})
	require.True(t, p.Poll(time.Millisecond))
	_, err := p.Get()
	var ae *AcquisitionError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, "read accel/gyro/temp", ae.Op)

	p = NewProvider(&fakeDriver{magErr: broken}, &stepClock{step: 1})
	require.True(t, p.Poll(time.Millisecond))
	_, err = p.Get()
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "read magnetometer", ae.Op)

	drv := &fakeDriver{readyErr: broken}
	p = NewProvider(drv, &stepClock{step: 1})
	require.True(t, p.Poll(time.Millisecond), "a failed wait is reported, not treated as a timeout")
	assert.Zero(t, p.Timeouts())
	_, err = p.Get()
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, "wait data ready", ae.Op)

	drv.readyErr = nil
	require.True(t, p.Poll(time.Millisecond))
	_, err = p.Get()
	assert.NoError(t, err, "the failure is reported once")
}

func TestProviderClose(t *testing.T) {
	drv := &fakeDriver{}
	p := NewProvider(drv, &stepClock{step: 1})
	require.True(t, p.Poll(time.Millisecond))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, drv.closed)

	assert.False(t, p.Poll(time.Millisecond))
	_, err := p.Get()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecodeBurst(t *testing.T) {
	b := []byte{
		0x40, 0x00, // ax = 16384
		0xC0, 0x00, // ay = -16384
		0x00, 0x00, // az = 0
		0x00, 0x00, // temp raw 0
		0x00, 0x83, // gx = 131
		0xFF, 0x7D, // gy = -131
		0x01, 0x06, // gz = 262
	}
	acc, gyro, temp := decodeBurst(b, accelLSBPerG(0), gyroLSBPerDPS(0))
	assert.Equal(t, data.Vector{X: 1, Y: -1, Z: 0}, acc)
	assert.InDelta(t, 1, gyro.X, 1e-12)
	assert.InDelta(t, -1, gyro.Y, 1e-12)
	assert.InDelta(t, 2, gyro.Z, 1e-12)
	assert.Equal(t, 21.0, temp)

	acc, _, _ = decodeBurst(b, accelLSBPerG(3), gyroLSBPerDPS(3))
	assert.Equal(t, 8.0, acc.X, "±16g range")
}

func TestSensitivity(t *testing.T) {
	assert.Equal(t, []float64{16384, 8192, 4096, 2048},
		[]float64{accelLSBPerG(0), accelLSBPerG(1), accelLSBPerG(2), accelLSBPerG(3)})
	assert.Equal(t, []float64{131, 65.5, 32.75, 16.375},
		[]float64{gyroLSBPerDPS(0), gyroLSBPerDPS(1), gyroLSBPerDPS(2), gyroLSBPerDPS(3)})
}

// regConn emulates a register-addressed chip behind a periph connection.
type regConn struct {
	regs   map[byte]byte
	writes [][]byte
	spi    bool
	err    error
}

func (c *regConn) String() string       { return "fake" }
func (c *regConn) Duplex() conn.Duplex { return conn.Half }

func (c *regConn) Tx(w, r []byte) error {
	if c.err != nil {
		return c.err
	}
	if c.spi {
		reg := w[0] &^ spiRead
		if w[0]&spiRead == 0 {
			c.writes = append(c.writes, append([]byte(nil), w...))
			return nil
		}
		for i := 1; i < len(r); i++ {
			r[i] = c.regs[reg+byte(i-1)]
		}
		return nil
	}
	if len(r) == 0 {
		c.writes = append(c.writes, append([]byte(nil), w...))
		return nil
	}
	for i := range r {
		r[i] = c.regs[w[0]+byte(i)]
	}
	return nil
}

func TestSPIRegs(t *testing.T) {
	c := &regConn{spi: true, regs: map[byte]byte{regWhoAmI: whoAmIMPU9250, regIntStatus: intRawReady}}
	r := &spiRegs{conn: c}

	id, err := r.read(regWhoAmI, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{whoAmIMPU9250}, id)

	require.NoError(t, r.write(regSmplrtDiv, 9))
	assert.Equal(t, [][]byte{{regSmplrtDiv, 9}}, c.writes)

	d := &MPU9250Driver{regs: r, accelScale: 1, gyroScale: 1}
	ready, err := d.WaitDataReady(time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ready, "INT_STATUS polled without an INT pin")

	c.regs[regIntStatus] = 0
	ready, err = d.WaitDataReady(2 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = d.ReadMag()
	assert.ErrorIs(t, err, ErrNoMagnetometer)

	c.err = errors.New("spi down")
	_, _, _, err = d.ReadAccelGyroTemp()
	assert.Error(t, err)
}

func TestMPU9250Configure(t *testing.T) {
	c := &regConn{spi: true, regs: map[byte]byte{regWhoAmI: whoAmIMPU9255}}
	d := &MPU9250Driver{regs: &spiRegs{conn: c}}
	require.NoError(t, d.configure(MPU9250Config{DLPF: 3, SampleRateDiv: 9}))
	assert.Equal(t, [][]byte{
		{regConfig, 3},
		{regSmplrtDiv, 9},
		{regIntPinCfg, intAnyReadClears},
		{regIntEnable, intRawReady},
	}, c.writes)

	c.regs[regWhoAmI] = 0x12
	assert.Error(t, d.configure(MPU9250Config{}))
}

func hmcChip() *regConn {
	return &regConn{regs: map[byte]byte{
		hmcIdentA: 'H', hmcIdentA + 1: '4', hmcIdentA + 2: '3',
		hmcStatus: hmcStatusRDY,
		// X = 1090, Z = -545, Y = 218
		hmcDataXMSB: 0x04, hmcDataXMSB + 1: 0x42,
		hmcDataXMSB + 2: 0xFD, hmcDataXMSB + 3: 0xDF,
		hmcDataXMSB + 4: 0x00, hmcDataXMSB + 5: 0xDA,
	}}
}

func TestHMC5983(t *testing.T) {
	c := hmcChip()
	h, err := NewHMC5983(c, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{
		{hmcConfigA, hmcCRA8Avg15Hz},
		{hmcConfigB, 0x20},
		{hmcMode, hmcModeCont},
	}, c.writes)

	v, err := h.ReadMag()
	require.NoError(t, err)
	assert.InDelta(t, 100, v.X, 1e-9)
	assert.InDelta(t, 20, v.Y, 1e-9)
	assert.InDelta(t, -50, v.Z, 1e-9)

	c.regs[hmcStatus] = 0
	_, err = h.ReadMag()
	assert.ErrorIs(t, err, ErrNoMagReading)

	c.regs[hmcStatus] = hmcStatusRDY
	c.regs[hmcDataXMSB], c.regs[hmcDataXMSB+1] = 0xF0, 0x00 // -4096
	_, err = h.ReadMag()
	assert.ErrorIs(t, err, ErrNoMagReading, "overflow")
	assert.NoError(t, h.Close())
}

func TestHMC5983Rejects(t *testing.T) {
	_, err := NewHMC5983(hmcChip(), 8)
	assert.Error(t, err)

	c := hmcChip()
	c.regs[hmcIdentA] = 'X'
	_, err = NewHMC5983(c, 1)
	assert.Error(t, err)
}

func TestSimulatedDriver(t *testing.T) {
	s, err := NewSimulatedDriver(100)
	require.NoError(t, err)
	now := s.start
	var slept time.Duration
	s.now = func() time.Time { return now }
	s.sleep = func(d time.Duration) {
		slept += d
		now = now.Add(d)
	}

	ready, err := s.WaitDataReady(time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ready, "next sample is 10ms away")

	ready, err = s.WaitDataReady(time.Second)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 10*time.Millisecond, slept)

	acc, _, temp, err := s.ReadAccelGyroTemp()
	require.NoError(t, err)
	assert.InDelta(t, 1, acc.Magnitude(), 1e-9, "gravity only")
	assert.InDelta(t, 25, temp, 1)

	mag, err := s.ReadMag()
	require.NoError(t, err)
	assert.InDelta(t, 48, mag.Magnitude(), 0.1)

	_, err = NewSimulatedDriver(0)
	assert.Error(t, err)
}
