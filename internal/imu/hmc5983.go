// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rover_position/internal/data"
)

// ErrNoMagReading means the magnetometer had no fresh, valid sample this
// tick. The provider leaves the magnetic field out of the sample.
var ErrNoMagReading = errors.New("imu: no magnetometer reading")

// HMC5983 is a 3-axis magnetometer on I2C, run in continuous mode.
type HMC5983 struct {
	dev         conn.Conn
	bus         i2c.BusCloser
	lsbPerGauss float64
	overflows   uint64
}

// OpenHMC5983 opens the magnetometer on busName ("1" for /dev/i2c-1).
// addr 0 means the default 0x1E. gain is the CRB gain code 0-7.
func OpenHMC5983(busName string, addr uint16, gain byte) (*HMC5983, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hmc5983: periph host init: %w", err)
	}
	if busName == "" || busName == "0" {
		busName = "1"
	}
	if addr == 0 {
		addr = hmcAddr
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("hmc5983: i2c open failed on bus %s: %w", busName, err)
	}
	h, err := NewHMC5983(&i2c.Dev{Bus: bus, Addr: addr}, gain)
	if err != nil {
		bus.Close()
		return nil, err
	}
	h.bus = bus
	log.Printf("hmc5983: ready on bus %s addr 0x%X, gain %d", busName, addr, gain)
	return h, nil
}

// NewHMC5983 configures the chip behind c.
func NewHMC5983(c conn.Conn, gain byte) (*HMC5983, error) {
	if gain > 7 {
		return nil, fmt.Errorf("hmc5983: gain code must be 0-7, got %d", gain)
	}
	h := &HMC5983{dev: c, lsbPerGauss: hmcGains[gain]}

	id := make([]byte, 3)
	if err := c.Tx([]byte{hmcIdentA}, id); err != nil {
		return nil, fmt.Errorf("hmc5983: read ID: %w", err)
	}
	if string(id) != "H43" {
		return nil, fmt.Errorf("hmc5983: unexpected ID %q", id)
	}
	for _, w := range [][]byte{
		{hmcConfigA, hmcCRA8Avg15Hz},
		{hmcConfigB, gain << 5},
		{hmcMode, hmcModeCont},
	} {
		if err := c.Tx(w, nil); err != nil {
			return nil, fmt.Errorf("hmc5983: write 0x%02X: %w", w[0], err)
		}
	}
	return h, nil
}

// ReadMag returns the field in µT, or ErrNoMagReading when no new sample
// is ready or an axis overflowed.
func (h *HMC5983) ReadMag() (data.Vector, error) {
	st := make([]byte, 1)
	if err := h.dev.Tx([]byte{hmcStatus}, st); err != nil {
		return data.Vector{}, fmt.Errorf("hmc5983: read status: %w", err)
	}
	if st[0]&hmcStatusRDY == 0 {
		return data.Vector{}, ErrNoMagReading
	}
	b := make([]byte, 6)
	if err := h.dev.Tx([]byte{hmcDataXMSB}, b); err != nil {
		return data.Vector{}, fmt.Errorf("hmc5983: read data: %w", err)
	}
	x := int16(binary.BigEndian.Uint16(b[0:]))
	z := int16(binary.BigEndian.Uint16(b[2:]))
	y := int16(binary.BigEndian.Uint16(b[4:]))
	if x == hmcOverflow || y == hmcOverflow || z == hmcOverflow {
		h.overflows++
		log.Printf("hmc5983: overflow (%d so far)", h.overflows)
		return data.Vector{}, ErrNoMagReading
	}
	// 1 gauss = 100 µT
	k := 100 / h.lsbPerGauss
	return data.Vector{X: float64(x) * k, Y: float64(y) * k, Z: float64(z) * k}, nil
}

// Close releases the bus if this driver opened it.
func (h *HMC5983) Close() error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Close()
}
