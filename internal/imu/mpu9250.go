// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rover_position/internal/data"
)

// statusPollInterval is how often INT_STATUS is read when no INT pin is wired.
const statusPollInterval = 500 * time.Microsecond

// Magnetometer is a separate magnetometer chip.
type Magnetometer interface {
	ReadMag() (data.Vector, error)
	Close() error
}

// MPU9250Config selects the wiring and chip settings.
type MPU9250Config struct {
	SPIDevice     string // e.g. /dev/spidev0.0
	CSPin         string // GPIO driven as chip select
	IntPin        string // data-ready INT pin; empty means poll INT_STATUS
	SpeedHz       int64
	AccelRange    byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange     byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	DLPF          byte // DLPF_CFG 0-7
	SampleRateDiv byte
	SelfTest      bool
}

// spiRegs reads and writes MPU9250 registers over a SPI connection.
type spiRegs struct {
	conn conn.Conn
	cs   gpio.PinOut
}

func (r *spiRegs) tx(w, rd []byte) error {
	if r.cs != nil {
		if err := r.cs.Out(gpio.Low); err != nil {
			return fmt.Errorf("chip select: %w", err)
		}
		defer r.cs.Out(gpio.High)
	}
	return r.conn.Tx(w, rd)
}

func (r *spiRegs) write(reg, val byte) error {
	if err := r.tx([]byte{reg, val}, make([]byte, 2)); err != nil {
		return fmt.Errorf("write 0x%02X: %w", reg, err)
	}
	return nil
}

func (r *spiRegs) read(reg byte, n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = reg | spiRead
	rd := make([]byte, n+1)
	if err := r.tx(w, rd); err != nil {
		return nil, fmt.Errorf("read 0x%02X: %w", reg, err)
	}
	return rd[1:], nil
}

// MPU9250Driver reads an MPU9250 over SPI. Accelerometer, temperature and
// gyroscope are read together in one burst so they come from the same
// sampling instant.
type MPU9250Driver struct {
	regs   *spiRegs
	port   spi.PortCloser
	intPin gpio.PinIO
	mag    Magnetometer

	accelScale float64
	gyroScale  float64
}

// NewMPU9250Driver initialises the chip. mag may be nil.
func NewMPU9250Driver(cfg MPU9250Config, mag Magnetometer) (*MPU9250Driver, error) {
	if cfg.AccelRange > 3 || cfg.GyroRange > 3 {
		return nil, fmt.Errorf("mpu9250: ranges must be 0-3, got accel %d gyro %d", cfg.AccelRange, cfg.GyroRange)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", cfg.SPIDevice, err)
	}
	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}
	if cfg.SelfTest {
		if _, err := dev.SelfTest(); err != nil {
			log.Printf("mpu9250: WARNING: self-test failed: %v", err)
		} else {
			log.Printf("mpu9250: self-test passed")
		}
	}
	if err := dev.Calibrate(); err != nil {
		log.Printf("mpu9250: WARNING: calibration failed: %v", err)
	}
	if err := dev.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	if err := dev.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	log.Printf("mpu9250: accel ±%dg, gyro ±%d°/s",
		[]int{2, 4, 8, 16}[cfg.AccelRange], []int{250, 500, 1000, 2000}[cfg.GyroRange])

	port, err := spireg.Open(cfg.SPIDevice)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: open %s: %w", cfg.SPIDevice, err)
	}
	c, err := port.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, spi.Mode3, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("mpu9250: connect %s: %w", cfg.SPIDevice, err)
	}

	d := &MPU9250Driver{
		regs:       &spiRegs{conn: c, cs: cs},
		port:       port,
		mag:        mag,
		accelScale: accelLSBPerG(cfg.AccelRange),
		gyroScale:  gyroLSBPerDPS(cfg.GyroRange),
	}
	if err := d.configure(cfg); err != nil {
		port.Close()
		return nil, err
	}

	if cfg.IntPin != "" {
		pin := gpioreg.ByName(cfg.IntPin)
		if pin == nil {
			port.Close()
			return nil, fmt.Errorf("mpu9250: INT pin %q not found", cfg.IntPin)
		}
		if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			port.Close()
			return nil, fmt.Errorf("mpu9250: INT pin %s: %w", cfg.IntPin, err)
		}
		d.intPin = pin
	}
	return d, nil
}

// configure checks the chip identity and sets the sample rate and the
// data-ready interrupt.
func (d *MPU9250Driver) configure(cfg MPU9250Config) error {
	id, err := d.regs.read(regWhoAmI, 1)
	if err != nil {
		return fmt.Errorf("mpu9250: %w", err)
	}
	if id[0] != whoAmIMPU9250 && id[0] != whoAmIMPU9255 {
		return fmt.Errorf("mpu9250: unexpected WHO_AM_I 0x%02X", id[0])
	}
	writes := []struct{ reg, val byte }{
		{regConfig, cfg.DLPF & 0x07},
		{regSmplrtDiv, cfg.SampleRateDiv},
		{regIntPinCfg, intAnyReadClears},
		{regIntEnable, intRawReady},
	}
	for _, w := range writes {
		if err := d.regs.write(w.reg, w.val); err != nil {
			return fmt.Errorf("mpu9250: %w", err)
		}
	}
	internal := 1000
	if cfg.DLPF&0x07 == 7 {
		internal = 8000
	}
	log.Printf("mpu9250: WHO_AM_I 0x%02X, output rate %d Hz", id[0], internal/(1+int(cfg.SampleRateDiv)))
	return nil
}

func (d *MPU9250Driver) WaitDataReady(timeout time.Duration) (bool, error) {
	if d.intPin != nil {
		return d.intPin.WaitForEdge(timeout), nil
	}
	deadline := time.Now().Add(timeout)
	for {
		st, err := d.regs.read(regIntStatus, 1)
		if err != nil {
			return false, err
		}
		if st[0]&intRawReady != 0 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(statusPollInterval)
	}
}

func (d *MPU9250Driver) ReadAccelGyroTemp() (acc, gyro data.Vector, temp float64, err error) {
	b, err := d.regs.read(regAccelXoutH, burstLen)
	if err != nil {
		return acc, gyro, 0, err
	}
	acc, gyro, temp = decodeBurst(b, d.accelScale, d.gyroScale)
	return acc, gyro, temp, nil
}

func (d *MPU9250Driver) ReadMag() (data.Vector, error) {
	if d.mag == nil {
		return data.Vector{}, ErrNoMagnetometer
	}
	return d.mag.ReadMag()
}

func (d *MPU9250Driver) Close() error {
	var errs []error
	if d.intPin != nil {
		errs = append(errs, d.intPin.Halt())
	}
	if d.mag != nil {
		errs = append(errs, d.mag.Close())
	}
	errs = append(errs, d.port.Close())
	return errors.Join(errs...)
}

// decodeBurst converts the 14 bytes from ACCEL_XOUT_H into g, °C and °/s.
func decodeBurst(b []byte, accelScale, gyroScale float64) (acc, gyro data.Vector, temp float64) {
	word := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(b[i:])))
	}
	acc = data.Vector{X: word(0), Y: word(2), Z: word(4)}.Scale(1 / accelScale)
	temp = word(6)/tempSensitivity + tempOffset
	gyro = data.Vector{X: word(8), Y: word(10), Z: word(12)}.Scale(1 / gyroScale)
	return acc, gyro, temp
}
