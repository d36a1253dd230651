// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// MPU9250 register addresses used by the SPI driver.
const (
	regSmplrtDiv  = 0x19 // sample rate = internal rate / (1 + SMPLRT_DIV)
	regConfig     = 0x1A // DLPF_CFG in bits 2:0
	regIntPinCfg  = 0x37
	regIntEnable  = 0x38
	regIntStatus  = 0x3A
	regAccelXoutH = 0x3B // start of the ACCEL, TEMP, GYRO block
	regWhoAmI     = 0x75
)

const (
	// burstLen covers ACCEL_XOUT_H..GYRO_ZOUT_L.
	burstLen = 14

	spiRead = 0x80

	whoAmIMPU9250 = 0x71
	whoAmIMPU9255 = 0x73

	intAnyReadClears = 0x10 // INT_PIN_CFG: INT_ANYRD_2CLEAR
	intRawReady      = 0x01 // INT_ENABLE: RAW_RDY_EN, INT_STATUS: RAW_DATA_RDY_INT

	// Temperature in °C = raw / tempSensitivity + tempOffset.
	tempSensitivity = 333.87
	tempOffset      = 21.0
)

// HMC5983 register addresses (I2C address 0x1E).
const (
	hmcAddr        = 0x1E
	hmcConfigA     = 0x00
	hmcConfigB     = 0x01
	hmcMode        = 0x02
	hmcDataXMSB    = 0x03 // X, Z, Y, each big-endian int16
	hmcStatus      = 0x09
	hmcIdentA      = 0x0A
	hmcStatusRDY   = 0x01
	hmcOverflow    = -4096
	hmcCRA8Avg15Hz = 0x70 // 8-sample average, 15 Hz, normal measurement
	hmcModeCont    = 0x00
)

// accelLSBPerG returns the accelerometer sensitivity for ACCEL_FS_SEL
// 0..3 (±2g, ±4g, ±8g, ±16g).
func accelLSBPerG(fsSel byte) float64 {
	return 16384.0 / float64(int(1)<<fsSel)
}

// gyroLSBPerDPS returns the gyroscope sensitivity for GYRO_FS_SEL
// 0..3 (±250, ±500, ±1000, ±2000 °/s).
func gyroLSBPerDPS(fsSel byte) float64 {
	return 131.0 / float64(int(1)<<fsSel)
}

// hmcGains maps the CRB gain code (bits 7:5) to LSB per gauss.
var hmcGains = [8]float64{1370, 1090, 820, 660, 440, 390, 330, 230}
