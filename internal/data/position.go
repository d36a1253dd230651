// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package data

import (
	"github.com/westphae/quaternion"
)

// AttitudeOutput is the result handed over by the attitude fusion stage.
// Acceleration is in the rover frame, Attitude rotates rover frame to world frame.
type AttitudeOutput struct {
	Acceleration    Vector                `json:"acceleration"`
	AngularVelocity Vector                `json:"angular_velocity"`
	Attitude        quaternion.Quaternion `json:"attitude"`
}

// Position is a rover state estimate. Attitude is nil when the source
// (for example a UWB fix) does not know it.
type Position struct {
	Attitude     *quaternion.Quaternion `json:"attitude,omitempty"`
	Acceleration Vector                 `json:"acceleration"`
	Velocity     Vector                 `json:"velocity"`
	Position     Vector                 `json:"position"`
}

// Identity is the no-rotation quaternion.
func Identity() quaternion.Quaternion {
	return quaternion.Quaternion{W: 1}
}

// Rotate applies q to v (q * v * q⁻¹). q is normalised first.
func Rotate(q quaternion.Quaternion, v Vector) Vector {
	u := q.Unit()
	p := quaternion.Quaternion{X: v.X, Y: v.Y, Z: v.Z}
	r := quaternion.Prod(u, p, u.Conj())
	return Vector{X: r.X, Y: r.Y, Z: r.Z}
}
