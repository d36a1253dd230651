// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"fmt"

	"github.com/westphae/quaternion"

	"github.com/relabs-tech/rover_position/internal/anchors"
	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
)

// RotationScaler rotates UWB coordinates from the anchor frame into the
// world frame.
type RotationScaler struct {
	Rotation quaternion.Quaternion `json:"rotation" yaml:"rotation"`
}

var _ filter.Scaler[data.Vector] = (*RotationScaler)(nil)

// NewRotationScaler does not rotate.
func NewRotationScaler() *RotationScaler {
	return &RotationScaler{Rotation: data.Identity()}
}

// Scale rotates the position vector in d.
func (r *RotationScaler) Scale(d data.Data[data.Vector]) data.Data[data.Vector] {
	return data.New(data.Rotate(r.Rotation, d.Value), d.Timestamp)
}

// RangeScaler corrects a measured UWB distance:
//
//	corrected = (raw - Offset) * Multiplier - TemperatureCoefficient * (temp - ReferenceTemperature)
type RangeScaler struct {
	Offset                 float64 `json:"offset" yaml:"offset"`
	Multiplier             float64 `json:"multiplier" yaml:"multiplier"`
	ReferenceTemperature   float64 `json:"reference_temperature" yaml:"reference_temperature"`
	TemperatureCoefficient float64 `json:"temperature_coefficient" yaml:"temperature_coefficient"`
}

// NewRangeScaler leaves distances unchanged.
func NewRangeScaler() *RangeScaler {
	return &RangeScaler{Multiplier: 1}
}

// Scale corrects distance (metres) measured at temperature (°C).
func (r *RangeScaler) Scale(distance, temperature float64) float64 {
	return (distance-r.Offset)*r.Multiplier - r.TemperatureCoefficient*(temperature-r.ReferenceTemperature)
}

// DecawaveCalibration is what the UWB calibration file holds.
type DecawaveCalibration struct {
	Rotation RotationScaler `json:"rotation" yaml:"rotation"`
	Range    RangeScaler    `json:"range" yaml:"range"`
}

// NewDecawaveCalibration returns the identity calibration.
func NewDecawaveCalibration() *DecawaveCalibration {
	return &DecawaveCalibration{Rotation: *NewRotationScaler(), Range: *NewRangeScaler()}
}

// Anchor is one fixed UWB beacon.
type Anchor struct {
	Address  uint16      `json:"address" yaml:"address"`
	Position data.Vector `json:"position" yaml:"position"`
}

// AnchorLayout is the set of anchors the tag ranges against.
type AnchorLayout struct {
	Anchors []Anchor `json:"anchors" yaml:"anchors"`
	// Error34 is the consistency error of the survey the layout came from.
	Error34 float64 `json:"error34" yaml:"error34"`
}

// NewAnchorLayout assigns the surveyed positions to anchor addresses, in
// anchor order 1 to 4.
func NewAnchorLayout(addresses [4]uint16, p *anchors.RangesToPositions) (*AnchorLayout, error) {
	seen := make(map[uint16]bool, 4)
	layout := &AnchorLayout{Error34: p.Error34()}
	for i, pos := range p.Positions() {
		addr := addresses[i]
		if seen[addr] {
			return nil, fmt.Errorf("calibration: duplicate anchor address 0x%04X", addr)
		}
		seen[addr] = true
		layout.Anchors = append(layout.Anchors, Anchor{Address: addr, Position: pos})
	}
	return layout, nil
}

// Position looks up the anchor with the given address.
func (l *AnchorLayout) Position(address uint16) (data.Vector, bool) {
	for _, a := range l.Anchors {
		if a.Address == address {
			return a.Position, true
		}
	}
	return data.Vector{}, false
}
