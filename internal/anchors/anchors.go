// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package anchors computes UWB anchor positions from the ranges the anchors
// measure to each other.
//
// The four anchors are numbered around a roughly rectangular layout:
//
//	4 ------- 3
//	|         |
//	1 ------- 2
//
// Anchor 1 is the origin and anchor 2 defines the +X axis. Anchors 3 and 4
// are placed on the +Y side by triangulation. The 3-4 range is not used to
// place anything, so it serves as a consistency check (Error34).
package anchors

import (
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/rover_position/internal/data"
)

// ErrInvalidGeometry is wrapped by every GeometryError.
var ErrInvalidGeometry = errors.New("anchors: invalid geometry")

// GeometryError reports ranges that cannot form the layout.
type GeometryError struct {
	Field  string
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("anchors: %s: %s", e.Field, e.Reason)
}

func (e *GeometryError) Unwrap() error { return ErrInvalidGeometry }

// Ranges are the anchor-to-anchor distances in metres. D12, D23, D34 and D14
// are the sides of the rectangle, D13 and D24 the diagonals.
type Ranges struct {
	D12 float64 `json:"d12" yaml:"d12"`
	D13 float64 `json:"d13" yaml:"d13"`
	D14 float64 `json:"d14" yaml:"d14"`
	D23 float64 `json:"d23" yaml:"d23"`
	D24 float64 `json:"d24" yaml:"d24"`
	D34 float64 `json:"d34" yaml:"d34"`
}

// RangesToPositions holds the four anchor positions derived from a set of ranges.
// It is immutable once built.
type RangesToPositions struct {
	ranges    Ranges
	height    float64
	positions [4]data.Vector
}

// New validates r and computes the positions. Every anchor is placed at the
// given height above the floor, which must be positive like the ranges.
func New(r Ranges, height float64) (*RangesToPositions, error) {
	if err := validate(r, height); err != nil {
		return nil, err
	}
	p := &RangesToPositions{ranges: r, height: height}

	p.positions[0] = data.Vector{X: 0, Y: 0, Z: height}
	p.positions[1] = data.Vector{X: r.D12, Y: 0, Z: height}

	// Interior angle at anchor 2 between 2→1 and 2→3.
	theta2 := calculateAngle(r.D12, r.D23, r.D13)
	p.positions[2] = data.Vector{
		X: r.D12 - r.D23*math.Cos(theta2),
		Y: r.D23 * math.Sin(theta2),
		Z: height,
	}

	// Interior angle at anchor 1 between 1→2 and 1→4.
	theta1 := calculateAngle(r.D12, r.D14, r.D24)
	p.positions[3] = data.Vector{
		X: r.D14 * math.Cos(theta1),
		Y: r.D14 * math.Sin(theta1),
		Z: height,
	}
	return p, nil
}

// Ranges returns the input ranges.
func (p *RangesToPositions) Ranges() Ranges { return p.ranges }

// Height returns the anchor height.
func (p *RangesToPositions) Height() float64 { return p.height }

// Position returns the position of anchor n (1 to 4).
func (p *RangesToPositions) Position(n int) (data.Vector, error) {
	if n < 1 || n > 4 {
		return data.Vector{}, fmt.Errorf("anchors: no anchor %d", n)
	}
	return p.positions[n-1], nil
}

// Positions returns the positions of anchors 1 to 4 in order.
func (p *RangesToPositions) Positions() [4]data.Vector {
	return p.positions
}

// Error34 is the computed distance between anchors 3 and 4 minus the
// measured D34. Negative means the layout came out too narrow.
func (p *RangesToPositions) Error34() float64 {
	return p.positions[2].Sub(p.positions[3]).Magnitude() - p.ranges.D34
}

// calculateAngle returns the angle opposite side c of a triangle with sides
// a, b and c (law of cosines). The cosine is clamped to [-1, 1] so rounding
// on a degenerate triangle does not produce NaN.
func calculateAngle(a, b, c float64) float64 {
	cos := (a*a + b*b - c*c) / (2 * a * b)
	return math.Acos(math.Max(-1, math.Min(1, cos)))
}

func validate(r Ranges, height float64) error {
	fields := []struct {
		name string
		v    float64
	}{
		{"d12", r.D12}, {"d13", r.D13}, {"d14", r.D14},
		{"d23", r.D23}, {"d24", r.D24}, {"d34", r.D34},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return &GeometryError{Field: f.name, Reason: fmt.Sprintf("range must be a positive number, got %v", f.v)}
		}
	}
	if math.IsNaN(height) || math.IsInf(height, 0) || height <= 0 {
		return &GeometryError{Field: "height", Reason: fmt.Sprintf("must be a positive number, got %v", height)}
	}
	if !triangle(r.D12, r.D23, r.D13) {
		return &GeometryError{Field: "d12/d23/d13", Reason: "ranges violate the triangle inequality"}
	}
	if !triangle(r.D12, r.D14, r.D24) {
		return &GeometryError{Field: "d12/d14/d24", Reason: "ranges violate the triangle inequality"}
	}
	return nil
}

func triangle(a, b, c float64) bool {
	return a+b >= c && a+c >= b && b+c >= a
}
