// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package data

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/westphae/quaternion"
)

var (
	// ErrRowLength is returned when a row does not have the converter's column count.
	ErrRowLength = errors.New("csv: wrong number of columns")
	// ErrMissingValue is returned when a required cell is empty.
	ErrMissingValue = errors.New("csv: missing value")
	// ErrPartialGroup is returned when some but not all cells of a group are empty.
	ErrPartialGroup = errors.New("csv: partially filled group")
)

// RowConverter turns a Data[T] into a flat row of cells and back.
// Absent optional groups are empty cells, never zeros.
type RowConverter[T any] interface {
	Header() []string
	ToRow(d Data[T]) []string
	FromRow(row []string) (Data[T], error)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(cell string) (float64, error) {
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("csv: parse %q: %w", cell, err)
	}
	return v, nil
}

// allEmpty reports whether every cell is empty. It fails when only some are.
func allEmpty(cells []string) (bool, error) {
	empty := 0
	for _, c := range cells {
		if c == "" {
			empty++
		}
	}
	switch empty {
	case 0:
		return false, nil
	case len(cells):
		return true, nil
	}
	return false, ErrPartialGroup
}

func parseFloats(cells []string) ([]float64, error) {
	out := make([]float64, len(cells))
	for i, c := range cells {
		v, err := parseFloat(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func vectorCells(v Vector) []string {
	return []string{formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z)}
}

func parseVector(cells []string) (Vector, error) {
	f, err := parseFloats(cells)
	if err != nil {
		return Vector{}, err
	}
	return Vector{X: f[0], Y: f[1], Z: f[2]}, nil
}

func optionalVectorCells(d *Data[Vector]) []string {
	if d == nil {
		return []string{"", "", "", ""}
	}
	return append([]string{formatFloat(d.Timestamp)}, vectorCells(d.Value)...)
}

func parseOptionalVector(cells []string) (*Data[Vector], error) {
	empty, err := allEmpty(cells)
	if err != nil || empty {
		return nil, err
	}
	f, err := parseFloats(cells)
	if err != nil {
		return nil, err
	}
	return &Data[Vector]{Value: Vector{X: f[1], Y: f[2], Z: f[3]}, Timestamp: f[0]}, nil
}

func envelope(row []string, n int) (float64, error) {
	if len(row) != n {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrRowLength, len(row), n)
	}
	if row[0] == "" {
		return 0, fmt.Errorf("%w: timestamp", ErrMissingValue)
	}
	return parseFloat(row[0])
}

// NineDoFConverter converts NineDoFData rows.
type NineDoFConverter struct{}

var nineDoFHeader = []string{
	"timestamp",
	"acc_t", "acc_x", "acc_y", "acc_z",
	"gyro_t", "gyro_x", "gyro_y", "gyro_z",
	"mag_t", "mag_x", "mag_y", "mag_z",
	"temp_t", "temp",
}

func (NineDoFConverter) Header() []string {
	return append([]string(nil), nineDoFHeader...)
}

func (NineDoFConverter) ToRow(d Data[NineDoFData]) []string {
	row := make([]string, 0, len(nineDoFHeader))
	row = append(row, formatFloat(d.Timestamp))
	row = append(row, optionalVectorCells(d.Value.Acceleration)...)
	row = append(row, optionalVectorCells(d.Value.AngularVelocity)...)
	row = append(row, optionalVectorCells(d.Value.MagneticField)...)
	if t := d.Value.Temperature; t != nil {
		row = append(row, formatFloat(t.Timestamp), formatFloat(t.Value))
	} else {
		row = append(row, "", "")
	}
	return row
}

func (NineDoFConverter) FromRow(row []string) (Data[NineDoFData], error) {
	ts, err := envelope(row, len(nineDoFHeader))
	if err != nil {
		return Data[NineDoFData]{}, err
	}
	var n NineDoFData
	if n.Acceleration, err = parseOptionalVector(row[1:5]); err != nil {
		return Data[NineDoFData]{}, fmt.Errorf("acceleration: %w", err)
	}
	if n.AngularVelocity, err = parseOptionalVector(row[5:9]); err != nil {
		return Data[NineDoFData]{}, fmt.Errorf("angular velocity: %w", err)
	}
	if n.MagneticField, err = parseOptionalVector(row[9:13]); err != nil {
		return Data[NineDoFData]{}, fmt.Errorf("magnetic field: %w", err)
	}
	empty, err := allEmpty(row[13:15])
	if err != nil {
		return Data[NineDoFData]{}, fmt.Errorf("temperature: %w", err)
	}
	if !empty {
		f, err := parseFloats(row[13:15])
		if err != nil {
			return Data[NineDoFData]{}, fmt.Errorf("temperature: %w", err)
		}
		n.Temperature = &Data[float64]{Value: f[1], Timestamp: f[0]}
	}
	return Data[NineDoFData]{Value: n, Timestamp: ts}, nil
}

// VectorConverter converts Vector rows.
type VectorConverter struct{}

func (VectorConverter) Header() []string {
	return []string{"timestamp", "x", "y", "z"}
}

func (VectorConverter) ToRow(d Data[Vector]) []string {
	return append([]string{formatFloat(d.Timestamp)}, vectorCells(d.Value)...)
}

func (VectorConverter) FromRow(row []string) (Data[Vector], error) {
	ts, err := envelope(row, 4)
	if err != nil {
		return Data[Vector]{}, err
	}
	if empty, err := allEmpty(row[1:4]); err != nil {
		return Data[Vector]{}, err
	} else if empty {
		return Data[Vector]{}, fmt.Errorf("%w: vector", ErrMissingValue)
	}
	v, err := parseVector(row[1:4])
	if err != nil {
		return Data[Vector]{}, err
	}
	return Data[Vector]{Value: v, Timestamp: ts}, nil
}

func quaternionCells(q quaternion.Quaternion) []string {
	return []string{formatFloat(q.W), formatFloat(q.X), formatFloat(q.Y), formatFloat(q.Z)}
}

func parseQuaternion(cells []string) (quaternion.Quaternion, error) {
	f, err := parseFloats(cells)
	if err != nil {
		return quaternion.Quaternion{}, err
	}
	return quaternion.Quaternion{W: f[0], X: f[1], Y: f[2], Z: f[3]}, nil
}

// AttitudeOutputConverter converts AttitudeOutput rows.
type AttitudeOutputConverter struct{}

func (AttitudeOutputConverter) Header() []string {
	return []string{"timestamp", "acc_x", "acc_y", "acc_z", "gyro_x", "gyro_y", "gyro_z", "q_w", "q_x", "q_y", "q_z"}
}

func (AttitudeOutputConverter) ToRow(d Data[AttitudeOutput]) []string {
	row := []string{formatFloat(d.Timestamp)}
	row = append(row, vectorCells(d.Value.Acceleration)...)
	row = append(row, vectorCells(d.Value.AngularVelocity)...)
	return append(row, quaternionCells(d.Value.Attitude)...)
}

func (AttitudeOutputConverter) FromRow(row []string) (Data[AttitudeOutput], error) {
	ts, err := envelope(row, 11)
	if err != nil {
		return Data[AttitudeOutput]{}, err
	}
	var a AttitudeOutput
	if a.Acceleration, err = parseVector(row[1:4]); err != nil {
		return Data[AttitudeOutput]{}, err
	}
	if a.AngularVelocity, err = parseVector(row[4:7]); err != nil {
		return Data[AttitudeOutput]{}, err
	}
	if a.Attitude, err = parseQuaternion(row[7:11]); err != nil {
		return Data[AttitudeOutput]{}, err
	}
	return Data[AttitudeOutput]{Value: a, Timestamp: ts}, nil
}

// PositionConverter converts Position rows. A nil attitude is four empty cells.
type PositionConverter struct{}

func (PositionConverter) Header() []string {
	return []string{
		"timestamp",
		"q_w", "q_x", "q_y", "q_z",
		"acc_x", "acc_y", "acc_z",
		"vel_x", "vel_y", "vel_z",
		"pos_x", "pos_y", "pos_z",
	}
}

func (PositionConverter) ToRow(d Data[Position]) []string {
	row := []string{formatFloat(d.Timestamp)}
	if q := d.Value.Attitude; q != nil {
		row = append(row, quaternionCells(*q)...)
	} else {
		row = append(row, "", "", "", "")
	}
	row = append(row, vectorCells(d.Value.Acceleration)...)
	row = append(row, vectorCells(d.Value.Velocity)...)
	return append(row, vectorCells(d.Value.Position)...)
}

func (PositionConverter) FromRow(row []string) (Data[Position], error) {
	ts, err := envelope(row, 14)
	if err != nil {
		return Data[Position]{}, err
	}
	var p Position
	empty, err := allEmpty(row[1:5])
	if err != nil {
		return Data[Position]{}, fmt.Errorf("attitude: %w", err)
	}
	if !empty {
		q, err := parseQuaternion(row[1:5])
		if err != nil {
			return Data[Position]{}, err
		}
		p.Attitude = &q
	}
	if p.Acceleration, err = parseVector(row[5:8]); err != nil {
		return Data[Position]{}, err
	}
	if p.Velocity, err = parseVector(row[8:11]); err != nil {
		return Data[Position]{}, err
	}
	if p.Position, err = parseVector(row[11:14]); err != nil {
		return Data[Position]{}, err
	}
	return Data[Position]{Value: p, Timestamp: ts}, nil
}
