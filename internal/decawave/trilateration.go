// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package decawave

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/rover_position/internal/calibration"
	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
)

var (
	// ErrTooFewAnchors means fewer than three usable ranges.
	ErrTooFewAnchors = errors.New("decawave: need at least 3 anchors")
	// ErrDegenerate means the anchors are (nearly) collinear.
	ErrDegenerate = errors.New("decawave: anchor layout is degenerate")
)

// Trilaterate estimates the tag position from anchor positions and ranges.
//
// Subtracting the first range equation from the others gives a linear
// system in X and Y that is solved by least squares. The anchors of a
// floor layout are coplanar, so that system says nothing about height;
// Z is reported as the mean anchor height.
func Trilaterate(anchors []data.Vector, distances []float64) (data.Vector, error) {
	if len(anchors) != len(distances) {
		return data.Vector{}, fmt.Errorf("decawave: %d anchors but %d distances", len(anchors), len(distances))
	}
	n := len(anchors)
	if n < 3 {
		return data.Vector{}, fmt.Errorf("%w, got %d", ErrTooFewAnchors, n)
	}

	a0, d0 := anchors[0], distances[0]
	k0 := a0.X*a0.X + a0.Y*a0.Y
	A := mat.NewDense(n-1, 2, nil)
	b := mat.NewVecDense(n-1, nil)
	z := a0.Z
	for i := 1; i < n; i++ {
		ai, di := anchors[i], distances[i]
		A.Set(i-1, 0, 2*(ai.X-a0.X))
		A.Set(i-1, 1, 2*(ai.Y-a0.Y))
		b.SetVec(i-1, d0*d0-di*di+ai.X*ai.X+ai.Y*ai.Y-k0)
		z += ai.Z
	}

	// Rank check: collinear anchors leave the solution undefined.
	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDNone) {
		return data.Vector{}, ErrDegenerate
	}
	if rank := svd.Rank(1e-9); rank < 2 {
		return data.Vector{}, ErrDegenerate
	}

	var x mat.VecDense
	if err := x.SolveVec(A, b); err != nil {
		return data.Vector{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	return data.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: z / float64(n)}, nil
}

// TrilaterationFilter replaces the tag's own fix with one computed from the
// surveyed anchor layout and corrected ranges. Anchors missing from the
// layout are ignored. When no fix can be computed the tag's fix is
// forwarded and the error returned.
type TrilaterationFilter struct {
	filter.Base[LocationResponse]
	layout      *calibration.AnchorLayout
	scaler      *calibration.RangeScaler
	temperature float64
}

// NewTrilaterationFilter wraps layout and scaler. Both are read on every
// sample, so a reloaded calibration applies immediately.
func NewTrilaterationFilter(name string, layout *calibration.AnchorLayout, scaler *calibration.RangeScaler) *TrilaterationFilter {
	f := &TrilaterationFilter{layout: layout, scaler: scaler, temperature: scaler.ReferenceTemperature}
	f.Init(f, name)
	return f
}

// SetTemperature sets the ambient temperature used for range correction.
func (f *TrilaterationFilter) SetTemperature(celsius float64) { f.temperature = celsius }

func (f *TrilaterationFilter) Receive(d data.Data[LocationResponse]) error {
	if err := f.CheckOpen(); err != nil {
		return err
	}
	in := d.Value
	out := LocationResponse{Tag: in.Tag, TagQuality: in.TagQuality}
	var (
		positions []data.Vector
		distances []float64
	)
	for _, a := range in.Anchors {
		pos, ok := f.layout.Position(a.Address)
		if !ok {
			out.Anchors = append(out.Anchors, a)
			continue
		}
		a.Position = pos
		a.Distance = f.scaler.Scale(a.Distance, f.temperature)
		out.Anchors = append(out.Anchors, a)
		positions = append(positions, pos)
		distances = append(distances, a.Distance)
	}

	tag, err := Trilaterate(positions, distances)
	if err == nil {
		out.Tag = tag
	} else {
		err = fmt.Errorf("trilaterate: %w", err)
	}
	return errors.Join(err, f.Send(data.New(out, d.Timestamp)))
}

// NewToVector extracts the tag position.
func NewToVector(name string) *filter.Map[LocationResponse, data.Vector] {
	return filter.NewMap[LocationResponse, data.Vector](name, func(d data.Data[LocationResponse]) (data.Data[data.Vector], bool) {
		return data.New(d.Value.Tag, d.Timestamp), true
	})
}

// NewToPosition wraps a position vector as a Position without attitude.
func NewToPosition(name string) *filter.Map[data.Vector, data.Position] {
	return filter.NewMap[data.Vector, data.Position](name, func(d data.Data[data.Vector]) (data.Data[data.Position], bool) {
		return data.New(data.Position{Position: d.Value}, d.Timestamp), true
	})
}
