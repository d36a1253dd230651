// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/rover_position/internal/anchors"
	"github.com/relabs-tech/rover_position/internal/calibration"
)

// ErrSurveyInconsistent means the measured D34 disagrees with the computed
// anchor positions by more than the allowed threshold.
var ErrSurveyInconsistent = errors.New("anchor survey inconsistent")

// AnchorCalibrationOptions are the inputs of the anchor survey tool.
type AnchorCalibrationOptions struct {
	Ranges    anchors.Ranges
	Height    float64
	Addresses [4]uint16
	Threshold float64 // metres; the layout is not saved when |Error34| exceeds it
	Output    string  // empty prints only
}

// ParseAnchorCalibrationFlags reads the survey from command line arguments.
// Ranges come from -d12 … -d34, or from a JSON/YAML file given with -ranges.
func ParseAnchorCalibrationFlags(args []string, stderr io.Writer) (AnchorCalibrationOptions, error) {
	var opts AnchorCalibrationOptions
	fs := flag.NewFlagSet("anchor_calibration", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Float64Var(&opts.Ranges.D12, "d12", 0, "range anchor 1 to 2 (m)")
	fs.Float64Var(&opts.Ranges.D13, "d13", 0, "range anchor 1 to 3 (m)")
	fs.Float64Var(&opts.Ranges.D14, "d14", 0, "range anchor 1 to 4 (m)")
	fs.Float64Var(&opts.Ranges.D23, "d23", 0, "range anchor 2 to 3 (m)")
	fs.Float64Var(&opts.Ranges.D24, "d24", 0, "range anchor 2 to 4 (m)")
	fs.Float64Var(&opts.Ranges.D34, "d34", 0, "range anchor 3 to 4 (m)")
	fs.Float64Var(&opts.Height, "height", 0, "anchor height above the floor (m, required)")
	fs.Float64Var(&opts.Threshold, "threshold", 0.05, "maximum |error34| accepted for saving (m)")
	fs.StringVar(&opts.Output, "out", "", "write the anchor layout to this .json or .yaml file")
	rangesFile := fs.String("ranges", "", "read the six ranges from a .json or .yaml file")
	addresses := fs.String("addresses", "0x0001,0x0002,0x0003,0x0004", "UWB addresses of anchors 1-4")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *rangesFile != "" {
		if err := calibration.Load(*rangesFile, &opts.Ranges); err != nil {
			return opts, err
		}
	}
	addrs, err := parseAddresses(*addresses)
	if err != nil {
		return opts, err
	}
	opts.Addresses = addrs
	if !(opts.Threshold >= 0) {
		return opts, fmt.Errorf("threshold must not be negative, got %v", opts.Threshold)
	}
	return opts, nil
}

func parseAddresses(s string) ([4]uint16, error) {
	var out [4]uint16
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("need 4 anchor addresses, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 0, 16)
		if err != nil {
			return out, fmt.Errorf("anchor %d address %q: %w", i+1, p, err)
		}
		out[i] = uint16(v)
	}
	return out, nil
}

// RunAnchorCalibration computes the anchor layout, prints it to out and
// saves it when the survey is consistent.
func RunAnchorCalibration(opts AnchorCalibrationOptions, out io.Writer) (*calibration.AnchorLayout, error) {
	positions, err := anchors.New(opts.Ranges, opts.Height)
	if err != nil {
		return nil, err
	}
	layout, err := calibration.NewAnchorLayout(opts.Addresses, positions)
	if err != nil {
		return nil, err
	}

	for i, a := range layout.Anchors {
		fmt.Fprintf(out, "anchor %d (0x%04X): x=%8.3f y=%8.3f z=%6.3f\n",
			i+1, a.Address, a.Position.X, a.Position.Y, a.Position.Z)
	}
	fmt.Fprintf(out, "error34: %+.4f m (measured d34 %.3f m)\n", layout.Error34, opts.Ranges.D34)

	if math.Abs(layout.Error34) > opts.Threshold {
		return layout, fmt.Errorf("%w: |error34| %.4f m > %.4f m, remeasure before saving",
			ErrSurveyInconsistent, math.Abs(layout.Error34), opts.Threshold)
	}
	if opts.Output == "" {
		return layout, nil
	}
	if err := calibration.Save(opts.Output, layout); err != nil {
		return layout, err
	}
	fmt.Fprintf(out, "layout written to %s\n", opts.Output)
	return layout, nil
}
