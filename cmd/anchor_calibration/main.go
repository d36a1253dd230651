// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/anchor_calibration/main.go
//
// Computes UWB anchor positions from the six tape-measured anchor-to-anchor
// ranges of a roughly rectangular layout. Anchors are numbered 1 to 4 going
// around the rectangle; anchor 1 is the origin and anchor 2 lies on +X.
//
// Run:
//
//	go run ./cmd/anchor_calibration -d12 3.88 -d23 3.65 -d34 3.71 -d14 4.975 \
//	    -d13 5.04 -d24 6.28 -height 0.07 -addresses 0x1A01,0x1A02,0x1A03,0x1A04 \
//	    -out anchors.yaml
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/rover_position/internal/app"
)

func main() {
	opts, err := app.ParseAnchorCalibrationFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}

	if _, err := app.RunAnchorCalibration(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
