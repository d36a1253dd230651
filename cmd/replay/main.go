// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/rover_position/internal/app"
)

func main() {
	in := flag.String("in", "", "NineDoF CSV recording to replay")
	out := flag.String("out", "replay.csv", "output CSV")
	freq := flag.Float64("frequency", 10, "output rate in Hz")
	flag.Parse()

	if *in == "" {
		log.Fatal("-in is required")
	}
	if _, _, err := app.RunReplay(*in, *out, *freq); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
