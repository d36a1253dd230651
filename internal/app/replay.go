// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"

	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
	"github.com/relabs-tech/rover_position/internal/sink"
)

// RunReplay decimates a recorded NineDoF CSV to frequency Hz and writes the
// result to output. The last partial window is flushed. It returns the
// number of input and output rows.
func RunReplay(input, output string, frequency float64) (in, out uint64, err error) {
	f, err := os.Open(input)
	if err != nil {
		return 0, 0, fmt.Errorf("replay: %w", err)
	}
	defer f.Close()

	shift, err := filter.NewFrequencyShiftFilter("replay-shift", frequency)
	if err != nil {
		return 0, 0, err
	}
	rec, err := sink.NewCSVRecorder[data.NineDoFData]("replay-record", output, data.NineDoFConverter{}, 0)
	if err != nil {
		return 0, 0, err
	}
	shift.Add(rec)
	// On early returns closing the shift closes rec, which flushes the file.
	defer shift.Close()

	conv := data.NineDoFConverter{}
	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("replay: read header: %w", err)
	}
	if !slices.Equal(header, conv.Header()) {
		return 0, 0, fmt.Errorf("replay: %s is not a NineDoF recording (header %v)", input, header)
	}

	last := 0.0
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return in, rec.Rows(), fmt.Errorf("replay: line %d: %w", line, err)
		}
		d, err := conv.FromRow(row)
		if err != nil {
			return in, rec.Rows(), fmt.Errorf("replay: line %d: %w", line, err)
		}
		if in > 0 && d.Timestamp < last {
			return in, rec.Rows(), fmt.Errorf("replay: line %d: timestamp %v goes backwards", line, d.Timestamp)
		}
		last = d.Timestamp
		in++
		if err := shift.Receive(d); err != nil {
			return in, rec.Rows(), err
		}
	}
	if err := shift.Flush(); err != nil {
		return in, rec.Rows(), err
	}
	if err := rec.Finish(); err != nil {
		return in, rec.Rows(), fmt.Errorf("replay: %w", err)
	}
	log.Printf("replay: %d rows in, %d rows out at %.2f Hz", in, rec.Rows(), frequency)
	return in, rec.Rows(), nil
}
