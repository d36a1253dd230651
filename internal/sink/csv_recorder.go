// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sink holds chain nodes that move samples out of the process:
// CSV files, MQTT topics and websocket clients. Every sink also forwards
// what it receives, so it can sit in the middle of a chain.
package sink

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"log"
	"os"

	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
)

// CSVRecorder writes every sample to a CSV file for a limited span of sample time.
type CSVRecorder[T any] struct {
	filter.Base[T]
	conv     data.RowConverter[T]
	path     string
	duration float64

	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer

	first   float64
	started bool
	done    bool
	rows    uint64
}

// NewCSVRecorder creates path and writes the header row. Recording stops
// once a sample is more than duration seconds newer than the first one;
// a duration of zero or less records until Close.
func NewCSVRecorder[T any](name, path string, conv data.RowConverter[T], duration float64) (*CSVRecorder[T], error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv create %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	cw := csv.NewWriter(bw)
	if err := cw.Write(conv.Header()); err != nil {
		f.Close()
		return nil, fmt.Errorf("csv write header: %w", err)
	}
	r := &CSVRecorder[T]{
		conv:     conv,
		path:     path,
		duration: duration,
		file:     f,
		buf:      bw,
		csv:      cw,
	}
	r.Init(r, name)
	log.Printf("record: writing %s for %.1fs", path, duration)
	return r, nil
}

// Rows is the number of data rows written.
func (r *CSVRecorder[T]) Rows() uint64 { return r.rows }

// Recording reports whether rows are still being written.
func (r *CSVRecorder[T]) Recording() bool { return !r.done }

func (r *CSVRecorder[T]) Receive(d data.Data[T]) error {
	if err := r.CheckOpen(); err != nil {
		return err
	}
	if !r.done {
		if !r.started {
			r.started = true
			r.first = d.Timestamp
		}
		if r.duration > 0 && d.Timestamp-r.first > r.duration {
			if err := r.finish(); err != nil {
				return err
			}
		} else if err := r.csv.Write(r.conv.ToRow(d)); err != nil {
			return fmt.Errorf("csv write %s: %w", r.path, err)
		} else {
			r.rows++
		}
	}
	return r.Send(d)
}

// Finish flushes and closes the file, returning any write error. Later
// samples are only forwarded. Safe to call more than once.
func (r *CSVRecorder[T]) Finish() error { return r.finish() }

// Close flushes the file and closes downstream nodes. Callers that need the
// flush error call Finish first.
func (r *CSVRecorder[T]) Close() {
	if err := r.finish(); err != nil {
		log.Printf("record: %v", err)
	}
	r.Base.Close()
}

func (r *CSVRecorder[T]) finish() error {
	if r.done {
		return nil
	}
	r.done = true
	r.csv.Flush()
	err := r.csv.Error()
	if ferr := r.buf.Flush(); err == nil {
		err = ferr
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("csv close %s: %w", r.path, err)
	}
	log.Printf("record: finished %s (%d rows)", r.path, r.rows)
	return nil
}
