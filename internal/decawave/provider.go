// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package decawave

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/rover_position/internal/data"
)

var (
	// ErrNotPolled is returned by Get when no successful Poll preceded it.
	ErrNotPolled = errors.New("decawave: get without a successful poll")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("decawave: provider closed")
)

// Provider asks the tag for a fix once per update interval.
type Provider struct {
	port     io.ReadWriteCloser
	clock    data.Clock
	interval time.Duration
	next     time.Time
	now      func() time.Time
	sleep    func(time.Duration)

	polled bool
	closed bool
}

// Open opens the tag UART. interval should match the tag's configured
// update rate.
func Open(portName string, baud uint, interval time.Duration, clock data.Clock) (*Provider, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 500, // ms; a silent tag must not block Get forever
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("decawave: open %s: %w", portName, err)
	}
	log.Printf("decawave: serial port opened on %s at %d baud", portName, baud)
	return NewProvider(port, interval, clock), nil
}

// NewProvider talks to a tag over an already open port.
func NewProvider(port io.ReadWriteCloser, interval time.Duration, clock data.Clock) *Provider {
	return &Provider{
		port:     port,
		clock:    clock,
		interval: interval,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Poll waits until the next update is due, or returns false after timeout.
func (p *Provider) Poll(timeout time.Duration) bool {
	if p.closed {
		return false
	}
	now := p.now()
	if p.next.IsZero() {
		p.next = now
	}
	wait := p.next.Sub(now)
	if wait > timeout {
		p.sleep(timeout)
		return false
	}
	if wait > 0 {
		p.sleep(wait)
	}
	p.next = p.next.Add(p.interval)
	if behind := p.now().Sub(p.next); behind > 0 {
		// Fell behind by more than one interval; resynchronise.
		p.next = p.now().Add(p.interval)
	}
	p.polled = true
	return true
}

// Get requests and decodes the tag's current location. The sample is
// stamped when the reply has been read.
func (p *Provider) Get() (data.Data[LocationResponse], error) {
	if p.closed {
		return data.Data[LocationResponse]{}, ErrClosed
	}
	if !p.polled {
		return data.Data[LocationResponse]{}, ErrNotPolled
	}
	p.polled = false

	if _, err := p.port.Write(LocGetRequest); err != nil {
		return data.Data[LocationResponse]{}, fmt.Errorf("decawave: write request: %w", err)
	}
	resp, skipped, err := ReadLocationSync(p.port)
	if skipped > 0 {
		log.Printf("decawave: skipped %d stale bytes before reply", skipped)
	}
	if err != nil {
		return data.Data[LocationResponse]{}, err
	}
	return data.New(resp, p.clock.Now()), nil
}

// Close closes the port. Safe to call more than once.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}
