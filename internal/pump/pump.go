// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pump runs a data provider's poll/get cycle on its own goroutine
// and hands the samples to whoever drives the filter chain.
package pump

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/rover_position/internal/data"
)

// ErrTooManyErrors is returned by Run when the provider keeps failing.
var ErrTooManyErrors = errors.New("pump: too many consecutive errors")

// Provider is the poll/get contract shared by the IMU and UWB providers.
type Provider[T any] interface {
	Poll(timeout time.Duration) bool
	Get() (data.Data[T], error)
	Close() error
}

// Pump polls a provider until its context is cancelled.
type Pump[T any] struct {
	Name                 string
	Provider             Provider[T]
	PollTimeout          time.Duration
	MaxConsecutiveErrors int           // 0 means never give up
	RetryDelay           time.Duration // pause after a failed Get
}

// New returns a pump with a 10-error limit and no retry delay.
func New[T any](name string, p Provider[T], pollTimeout time.Duration) *Pump[T] {
	return &Pump[T]{
		Name:                 name,
		Provider:             p,
		PollTimeout:          pollTimeout,
		MaxConsecutiveErrors: 10,
	}
}

// Run sends every sample to out. Poll timeouts are skipped, Get errors are
// logged and retried. Run returns ctx.Err() on cancellation, or an error
// wrapping ErrTooManyErrors and the last failure. The provider is closed
// before Run returns; out is not.
func (p *Pump[T]) Run(ctx context.Context, out chan<- data.Data[T]) error {
	defer func() {
		if err := p.Provider.Close(); err != nil {
			log.Printf("%s: close: %v", p.Name, err)
		}
	}()

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.Provider.Poll(p.PollTimeout) {
			continue
		}
		d, err := p.Provider.Get()
		if err != nil {
			failures++
			log.Printf("%s: read error (%d in a row): %v", p.Name, failures, err)
			if p.MaxConsecutiveErrors > 0 && failures >= p.MaxConsecutiveErrors {
				return fmt.Errorf("%w (%s): %w", ErrTooManyErrors, p.Name, err)
			}
			if p.RetryDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.RetryDelay):
				}
			}
			continue
		}
		failures = 0
		select {
		case out <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
