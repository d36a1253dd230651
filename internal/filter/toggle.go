// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import (
	"fmt"
	"log"
)

// Builder creates a sub-chain from a command payload.
type Builder[T any] func(payload []byte) (Receiver[T], error)

// Toggle attaches a freshly built sub-chain to a parent on Start and detaches
// and closes it on Stop. Restarting replaces the running sub-chain.
type Toggle[T any] struct {
	name    string
	parent  Sender[T]
	build   Builder[T]
	active  Receiver[T]
	OnStart func()
	OnStop  func()
}

// NewToggle creates a stopped toggle.
func NewToggle[T any](name string, parent Sender[T], build Builder[T]) *Toggle[T] {
	return &Toggle[T]{name: name, parent: parent, build: build}
}

// Active reports whether a sub-chain is attached.
func (t *Toggle[T]) Active() bool { return t.active != nil }

// Start builds and attaches a sub-chain, stopping any previous one.
func (t *Toggle[T]) Start(payload []byte) error {
	t.Stop()
	r, err := t.build(payload)
	if err != nil {
		return fmt.Errorf("%s: build: %w", t.name, err)
	}
	if err := t.parent.TryAdd(r); err != nil {
		r.Close()
		return fmt.Errorf("%s: attach: %w", t.name, err)
	}
	t.active = r
	log.Printf("%s: started", t.name)
	if t.OnStart != nil {
		t.OnStart()
	}
	return nil
}

// Stop detaches and closes the running sub-chain. It does nothing when stopped.
func (t *Toggle[T]) Stop() {
	if t.active == nil {
		return
	}
	t.parent.Remove(t.active).Close()
	t.active = nil
	log.Printf("%s: stopped", t.name)
	if t.OnStop != nil {
		t.OnStop()
	}
}
