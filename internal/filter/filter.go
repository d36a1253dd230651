// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter implements the synchronous data filter chain.
//
// A chain is a DAG of nodes. Each node receives Data[In], optionally
// transforms or buffers it, and sends Data[Out] to its receivers in order.
// Delivery is synchronous: Send returns once every receiver (and everything
// downstream of it) has handled the sample. Chains are not safe for
// concurrent use; drive each chain from a single goroutine.
package filter

import (
	"errors"
	"fmt"
	"slices"

	"github.com/relabs-tech/rover_position/internal/data"
)

var (
	// ErrClosed is returned by operations on a node that has been closed.
	ErrClosed = errors.New("filter: node closed")
	// ErrCycle means an Add would make a node receive its own output.
	ErrCycle = errors.New("filter: receiver would create a cycle")
	// ErrPanic wraps a panic recovered from a receiver.
	ErrPanic = errors.New("filter: receiver panicked")
)

// Node is the type-erased view of a chain node, used for search and teardown.
type Node interface {
	Name() string
	Downstream() []Node
	Close()
}

// Receiver is a node that accepts Data[T].
type Receiver[T any] interface {
	Node
	Receive(d data.Data[T]) error
}

// Sender is a node that forwards Data[Out] to receivers.
type Sender[Out any] interface {
	Node
	Add(r Receiver[Out]) Receiver[Out]
	TryAdd(r Receiver[Out]) error
	Remove(r Receiver[Out]) Receiver[Out]
	Send(d data.Data[Out]) error
}

// Filter is a node that receives In and sends Out.
type Filter[In, Out any] interface {
	Receiver[In]
	Sender[Out]
}

// TopologyError reports a rejected Add.
type TopologyError struct {
	Source   string
	Receiver string
	Err      error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("filter: cannot add %q to %q: %v", e.Receiver, e.Source, e.Err)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// Base holds the receiver list of a node. Concrete filters embed it and call
// Init from their constructor so cycle checks and Find know the outer node.
type Base[Out any] struct {
	name      string
	self      Node
	receivers []Receiver[Out]
	closed    bool
}

// Init binds the base to the node that embeds it.
func (b *Base[Out]) Init(self Node, name string) {
	b.self = self
	b.name = name
}

// Name is the logical name used by Find. It may be empty.
func (b *Base[Out]) Name() string { return b.name }

// Closed reports whether Close has been called.
func (b *Base[Out]) Closed() bool { return b.closed }

// Downstream returns the receivers as plain nodes.
func (b *Base[Out]) Downstream() []Node {
	nodes := make([]Node, len(b.receivers))
	for i, r := range b.receivers {
		nodes[i] = r
	}
	return nodes
}

// Receivers returns a copy of the receiver list.
func (b *Base[Out]) Receivers() []Receiver[Out] {
	return slices.Clone(b.receivers)
}

// Add appends r and returns it. It panics with a *TopologyError when r would
// create a cycle or the node is closed; use TryAdd to get the error instead.
// Adding a receiver that is already present does nothing.
func (b *Base[Out]) Add(r Receiver[Out]) Receiver[Out] {
	if err := b.TryAdd(r); err != nil {
		panic(err)
	}
	return r
}

// TryAdd is Add with an error return.
func (b *Base[Out]) TryAdd(r Receiver[Out]) error {
	if b.closed {
		return &TopologyError{Source: b.name, Receiver: r.Name(), Err: ErrClosed}
	}
	if slices.Contains(b.receivers, r) {
		return nil
	}
	if b.self != nil && reaches(r, b.self) {
		return &TopologyError{Source: b.name, Receiver: r.Name(), Err: ErrCycle}
	}
	b.receivers = append(b.receivers, r)
	return nil
}

// Remove drops r from the list if present and returns it. The receiver is not closed.
func (b *Base[Out]) Remove(r Receiver[Out]) Receiver[Out] {
	if i := slices.Index(b.receivers, r); i >= 0 {
		// Copy so a Send in progress keeps iterating its own snapshot.
		b.receivers = slices.Delete(slices.Clone(b.receivers), i, i+1)
	}
	return r
}

// Find searches this node and its receivers depth first for a node called name.
func (b *Base[Out]) Find(name string) Node {
	if b.self != nil {
		return Find(b.self, name)
	}
	for _, r := range b.receivers {
		if n := Find(r, name); n != nil {
			return n
		}
	}
	return nil
}

// Send delivers d to every receiver in list order. A failing receiver does not
// stop delivery to the others; all failures are joined into the result.
func (b *Base[Out]) Send(d data.Data[Out]) error {
	if b.closed {
		return ErrClosed
	}
	var errs []error
	for _, r := range b.receivers {
		if err := deliver(r, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label(r), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every receiver and clears the list. Safe to call more than once.
func (b *Base[Out]) Close() {
	if b.closed {
		return
	}
	b.closed = true
	receivers := b.receivers
	b.receivers = nil
	for _, r := range receivers {
		r.Close()
	}
}

// CheckOpen returns ErrClosed after Close. Concrete Receive methods call it first.
func (b *Base[Out]) CheckOpen() error {
	if b.closed {
		return ErrClosed
	}
	return nil
}

func deliver[T any](r Receiver[T], d data.Data[T]) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return r.Receive(d)
}

func label(n Node) string {
	if name := n.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%T", n)
}

// Find searches n and its subtree depth first for a node called name.
// Unnamed nodes never match.
func Find(n Node, name string) Node {
	if name == "" {
		return nil
	}
	if n.Name() == name {
		return n
	}
	for _, c := range n.Downstream() {
		if found := Find(c, name); found != nil {
			return found
		}
	}
	return nil
}

func reaches(from, target Node) bool {
	if from == target {
		return true
	}
	for _, c := range from.Downstream() {
		if reaches(c, target) {
			return true
		}
	}
	return false
}

// Then adds r to src and returns r with its concrete type, so chains can be
// built inline: Then(Then(a, b), c) wires a → b → c.
func Then[Out any, R Receiver[Out]](src Sender[Out], r R) R {
	src.Add(r)
	return r
}
