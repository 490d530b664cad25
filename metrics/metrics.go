// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the harness-wide counters. They are the only mutable
// state shared across client contexts, so everything here is safe for
// concurrent increment and read.
package metrics

import "sync/atomic"

// Counters tracks produced, consumed, and failed operations. Values only
// ever increase.
type Counters struct {
	produced atomic.Uint64
	consumed atomic.Uint64
	errors   atomic.Uint64
}

// NewCounters creates a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// IncProduced records one successfully produced message.
func (c *Counters) IncProduced() { c.produced.Add(1) }

// IncConsumed records one successfully consumed message.
func (c *Counters) IncConsumed() { c.consumed.Add(1) }

// IncErrors records one failed operation.
func (c *Counters) IncErrors() { c.errors.Add(1) }

// Produced returns the produced-message total.
func (c *Counters) Produced() uint64 { return c.produced.Load() }

// Consumed returns the consumed-message total.
func (c *Counters) Consumed() uint64 { return c.consumed.Load() }

// Errors returns the failed-operation total.
func (c *Counters) Errors() uint64 { return c.errors.Load() }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Produced uint64
	Consumed uint64
	Errors   uint64
}

// Snapshot reads all three counters. The values are individually consistent,
// not an atomic cross-counter view; that is enough for rate reporting.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Produced: c.Produced(),
		Consumed: c.Consumed(),
		Errors:   c.Errors(),
	}
}
