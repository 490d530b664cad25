// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import "sync"

// gate blocks the reader while inbound delivery is suspended.
type gate struct {
	mu   sync.Mutex
	cond *sync.Cond
	open bool
	dead bool
}

func newGate(open bool) *gate {
	g := &gate{open: open}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// set opens or closes the gate. Safe to call repeatedly.
func (g *gate) set(open bool) {
	g.mu.Lock()
	g.open = open
	g.mu.Unlock()
	g.cond.Broadcast()
}

// kill permanently releases all waiters; wait returns false afterwards.
func (g *gate) kill() {
	g.mu.Lock()
	g.dead = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// wait blocks until the gate is open. Returns false if the gate was killed.
func (g *gate) wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.open && !g.dead {
		g.cond.Wait()
	}
	return !g.dead
}
