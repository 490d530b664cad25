// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package loadgen implements the load-generation clients: a per-client
// connection lifecycle state machine with reconnect backoff, and producer
// and consumer message-flow loops built on top of it. Each client owns a
// dispatch queue; all of its state lives on that queue, and every operation
// here asserts it is running there. Transport failures are recoverable and
// feed the shared error counter; calling into a client from the wrong
// context or in the wrong state panics.
package loadgen

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/stompbench/dispatch"
	"github.com/absmach/stompbench/frame"
	"github.com/absmach/stompbench/metrics"
)

// ReconnectDelay is the fixed backoff applied after the first failure, for
// every subsequent reconnect, until the client is reconstructed.
const ReconnectDelay = 1000 * time.Millisecond

// Conn is the transport surface the state machine drives. All callbacks
// re-enter the client's dispatch queue; inbound delivery starts suspended.
type Conn interface {
	Send(f *frame.Frame, done func(error))
	Request(f *frame.Frame, done func(*frame.Frame, error))
	OnFrame(fn func(*frame.Frame))
	OnError(fn func(error))
	Suspend()
	Resume()
	Close(done func())
}

// Dialer opens broker connections, completing on the given queue.
type Dialer interface {
	Dial(q *dispatch.Queue, done func(Conn, error))
}

// ClientOptions configures the pieces shared by producers and consumers.
type ClientOptions struct {
	ID       int
	Name     string
	Queue    *dispatch.Queue
	Dialer   Dialer
	Counters *metrics.Counters
	Logger   *slog.Logger

	// Done is the process-wide shutdown flag, set once by the orchestrator
	// and checked cooperatively at loop boundaries.
	Done *atomic.Bool

	// DisplayErrors logs each transport failure; the error counter always
	// counts them either way.
	DisplayErrors bool
}

func (o *ClientOptions) validate() error {
	if o.Queue == nil {
		return fmt.Errorf("client %q: nil queue", o.Name)
	}
	if o.Dialer == nil {
		return fmt.Errorf("client %q: nil dialer", o.Name)
	}
	if o.Counters == nil {
		return fmt.Errorf("client %q: nil counters", o.Name)
	}
	if o.Done == nil {
		return fmt.Errorf("client %q: nil done flag", o.Name)
	}
	return nil
}

// client is the connection lifecycle state machine. Producers and consumers
// embed one and supply the reconnect action run on each DISCONNECTED entry.
type client struct {
	id       int
	name     string
	queue    *dispatch.Queue
	dialer   Dialer
	counters *metrics.Counters
	logger   *slog.Logger
	done     *atomic.Bool
	display  bool

	state          clientState
	messageCounter int
	reconnectDelay time.Duration

	// reconnect is the role-specific action invoked from DISCONNECTED when
	// the done flag is not set. It calls open again.
	reconnect func()

	stopped  chan struct{}
	stopOnce sync.Once
}

func newClient(o ClientOptions) *client {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		id:       o.ID,
		name:     o.Name,
		queue:    o.Queue,
		dialer:   o.Dialer,
		counters: o.Counters,
		logger:   logger,
		done:     o.Done,
		display:  o.DisplayErrors,
		state:    stInit,
		stopped:  make(chan struct{}),
	}
}

// start enters the lifecycle: INIT -> DISCONNECTED, whose entry action
// kicks off the first connection attempt.
func (c *client) start() {
	c.queue.Dispatch(func() {
		if _, ok := c.state.(*stateInit); !ok {
			panic("loadgen: " + c.name + " started twice")
		}
		c.toDisconnected()
	})
}

// shutdown asks the client to stop and blocks until it reaches
// DISCONNECTED with the done flag observed. The done flag must already be
// set; shutdown without it would just trigger another reconnect.
func (c *client) shutdown() {
	if !c.done.Load() {
		panic("loadgen: " + c.name + " shutdown requested before done flag set")
	}
	c.queue.Dispatch(func() {
		switch c.state.(type) {
		case *stateInit, *stateDisconnected:
			c.signalStopped()
		default:
			c.close()
		}
	})
	<-c.stopped
}

func (c *client) signalStopped() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// open starts a connection attempt. Only legal from DISCONNECTED; anything
// else is a bug in the calling loop. The first attempt connects
// immediately; after a failure the attempt waits out the backoff, and at
// fire time proceeds only if this exact attempt is still the live state.
func (c *client) open(onComplete func()) {
	c.queue.Assert()
	if _, ok := c.state.(*stateDisconnected); !ok {
		panic("loadgen: " + c.name + " open while " + stateName(c.state))
	}

	attempt := &stateConnecting{onComplete: onComplete}
	c.state = attempt

	if c.reconnectDelay <= 0 {
		c.connect(attempt)
		return
	}
	c.queue.AfterFunc(c.reconnectDelay, func() {
		if clientState(attempt) != c.state {
			// Superseded while waiting: the client was closed, and possibly
			// reopened as a different attempt. Stand down.
			return
		}
		c.connect(attempt)
	})
}

func (c *client) connect(attempt *stateConnecting) {
	c.dialer.Dial(c.queue, func(conn Conn, err error) {
		if clientState(attempt) != c.state {
			// The attempt was abandoned while the dial was in flight; if it
			// produced a connection anyway, it is orphaned. Kill it.
			if conn != nil {
				conn.Close(nil)
			}
			return
		}
		if err != nil {
			c.onFailure(err)
			return
		}
		c.onConnectSuccess(attempt, conn)
	})
}

func (c *client) onConnectSuccess(attempt *stateConnecting, conn Conn) {
	live := &stateConnected{conn: conn}
	c.state = live
	// The per-cycle message count starts over with each connection, however
	// the previous cycle ended.
	c.messageCounter = 0
	conn.OnError(func(err error) {
		if clientState(live) == c.state {
			c.onFailure(err)
		}
	})
	if attempt.onComplete != nil {
		attempt.onComplete()
	}
	conn.Resume()
}

// onFailure handles any transport failure while connecting or connected:
// count it, arm the backoff, and fall back to DISCONNECTED via close.
func (c *client) onFailure(err error) {
	c.queue.Assert()
	switch c.state.(type) {
	case *stateConnecting, *stateConnected:
	default:
		return
	}
	c.counters.IncErrors()
	if c.display {
		c.logger.Error("client failure", "client", c.name, "state", stateName(c.state), "error", err)
	}
	c.reconnectDelay = ReconnectDelay
	c.close()
}

// close leaves the current connection cycle. From CONNECTING the pending
// attempt is abandoned on the spot; from CONNECTED the transport close runs
// asynchronously and DISCONNECTED is entered once it completes. Elsewhere
// it is a no-op.
func (c *client) close() {
	c.queue.Assert()
	switch st := c.state.(type) {
	case *stateConnecting:
		c.toDisconnected()
	case *stateConnected:
		c.state = stClosing
		st.conn.Close(func() {
			c.toDisconnected()
		})
	default:
	}
}

func (c *client) toDisconnected() {
	c.state = stDisconnected
	if c.done.Load() {
		c.signalStopped()
		return
	}
	c.reconnect()
}

// send writes a frame fire-and-forget. Silently a no-op unless CONNECTED.
// onComplete runs only if the same connection is still live when the write
// finishes; write errors route to onFailure.
func (c *client) send(f *frame.Frame, onComplete func()) {
	c.queue.Assert()
	st, ok := c.state.(*stateConnected)
	if !ok {
		return
	}
	st.conn.Send(f, func(err error) {
		if clientState(st) != c.state {
			return
		}
		if err != nil {
			c.onFailure(err)
			return
		}
		if onComplete != nil {
			onComplete()
		}
	})
}

// request writes a frame expecting a correlated reply. Same staleness and
// failure rules as send.
func (c *client) request(f *frame.Frame, onReply func(*frame.Frame)) {
	c.queue.Assert()
	st, ok := c.state.(*stateConnected)
	if !ok {
		return
	}
	st.conn.Request(f, func(reply *frame.Frame, err error) {
		if clientState(st) != c.state {
			return
		}
		if err != nil {
			c.onFailure(err)
			return
		}
		if onReply != nil {
			onReply(reply)
		}
	})
}

func (c *client) registerHandler(fn func(*frame.Frame)) {
	c.queue.Assert()
	if st, ok := c.state.(*stateConnected); ok {
		st.conn.OnFrame(fn)
	}
}

func (c *client) suspendInbound() {
	c.queue.Assert()
	if st, ok := c.state.(*stateConnected); ok {
		st.conn.Suspend()
	}
}

func (c *client) resumeInbound() {
	c.queue.Assert()
	if st, ok := c.state.(*stateConnected); ok {
		st.conn.Resume()
	}
}
