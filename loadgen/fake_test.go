// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loadgen

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/absmach/stompbench/dispatch"
	"github.com/absmach/stompbench/frame"
)

var (
	errDialRefused = errors.New("dial refused")
	errInjected    = errors.New("injected failure")
)

// fakeConn is an in-memory Conn. In auto mode writes complete immediately
// (as a separate queue task, like the real transport); in manual mode the
// test completes them explicitly to control interleaving.
type fakeConn struct {
	q      *dispatch.Queue
	dialer *fakeDialer
	manual bool

	mu       sync.Mutex
	sends    []*frame.Frame
	requests []*frame.Frame
	pending  []func(error) // manual-mode completions, FIFO
	onFrame  func(*frame.Frame)
	onError  func(error)
	closed   bool

	suspends atomic.Int32
	resumes  atomic.Int32
}

func (c *fakeConn) Send(f *frame.Frame, done func(error)) {
	c.mu.Lock()
	c.sends = append(c.sends, f)
	if c.manual {
		c.pending = append(c.pending, done)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if done != nil {
		c.q.Dispatch(func() { done(nil) })
	}
}

func (c *fakeConn) Request(f *frame.Frame, done func(*frame.Frame, error)) {
	c.mu.Lock()
	c.requests = append(c.requests, f)
	if c.manual {
		c.pending = append(c.pending, func(err error) {
			if err != nil {
				done(nil, err)
				return
			}
			done(frame.New(frame.CmdReceipt), nil)
		})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if done != nil {
		c.q.Dispatch(func() { done(frame.New(frame.CmdReceipt), nil) })
	}
}

func (c *fakeConn) OnFrame(fn func(*frame.Frame)) {
	c.mu.Lock()
	c.onFrame = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *fakeConn) Suspend() { c.suspends.Add(1) }
func (c *fakeConn) Resume()  { c.resumes.Add(1) }

func (c *fakeConn) Close(done func()) {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !wasClosed && c.dialer != nil {
		c.dialer.live.Add(-1)
	}
	if done != nil {
		c.q.Dispatch(done)
	}
}

// completeNext finishes the oldest pending manual write on the queue.
func (c *fakeConn) completeNext(err error) {
	c.q.Dispatch(func() {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		done := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		if done != nil {
			done(err)
		}
	})
}

func (c *fakeConn) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *fakeConn) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeConn) sentFrame(i int) *frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.sends) {
		return nil
	}
	return c.sends[i]
}

// deliver injects an inbound frame, entering the queue like the transport's
// reader would.
func (c *fakeConn) deliver(f *frame.Frame) {
	c.q.Dispatch(func() {
		c.mu.Lock()
		fn := c.onFrame
		c.mu.Unlock()
		if fn != nil {
			fn(f)
		}
	})
}

// fail injects an asynchronous transport failure.
func (c *fakeConn) fail(err error) {
	c.q.Dispatch(func() {
		c.mu.Lock()
		fn := c.onError
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

// fakeDialer hands out fakeConns, optionally failing the first attempts,
// and tracks how many connections are live at once. A non-nil hold channel
// delays every dial completion until the channel is signaled.
type fakeDialer struct {
	manual bool
	hold   chan struct{}

	mu        sync.Mutex
	failFirst int
	conns     []*fakeConn

	attempts atomic.Int32
	live     atomic.Int32
	maxLive  atomic.Int32
}

func (d *fakeDialer) Dial(q *dispatch.Queue, done func(Conn, error)) {
	d.attempts.Add(1)

	d.mu.Lock()
	if d.failFirst > 0 {
		d.failFirst--
		d.mu.Unlock()
		q.Dispatch(func() { done(nil, errDialRefused) })
		return
	}
	conn := &fakeConn{q: q, dialer: d, manual: d.manual}
	d.conns = append(d.conns, conn)
	hold := d.hold
	d.mu.Unlock()

	if n := d.live.Add(1); n > d.maxLive.Load() {
		d.maxLive.Store(n)
	}
	if hold != nil {
		go func() {
			<-hold
			q.Dispatch(func() { done(conn, nil) })
		}()
		return
	}
	q.Dispatch(func() { done(conn, nil) })
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
