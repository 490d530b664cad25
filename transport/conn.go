// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/absmach/stompbench/dispatch"
	"github.com/absmach/stompbench/frame"
)

// BrokerError is an ERROR frame received from the broker.
type BrokerError struct {
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error: %s", e.Message)
}

func brokerError(f *frame.Frame) error {
	msg, _ := f.Get(frame.HdrMessage)
	if msg == "" && len(f.Body) > 0 {
		msg = string(f.Body)
	}
	if msg == "" {
		msg = "unspecified"
	}
	return &BrokerError{Message: msg}
}

type writeReq struct {
	frame *frame.Frame
	done  func(error)
}

// Conn is an established STOMP connection. All callbacks run on the owning
// dispatch queue; write ordering follows submission order. Inbound MESSAGE
// delivery starts suspended until the first Resume.
type Conn struct {
	q   *dispatch.Queue
	rwc deadlineRWC
	br  *bufio.Reader

	writeCh chan writeReq
	stopCh  chan struct{}

	readerDone chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	flow *gate

	mu         sync.Mutex
	closed     bool
	onFrame    func(*frame.Frame)
	onError    func(error)
	pendingErr error
	errOnce    sync.Once
	receipts   map[string]func(*frame.Frame, error)
}

func newConn(q *dispatch.Queue, rwc deadlineRWC, br *bufio.Reader) *Conn {
	return &Conn{
		q:          q,
		rwc:        rwc,
		br:         br,
		writeCh:    make(chan writeReq, 64),
		stopCh:     make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		flow:       newGate(false),
		receipts:   make(map[string]func(*frame.Frame, error)),
	}
}

// OnFrame registers the inbound MESSAGE handler. Must be set before Resume.
func (c *Conn) OnFrame(fn func(*frame.Frame)) {
	c.q.Assert()
	c.mu.Lock()
	c.onFrame = fn
	c.mu.Unlock()
}

// OnError registers the asynchronous failure handler. It fires at most once,
// for read/write errors and broker ERROR frames, and never after Close. A
// failure that arrived before registration is delivered now.
func (c *Conn) OnError(fn func(error)) {
	c.q.Assert()
	c.mu.Lock()
	c.onError = fn
	err := c.pendingErr
	c.pendingErr = nil
	c.mu.Unlock()
	if err != nil {
		c.deliverError(err)
	}
}

// Send writes the frame and completes done on the queue once the write
// finished or failed.
func (c *Conn) Send(f *frame.Frame, done func(error)) {
	c.q.Assert()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if done != nil {
			c.q.Dispatch(func() { done(ErrClosed) })
		}
		return
	}
	c.mu.Unlock()

	select {
	case c.writeCh <- writeReq{frame: f, done: done}:
	case <-c.stopCh:
		if done != nil {
			c.q.Dispatch(func() { done(ErrClosed) })
		}
	}
}

// Request sends the frame with a receipt header and completes done with the
// correlated RECEIPT frame.
func (c *Conn) Request(f *frame.Frame, done func(*frame.Frame, error)) {
	c.q.Assert()

	id := uuid.NewString()
	req := f.Clone().Set(frame.HdrReceipt, id)

	c.mu.Lock()
	c.receipts[id] = done
	c.mu.Unlock()

	c.Send(req, func(err error) {
		if err == nil {
			return
		}
		c.mu.Lock()
		cb, ok := c.receipts[id]
		delete(c.receipts, id)
		c.mu.Unlock()
		if ok && cb != nil {
			cb(nil, err)
		}
	})
}

// Suspend halts inbound MESSAGE delivery. While suspended the reader also
// stops draining the socket, so backpressure reaches the broker. Idempotent.
func (c *Conn) Suspend() {
	c.q.Assert()
	c.flow.set(false)
}

// Resume re-enables inbound MESSAGE delivery. Idempotent.
func (c *Conn) Resume() {
	c.q.Assert()
	c.flow.set(true)
}

// Close tears the connection down and runs done on the queue once the reader
// and writer have exited. Pending sends and requests complete with ErrClosed;
// no error callback fires for the teardown itself.
func (c *Conn) Close(done func()) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		go func() {
			close(c.stopCh)
			c.rwc.Close()
			c.flow.kill()
			<-c.writerDone
			<-c.readerDone
			c.failReceipts(ErrClosed)
			if done != nil {
				c.q.Dispatch(done)
			}
		}()
	})
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.stopCh:
			c.drainWrites()
			return
		case req := <-c.writeCh:
			err := req.frame.Write(c.rwc)
			if req.done != nil {
				c.q.Dispatch(func() { req.done(err) })
			}
			if err != nil {
				c.deliverError(err)
				c.drainWrites()
				return
			}
		}
	}
}

// drainWrites completes queued writes that will never reach the wire.
func (c *Conn) drainWrites() {
	for {
		select {
		case req := <-c.writeCh:
			if req.done != nil {
				c.q.Dispatch(func() { req.done(ErrClosed) })
			}
		default:
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.readerDone)
	for {
		f, err := frame.Read(c.br)
		if err != nil {
			c.deliverError(err)
			return
		}

		switch f.Command {
		case frame.CmdMessage:
			if !c.flow.wait() {
				return
			}
			c.mu.Lock()
			fn := c.onFrame
			c.mu.Unlock()
			if fn != nil {
				c.q.Dispatch(func() { fn(f) })
			}
		case frame.CmdReceipt:
			c.handleReceipt(f)
		case frame.CmdError:
			c.deliverError(brokerError(f))
			return
		default:
			// CONNECTED after handshake or unknown commands: ignore.
		}
	}
}

func (c *Conn) handleReceipt(f *frame.Frame) {
	id, _ := f.Get(frame.HdrReceiptID)
	c.mu.Lock()
	cb, ok := c.receipts[id]
	delete(c.receipts, id)
	c.mu.Unlock()
	if !ok {
		c.deliverError(fmt.Errorf("%w: %q", ErrReceiptMismatch, id))
		return
	}
	if cb != nil {
		c.q.Dispatch(func() { cb(f, nil) })
	}
}

func (c *Conn) failReceipts(err error) {
	c.mu.Lock()
	pending := c.receipts
	c.receipts = make(map[string]func(*frame.Frame, error))
	c.mu.Unlock()
	for _, cb := range pending {
		if cb != nil {
			cb := cb
			c.q.Dispatch(func() { cb(nil, err) })
		}
	}
}

// deliverError routes an asynchronous failure to the registered handler,
// once, and only if the connection was not locally closed. With no handler
// registered yet the error is held for delivery at registration time, so a
// failure in the window between handshake and handler setup is not lost.
func (c *Conn) deliverError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fn := c.onError
	if fn == nil {
		if c.pendingErr == nil {
			c.pendingErr = err
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.errOnce.Do(func() {
		c.q.Dispatch(func() { fn(err) })
	})
}
