// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides an in-process STOMP broker for tests: enough of
// the protocol to exercise connect, send, subscribe, receipts, and acks,
// plus failure injection.
package testutil

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/absmach/stompbench/frame"
)

// Broker is a minimal in-process STOMP broker.
type Broker struct {
	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[*session]struct{}
	subs  map[string][]*subscription

	msgSeq atomic.Uint64

	// RejectConnects makes the broker answer every CONNECT with ERROR.
	RejectConnects atomic.Bool

	acks     atomic.Uint64
	received atomic.Uint64
}

type session struct {
	conn net.Conn

	wmu sync.Mutex // serializes frame writes
}

type subscription struct {
	sess *session
	id   string
	dest string
	ack  string
}

// Start launches a broker on a random local port.
func Start() (*Broker, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	b := &Broker{
		ln:    ln,
		conns: make(map[*session]struct{}),
		subs:  make(map[string][]*subscription),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

// Addr returns the broker's host and port.
func (b *Broker) Addr() (string, int) {
	addr := b.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// Acks returns how many ACK frames the broker has seen.
func (b *Broker) Acks() uint64 { return b.acks.Load() }

// Received returns how many SEND frames the broker has seen.
func (b *Broker) Received() uint64 { return b.received.Load() }

// Subscriptions returns the number of live subscriptions across sessions.
func (b *Broker) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// DropAll abruptly closes every live connection, simulating a broker-side
// failure. New connections are still accepted.
func (b *Broker) DropAll() {
	b.mu.Lock()
	for s := range b.conns {
		s.conn.Close()
	}
	b.mu.Unlock()
}

// Close stops the broker and all its connections.
func (b *Broker) Close() {
	b.ln.Close()
	b.DropAll()
	b.wg.Wait()
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		s := &session{conn: conn}
		b.mu.Lock()
		b.conns[s] = struct{}{}
		b.mu.Unlock()
		b.wg.Add(1)
		go b.serve(s)
	}
}

func (b *Broker) serve(s *session) {
	defer b.wg.Done()
	defer b.drop(s)

	br := bufio.NewReader(s.conn)
	for {
		f, err := frame.Read(br)
		if err != nil {
			return
		}
		switch f.Command {
		case frame.CmdConnect:
			if b.RejectConnects.Load() {
				s.write(frame.New(frame.CmdError).Add(frame.HdrMessage, "connects rejected"))
				return
			}
			s.write(frame.New(frame.CmdConnected).Add("version", "1.2"))
		case frame.CmdSend:
			b.received.Add(1)
			b.deliver(f)
			b.receipt(s, f)
		case frame.CmdSubscribe:
			b.subscribe(s, f)
			b.receipt(s, f)
		case frame.CmdUnsubscribe:
			b.unsubscribe(s, f)
			b.receipt(s, f)
		case frame.CmdAck:
			b.acks.Add(1)
			b.receipt(s, f)
		case frame.CmdDisconnect:
			b.receipt(s, f)
			return
		}
	}
}

func (b *Broker) receipt(s *session, f *frame.Frame) {
	if id, ok := f.Get(frame.HdrReceipt); ok {
		s.write(frame.New(frame.CmdReceipt).Add(frame.HdrReceiptID, id))
	}
}

func (b *Broker) subscribe(s *session, f *frame.Frame) {
	dest, _ := f.Get(frame.HdrDestination)
	id, _ := f.Get(frame.HdrID)
	ack, ok := f.Get(frame.HdrAck)
	if !ok {
		ack = "auto"
	}
	b.mu.Lock()
	b.subs[dest] = append(b.subs[dest], &subscription{sess: s, id: id, dest: dest, ack: ack})
	b.mu.Unlock()
}

func (b *Broker) unsubscribe(s *session, f *frame.Frame) {
	id, _ := f.Get(frame.HdrID)
	b.mu.Lock()
	for dest, subs := range b.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.sess != s || sub.id != id {
				kept = append(kept, sub)
			}
		}
		b.subs[dest] = kept
	}
	b.mu.Unlock()
}

func (b *Broker) deliver(f *frame.Frame) {
	dest, _ := f.Get(frame.HdrDestination)
	b.mu.Lock()
	subs := append([]*subscription(nil), b.subs[dest]...)
	b.mu.Unlock()

	for _, sub := range subs {
		msg := frame.New(frame.CmdMessage).
			Add(frame.HdrDestination, dest).
			Add(frame.HdrMessageID, fmt.Sprintf("msg-%d", b.msgSeq.Add(1))).
			Add(frame.HdrSubscription, sub.id)
		msg.Body = f.Body
		sub.sess.write(msg)
	}
}

func (b *Broker) drop(s *session) {
	s.conn.Close()
	b.mu.Lock()
	delete(b.conns, s)
	for dest, subs := range b.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.sess != s {
				kept = append(kept, sub)
			}
		}
		b.subs[dest] = kept
	}
	b.mu.Unlock()
}

func (s *session) write(f *frame.Frame) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	f.Write(s.conn)
}
