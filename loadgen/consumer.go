// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loadgen

import (
	"fmt"
	"time"

	"github.com/absmach/stompbench/frame"
)

// Ack modes.
const (
	AckAuto   = "auto"
	AckClient = "client"
)

// ConsumerOptions configures one consumer client.
type ConsumerOptions struct {
	ClientOptions

	Destination string

	// AckMode is "auto" or "client". In client mode every message is
	// explicitly acknowledged and counted only once the ACK write completes.
	AckMode string

	// Durable registers the subscription under a durable name so broker
	// interest survives disconnects.
	Durable bool

	// Selector optionally filters the subscription.
	Selector string

	// SubscriptionPrefix prefixes the per-client subscription id.
	SubscriptionPrefix string

	// ConsumeDelay simulates processing time per message. In auto-ack mode
	// inbound delivery is suspended for the duration, bounding unprocessed
	// work.
	ConsumeDelay time.Duration
}

// Consumer subscribes on every connect, acknowledges frames as configured,
// and applies consumption delay with inbound backpressure.
type Consumer struct {
	c     *client
	opts  ConsumerOptions
	subID string
}

// NewConsumer builds the consumer.
func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.AckMode != AckAuto && opts.AckMode != AckClient {
		return nil, fmt.Errorf("consumer %q: invalid ack mode %q", opts.Name, opts.AckMode)
	}
	prefix := opts.SubscriptionPrefix
	if prefix == "" {
		prefix = "consumer"
	}
	s := &Consumer{
		c:     newClient(opts.ClientOptions),
		opts:  opts,
		subID: fmt.Sprintf("%s-%d", prefix, opts.ID),
	}
	s.c.reconnect = func() { s.c.open(s.onConnected) }
	return s, nil
}

// Start enters the connect/subscribe lifecycle.
func (s *Consumer) Start() { s.c.start() }

// Shutdown blocks until the consumer has fully stopped. The shared done
// flag must be set first.
func (s *Consumer) Shutdown() { s.c.shutdown() }

// onConnected registers the receive handler and subscribes. It runs before
// the state machine resumes inbound flow, so no message can arrive without
// a handler in place.
func (s *Consumer) onConnected() {
	s.c.registerHandler(s.onMessage)
	s.c.send(s.subscribeFrame(), nil)
}

func (s *Consumer) subscribeFrame() *frame.Frame {
	f := frame.New(frame.CmdSubscribe).
		Add(frame.HdrID, s.subID).
		Add(frame.HdrAck, s.opts.AckMode).
		Add(frame.HdrDestination, s.opts.Destination)
	if s.opts.Durable {
		f.Add(frame.HdrDurable, s.subID)
	}
	if s.opts.Selector != "" {
		f.Add(frame.HdrSelector, s.opts.Selector)
	}
	return f
}

// onMessage handles one inbound frame. With a consumption delay configured,
// auto-ack mode suspends delivery first and resumes it after the delay,
// just before processing; the delayed action stands down if the connection
// changed in the meantime.
func (s *Consumer) onMessage(f *frame.Frame) {
	s.c.queue.Assert()
	if s.opts.ConsumeDelay <= 0 {
		s.process(f)
		return
	}

	auto := s.opts.AckMode == AckAuto
	if auto {
		s.c.suspendInbound()
	}
	live := s.c.state
	s.c.queue.AfterFunc(s.opts.ConsumeDelay, func() {
		if s.c.state != live {
			return
		}
		if auto {
			s.c.resumeInbound()
		}
		s.process(f)
	})
}

func (s *Consumer) process(f *frame.Frame) {
	s.c.messageCounter++
	if s.opts.AckMode == AckClient {
		id, _ := f.Get(frame.HdrMessageID)
		ack := frame.New(frame.CmdAck).
			Add(frame.HdrMessageID, id).
			Add(frame.HdrSubscription, s.subID)
		s.c.send(ack, s.c.counters.IncConsumed)
		return
	}
	s.c.counters.IncConsumed()
}
