// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loadgen

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/absmach/stompbench/frame"
)

// bodyPattern fills producer payloads after the client-identifying prefix.
const bodyPattern = "abcdefghijklmnopqrstuvwxyz0123456789"

// ProducerOptions configures one producer client.
type ProducerOptions struct {
	ClientOptions

	Destination string
	MessageSize int

	// Persistent adds the persistent:true header to every SEND.
	Persistent bool

	// SyncSend requests a receipt for every SEND and waits for it before
	// the next message.
	SyncSend bool

	// Headers are extra headers appended to the template in order.
	Headers []frame.Header

	// MessagesPerConnection closes the connection after this many sends,
	// forcing a fresh reconnect cycle. Zero means never.
	MessagesPerConnection int

	// SendDelay is the pause between sends, scheduled on the client's
	// timer, never a blocking sleep. Zero sends back-to-back.
	SendDelay time.Duration

	// Limiter optionally caps the aggregate send rate. Shared across
	// producers; reservation delays are scheduled on the client's timer.
	Limiter *rate.Limiter
}

// Producer repeatedly sends one immutable template frame, cycling its
// connection per the configured message limit and recovering from any
// transport failure with backoff.
type Producer struct {
	c    *client
	opts ProducerOptions

	template *frame.Frame
}

// NewProducer builds the producer and its message template. The template's
// headers and body are fixed here and reused for every send.
func NewProducer(opts ProducerOptions) (*Producer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &Producer{
		c:        newClient(opts.ClientOptions),
		opts:     opts,
		template: buildTemplate(opts),
	}
	p.c.reconnect = func() { p.c.open(p.writeLoop) }
	return p, nil
}

// Start enters the connect/send lifecycle.
func (p *Producer) Start() { p.c.start() }

// Shutdown blocks until the producer has fully stopped. The shared done
// flag must be set first.
func (p *Producer) Shutdown() { p.c.shutdown() }

func buildTemplate(opts ProducerOptions) *frame.Frame {
	f := frame.New(frame.CmdSend).Add(frame.HdrDestination, opts.Destination)
	if opts.Persistent {
		f.Add(frame.HdrPersistent, "true")
	}
	for _, h := range opts.Headers {
		f.Add(h.Name, h.Value)
	}
	f.Body = buildBody(opts.Name, opts.MessageSize)
	return f
}

// buildBody produces a deterministic payload of exactly size bytes: the
// client name as prefix, then the fixed pattern repeated, truncated to fit.
func buildBody(name string, size int) []byte {
	if size <= 0 {
		return nil
	}
	var b strings.Builder
	b.Grow(size + len(bodyPattern))
	b.WriteString(name)
	b.WriteByte(':')
	for b.Len() < size {
		b.WriteString(bodyPattern)
	}
	return []byte(b.String()[:size])
}

// writeLoop is the per-connection send loop, re-entered after each
// completion. Each iteration checks the done flag first; transport failures
// leave the loop through the state machine's failure path.
func (p *Producer) writeLoop() {
	p.c.queue.Assert()
	if p.c.done.Load() {
		p.c.close()
		return
	}

	if p.opts.Limiter != nil {
		res := p.opts.Limiter.Reserve()
		if d := res.Delay(); d > 0 {
			// A reservation cannot be refunded once its time has passed, so
			// hold no token while waiting: return it now and reserve again
			// at fire time. A cycle that dies mid-wait then leaks nothing.
			res.Cancel()
			live := p.c.state
			p.c.queue.AfterFunc(d, func() {
				if p.c.state == live {
					p.writeLoop()
				}
			})
			return
		}
	}
	p.sendOne()
}

func (p *Producer) sendOne() {
	if p.opts.SyncSend {
		p.c.request(p.template, func(*frame.Frame) { p.afterSend() })
		return
	}
	p.c.send(p.template, p.afterSend)
}

func (p *Producer) afterSend() {
	p.c.counters.IncProduced()
	p.c.messageCounter++

	if p.opts.MessagesPerConnection > 0 && p.c.messageCounter >= p.opts.MessagesPerConnection {
		p.c.close()
		return
	}

	if p.opts.SendDelay > 0 {
		live := p.c.state
		p.c.queue.AfterFunc(p.opts.SendDelay, func() {
			if p.c.state == live {
				p.writeLoop()
			}
		})
		return
	}
	p.writeLoop()
}
