// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loadgen

import (
	"github.com/absmach/stompbench/dispatch"
	"github.com/absmach/stompbench/transport"
)

// transportDialer adapts the STOMP transport to the Dialer interface.
type transportDialer struct {
	opts transport.Options
}

// NewTransportDialer returns a Dialer connecting with the given options.
func NewTransportDialer(opts transport.Options) Dialer {
	return &transportDialer{opts: opts}
}

func (d *transportDialer) Dial(q *dispatch.Queue, done func(Conn, error)) {
	transport.Dial(q, d.opts, func(c *transport.Conn, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(c, nil)
	})
}
