// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/tls"
	"errors"
	"time"
)

// Default values.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWSPath         = "/stomp"
)

// Transport errors.
var (
	ErrClosed          = errors.New("connection closed")
	ErrNoHost          = errors.New("no broker host configured")
	ErrHandshakeFailed = errors.New("STOMP handshake failed")
	ErrNotConnectedYet = errors.New("handler registered before CONNECTED")
	ErrReceiptMismatch = errors.New("RECEIPT with unknown receipt-id")
)

// Options configures a broker connection.
type Options struct {
	Host     string
	Port     int
	Login    string
	Passcode string

	// Vhost is the CONNECT host header; defaults to Host.
	Vhost string

	// ClientID names the connection to the broker, required for durable
	// subscription state to survive reconnects.
	ClientID string

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// WebSocket switches the connection to STOMP-over-WebSocket.
	WebSocket bool
	WSPath    string

	ConnectTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Vhost == "" {
		out.Vhost = out.Host
	}
	if out.WSPath == "" {
		out.WSPath = DefaultWSPath
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	return out
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Host == "" {
		return ErrNoHost
	}
	return nil
}
