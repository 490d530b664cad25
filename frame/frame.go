// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the STOMP 1.2 frame model: a command token, an
// ordered list of header name/value pairs, and a byte body.
package frame

// STOMP commands.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdAck         = "ACK"
	CmdNack        = "NACK"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// Well-known header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrLogin         = "login"
	HdrPasscode      = "passcode"
	HdrDestination   = "destination"
	HdrContentLength = "content-length"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrID            = "id"
	HdrAck           = "ack"
	HdrSelector      = "selector"
	HdrPersistent    = "persistent"
	HdrMessageID     = "message-id"
	HdrSubscription  = "subscription"
	HdrDurable       = "durable-subscription-name"
	HdrClientID      = "client-id"
	HdrMessage       = "message"
)

// Header is a single name/value pair. Values are opaque strings.
type Header struct {
	Name  string
	Value string
}

// Frame is one STOMP protocol message unit.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// New creates a frame with the given command and no headers or body.
func New(command string) *Frame {
	return &Frame{Command: command}
}

// Add appends a header, preserving order and allowing duplicates.
func (f *Frame) Add(name, value string) *Frame {
	f.Headers = append(f.Headers, Header{Name: name, Value: value})
	return f
}

// Set replaces the first header with the given name, or appends it.
func (f *Frame) Set(name, value string) *Frame {
	for i := range f.Headers {
		if f.Headers[i].Name == name {
			f.Headers[i].Value = value
			return f
		}
	}
	return f.Add(name, value)
}

// Get returns the value of the first header with the given name.
// Per the STOMP spec, repeated headers beyond the first are ignored.
func (f *Frame) Get(name string) (string, bool) {
	for _, h := range f.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// Clone returns a copy of the frame with its own header list. The body is
// shared: producer templates reuse a single immutable body across sends.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Command: f.Command,
		Headers: make([]Header, len(f.Headers)),
		Body:    f.Body,
	}
	copy(c.Headers, f.Headers)
	return c
}
