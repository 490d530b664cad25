// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loadgen

// clientState is the closed set of lifecycle states. Exactly one is active
// per client at any time; replacing the state field is the only mutation.
// Delayed actions capture the live state value at schedule time and compare
// it by identity at fire time, so connecting and connected states are
// allocated fresh per attempt while the payload-free states are shared.
type clientState interface {
	clientState()
}

// stateInit: client not yet started.
type stateInit struct{}

// stateConnecting: an in-flight connection attempt. The pointer itself is
// the staleness token; onComplete runs once the attempt lands.
type stateConnecting struct {
	onComplete func()
}

// stateConnected owns the live transport handle.
type stateConnected struct {
	conn Conn
}

// stateClosing: an asynchronous close is in flight.
type stateClosing struct{}

// stateDisconnected: no connection. Entry decides reconnect vs. shutdown.
type stateDisconnected struct{}

func (*stateInit) clientState()         {}
func (*stateConnecting) clientState()   {}
func (*stateConnected) clientState()    {}
func (*stateClosing) clientState()      {}
func (*stateDisconnected) clientState() {}

// Shared instances for the payload-free states. These are deliberately
// package-level: empty struct allocations do not have distinct addresses,
// so identity comparisons only ever involve the per-attempt states.
var (
	stInit         = &stateInit{}
	stClosing      = &stateClosing{}
	stDisconnected = &stateDisconnected{}
)

func stateName(s clientState) string {
	switch s.(type) {
	case *stateInit:
		return "init"
	case *stateConnecting:
		return "connecting"
	case *stateConnected:
		return "connected"
	case *stateClosing:
		return "closing"
	case *stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
