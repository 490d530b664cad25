// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the asynchronous STOMP client connection the
// load-generation core drives: dial, send, receipted request, inbound frame
// delivery with flow control, and close. Every completion callback re-enters
// the owning dispatch queue.
package transport

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/absmach/stompbench/dispatch"
	"github.com/absmach/stompbench/frame"
)

// deadlineRWC is the stream a connection runs over. Both net.Conn and the
// WebSocket wrapper satisfy it.
type deadlineRWC interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// Dial asynchronously connects to the broker and performs the
// CONNECT/CONNECTED handshake. done is invoked exactly once on q, with
// either an established connection or an error.
func Dial(q *dispatch.Queue, opts Options, done func(*Conn, error)) {
	o := opts.withDefaults()
	go func() {
		conn, err := dial(q, o)
		q.Dispatch(func() { done(conn, err) })
	}()
}

func dial(q *dispatch.Queue, o Options) (*Conn, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	rwc, err := openStream(o)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(rwc)
	if err := handshake(rwc, br, o); err != nil {
		rwc.Close()
		return nil, err
	}

	c := newConn(q, rwc, br)
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func openStream(o Options) (deadlineRWC, error) {
	addr := net.JoinHostPort(o.Host, strconv.Itoa(o.Port))

	if o.WebSocket {
		scheme := "ws"
		if o.TLSConfig != nil {
			scheme = "wss"
		}
		u := url.URL{Scheme: scheme, Host: addr, Path: o.WSPath}
		dialer := websocket.Dialer{
			HandshakeTimeout: o.ConnectTimeout,
			TLSClientConfig:  o.TLSConfig,
			Subprotocols:     []string{"v12.stomp", "v11.stomp"},
		}
		ws, _, err := dialer.Dial(u.String(), nil)
		if err != nil {
			return nil, err
		}
		return &wsStream{ws: ws}, nil
	}

	dialer := &net.Dialer{Timeout: o.ConnectTimeout}
	if o.TLSConfig != nil {
		return tls.DialWithDialer(dialer, "tcp", addr, o.TLSConfig)
	}
	return dialer.Dial("tcp", addr)
}

func handshake(rwc deadlineRWC, br *bufio.Reader, o Options) error {
	rwc.SetDeadline(time.Now().Add(o.ConnectTimeout))
	defer rwc.SetDeadline(time.Time{})

	connect := frame.New(frame.CmdConnect).
		Add(frame.HdrAcceptVersion, "1.1,1.2").
		Add(frame.HdrHost, o.Vhost).
		Add("heart-beat", "0,0")
	if o.Login != "" {
		connect.Add(frame.HdrLogin, o.Login)
	}
	if o.Passcode != "" {
		connect.Add(frame.HdrPasscode, o.Passcode)
	}
	if o.ClientID != "" {
		connect.Add(frame.HdrClientID, o.ClientID)
	}
	if err := connect.Write(rwc); err != nil {
		return err
	}

	reply, err := frame.Read(br)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	switch reply.Command {
	case frame.CmdConnected:
		return nil
	case frame.CmdError:
		return brokerError(reply)
	default:
		return fmt.Errorf("%w: unexpected %s frame", ErrHandshakeFailed, reply.Command)
	}
}

// wsStream adapts a WebSocket connection to a byte stream. STOMP frames map
// onto binary messages; partial frames across messages are tolerated.
type wsStream struct {
	ws *websocket.Conn
	r  io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.ws.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.ws.Close()
}

func (s *wsStream) SetDeadline(t time.Time) error {
	if err := s.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return s.ws.SetWriteDeadline(t)
}
