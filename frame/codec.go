// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Codec errors.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrMissingNul     = errors.New("frame body missing NUL terminator")
	ErrBadEscape      = errors.New("invalid header escape sequence")
	ErrEmptyCommand   = errors.New("empty frame command")
	ErrHeaderNoColon  = errors.New("header line missing colon")
	ErrBadContentLen  = errors.New("invalid content-length header")
)

// MaxBodySize bounds how large a declared content-length may be.
const MaxBodySize = 64 * 1024 * 1024

// Write encodes the frame to w in STOMP 1.2 wire form. Header names and
// values are escaped; a content-length header is emitted for the body.
func (f *Frame) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	hasLen := false
	for _, h := range f.Headers {
		if h.Name == HdrContentLength {
			hasLen = true
		}
		buf.WriteString(escape(h.Name))
		buf.WriteByte(':')
		buf.WriteString(escape(h.Value))
		buf.WriteByte('\n')
	}
	if !hasLen && len(f.Body) > 0 {
		buf.WriteString(HdrContentLength)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)

	_, err := w.Write(buf.Bytes())
	return err
}

// Read decodes the next frame from r. Bare EOLs between frames (heart-beats)
// are skipped. Returns io.EOF when the stream ends cleanly before a frame.
func Read(r *bufio.Reader) (*Frame, error) {
	// Skip heart-beat newlines between frames.
	var line string
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimRight(l, "\r\n") == "" {
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimRight(l, "\r\n")
		if line != "" {
			break
		}
	}

	f := &Frame{Command: line}
	if f.Command == "" {
		return nil, ErrEmptyCommand
	}

	// Headers until the blank line.
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		l = strings.TrimRight(l, "\r\n")
		if l == "" {
			break
		}
		idx := strings.IndexByte(l, ':')
		if idx < 0 {
			return nil, ErrHeaderNoColon
		}
		name, err := unescape(l[:idx])
		if err != nil {
			return nil, err
		}
		value, err := unescape(l[idx+1:])
		if err != nil {
			return nil, err
		}
		f.Headers = append(f.Headers, Header{Name: name, Value: value})
	}

	if v, ok := f.Get(HdrContentLength); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, ErrBadContentLen
		}
		if n > MaxBodySize {
			return nil, ErrFrameTooLarge
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		f.Body = body
		nul, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if nul != 0 {
			return nil, ErrMissingNul
		}
		return f, nil
	}

	// No content-length: body runs to the NUL terminator, subject to the
	// same size bound as a declared body.
	var body []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if b == 0 {
			break
		}
		body = append(body, b)
		if len(body) > MaxBodySize {
			return nil, ErrFrameTooLarge
		}
	}
	f.Body = body
	return f, nil
}

func escape(s string) string {
	if !strings.ContainsAny(s, "\\\r\n:") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case ':':
			b.WriteString(`\c`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", ErrBadEscape
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", ErrBadEscape
		}
	}
	return b.String(), nil
}
