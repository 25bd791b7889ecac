// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package lan provides a raw-socket SCPI connection, the usual way to
// reach a bench instrument's LAN interface on port 5025. It implements
// ivsweep.Querier.
package lan

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"
)

// Device is a query/response SCPI connection over TCP. Commands and
// responses are newline-terminated; one exchange is in flight at a
// time.
type Device struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	debug   bool
}

// Option applies an option to the device connection.
type Option func(*Device)

// WithTimeout overrides the per-exchange deadline. Power meters can be
// slow on a dark channel, so the default is a generous ten seconds.
func WithTimeout(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.timeout = d
		}
	}
}

// WithDebug causes commands and responses to be logged.
func WithDebug() Option { return func(dev *Device) { dev.debug = true } }

// NewDevice dials the instrument at addr, e.g. "192.0.2.7:5025".
func NewDevice(addr string, opts ...Option) (*Device, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	dev := &Device{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(dev)
	}
	return dev, nil
}

// Command formats according to a format specifier if provided and sends
// the resulting command. Leading and trailing whitespace is trimmed
// before the terminator is appended.
func (d *Device) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd) + "\n"
	if d.debug {
		log.Printf("cmd %q", cmd)
	}
	if err := d.conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
		return err
	}
	_, err := io.WriteString(d.conn, cmd)
	return err
}

// Query sends the given command and returns the response with its
// terminator stripped.
func (d *Device) Query(cmd string) (string, error) {
	if err := d.Command("%s", cmd); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return "", err
	}
	s, err := d.r.ReadString('\n')
	if err == io.EOF && s != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	if d.debug {
		log.Printf("query %q: %q", cmd, s)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// QueryBlock sends the given command and returns the payload of an
// IEEE 488.2 definite-length block response: '#', one digit giving the
// length-field width, the decimal payload length, then the raw payload.
// Block payloads may contain newline bytes, which is why Query cannot
// read them.
func (d *Device) QueryBlock(cmd string) ([]byte, error) {
	if err := d.Command("%s", cmd); err != nil {
		return nil, fmt.Errorf("error writing command: %w", err)
	}
	if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return nil, err
	}
	hdr, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hdr != '#' {
		return nil, fmt.Errorf("invalid block header: want # got %q", hdr)
	}
	width, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if width < '1' || width > '9' {
		return nil, fmt.Errorf("invalid block length width %q", width)
	}
	size := 0
	for i := 0; i < int(width-'0'); i++ {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b < '0' || b > '9' {
			return nil, fmt.Errorf("invalid block length digit %q", b)
		}
		size = size*10 + int(b-'0')
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, err
	}
	// Trailing terminator, if the instrument sends one.
	if b, err := d.r.Peek(1); err == nil && b[0] == '\n' {
		d.r.Discard(1)
	}
	return payload, nil
}

// Close closes the connection.
func (d *Device) Close() error {
	return d.conn.Close()
}
