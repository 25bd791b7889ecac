// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Protocol timing defaults. The MCU answers well inside a second under
// normal conditions; two seconds absorbs a slow I2C transaction on the
// far side.
const (
	DefaultTimeout  = 2 * time.Second
	DefaultPollTick = 10 * time.Millisecond
)

var (
	// ErrTimeout reports that no complete response line arrived before
	// the deadline. Transport-level read failures are folded into this
	// error as well, so a flaky byte never aborts a measurement loop.
	ErrTimeout = errors.New("ivsweep: no response within timeout")

	// ErrBusy reports a protocol-discipline violation: another exchange
	// is in flight on this connection.
	ErrBusy = errors.New("ivsweep: exchange already in flight")
)

// Commander is the capability shared by every line-protocol controller:
// send one request line, wait for one response line. Implemented by
// Conn and embedded by DAC and ADC.
type Commander interface {
	Send(line string) error
	WaitResponse(timeout time.Duration) (string, error)
	SendAndWait(line string, timeout time.Duration, retries int) (string, error)
}

// Conn is a strictly half-duplex, newline-terminated command connection
// to the MCU. Stale input is discarded before every request, so a late
// answer to an earlier command can never be misread as the answer to
// the next one: sending again before consuming a response abandons the
// old exchange rather than corrupting framing. A second exchange
// attempted while one is in flight fails with ErrBusy.
type Conn struct {
	port  Port
	poll  time.Duration
	debug bool
	lock  sync.Mutex
}

// ConnOption applies an option to the connection.
type ConnOption func(*Conn)

// WithPollTick overrides the interval at which the wait loop re-checks
// the port for input.
func WithPollTick(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithDebug causes request and response lines to be logged.
func WithDebug() ConnOption { return func(c *Conn) { c.debug = true } }

// NewConn wraps the given port in the line command protocol.
func NewConn(port Port, opts ...ConnOption) *Conn {
	c := &Conn{
		port: port,
		poll: DefaultPollTick,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send discards any pending input and writes one request line. The
// trailing newline is appended here; line must not contain one. An
// unconsumed response to an earlier request is dropped with the rest of
// the stale input.
func (c *Conn) Send(line string) error {
	if !c.lock.TryLock() {
		return ErrBusy
	}
	defer c.lock.Unlock()
	return c.send(line)
}

func (c *Conn) send(line string) error {
	// Drop whatever the MCU sent since the last exchange, including an
	// unread ack from a no-wait set command.
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("clearing input buffer: %w", err)
	}
	msg := strings.TrimSpace(line) + "\n"
	if c.debug {
		log.Printf("send %q", msg)
	}
	if _, err := c.port.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

// WaitResponse blocks until one complete, non-empty response line
// arrives or the timeout elapses. The line is returned with its
// terminator and surrounding whitespace stripped. On timeout, and on
// any transport-level read failure, it returns ErrTimeout.
func (c *Conn) WaitResponse(timeout time.Duration) (string, error) {
	if !c.lock.TryLock() {
		return "", ErrBusy
	}
	defer c.lock.Unlock()
	return c.wait(timeout)
}

func (c *Conn) wait(timeout time.Duration) (string, error) {
	if err := c.port.SetReadTimeout(c.poll); err != nil {
		return "", ErrTimeout
	}
	deadline := time.Now().Add(timeout)
	var line []byte
	buf := make([]byte, 64)
	for {
		n, err := c.port.Read(buf)
		if err != nil {
			return "", ErrTimeout
		}
		if n == 0 {
			// Nothing pending; yield for a tick rather than spinning on
			// backends whose reads return immediately.
			time.Sleep(c.poll)
		}
		for _, b := range buf[:n] {
			if b != '\n' {
				line = append(line, b)
				continue
			}
			s := strings.TrimSpace(string(line))
			if s == "" {
				// Blank line between responses; keep polling.
				line = line[:0]
				continue
			}
			if c.debug {
				log.Printf("recv %q", s)
			}
			return s, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
	}
}

// SendAndWait performs one request/response exchange, re-sending the
// identical request up to retries more times when no response arrives.
// Each retry is a fresh exchange: input is cleared again before the
// request is rewritten.
func (c *Conn) SendAndWait(line string, timeout time.Duration, retries int) (string, error) {
	if !c.lock.TryLock() {
		return "", ErrBusy
	}
	defer c.lock.Unlock()
	for attempt := 0; ; attempt++ {
		if err := c.send(line); err != nil {
			return "", err
		}
		resp, err := c.wait(timeout)
		if err == nil {
			return resp, nil
		}
		if attempt >= retries {
			return "", err
		}
	}
}

// CheckComm verifies liveness by sending COMM_OK and accepting any
// response that contains COMM_OK or is exactly OK.
func CheckComm(c Commander, timeout time.Duration) bool {
	resp, err := c.SendAndWait("COMM_OK", timeout, 0)
	if err != nil {
		return false
	}
	up := strings.ToUpper(resp)
	return strings.Contains(up, "COMM_OK") || up == "OK"
}
