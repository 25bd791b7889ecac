// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package vcp provides the USB virtual COM port transport for the MCU
// line protocol, backed by go.bug.st/serial.
package vcp

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the MCU firmware's UART configuration.
const DefaultBaudRate = 115200

// VCP is a serial port speaking 8N1 at the configured baud rate. It
// implements ivsweep.Port.
type VCP struct {
	port serial.Port
}

// Option applies an option when opening the port.
type Option func(*config)

type config struct {
	baud      int
	resetWait time.Duration
}

// WithBaudRate overrides the default baud rate.
func WithBaudRate(baud int) Option {
	return func(c *config) {
		if baud > 0 {
			c.baud = baud
		}
	}
}

// WithResetWait pauses after opening the port. Boards that reset on
// DTR, like the Nucleo, need a couple of seconds before they answer.
func WithResetWait(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.resetWait = d
		}
	}
}

// NewVCP opens the named serial port.
func NewVCP(name string, opts ...Option) (*VCP, error) {
	cfg := config{baud: DefaultBaudRate}
	for _, opt := range opts {
		opt(&cfg)
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: cfg.baud})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if cfg.resetWait > 0 {
		time.Sleep(cfg.resetWait)
	}
	return &VCP{port: port}, nil
}

// Read reads from the port. When a read timeout is set, a Read that
// hits the deadline returns (0, nil).
func (v *VCP) Read(p []byte) (n int, err error) {
	return v.port.Read(p)
}

// Write writes to the port.
func (v *VCP) Write(p []byte) (n int, err error) {
	return v.port.Write(p)
}

// SetReadTimeout bounds every subsequent Read.
func (v *VCP) SetReadTimeout(d time.Duration) error {
	return v.port.SetReadTimeout(d)
}

// ResetInputBuffer discards received but unread bytes.
func (v *VCP) ResetInputBuffer() error {
	return v.port.ResetInputBuffer()
}

// Flush discards unread input and unsent output.
func (v *VCP) Flush() error {
	if err := v.port.ResetInputBuffer(); err != nil {
		return err
	}
	return v.port.ResetOutputBuffer()
}

// Close closes the port.
func (v *VCP) Close() error {
	return v.port.Close()
}
