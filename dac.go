// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

import (
	"fmt"
	"math"
	"time"
)

// DAC geometry. The MCU drives a four-channel 12-bit converter.
const (
	DACChannels = 4
	DACMaxCode  = 4095
)

// DAC commands a multi-channel digital-to-analog converter through the
// line protocol. Channel and code bounds are checked before any byte
// goes out on the wire. The DAC owns its port exclusively; call Close
// before handing the same physical port to another controller.
type DAC struct {
	conn    *Conn
	port    Port
	timeout time.Duration
	retries int
}

// DACOption applies an option to the DAC controller.
type DACOption func(*DAC)

// WithDACTimeout overrides the per-command acknowledgement timeout.
func WithDACTimeout(d time.Duration) DACOption {
	return func(dac *DAC) {
		if d > 0 {
			dac.timeout = d
		}
	}
}

// WithDACRetries sets how many times an unanswered command is re-sent.
func WithDACRetries(n int) DACOption {
	return func(dac *DAC) {
		if n >= 0 {
			dac.retries = n
		}
	}
}

// NewDAC creates a DAC controller on the given port.
func NewDAC(port Port, opts ...DACOption) *DAC {
	d := &DAC{
		conn:    NewConn(port),
		port:    port,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Conn exposes the underlying command connection.
func (d *DAC) Conn() *Conn { return d.conn }

// Ping checks liveness with a COMM_OK exchange.
func (d *DAC) Ping() bool { return CheckComm(d.conn, d.timeout) }

// Close releases the serial port so another controller can open it.
func (d *DAC) Close() error { return d.port.Close() }

func validChannel(channel, count int) error {
	if channel < 0 || channel >= count {
		return fmt.Errorf("invalid channel %d (must be 0-%d)", channel, count-1)
	}
	return nil
}

func validCode(code int) error {
	if code < 0 || code > DACMaxCode {
		return fmt.Errorf("invalid DAC code %d (must be 0-%d)", code, DACMaxCode)
	}
	return nil
}

// SetCode sets one channel to the given code and waits for the MCU
// acknowledgement. A nil error with an empty ack means the command was
// transmitted but no acknowledgement arrived in time; the device has
// usually applied the value anyway, so callers may treat that as
// success.
func (d *DAC) SetCode(channel, code int) (ack string, err error) {
	if err := validChannel(channel, DACChannels); err != nil {
		return "", err
	}
	if err := validCode(code); err != nil {
		return "", err
	}
	ack, err = d.conn.SendAndWait(fmt.Sprintf("%d,%d", channel, code), d.timeout, d.retries)
	if err == ErrTimeout {
		return "", nil
	}
	return ack, err
}

// SetCodeNoAck sets one channel without waiting for the
// acknowledgement. Used by synchronized sweeps where all channels must
// move on the same tick.
func (d *DAC) SetCodeNoAck(channel, code int) error {
	if err := validChannel(channel, DACChannels); err != nil {
		return err
	}
	if err := validCode(code); err != nil {
		return err
	}
	return d.conn.Send(fmt.Sprintf("%d,%d", channel, code))
}

// SetAll sets every channel to the same code in one device-side
// operation.
func (d *DAC) SetAll(code int) (ack string, err error) {
	if err := validCode(code); err != nil {
		return "", err
	}
	ack, err = d.conn.SendAndWait(fmt.Sprintf("set_all,%d", code), d.timeout, d.retries)
	if err == ErrTimeout {
		return "", nil
	}
	return ack, err
}

// SetVoltage converts the given output voltage to the nearest code for
// the given reference voltage and sets the channel to it.
func (d *DAC) SetVoltage(channel int, voltage, vref float64) (ack string, err error) {
	code, err := VoltageToCode(voltage, vref)
	if err != nil {
		return "", err
	}
	return d.SetCode(channel, code)
}

// VoltageToCode converts a voltage in [0, vref] to the nearest DAC
// code.
func VoltageToCode(voltage, vref float64) (int, error) {
	if vref <= 0 {
		return 0, fmt.Errorf("invalid reference voltage %g (must be > 0)", vref)
	}
	if voltage < 0 || voltage > vref {
		return 0, fmt.Errorf("invalid voltage %g (must be 0-%g)", voltage, vref)
	}
	code := int(math.Round(voltage / vref * DACMaxCode))
	if code < 0 {
		code = 0
	}
	if code > DACMaxCode {
		code = DACMaxCode
	}
	return code, nil
}

// CodeToVoltage converts a DAC code back to the voltage it commands for
// the given reference voltage.
func CodeToVoltage(code int, vref float64) float64 {
	return float64(code) / DACMaxCode * vref
}
