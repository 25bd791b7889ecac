// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ADCChannels is the number of sensor inputs on the MCU's converter.
const ADCChannels = 4

// ADC reads a multi-channel analog-to-digital converter through the
// line protocol and derives currents from per-channel shunt resistors.
// Like the DAC it owns its port exclusively for the lifetime of the
// controller.
type ADC struct {
	conn    *Conn
	port    Port
	timeout time.Duration
	retries int
	shunt   [ADCChannels]float64
}

// ADCOption applies an option to the ADC controller.
type ADCOption func(*ADC)

// WithADCTimeout overrides the per-query response timeout.
func WithADCTimeout(d time.Duration) ADCOption {
	return func(a *ADC) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithADCRetries sets how many times an unanswered query is re-sent.
func WithADCRetries(n int) ADCOption {
	return func(a *ADC) {
		if n >= 0 {
			a.retries = n
		}
	}
}

// WithShuntResistors sets the per-channel shunt resistances in ohms.
// The values are copied; later changes to the caller's slice do not
// affect the controller. Missing entries keep the 1 ohm default,
// non-positive entries are rejected at read time by SetShunt semantics
// and are ignored here.
func WithShuntResistors(ohms []float64) ADCOption {
	return func(a *ADC) {
		for i, r := range ohms {
			if i >= ADCChannels {
				break
			}
			if r > 0 {
				a.shunt[i] = r
			}
		}
	}
}

// NewADC creates an ADC controller on the given port. Every shunt
// resistance defaults to 1 ohm.
func NewADC(port Port, opts ...ADCOption) *ADC {
	a := &ADC{
		conn:    NewConn(port),
		port:    port,
		timeout: DefaultTimeout,
	}
	for i := range a.shunt {
		a.shunt[i] = 1.0
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Conn exposes the underlying command connection.
func (a *ADC) Conn() *Conn { return a.conn }

// Ping checks liveness with a COMM_OK exchange.
func (a *ADC) Ping() bool { return CheckComm(a.conn, a.timeout) }

// Close releases the serial port so another controller can open it.
func (a *ADC) Close() error { return a.port.Close() }

// SetShunt sets the shunt resistance for one channel.
func (a *ADC) SetShunt(channel int, ohms float64) error {
	if err := validChannel(channel, ADCChannels); err != nil {
		return err
	}
	if ohms <= 0 {
		return fmt.Errorf("invalid shunt resistance %g (must be > 0)", ohms)
	}
	a.shunt[channel] = ohms
	return nil
}

// Shunt returns the shunt resistance configured for one channel, or 0
// for an out-of-range channel.
func (a *ADC) Shunt(channel int) float64 {
	if channel < 0 || channel >= ADCChannels {
		return 0
	}
	return a.shunt[channel]
}

// ReadVoltage reads one channel's voltage in volts. The MCU answers
// with the voltage alone or with a trailing raw-code field; both forms
// are accepted. Timeouts and malformed responses are reported as
// ErrTimeout so a sweep can degrade the sample instead of aborting.
func (a *ADC) ReadVoltage(channel int) (float64, error) {
	if err := validChannel(channel, ADCChannels); err != nil {
		return 0, err
	}
	resp, err := a.conn.SendAndWait(fmt.Sprintf("read_adc,%d", channel), a.timeout, a.retries)
	if err != nil {
		return 0, err
	}
	field := resp
	if i := strings.IndexByte(resp, ','); i >= 0 {
		field = resp[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, ErrTimeout
	}
	return v, nil
}

// ReadRaw reads one channel's raw converter code, for debugging the
// analog front end.
func (a *ADC) ReadRaw(channel int) (int, error) {
	if err := validChannel(channel, ADCChannels); err != nil {
		return 0, err
	}
	resp, err := a.conn.SendAndWait(fmt.Sprintf("read_adc_raw,%d", channel), a.timeout, a.retries)
	if err != nil {
		return 0, err
	}
	raw, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, ErrTimeout
	}
	return raw, nil
}

// ReadCurrent reads one channel's voltage and converts it to a current
// through that channel's shunt resistor. A failed voltage read fails
// the current read the same way.
func (a *ADC) ReadCurrent(channel int) (float64, error) {
	v, err := a.ReadVoltage(channel)
	if err != nil {
		return 0, err
	}
	return v / a.shunt[channel], nil
}

// ReadAllVoltages reads every channel in order. A channel that fails to
// read yields NaN in its position; no channel is skipped or reordered.
func (a *ADC) ReadAllVoltages() []float64 {
	out := make([]float64, ADCChannels)
	for ch := range out {
		v, err := a.ReadVoltage(ch)
		if err != nil {
			out[ch] = math.NaN()
			continue
		}
		out[ch] = v
	}
	return out
}

// ReadAllCurrents reads every channel in order and converts each
// voltage through its shunt. Failed reads yield NaN in position.
func (a *ADC) ReadAllCurrents() []float64 {
	out := a.ReadAllVoltages()
	for ch, v := range out {
		out[ch] = v / a.shunt[ch]
	}
	return out
}

// SelfTest asks the MCU to verify its bus to the converter. The config
// word from an OK response is returned; an ERROR response is surfaced
// as an error with the device's text.
func (a *ADC) SelfTest() (string, error) {
	resp, err := a.conn.SendAndWait("test_adc", a.timeout, a.retries)
	if err != nil {
		return "", err
	}
	if cfg, ok := strings.CutPrefix(resp, "OK:"); ok {
		return cfg, nil
	}
	return "", fmt.Errorf("self test failed: %s", resp)
}
