// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gotmc/query"
	"go.uber.org/multierr"
)

// Unit is the power unit a meter channel reports in.
type Unit int

// Power units understood by the meter.
const (
	DBm Unit = iota
	Watt
)

var unitDesc = map[Unit]string{
	DBm:  "dBm",
	Watt: "Watt",
}

func (u Unit) String() string { return unitDesc[u] }

// scpi returns the unit code used on the wire.
func (u Unit) scpi() int {
	if u == Watt {
		return 1
	}
	return 0
}

// OPM controls a multi-channel optical power meter over a SCPI
// query/response link. Channels are addressed 1-based, as the
// instrument addresses them. The channel count is negotiated once from
// the identity string; unrecognized models fall back to two channels.
//
// The meter link is independent of the DAC/ADC serial port and may stay
// open for a whole measurement session.
type OPM struct {
	q        Querier
	id       string
	channels int
	retries  int
	backoff  time.Duration
	settle   time.Duration
}

// OPMOption applies an option to the power meter controller.
type OPMOption func(*OPM)

// WithOPMRetries sets how many times a timed-out power read is retried.
func WithOPMRetries(n int) OPMOption {
	return func(o *OPM) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithOPMBackoff sets the pause before a power read is retried.
func WithOPMBackoff(d time.Duration) OPMOption {
	return func(o *OPM) {
		if d >= 0 {
			o.backoff = d
		}
	}
}

// WithOPMSettle sets the pause after a unit switch and between the
// sequential reads of AllPowers.
func WithOPMSettle(d time.Duration) OPMOption {
	return func(o *OPM) {
		if d >= 0 {
			o.settle = d
		}
	}
}

// NewOPM identifies the instrument on the given link and creates a
// controller sized to its channel count. A failed identity query is
// fatal: without it there is no session to size.
func NewOPM(q Querier, opts ...OPMOption) (*OPM, error) {
	id, err := query.String(q, "*IDN?")
	if err != nil {
		return nil, fmt.Errorf("identity query failed: %w", err)
	}
	o := &OPM{
		q:       q,
		id:      strings.TrimSpace(id),
		retries: 2,
		backoff: 100 * time.Millisecond,
		settle:  50 * time.Millisecond,
	}
	switch {
	case strings.Contains(o.id, "N7745"), strings.Contains(o.id, "N7744"):
		o.channels = 8
	case strings.Contains(o.id, "MY61C00155"):
		o.channels = 4
	default:
		o.channels = 2
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ID returns the instrument identity string.
func (o *OPM) ID() string { return o.id }

// Channels returns the negotiated channel count.
func (o *OPM) Channels() int { return o.channels }

func (o *OPM) checkChannel(channel int) error {
	if channel < 1 || channel > o.channels {
		return fmt.Errorf("invalid meter channel %d (must be 1-%d)", channel, o.channels)
	}
	return nil
}

// SetUnit switches the unit one channel reports power in. The
// instrument offers no acknowledgement; UnitOf is the only read-back.
func (o *OPM) SetUnit(channel int, u Unit) error {
	if err := o.checkChannel(channel); err != nil {
		return err
	}
	return o.q.Command("sens%d:pow:unit %d", channel, u.scpi())
}

// UnitOf reports the unit one channel is configured in. When the query
// fails or parses badly it assumes dBm, the instrument's power-on
// default, rather than failing the measurement.
func (o *OPM) UnitOf(channel int) Unit {
	if err := o.checkChannel(channel); err != nil {
		return DBm
	}
	code, err := query.Int(o.q, fmt.Sprintf("sens%d:pow:unit?", channel))
	if err != nil || code != 1 {
		return DBm
	}
	return Watt
}

// SetWavelength sets one channel's calibration wavelength in
// nanometers.
func (o *OPM) SetWavelength(channel int, nm float64) error {
	if err := o.checkChannel(channel); err != nil {
		return err
	}
	return o.q.Command("sens%d:pow:wav %gnm", channel, nm)
}

// Wavelength reports one channel's calibration wavelength in
// nanometers.
func (o *OPM) Wavelength(channel int) (float64, error) {
	if err := o.checkChannel(channel); err != nil {
		return 0, err
	}
	m, err := query.Float64(o.q, fmt.Sprintf("sens%d:pow:wav?", channel))
	if err != nil {
		return 0, err
	}
	// The instrument reports meters.
	return m * 1e9, nil
}

// SetAutoRange enables or disables automatic ranging on one channel.
func (o *OPM) SetAutoRange(channel int, on bool) error {
	if err := o.checkChannel(channel); err != nil {
		return err
	}
	state := 0
	if on {
		state = 1
	}
	return o.q.Command("sens%d:pow:rang:auto %d", channel, state)
}

// AutoRange reports whether one channel is auto-ranging. Query failure
// reads as false.
func (o *OPM) AutoRange(channel int) bool {
	if err := o.checkChannel(channel); err != nil {
		return false
	}
	on, err := query.Bool(o.q, fmt.Sprintf("sens%d:pow:rang:auto?", channel))
	if err != nil {
		return false
	}
	return on
}

// SetRange fixes one channel's range at the given level in dBm,
// disabling auto-ranging first.
func (o *OPM) SetRange(channel int, dbm float64) error {
	if err := o.SetAutoRange(channel, false); err != nil {
		return err
	}
	return o.q.Command("sens%d:pow:rang %gdbm", channel, dbm)
}

// Range reports one channel's configured range in dBm.
func (o *OPM) Range(channel int) (float64, error) {
	if err := o.checkChannel(channel); err != nil {
		return 0, err
	}
	return query.Float64(o.q, fmt.Sprintf("sens%d:pow:rang?", channel))
}

// Power reads one channel's power in whatever unit the channel is
// configured to report. A read that times out or parses badly is
// retried after a short backoff, up to the configured count.
func (o *OPM) Power(channel int) (float64, error) {
	if err := o.checkChannel(channel); err != nil {
		return 0, err
	}
	var err error
	for attempt := 0; attempt <= o.retries; attempt++ {
		var p float64
		p, err = query.Float64(o.q, fmt.Sprintf("read%d:pow?", channel))
		if err == nil {
			return p, nil
		}
		if attempt < o.retries {
			time.Sleep(o.backoff)
		}
	}
	return 0, fmt.Errorf("reading channel %d power: %w", channel, err)
}

// PowerMilliwatt reads one channel's power in milliwatts, temporarily
// switching the channel to Watt if it reports dBm. The original unit is
// restored even when the intervening read fails; the meter is shared
// state and must not be left reconfigured.
func (o *OPM) PowerMilliwatt(channel int) (mw float64, err error) {
	if err := o.checkChannel(channel); err != nil {
		return 0, err
	}
	if o.UnitOf(channel) == DBm {
		if err := o.SetUnit(channel, Watt); err != nil {
			return 0, err
		}
		time.Sleep(o.settle)
		defer func() {
			err = multierr.Append(err, o.SetUnit(channel, DBm))
		}()
	}
	w, rerr := o.Power(channel)
	if rerr != nil {
		err = rerr
		return 0, err
	}
	return w * 1000, err
}

// BlockQuerier is the optional link capability needed for batched
// binary reads.
type BlockQuerier interface {
	QueryBlock(cmd string) ([]byte, error)
}

// AllPowersBinary reads every channel in one batched binary query. The
// payload is little-endian float32, one value per channel. Some
// channels are known to stall this query, which is why AllPowers is the
// default path; this remains available for instruments where the batch
// works.
func (o *OPM) AllPowersBinary() ([]float64, error) {
	bq, ok := o.q.(BlockQuerier)
	if !ok {
		return nil, fmt.Errorf("link %T does not support block queries", o.q)
	}
	payload, err := bq.QueryBlock("read:pow:all?")
	if err != nil {
		return nil, err
	}
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("invalid block payload length %d", len(payload))
	}
	out := make([]float64, 0, len(payload)/4)
	for i := 0; i+4 <= len(payload); i += 4 {
		bits := binary.LittleEndian.Uint32(payload[i:])
		out = append(out, float64(math.Float32frombits(bits)))
	}
	return out, nil
}

// AllPowers reads every channel in order, each in its configured unit.
// It deliberately issues sequential single-channel reads with a short
// pause between them instead of the instrument's batched binary read,
// which times out on some channels. Failed channels yield NaN in
// position so the result always has the full channel count.
func (o *OPM) AllPowers() []float64 {
	out := make([]float64, o.channels)
	for ch := 1; ch <= o.channels; ch++ {
		p, err := o.Power(ch)
		if err != nil {
			p = math.NaN()
		}
		out[ch-1] = p
		time.Sleep(o.settle)
	}
	return out
}
