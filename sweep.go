// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// Schedule describes one channel's setpoint ramp: Steps interpolated
// codes from Start to End inclusive. Start may exceed End for a
// downward ramp. Steps of 1 means "go straight to End".
type Schedule struct {
	Channel int
	Start   int
	End     int
	Steps   int
}

// Validate checks the schedule's bounds. Nothing touches hardware until
// every schedule of a sweep has passed.
func (s Schedule) Validate() error {
	if err := validChannel(s.Channel, DACChannels); err != nil {
		return err
	}
	if err := validCode(s.Start); err != nil {
		return fmt.Errorf("schedule start: %w", err)
	}
	if err := validCode(s.End); err != nil {
		return fmt.Errorf("schedule end: %w", err)
	}
	if s.Steps < 1 {
		return fmt.Errorf("invalid step count %d (must be >= 1)", s.Steps)
	}
	return nil
}

// ValueAt returns the schedule's setpoint for the given global step.
// Progress is the step over this schedule's own span, clamped to one,
// so a schedule that has run out of steps holds End while longer
// schedules continue.
func (s Schedule) ValueAt(step int) int {
	if s.Steps <= 1 {
		return s.End
	}
	p := float64(step) / float64(s.Steps-1)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return int(float64(s.Start) + p*float64(s.End-s.Start))
}

// Sweeper drives the controllers through setpoint schedules and
// collects composite samples. The DAC is mandatory; the ADC and meter
// are attached when electrical or optical readings are wanted, and
// their absence degrades the corresponding sample fields instead of
// failing the sweep.
type Sweeper struct {
	dac     *DAC
	adc     *ADC
	opm     *OPM
	opmChan int
	settle  time.Duration
	verbose bool
}

// SweeperOption applies an option to the sweeper.
type SweeperOption func(*Sweeper)

// WithADC attaches a sensor controller for electrical readings.
func WithADC(adc *ADC) SweeperOption { return func(s *Sweeper) { s.adc = adc } }

// WithOPM attaches a power meter, reading the given meter channel.
func WithOPM(opm *OPM, channel int) SweeperOption {
	return func(s *Sweeper) {
		s.opm = opm
		s.opmChan = channel
	}
}

// WithSettle overrides the settling delay between a setpoint write and
// the reads that follow it.
func WithSettle(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// WithVerbose logs every sweep step.
func WithVerbose() SweeperOption { return func(s *Sweeper) { s.verbose = true } }

// NewSweeper creates a sweeper over the given DAC controller.
func NewSweeper(dac *DAC, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		dac:     dac,
		opmChan: 1,
		settle:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pause sleeps for the settling delay unless the context is cancelled
// first. Cancellation wins even when the delay is zero; this is the
// sweep loop's only suspension point.
func (s *Sweeper) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.settle <= 0 {
		return nil
	}
	t := time.NewTimer(s.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SweepChannel ramps one channel through its schedule, waiting for each
// acknowledgement, and returns the codes applied in order. A cancelled
// context stops between steps; the codes applied so far are returned
// alongside the context error.
func (s *Sweeper) SweepChannel(ctx context.Context, sched Schedule) ([]int, error) {
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	applied := make([]int, 0, sched.Steps)
	for step := 0; step < sched.Steps; step++ {
		code := sched.ValueAt(step)
		if _, err := s.dac.SetCode(sched.Channel, code); err != nil {
			return applied, err
		}
		applied = append(applied, code)
		if s.verbose {
			log.Printf("step %d/%d: channel %d = %d", step+1, sched.Steps, sched.Channel, code)
		}
		if err := s.pause(ctx); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// SweepAll ramps every channel through a shared step count so all
// actuators move together on each tick. start and end give one code per
// channel.
func (s *Sweeper) SweepAll(ctx context.Context, start, end [DACChannels]int, steps int) error {
	scheds := make([]Schedule, DACChannels)
	for ch := range scheds {
		scheds[ch] = Schedule{Channel: ch, Start: start[ch], End: end[ch], Steps: steps}
	}
	return s.SweepIndependent(ctx, scheds)
}

// SweepIndependent runs several schedules in lock-step. Each schedule
// interpolates over its own step count; one that finishes early holds
// its final code for the remaining global steps. Every schedule is
// validated before any hardware is touched, and one invalid schedule
// aborts the whole sweep.
func (s *Sweeper) SweepIndependent(ctx context.Context, scheds []Schedule) error {
	if len(scheds) == 0 {
		return fmt.Errorf("no schedules given")
	}
	maxSteps := 0
	for _, sched := range scheds {
		if err := sched.Validate(); err != nil {
			return fmt.Errorf("channel %d: %w", sched.Channel, err)
		}
		if sched.Steps > maxSteps {
			maxSteps = sched.Steps
		}
	}
	for step := 0; step < maxSteps; step++ {
		// All writes land before the tick's settling delay so the
		// channels move together.
		for _, sched := range scheds {
			if err := s.dac.SetCodeNoAck(sched.Channel, sched.ValueAt(step)); err != nil {
				return err
			}
		}
		if s.verbose {
			log.Printf("step %d/%d", step+1, maxSteps)
		}
		if err := s.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MeasurePoint sets one setpoint, waits for settling, and assembles one
// composite sample. Acquisition failures degrade field by field: a
// failed voltage read records 0, a failed optical read records NaN. The
// returned error reports only validation and cancellation; a partially
// degraded sample is still a valid sample.
func (s *Sweeper) MeasurePoint(ctx context.Context, dacChannel, adcChannel, code int) (Sample, error) {
	if err := validChannel(adcChannel, ADCChannels); err != nil {
		return Sample{}, err
	}
	if _, err := s.dac.SetCode(dacChannel, code); err != nil {
		return Sample{}, err
	}
	if err := s.pause(ctx); err != nil {
		return Sample{}, err
	}

	sample := Sample{
		Code:            code,
		PowerOpticalMW:  math.NaN(),
		PowerOpticalDBm: math.NaN(),
	}
	if s.adc != nil {
		v, err := s.adc.ReadVoltage(adcChannel)
		if err != nil {
			v = 0
		}
		sample.Voltage = v
		sample.Current = v / s.adc.Shunt(adcChannel)
		sample.PowerElectrical = sample.Voltage * sample.Current
	}
	if s.opm != nil {
		if mw, err := s.opm.PowerMilliwatt(s.opmChan); err == nil {
			sample.PowerOpticalMW = mw
		}
		if dbm, err := s.opm.Power(s.opmChan); err == nil {
			sample.PowerOpticalDBm = dbm
		}
	}
	return sample, nil
}

// SweepIV ramps the DAC channel through the schedule and measures one
// composite sample per step, reading the given ADC channel. A cancelled
// context stops between steps and returns the samples collected so far;
// the partial sequence is ordered and usable.
func (s *Sweeper) SweepIV(ctx context.Context, sched Schedule, adcChannel int) ([]Sample, error) {
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	if err := validChannel(adcChannel, ADCChannels); err != nil {
		return nil, err
	}
	samples := make([]Sample, 0, sched.Steps)
	for step := 0; step < sched.Steps; step++ {
		sample, err := s.MeasurePoint(ctx, sched.Channel, adcChannel, sched.ValueAt(step))
		if err != nil {
			return samples, err
		}
		samples = append(samples, sample)
		if s.verbose {
			log.Printf("step %d/%d: V=%.3fV I=%.3fmA Popt=%.3fmW",
				step+1, sched.Steps, sample.Voltage, sample.Current*1000, sample.PowerOpticalMW)
		}
	}
	return samples, nil
}
