// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

import (
	"fmt"
	"math"
)

// Resistance returns voltage over current, and +Inf at zero current.
// An open circuit is a resistance, not an error.
func Resistance(voltage, current float64) float64 {
	if current == 0 {
		return math.Inf(1)
	}
	return voltage / current
}

// ElectricalPower returns the product of voltage and current.
func ElectricalPower(voltage, current float64) float64 {
	return voltage * current
}

// Analysis summarizes a finished IV sample sequence.
type Analysis struct {
	// Per-sample series, positionally aligned with the input.
	Resistances []float64
	Powers      []float64

	// Maximum power point. Ties go to the earliest sample.
	MaxPower        float64
	MaxPowerVoltage float64
	MaxPowerCurrent float64

	// Voltage at the sample with the smallest |current|.
	OpenCircuitVoltage float64

	// Current at the sample with the smallest |voltage|.
	ShortCircuitCurrent float64
}

// Analyze computes curve parameters from the voltage/current projection
// of a sample sequence. It is independent of how the samples were
// acquired.
func Analyze(samples []Sample) (Analysis, error) {
	if len(samples) == 0 {
		return Analysis{}, fmt.Errorf("no samples to analyze")
	}
	a := Analysis{
		Resistances: make([]float64, len(samples)),
		Powers:      make([]float64, len(samples)),
	}
	maxIdx, vocIdx, iscIdx := 0, 0, 0
	for i, s := range samples {
		a.Resistances[i] = Resistance(s.Voltage, s.Current)
		a.Powers[i] = ElectricalPower(s.Voltage, s.Current)
		if a.Powers[i] > a.Powers[maxIdx] {
			maxIdx = i
		}
		if math.Abs(s.Current) < math.Abs(samples[vocIdx].Current) {
			vocIdx = i
		}
		if math.Abs(s.Voltage) < math.Abs(samples[iscIdx].Voltage) {
			iscIdx = i
		}
	}
	a.MaxPower = a.Powers[maxIdx]
	a.MaxPowerVoltage = samples[maxIdx].Voltage
	a.MaxPowerCurrent = samples[maxIdx].Current
	a.OpenCircuitVoltage = samples[vocIdx].Voltage
	a.ShortCircuitCurrent = samples[iscIdx].Current
	return a, nil
}
