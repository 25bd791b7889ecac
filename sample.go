// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

// Sample is one composite measurement: the commanded DAC code paired
// with the electrical and optical readings taken after settling.
// Samples are immutable once appended to a sweep's result sequence.
// Fields that could not be read carry their degraded value (0 for the
// voltage, NaN for optical power) rather than invalidating the sample.
type Sample struct {
	Code            int
	Voltage         float64
	Current         float64
	PowerElectrical float64
	PowerOpticalMW  float64
	PowerOpticalDBm float64
}

// Column names used by the tabular projection.
const (
	ColCode            = "dac_code"
	ColVoltage         = "voltage"
	ColCurrent         = "current"
	ColPowerElectrical = "power_electrical"
	ColPowerOpticalMW  = "power_optical_mw"
	ColPowerOpticalDBm = "power_optical_dbm"
)

// Columns projects a sample sequence into the field-name → ordered
// values shape that CSV writers and plotters consume.
func Columns(samples []Sample) map[string][]float64 {
	cols := map[string][]float64{
		ColCode:            make([]float64, 0, len(samples)),
		ColVoltage:         make([]float64, 0, len(samples)),
		ColCurrent:         make([]float64, 0, len(samples)),
		ColPowerElectrical: make([]float64, 0, len(samples)),
		ColPowerOpticalMW:  make([]float64, 0, len(samples)),
		ColPowerOpticalDBm: make([]float64, 0, len(samples)),
	}
	for _, s := range samples {
		cols[ColCode] = append(cols[ColCode], float64(s.Code))
		cols[ColVoltage] = append(cols[ColVoltage], s.Voltage)
		cols[ColCurrent] = append(cols[ColCurrent], s.Current)
		cols[ColPowerElectrical] = append(cols[ColPowerElectrical], s.PowerElectrical)
		cols[ColPowerOpticalMW] = append(cols[ColPowerOpticalMW], s.PowerOpticalMW)
		cols[ColPowerOpticalDBm] = append(cols[ColPowerOpticalDBm], s.PowerOpticalDBm)
	}
	return cols
}
