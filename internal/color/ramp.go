// SPDX-License-Identifier: GPL-3.0-only

package color

import (
	"errors"
	"math"
)

// ErrShortTable is returned when a table cannot hold three planes of the requested ramp size.
var ErrShortTable = errors.New("gamma table too small for ramp size")

// TableBytes returns the size in bytes of a gamma table with the given ramp size:
// three planes (R, G, B) of rampSize 16-bit samples.
func TableBytes(rampSize int) int {
	return rampSize * 3 * 2
}

// FillRamp writes the R, G and B planes for the given whitepoint and gamma into table.
// Plane c occupies table[c*rampSize : (c+1)*rampSize]. With gamma 1.0 the ramp is a
// pure linear scaling of the whitepoint. Non-positive gamma is treated as 1.0.
func FillRamp(table []uint16, rampSize int, wp Whitepoint, gamma float64) error {
	if rampSize <= 0 {
		return nil
	}
	if len(table) < 3*rampSize {
		return ErrShortTable
	}
	if gamma <= 0 || math.IsNaN(gamma) {
		gamma = 1.0
	}

	exponent := 1.0 / gamma
	scales := [3]float64{
		float64(wp.R) / 255,
		float64(wp.G) / 255,
		float64(wp.B) / 255,
	}

	for i := 0; i < rampSize; i++ {
		v := 1.0
		if rampSize > 1 {
			v = float64(i) / float64(rampSize-1)
		}
		for c, scale := range scales {
			table[c*rampSize+i] = sample(math.Pow(v*scale, exponent))
		}
	}
	return nil
}

// sample converts a corrected level into a 16-bit ramp value.
func sample(level float64) uint16 {
	if math.IsNaN(level) || level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return uint16(math.Round(level * math.MaxUint16))
}
