// SPDX-License-Identifier: GPL-3.0-only

// Package color converts color temperatures into whitepoints and gamma ramp tables.
package color

import "math"

const (
	// MinKelvin is the lowest temperature the whitepoint approximation is evaluated at.
	// Lower inputs are clamped to it.
	MinKelvin = 1000

	// MaxKelvin is the highest temperature the whitepoint approximation is evaluated at.
	// Higher inputs are clamped to it.
	MaxKelvin = 40000
)

// Whitepoint is the RGB color that linear white is mapped to.
type Whitepoint struct {
	R uint8
	G uint8
	B uint8
}

// WhitepointForKelvin approximates the color of a blackbody radiator at the given temperature.
// Any input produces a defined result: temperatures outside [MinKelvin, MaxKelvin] are clamped first.
func WhitepointForKelvin(kelvin int) Whitepoint {
	kelvin = ClampKelvin(kelvin)
	temp := float64(kelvin) / 100

	var r, g, b float64
	if temp <= 66 {
		r = 255
		g = 99.4708025861*math.Log(temp) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(temp-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(temp-60, -0.0755148492)
	}

	switch {
	case temp >= 66:
		b = 255
	case temp <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(temp-10) - 305.0447927307
	}

	return Whitepoint{R: channel(r), G: channel(g), B: channel(b)}
}

// ClampKelvin ensures the temperature is within the supported range.
func ClampKelvin(kelvin int) int {
	if kelvin < MinKelvin {
		return MinKelvin
	}
	if kelvin > MaxKelvin {
		return MaxKelvin
	}
	return kelvin
}

func channel(v float64) uint8 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(math.Round(v))
}
