// SPDX-License-Identifier: GPL-3.0-only

package solar

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCurve is returned when the low temperature is not below the high temperature.
var ErrInvalidCurve = errors.New("high temperature must be greater than low temperature")

// Phase is a portion of the day.
type Phase int

const (
	// PhaseNight is before dawn or at/after night.
	PhaseNight Phase = iota
	// PhaseSunrise is the transition from dawn to sunrise.
	PhaseSunrise
	// PhaseDay is between sunrise and sunset.
	PhaseDay
	// PhaseSunset is the transition from sunset to night.
	PhaseSunset
)

func (p Phase) String() string {
	switch p {
	case PhaseNight:
		return "night"
	case PhaseSunrise:
		return "sunrise"
	case PhaseDay:
		return "day"
	case PhaseSunset:
		return "sunset"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Curve is the temperature range in Kelvin the schedule moves between.
type Curve struct {
	Low  int `json:"low" yaml:"low"`
	High int `json:"high" yaml:"high"`
}

// Validate checks that Low < High.
func (c Curve) Validate() error {
	if c.High <= c.Low {
		return fmt.Errorf("%w: low=%d high=%d", ErrInvalidCurve, c.Low, c.High)
	}
	return nil
}

// Midpoint returns the integer mean of Low and High.
func (c Curve) Midpoint() int {
	return (c.Low + c.High) / 2
}

// PhaseAt returns the phase now falls in. The four half-open intervals
// [dawn, sunrise), [sunrise, sunset), [sunset, night) and everything else
// cover every instant exactly once.
func PhaseAt(now time.Time, stops DayStops) Phase {
	switch {
	case now.Before(stops.Dawn):
		return PhaseNight
	case now.Before(stops.Sunrise):
		return PhaseSunrise
	case now.Before(stops.Sunset):
		return PhaseDay
	case now.Before(stops.Night):
		return PhaseSunset
	default:
		return PhaseNight
	}
}

// TemperatureAt returns the target temperature at now, interpolating linearly
// through the sunrise and sunset transitions.
func TemperatureAt(now time.Time, stops DayStops, curve Curve) int {
	switch PhaseAt(now, stops) {
	case PhaseSunrise:
		return interpolate(now, stops.Dawn, stops.Sunrise, curve.Low, curve.High)
	case PhaseDay:
		return curve.High
	case PhaseSunset:
		return interpolate(now, stops.Sunset, stops.Night, curve.High, curve.Low)
	default:
		return curve.Low
	}
}

func interpolate(now, start, stop time.Time, from, to int) int {
	span := stop.Sub(start)
	if span <= 0 {
		return to
	}
	t := float64(now.Sub(start)) / float64(span)
	t = math.Max(0, math.Min(1, t))
	return int(math.Round(float64(from) + float64(to-from)*t))
}
