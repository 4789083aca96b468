// SPDX-License-Identifier: GPL-3.0-only

package solar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownMode is returned when a mode name is not recognised.
var ErrUnknownMode = errors.New("unknown mode")

// Mode is a requested operating mode. ModeAuto follows the natural schedule;
// the others pin the applied phase until the next sunrise.
type Mode int

const (
	// ModeAuto follows the natural schedule.
	ModeAuto Mode = iota
	// ModeDay pins the day phase and high temperature.
	ModeDay
	// ModeNight pins the night phase and low temperature.
	ModeNight
	// ModeSunset pins the sunset phase at the midpoint temperature.
	ModeSunset
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeDay:
		return "day"
	case ModeNight:
		return "night"
	case ModeSunset:
		return "sunset"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode parses a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto, nil
	case "day":
		return ModeDay, nil
	case "night":
		return ModeNight, nil
	case "sunset":
		return ModeSunset, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Override pins the applied phase and temperature until ExpiresAt.
// A nil *Override means the schedule runs automatically.
type Override struct {
	Mode      Mode
	ExpiresAt time.Time
}

// Request moves the override state machine for a mode command. ModeAuto
// clears any override; any other mode replaces the current one outright,
// expiring at expiresAt.
func Request(mode Mode, expiresAt time.Time) *Override {
	if mode == ModeAuto {
		return nil
	}
	return &Override{Mode: mode, ExpiresAt: expiresAt}
}

// Active reports whether the override is still in force at now.
func (o *Override) Active(now time.Time) bool {
	return o != nil && o.Mode != ModeAuto && now.Before(o.ExpiresAt)
}

// Apply returns the phase and temperature to use given the natural ones.
// Outside an active override the natural values pass through unchanged.
// The sunset mode holds the curve midpoint rather than interpolating.
func (o *Override) Apply(now time.Time, natural Phase, temp int, curve Curve) (Phase, int) {
	if !o.Active(now) {
		return natural, temp
	}
	switch o.Mode {
	case ModeDay:
		return PhaseDay, curve.High
	case ModeNight:
		return PhaseNight, curve.Low
	case ModeSunset:
		return PhaseSunset, curve.Midpoint()
	default:
		return natural, temp
	}
}
