// SPDX-License-Identifier: GPL-3.0-only

// Package solar partitions a calendar day into night, sunrise, day and sunset
// phases and maps a point in time to a target color temperature.
//
// Every function here is pure: the result depends only on the arguments, so
// callers may recompute stops on every tick without caching.
package solar

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

var (
	// ErrInvalidCoordinates is returned when latitude or longitude is out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrInvalidTimestamp is returned when a time cannot be mapped to a calendar date.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Location is a point on earth in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Validate checks that the coordinates are within [-90, 90] and [-180, 180].
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, l.Longitude)
	}
	return nil
}

// ManualTimes are fixed sunrise and sunset offsets from local midnight.
// When set, solar computation is disabled entirely.
type ManualTimes struct {
	Sunrise time.Duration
	Sunset  time.Duration
}

// DayStops bounds the four phases of one calendar day.
// Dawn <= Sunrise <= Sunset <= Night always holds.
type DayStops struct {
	Dawn    time.Time
	Sunrise time.Time
	Sunset  time.Time
	Night   time.Time
}

// Schedule holds everything needed to compute day stops besides the current time.
type Schedule struct {
	Location Location
	// Duration widens sunrise into dawn and sunset into night.
	Duration time.Duration
	// Manual, when non-nil, replaces the solar computation.
	Manual *ManualTimes
}

// DayStops computes the stops for the local calendar date of now.
func (s Schedule) DayStops(now time.Time) (DayStops, error) {
	if now.IsZero() || now.Year() < 1 || now.Year() > 9999 {
		return DayStops{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, now)
	}

	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	if s.Manual != nil {
		return DayStops{
			Dawn:    midnight.Add(s.Manual.Sunrise - s.Duration),
			Sunrise: midnight.Add(s.Manual.Sunrise),
			Sunset:  midnight.Add(s.Manual.Sunset),
			Night:   midnight.Add(s.Manual.Sunset + s.Duration),
		}, nil
	}

	if err := s.Location.Validate(); err != nil {
		return DayStops{}, err
	}

	sunrise, sunset, dark := solarEvents(midnight, s.Location)
	if dark {
		return DayStops{Dawn: sunrise, Sunrise: sunrise, Sunset: sunset, Night: sunset}, nil
	}
	return DayStops{
		Dawn:    sunrise.Add(-s.Duration),
		Sunrise: sunrise,
		Sunset:  sunset,
		Night:   sunset.Add(s.Duration),
	}, nil
}

// NextSunrise returns the first natural sunrise after now. Before today's
// sunrise that is today's; otherwise it is the sunrise of the next calendar
// day, which is not always 24 hours away when daylight saving time changes.
func (s Schedule) NextSunrise(now time.Time, stops DayStops) (time.Time, error) {
	if now.Before(stops.Sunrise) {
		return stops.Sunrise, nil
	}
	next, err := s.DayStops(now.AddDate(0, 0, 1))
	if err != nil {
		return time.Time{}, err
	}
	return next.Sunrise, nil
}

// solarEvents returns true sunrise and sunset on the day starting at midnight.
// On days where the sun never crosses the horizon it returns an all-day span
// (midnight to next midnight), or an empty span pinned to noon with dark set
// so that no transition is scheduled at all.
func solarEvents(midnight time.Time, loc Location) (sunrise, sunset time.Time, dark bool) {
	year, month, day := midnight.Date()
	noon := time.Date(year, month, day, 12, 0, 0, 0, midnight.Location())

	times := suncalc.GetTimes(noon, loc.Latitude, loc.Longitude)
	sunrise = times[suncalc.Sunrise].Value
	sunset = times[suncalc.Sunset].Value

	if nearNoon(sunrise, noon) && nearNoon(sunset, noon) && sunrise.Before(sunset) {
		return sunrise, sunset, false
	}

	if suncalc.GetPosition(noon, loc.Latitude, loc.Longitude).Altitude > 0 {
		return midnight, time.Date(year, month, day+1, 0, 0, 0, 0, midnight.Location()), false
	}
	return noon, noon, true
}

func nearNoon(t, noon time.Time) bool {
	if t.IsZero() {
		return false
	}
	d := t.Sub(noon)
	return d > -24*time.Hour && d < 24*time.Hour
}
