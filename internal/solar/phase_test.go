// SPDX-License-Identifier: GPL-3.0-only

package solar_test

import (
	"testing"
	"time"

	"github.com/shini4i/wl-nightshift/internal/solar"
	"github.com/stretchr/testify/assert"
)

var curve = solar.Curve{Low: 4000, High: 6500}

func fixedStops() solar.DayStops {
	day := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	return solar.DayStops{
		Dawn:    day.Add(5*time.Hour + 30*time.Minute),
		Sunrise: day.Add(6 * time.Hour),
		Sunset:  day.Add(18 * time.Hour),
		Night:   day.Add(18*time.Hour + 30*time.Minute),
	}
}

func TestPhaseAt(t *testing.T) {
	stops := fixedStops()
	tests := []struct {
		name     string
		now      time.Time
		expected solar.Phase
	}{
		{name: "before dawn", now: stops.Dawn.Add(-time.Second), expected: solar.PhaseNight},
		{name: "at dawn", now: stops.Dawn, expected: solar.PhaseSunrise},
		{name: "before sunrise", now: stops.Sunrise.Add(-time.Second), expected: solar.PhaseSunrise},
		{name: "at sunrise", now: stops.Sunrise, expected: solar.PhaseDay},
		{name: "at sunset", now: stops.Sunset, expected: solar.PhaseSunset},
		{name: "before night", now: stops.Night.Add(-time.Second), expected: solar.PhaseSunset},
		{name: "at night", now: stops.Night, expected: solar.PhaseNight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, solar.PhaseAt(tt.now, stops))
		})
	}
}

func TestTemperatureAt_Boundaries(t *testing.T) {
	stops := fixedStops()

	assert.Equal(t, curve.Low, solar.TemperatureAt(stops.Dawn, stops, curve))
	assert.Equal(t, curve.High, solar.TemperatureAt(stops.Sunrise, stops, curve))
	assert.Equal(t, curve.High, solar.TemperatureAt(stops.Sunset, stops, curve))
	assert.Equal(t, curve.Low, solar.TemperatureAt(stops.Night, stops, curve))
	assert.Equal(t, curve.Low, solar.TemperatureAt(stops.Dawn.Add(-time.Hour), stops, curve))
}

func TestTemperatureAt_Interpolates(t *testing.T) {
	stops := fixedStops()

	midSunrise := stops.Dawn.Add(15 * time.Minute)
	assert.Equal(t, 5250, solar.TemperatureAt(midSunrise, stops, curve))

	midSunset := stops.Sunset.Add(15 * time.Minute)
	assert.Equal(t, 5250, solar.TemperatureAt(midSunset, stops, curve))

	quarterSunset := stops.Sunset.Add(7*time.Minute + 30*time.Second)
	assert.Equal(t, 5875, solar.TemperatureAt(quarterSunset, stops, curve))
}

func TestTemperatureAt_ZeroDuration(t *testing.T) {
	day := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	stops := solar.DayStops{
		Dawn:    day.Add(6 * time.Hour),
		Sunrise: day.Add(6 * time.Hour),
		Sunset:  day.Add(18 * time.Hour),
		Night:   day.Add(18 * time.Hour),
	}

	assert.Equal(t, curve.Low, solar.TemperatureAt(stops.Dawn.Add(-time.Nanosecond), stops, curve))
	assert.Equal(t, curve.High, solar.TemperatureAt(stops.Sunrise, stops, curve))
	assert.Equal(t, curve.Low, solar.TemperatureAt(stops.Night, stops, curve))
}

// Walking a whole day minute by minute must visit the phases in order,
// changing only at the stops, and keep the temperature within the curve.
func TestPhaseAt_PartitionsDay(t *testing.T) {
	stops := fixedStops()
	start := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	order := []solar.Phase{solar.PhaseNight, solar.PhaseSunrise, solar.PhaseDay, solar.PhaseSunset, solar.PhaseNight}
	boundaries := map[int64]bool{
		stops.Dawn.Unix(): true, stops.Sunrise.Unix(): true, stops.Sunset.Unix(): true, stops.Night.Unix(): true,
	}

	idx := 0
	prev := solar.PhaseAt(start, stops)
	assert.Equal(t, order[0], prev)

	for now := start.Add(time.Minute); now.Before(start.Add(24 * time.Hour)); now = now.Add(time.Minute) {
		phase := solar.PhaseAt(now, stops)
		if phase != prev {
			idx++
			assert.Less(t, idx, len(order))
			assert.Equal(t, order[idx], phase, "unexpected phase at %v", now)
			assert.True(t, boundaries[now.Unix()], "phase changed off a boundary at %v", now)
		}

		temp := solar.TemperatureAt(now, stops, curve)
		assert.GreaterOrEqual(t, temp, curve.Low)
		assert.LessOrEqual(t, temp, curve.High)
		prev = phase
	}
	assert.Equal(t, len(order)-1, idx)
}

func TestCurve(t *testing.T) {
	assert.NoError(t, solar.Curve{Low: 3000, High: 6500}.Validate())
	assert.ErrorIs(t, solar.Curve{Low: 6500, High: 6500}.Validate(), solar.ErrInvalidCurve)
	assert.ErrorIs(t, solar.Curve{Low: 7000, High: 6500}.Validate(), solar.ErrInvalidCurve)
	assert.Equal(t, 5250, curve.Midpoint())
}

func TestNextWake(t *testing.T) {
	stops := fixedStops()
	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{name: "night before dawn wakes at dawn", now: stops.Dawn.Add(-time.Hour), expected: stops.Dawn},
		{name: "sunrise transition repolls", now: stops.Dawn.Add(time.Minute), expected: stops.Dawn.Add(time.Minute + solar.TransitionRepoll)},
		{name: "day wakes at sunset", now: stops.Sunrise, expected: stops.Sunset},
		{name: "sunset transition repolls", now: stops.Sunset, expected: stops.Sunset.Add(solar.TransitionRepoll)},
		{name: "after night wakes at midnight", now: stops.Night, expected: time.Date(2024, time.June, 11, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, solar.NextWake(tt.now, stops))
		})
	}
}
