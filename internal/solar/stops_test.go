// SPDX-License-Identifier: GPL-3.0-only

package solar_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shini4i/wl-nightshift/internal/solar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var berlin = solar.Location{Latitude: 52.52, Longitude: 13.405}

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func manualSchedule(sunrise, sunset string, duration time.Duration) solar.Schedule {
	rise, err := solar.ParseClock(sunrise)
	if err != nil {
		panic(err)
	}
	set, err := solar.ParseClock(sunset)
	if err != nil {
		panic(err)
	}
	return solar.Schedule{
		Duration: duration,
		Manual:   &solar.ManualTimes{Sunrise: rise, Sunset: set},
	}
}

func TestDayStops_Manual(t *testing.T) {
	zone := mustZone(t, "Europe/Berlin")
	now := time.Date(2024, time.June, 10, 13, 37, 0, 0, zone)
	sched := manualSchedule("06:00", "18:00", 1800*time.Second)

	stops, err := sched.DayStops(now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, time.June, 10, 5, 30, 0, 0, zone).Unix(), stops.Dawn.Unix())
	assert.Equal(t, time.Date(2024, time.June, 10, 6, 0, 0, 0, zone).Unix(), stops.Sunrise.Unix())
	assert.Equal(t, time.Date(2024, time.June, 10, 18, 0, 0, 0, zone).Unix(), stops.Sunset.Unix())
	assert.Equal(t, time.Date(2024, time.June, 10, 18, 30, 0, 0, zone).Unix(), stops.Night.Unix())
}

func TestDayStops_ManualIgnoresCoordinates(t *testing.T) {
	sched := manualSchedule("07:00", "19:00", 0)
	sched.Location = solar.Location{Latitude: 500, Longitude: -999}

	_, err := sched.DayStops(time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
}

func TestDayStops_Solar(t *testing.T) {
	zone := mustZone(t, "Europe/Berlin")
	now := time.Date(2024, time.June, 21, 12, 0, 0, 0, zone)
	sched := solar.Schedule{Location: berlin, Duration: 30 * time.Minute}

	stops, err := sched.DayStops(now)
	require.NoError(t, err)

	sunrise := stops.Sunrise.In(zone)
	sunset := stops.Sunset.In(zone)
	assert.True(t, sunrise.After(time.Date(2024, time.June, 21, 4, 30, 0, 0, zone)), "sunrise %v", sunrise)
	assert.True(t, sunrise.Before(time.Date(2024, time.June, 21, 5, 0, 0, 0, zone)), "sunrise %v", sunrise)
	assert.True(t, sunset.After(time.Date(2024, time.June, 21, 21, 15, 0, 0, zone)), "sunset %v", sunset)
	assert.True(t, sunset.Before(time.Date(2024, time.June, 21, 21, 45, 0, 0, zone)), "sunset %v", sunset)

	assert.Equal(t, 30*time.Minute, stops.Sunrise.Sub(stops.Dawn))
	assert.Equal(t, 30*time.Minute, stops.Night.Sub(stops.Sunset))
}

func TestDayStops_InvalidCoordinates(t *testing.T) {
	now := time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		loc  solar.Location
	}{
		{name: "latitude above 90", loc: solar.Location{Latitude: 90.5, Longitude: 0}},
		{name: "latitude below -90", loc: solar.Location{Latitude: -91, Longitude: 0}},
		{name: "longitude above 180", loc: solar.Location{Latitude: 0, Longitude: 181}},
		{name: "longitude below -180", loc: solar.Location{Latitude: 0, Longitude: -180.01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := solar.Schedule{Location: tt.loc}.DayStops(now)
			assert.ErrorIs(t, err, solar.ErrInvalidCoordinates)
		})
	}
}

func TestDayStops_InvalidTimestamp(t *testing.T) {
	_, err := solar.Schedule{Location: berlin}.DayStops(time.Time{})
	assert.ErrorIs(t, err, solar.ErrInvalidTimestamp)
}

func TestDayStops_PolarDayAndNight(t *testing.T) {
	zone := mustZone(t, "Europe/Oslo")
	tromso := solar.Location{Latitude: 69.65, Longitude: 18.96}
	sched := solar.Schedule{Location: tromso, Duration: 30 * time.Minute}

	summer := time.Date(2024, time.June, 21, 12, 0, 0, 0, zone)
	stops, err := sched.DayStops(summer)
	require.NoError(t, err)
	assert.Equal(t, solar.PhaseDay, solar.PhaseAt(summer, stops))

	winter := time.Date(2024, time.December, 21, 12, 0, 0, 0, zone)
	stops, err = sched.DayStops(winter)
	require.NoError(t, err)
	for h := 0; h < 24; h++ {
		now := time.Date(2024, time.December, 21, h, 0, 0, 0, zone)
		assert.Equal(t, solar.PhaseNight, solar.PhaseAt(now, stops), "hour %d", h)
	}
}

func TestNextSunrise_BeforeAndAfter(t *testing.T) {
	zone := mustZone(t, "Europe/Berlin")
	sched := manualSchedule("06:00", "18:00", 30*time.Minute)
	today := time.Date(2024, time.June, 10, 12, 0, 0, 0, zone)

	stops, err := sched.DayStops(today)
	require.NoError(t, err)

	before := stops.Sunrise.Add(-time.Second)
	next, err := sched.NextSunrise(before, stops)
	require.NoError(t, err)
	assert.Equal(t, stops.Sunrise, next)

	after := stops.Sunrise.Add(time.Second)
	next, err = sched.NextSunrise(after, stops)
	require.NoError(t, err)
	tomorrow, err := sched.DayStops(today.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, tomorrow.Sunrise, next)
	assert.Equal(t, time.Date(2024, time.June, 11, 6, 0, 0, 0, zone).Unix(), next.Unix())
}

func TestNextSunrise_AcrossDaylightSavingTransition(t *testing.T) {
	zone := mustZone(t, "Europe/Berlin")
	sched := solar.Schedule{Location: berlin, Duration: 30 * time.Minute}

	// March 31 2024 is 23 hours long in Berlin; adding a flat 24 hours to a
	// late evening on March 30 lands on April 1.
	now := time.Date(2024, time.March, 30, 23, 30, 0, 0, zone)
	stops, err := sched.DayStops(now)
	require.NoError(t, err)

	next, err := sched.NextSunrise(now, stops)
	require.NoError(t, err)

	expected, err := sched.DayStops(time.Date(2024, time.March, 31, 12, 0, 0, 0, zone))
	require.NoError(t, err)
	assert.Equal(t, expected.Sunrise, next)

	_, month, day := next.In(zone).Date()
	assert.Equal(t, time.March, month)
	assert.Equal(t, 31, day)
}

func TestNextSunrise_ManualAcrossFallBack(t *testing.T) {
	zone := mustZone(t, "Europe/Berlin")
	sched := manualSchedule("06:00", "18:00", 0)

	now := time.Date(2024, time.October, 26, 23, 0, 0, 0, zone)
	stops, err := sched.DayStops(now)
	require.NoError(t, err)

	next, err := sched.NextSunrise(now, stops)
	require.NoError(t, err)

	expected, err := sched.DayStops(time.Date(2024, time.October, 27, 9, 0, 0, 0, zone))
	require.NoError(t, err)
	assert.Equal(t, expected.Sunrise, next)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{input: "06:00", expected: 6 * time.Hour},
		{input: "18:45", expected: 18*time.Hour + 45*time.Minute},
		{input: " 7:05 ", expected: 7*time.Hour + 5*time.Minute},
		{input: "00:00", expected: 0},
		{input: "24:00", wantErr: true},
		{input: "12:60", wantErr: true},
		{input: "1200", wantErr: true},
		{input: "ab:cd", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := solar.ParseClock(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, solar.ErrInvalidClock)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
