// SPDX-License-Identifier: GPL-3.0-only

package solar

import "time"

// TransitionRepoll is how often the temperature is recomputed while a
// sunrise or sunset transition is in progress.
const TransitionRepoll = 10 * time.Second

// NextWake returns when the temperature next needs recomputing: the upcoming
// stop outside transitions, or now+TransitionRepoll inside one. After night
// it is the following local midnight, when the next day's stops take over.
func NextWake(now time.Time, stops DayStops) time.Time {
	switch PhaseAt(now, stops) {
	case PhaseSunrise, PhaseSunset:
		return now.Add(TransitionRepoll)
	case PhaseDay:
		return stops.Sunset
	}

	if now.Before(stops.Dawn) {
		return stops.Dawn
	}
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}
