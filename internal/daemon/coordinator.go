// SPDX-License-Identifier: GPL-3.0-only

// Package daemon runs the loop that keeps every display's color temperature
// in step with the schedule.
package daemon

//go:generate mockgen -source=coordinator.go -destination=mocks/display_mock.go -package=mocks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/wl-nightshift/internal/control"
	"github.com/shini4i/wl-nightshift/internal/solar"
)

// minWait bounds how often the loop can tick on its own.
const minWait = time.Second

// Display is the set of display operations the loop drives.
type Display interface {
	// DispatchPending handles already-received protocol events without blocking.
	DispatchPending() error
	// ApplyTemperature updates every usable output and returns how many were updated.
	ApplyTemperature(kelvin int, gamma float64) int
	// Flush sends queued protocol requests.
	Flush() error
	// ReadReady reads pending protocol bytes only if the connection is readable.
	ReadReady() error
}

// Observer receives every published snapshot.
type Observer func(control.Snapshot)

// Config holds the loop's fixed settings.
type Config struct {
	Curve    solar.Curve
	Gamma    float64
	Schedule solar.Schedule
	// StartMode pins the first phase until the next sunrise unless it is auto.
	StartMode solar.Mode
	// Location is reported in status snapshots; nil for manual times.
	Location *solar.Location
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock, mainly for testing.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithObserver registers a function called after every published snapshot.
func WithObserver(fn Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, fn)
	}
}

// Coordinator owns the loop state: the curve, the requested mode and the
// active override. It is only touched from the goroutine running Run.
type Coordinator struct {
	display   Display
	hub       *control.Hub
	cfg       Config
	now       func() time.Time
	observers []Observer

	curve     solar.Curve
	requested solar.Mode
	override  *solar.Override
	// pinStart is set until the first tick has synthesized the startup override.
	pinStart bool
}

// New creates a Coordinator.
func New(display Display, hub *control.Hub, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		display:   display,
		hub:       hub,
		cfg:       cfg,
		now:       time.Now,
		curve:     cfg.Curve,
		requested: cfg.StartMode,
		pinStart:  cfg.StartMode != solar.ModeAuto,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run ticks until ctx is cancelled or the display connection fails.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		wait, err := c.Tick(c.now())
		if err != nil {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.hub.Refreshes():
			log.Debug().Msg("Refresh requested")
		case <-c.hub.Ready():
			c.applyCommands(c.now())
		case <-timer.C:
		}
		timer.Stop()

		if err := c.display.ReadReady(); err != nil {
			return err
		}
	}
}

// Tick runs one pass of the loop at now and returns how long to wait before the next.
func (c *Coordinator) Tick(now time.Time) (time.Duration, error) {
	if err := c.display.DispatchPending(); err != nil {
		return 0, fmt.Errorf("failed to dispatch display events: %w", err)
	}

	stops, err := c.cfg.Schedule.DayStops(now)
	if err != nil {
		return 0, fmt.Errorf("failed to compute day stops: %w", err)
	}

	if c.pinStart {
		c.pinStart = false
		c.pin(now, stops, c.cfg.StartMode)
	}

	natural := solar.PhaseAt(now, stops)
	base := solar.TemperatureAt(now, stops, c.curve)

	if c.override != nil && !c.override.Active(now) {
		log.Info().Str("mode", c.override.Mode.String()).Msg("Override expired, following schedule")
		c.override = nil
		c.requested = solar.ModeAuto
	}
	phase, temp := c.override.Apply(now, natural, base, c.curve)

	// The ramp is applied and flushed before the snapshot is published so
	// the status carries how many outputs this tick actually reached.
	applied := c.display.ApplyTemperature(temp, c.cfg.Gamma)
	if err := c.display.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush display requests: %w", err)
	}

	snapshot := control.Snapshot{
		RequestedMode: c.requested,
		NaturalPhase:  natural,
		AppliedPhase:  phase,
		Temperature:   temp,
		Curve:         c.curve,
		Location:      c.cfg.Location,
		SunTimes: &control.SunTimes{
			Sunrise: solar.FormatClock(stops.Sunrise),
			Sunset:  solar.FormatClock(stops.Sunset),
		},
		Outputs:   applied,
		UpdatedAt: now,
	}
	if c.override != nil {
		snapshot.OverrideExpiresAt = c.override.ExpiresAt
	}
	c.hub.Publish(snapshot)
	for _, fn := range c.observers {
		fn(snapshot)
	}

	wake := solar.NextWake(now, stops)
	if c.override != nil && c.override.ExpiresAt.Before(wake) {
		wake = c.override.ExpiresAt
	}
	wait := max(wake.Sub(now), minWait)

	log.Debug().
		Str("natural", natural.String()).
		Str("applied", phase.String()).
		Int("kelvin", temp).
		Int("outputs", applied).
		Dur("wait", wait).
		Msg("Tick")

	return wait, nil
}

// applyCommands handles every queued command in order.
func (c *Coordinator) applyCommands(now time.Time) {
	for _, cmd := range c.hub.Drain() {
		switch cmd.Kind {
		case control.CommandSetMode:
			c.pinStart = false
			if cmd.Mode == solar.ModeAuto {
				c.override = nil
				c.requested = solar.ModeAuto
				log.Info().Msg("Mode set to auto")
				continue
			}
			stops, err := c.cfg.Schedule.DayStops(now)
			if err != nil {
				log.Error().Err(err).Str("mode", cmd.Mode.String()).Msg("Failed to compute day stops, ignoring mode change")
				continue
			}
			c.pin(now, stops, cmd.Mode)

		case control.CommandSetCurve:
			if err := cmd.Curve.Validate(); err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid temperature curve")
				continue
			}
			c.curve = cmd.Curve
			log.Info().Int("low", cmd.Curve.Low).Int("high", cmd.Curve.High).Msg("Temperature curve updated")
		}
	}
}

// pin installs an override for mode lasting until the next sunrise after now.
func (c *Coordinator) pin(now time.Time, stops solar.DayStops, mode solar.Mode) {
	expires, err := c.cfg.Schedule.NextSunrise(now, stops)
	if err != nil {
		log.Error().Err(err).Str("mode", mode.String()).Msg("Failed to compute next sunrise, ignoring mode change")
		return
	}
	c.override = solar.Request(mode, expires)
	c.requested = mode
	log.Info().Str("mode", mode.String()).Time("expires_at", expires).Msg("Mode pinned until next sunrise")
}
