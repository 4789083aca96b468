// SPDX-License-Identifier: GPL-3.0-only

// Package geoclue resolves the machine's position once through the GeoClue2
// service on the system bus.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"github.com/shini4i/wl-nightshift/internal/solar"
)

// ErrTimeout is returned when GeoClue does not provide a location in time.
var ErrTimeout = errors.New("geoclue did not provide a location")

const (
	serviceName   = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = serviceName + ".Manager"
	clientIface   = serviceName + ".Client"
	locationIface = serviceName + ".Location"

	propertiesGet = "org.freedesktop.DBus.Properties.Get"
	propertiesSet = "org.freedesktop.DBus.Properties.Set"
)

const (
	// DefaultTimeout bounds the whole lookup.
	DefaultTimeout = 8 * time.Second

	// defaultPollInterval is how often the client's Location property is checked.
	defaultPollInterval = 200 * time.Millisecond

	// accuracyCity is GCLUE_ACCURACY_LEVEL_CITY; sunrise times need nothing finer.
	accuracyCity uint32 = 4
)

// Bus resolves remote objects. *dbus.Conn implements it.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Option is a functional option for configuring a Locator.
type Option func(*Locator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Locator) {
		l.timeout = d
	}
}

// WithPollInterval overrides how often the location is polled, mainly for testing.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locator) {
		l.interval = d
	}
}

// Locator performs GeoClue2 lookups.
type Locator struct {
	bus       Bus
	desktopID string
	timeout   time.Duration
	interval  time.Duration
}

// NewLocator creates a Locator that identifies itself as desktopID.
func NewLocator(bus Bus, desktopID string, opts ...Option) *Locator {
	l := &Locator{
		bus:       bus,
		desktopID: desktopID,
		timeout:   DefaultTimeout,
		interval:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lookup connects to the system bus and resolves the current location.
func Lookup(ctx context.Context, desktopID string) (solar.Location, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return solar.Location{}, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close system bus connection")
		}
	}()

	return NewLocator(conn, desktopID).Locate(ctx)
}

// Locate creates a GeoClue client, starts it and waits for the first location fix.
func (l *Locator) Locate(ctx context.Context) (solar.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var clientPath dbus.ObjectPath
	manager := l.bus.Object(serviceName, managerPath)
	if err := manager.CallWithContext(ctx, managerIface+".CreateClient", 0).Store(&clientPath); err != nil {
		return solar.Location{}, l.wrap(ctx, "failed to create geoclue client", err)
	}

	client := l.bus.Object(serviceName, clientPath)
	if err := setProperty(ctx, client, clientIface, "DesktopId", l.desktopID); err != nil {
		return solar.Location{}, l.wrap(ctx, "failed to set desktop id", err)
	}
	if err := setProperty(ctx, client, clientIface, "RequestedAccuracyLevel", accuracyCity); err != nil {
		return solar.Location{}, l.wrap(ctx, "failed to set accuracy level", err)
	}
	if err := client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		return solar.Location{}, l.wrap(ctx, "failed to start geoclue client", err)
	}
	defer func() {
		// The lookup context may already be done; stopping still needs a chance to run.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		if err := client.CallWithContext(stopCtx, clientIface+".Stop", 0).Err; err != nil {
			log.Debug().Err(err).Msg("Failed to stop geoclue client")
		}
	}()

	locationPath, err := l.waitForLocation(ctx, client)
	if err != nil {
		return solar.Location{}, err
	}

	location := l.bus.Object(serviceName, locationPath)
	lat, err := floatProperty(ctx, location, locationIface, "Latitude")
	if err != nil {
		return solar.Location{}, l.wrap(ctx, "failed to read location", err)
	}
	lon, err := floatProperty(ctx, location, locationIface, "Longitude")
	if err != nil {
		return solar.Location{}, l.wrap(ctx, "failed to read location", err)
	}

	loc := solar.Location{Latitude: lat, Longitude: lon}
	if err := loc.Validate(); err != nil {
		return solar.Location{}, err
	}

	log.Info().Float64("latitude", lat).Float64("longitude", lon).Msg("Location resolved via GeoClue")
	return loc, nil
}

// waitForLocation polls the client's Location property until it names an object.
func (l *Locator) waitForLocation(ctx context.Context, client dbus.BusObject) (dbus.ObjectPath, error) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		v, err := getProperty(ctx, client, clientIface, "Location")
		if err != nil {
			return "", l.wrap(ctx, "failed to read location property", err)
		}
		if path, ok := v.Value().(dbus.ObjectPath); ok && path != "" && path != "/" {
			return path, nil
		}

		select {
		case <-ctx.Done():
			return "", l.wrap(ctx, "waiting for location", ctx.Err())
		case <-ticker.C:
		}
	}
}

// wrap reports an expired lookup deadline as ErrTimeout regardless of which
// call noticed it.
func (l *Locator) wrap(ctx context.Context, msg string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w within %s", ErrTimeout, l.timeout)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", msg, ctx.Err())
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// getProperty reads a property through org.freedesktop.DBus.Properties so the
// call is bounded by ctx.
func getProperty(ctx context.Context, obj dbus.BusObject, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, propertiesGet, 0, iface, name).Store(&v); err != nil {
		return dbus.Variant{}, fmt.Errorf("failed to read %s.%s: %w", iface, name, err)
	}
	return v, nil
}

func setProperty(ctx context.Context, obj dbus.BusObject, iface, name string, value interface{}) error {
	if err := obj.CallWithContext(ctx, propertiesSet, 0, iface, name, dbus.MakeVariant(value)).Err; err != nil {
		return fmt.Errorf("failed to write %s.%s: %w", iface, name, err)
	}
	return nil
}

func floatProperty(ctx context.Context, obj dbus.BusObject, iface, name string) (float64, error) {
	v, err := getProperty(ctx, obj, iface, name)
	if err != nil {
		return 0, err
	}
	f, ok := v.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected type %s for %s.%s", v.Signature(), iface, name)
	}
	return f, nil
}
