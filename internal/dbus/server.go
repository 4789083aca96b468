// SPDX-License-Identifier: GPL-3.0-only

// Package dbus exposes status and control of the color temperature daemon on the session bus.
package dbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/shini4i/wl-nightshift/internal/control"
	"github.com/shini4i/wl-nightshift/internal/solar"
)

// ErrRateLimitExceeded is returned when control requests exceed the rate limit.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	// rateLimitPerSecond is the maximum number of control requests per second.
	rateLimitPerSecond = 20

	// rateLimitBurst is the maximum burst size for control requests.
	rateLimitBurst = 5
)

const (
	// ServiceName is the D-Bus service name.
	ServiceName = "io.github.shini4i.NightShift"

	// ObjectPath is the D-Bus object path.
	ObjectPath = "/io/github/shini4i/NightShift"

	// InterfaceName is the D-Bus interface name.
	InterfaceName = "io.github.shini4i.NightShift"
)

// IntrospectXML is the D-Bus introspection XML for the service.
const IntrospectXML = `
<node name="` + ObjectPath + `">
  <interface name="` + InterfaceName + `">
    <method name="GetStatus">
      <arg name="status" type="a{sv}" direction="out"/>
    </method>
    <method name="SetMode">
      <arg name="mode" type="s" direction="in"/>
    </method>
    <method name="SetTemperature">
      <arg name="low" type="u" direction="in"/>
      <arg name="high" type="u" direction="in"/>
    </method>
    <method name="Refresh"/>
    <signal name="ModeChanged">
      <arg name="mode" type="s"/>
    </signal>
  </interface>
  ` + introspect.IntrospectDataString + `
</node>
`

// Controller is the daemon state the service reads and steers.
// *control.Hub implements it.
type Controller interface {
	// Status returns the latest published snapshot.
	Status() control.Snapshot

	// RequestMode queues a mode change.
	RequestMode(mode solar.Mode) control.Snapshot

	// RequestCurve validates and queues a new temperature curve.
	RequestCurve(curve solar.Curve) (control.Snapshot, error)

	// Refresh asks for an immediate tick.
	Refresh()
}

// Server implements the D-Bus service.
//
// Thread safety:
//   - The Controller is safe for concurrent use.
//   - The connMu mutex protects the D-Bus connection field for signal emission.
//   - The phaseMu mutex protects the last announced phase.
type Server struct {
	conn        *dbus.Conn
	connMu      sync.RWMutex // Protects conn field only
	controller  Controller
	rateLimiter *rate.Limiter

	phaseMu   sync.Mutex
	lastPhase solar.Phase
	announced bool
}

// NewServer creates a new D-Bus server for the given controller.
func NewServer(controller Controller) *Server {
	return &Server{
		controller:  controller,
		rateLimiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}
}

// Start connects to the session bus and exports the service.
func (s *Server) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Ensure connection is closed if setup fails
	success := false
	defer func() {
		if !success {
			if closeErr := conn.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close D-Bus connection during cleanup")
			}
		}
	}()

	err = conn.Export(s, ObjectPath, InterfaceName)
	if err != nil {
		return fmt.Errorf("failed to export server: %w", err)
	}

	err = conn.Export(introspect.Introspectable(IntrospectXML), ObjectPath, "org.freedesktop.DBus.Introspectable")
	if err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", ServiceName)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	success = true
	log.Info().Str("service", ServiceName).Msg("D-Bus service started")
	return nil
}

// Stop disconnects from the session bus.
func (s *Server) Stop() error {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// GetStatus returns the current status as a dictionary. The location and
// sun time entries are present only when known.
func (s *Server) GetStatus() (map[string]dbus.Variant, *dbus.Error) {
	status := statusMap(s.controller.Status())
	log.Debug().Int("fields", len(status)).Msg("Reported status")
	return status, nil
}

// SetMode requests auto, day, night or sunset mode.
func (s *Server) SetMode(mode string) *dbus.Error {
	if !s.rateLimiter.Allow() {
		log.Warn().Msg("Rate limit exceeded for SetMode")
		return dbus.MakeFailedError(ErrRateLimitExceeded)
	}

	parsed, err := solar.ParseMode(mode)
	if err != nil {
		return dbus.MakeFailedError(err)
	}

	s.controller.RequestMode(parsed)
	log.Debug().Str("mode", parsed.String()).Msg("Mode requested over D-Bus")
	return nil
}

// SetTemperature replaces the low and high temperatures.
func (s *Server) SetTemperature(low, high uint32) *dbus.Error {
	if !s.rateLimiter.Allow() {
		log.Warn().Msg("Rate limit exceeded for SetTemperature")
		return dbus.MakeFailedError(ErrRateLimitExceeded)
	}

	if _, err := s.controller.RequestCurve(solar.Curve{Low: int(low), High: int(high)}); err != nil {
		return dbus.MakeFailedError(err)
	}

	log.Debug().Uint32("low", low).Uint32("high", high).Msg("Temperature curve requested over D-Bus")
	return nil
}

// Refresh forces an immediate tick.
func (s *Server) Refresh() *dbus.Error {
	if !s.rateLimiter.Allow() {
		log.Warn().Msg("Rate limit exceeded for Refresh")
		return dbus.MakeFailedError(ErrRateLimitExceeded)
	}

	s.controller.Refresh()
	return nil
}

// NotifyStatus emits ModeChanged when the applied phase differs from the
// last one announced.
func (s *Server) NotifyStatus(snapshot control.Snapshot) {
	s.phaseMu.Lock()
	changed := !s.announced || s.lastPhase != snapshot.AppliedPhase
	s.lastPhase = snapshot.AppliedPhase
	s.announced = true
	s.phaseMu.Unlock()

	if changed {
		s.emitModeChanged(snapshot.AppliedPhase)
	}
}

// emitModeChanged emits the ModeChanged signal.
func (s *Server) emitModeChanged(phase solar.Phase) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return
	}

	err := conn.Emit(ObjectPath, InterfaceName+".ModeChanged", phase.String())
	if err != nil {
		log.Error().Err(err).Msg("Failed to emit ModeChanged signal")
	}
}

func statusMap(snapshot control.Snapshot) map[string]dbus.Variant {
	status := map[string]dbus.Variant{
		"requested_mode": dbus.MakeVariant(snapshot.RequestedMode.String()),
		"current_mode":   dbus.MakeVariant(snapshot.AppliedPhase.String()),
		"automatic_mode": dbus.MakeVariant(snapshot.NaturalPhase.String()),
		"current_temp":   dbus.MakeVariant(int32(snapshot.Temperature)),
		"low_temp":       dbus.MakeVariant(int32(snapshot.Curve.Low)),
		"high_temp":      dbus.MakeVariant(int32(snapshot.Curve.High)),
		"outputs":        dbus.MakeVariant(uint32(snapshot.Outputs)),
	}
	if snapshot.Location != nil {
		status["latitude"] = dbus.MakeVariant(snapshot.Location.Latitude)
		status["longitude"] = dbus.MakeVariant(snapshot.Location.Longitude)
	}
	if snapshot.SunTimes != nil {
		status["sunrise"] = dbus.MakeVariant(snapshot.SunTimes.Sunrise)
		status["sunset"] = dbus.MakeVariant(snapshot.SunTimes.Sunset)
	}
	if !snapshot.OverrideExpiresAt.IsZero() {
		status["override_expires_at"] = dbus.MakeVariant(snapshot.OverrideExpiresAt.Unix())
	}
	return status
}
