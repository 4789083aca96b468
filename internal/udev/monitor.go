// SPDX-License-Identifier: GPL-3.0-only

// Package udev watches the kernel's DRM subsystem for display hot-plug events via netlink/udev.
package udev

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"github.com/rs/zerolog/log"
)

const (
	// netlinkBufferSize is the receive buffer size for the netlink socket.
	// A larger buffer prevents ENOBUFS errors when a dock brings up several connectors at once.
	netlinkBufferSize = 2 * 1024 * 1024 // 2 MB

	// debounceWindow collapses the burst of uevents one connector change produces.
	debounceWindow = 500 * time.Millisecond

	// debounceRetention is how long debounce entries are kept before cleanup.
	debounceRetention = time.Minute
)

// EventType represents the type of DRM event.
type EventType int

const (
	// EventHotplug indicates a connector on an existing card changed state.
	EventHotplug EventType = iota
	// EventAdd indicates a DRM device appeared.
	EventAdd
	// EventRemove indicates a DRM device went away.
	EventRemove
)

func (t EventType) String() string {
	switch t {
	case EventHotplug:
		return "hotplug"
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event represents a DRM hot-plug event.
type Event struct {
	Type EventType
	// Device is the kernel device path, e.g. /devices/pci0000:00/0000:00:02.0/drm/card0.
	Device string
}

// EventHandler is called when a DRM event occurs.
type EventHandler func(event Event)

// RecoveryHandler is called when the monitor recovers from an error condition
// (e.g., netlink buffer overflow) and needs to trigger a refresh.
type RecoveryHandler func()

// Monitor watches for DRM connector and device changes.
type Monitor struct {
	conn            *netlink.UEventConn
	handler         EventHandler
	recoveryHandler RecoveryHandler
	quit            chan struct{}
	stopped         bool
	lastEventTime   map[string]time.Time
	mu              sync.Mutex
}

// NewMonitor creates a new udev monitor with the given event handler.
func NewMonitor(handler EventHandler) *Monitor {
	return &Monitor{
		handler:       handler,
		lastEventTime: make(map[string]time.Time),
	}
}

// SetRecoveryHandler sets the handler called when the monitor recovers from errors.
// This should trigger a refresh to recover from potentially missed events.
func (m *Monitor) SetRecoveryHandler(handler RecoveryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveryHandler = handler
}

// Start begins monitoring for DRM events.
// This method is non-blocking; events are processed in a background goroutine.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return fmt.Errorf("monitor already started")
	}

	m.conn = &netlink.UEventConn{}
	if err := m.conn.Connect(netlink.UdevEvent); err != nil {
		m.conn = nil
		return fmt.Errorf("failed to connect to netlink: %w", err)
	}

	if err := setSocketBufferSize(m.conn.Fd, netlinkBufferSize); err != nil {
		log.Warn().Err(err).Int("size", netlinkBufferSize).Msg("Failed to set netlink buffer size")
		// Continue anyway - the default buffer may still work for most cases
	} else {
		log.Debug().Int("size", netlinkBufferSize).Msg("Netlink socket buffer size configured")
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	matcher := m.createMatcher()

	m.quit = m.conn.Monitor(queue, errs, matcher)
	m.stopped = false

	go m.processEvents(queue, errs)

	log.Info().Msg("udev monitor started")
	return nil
}

// Stop stops the monitor and releases resources.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.stopped {
		return nil
	}

	m.stopped = true

	// Signal the monitor goroutine to stop
	select {
	case m.quit <- struct{}{}:
	default:
	}

	if err := m.conn.Close(); err != nil {
		return fmt.Errorf("failed to close netlink connection: %w", err)
	}

	m.conn = nil
	log.Info().Msg("udev monitor stopped")
	return nil
}

// createMatcher creates a matcher for DRM events.
func (m *Monitor) createMatcher() *netlink.RuleDefinitions {
	rules := &netlink.RuleDefinitions{}

	changeAction := "change"
	addAction := "add"
	removeAction := "remove"

	// Connector state changes arrive as change events on the card carrying HOTPLUG=1.
	rules.AddRule(netlink.RuleDefinition{
		Action: &changeAction,
		Env: map[string]string{
			"SUBSYSTEM": "^drm$",
			"HOTPLUG":   "^1$",
		},
	})

	// Whole cards come and go with USB docks and DisplayLink adapters.
	for _, action := range []*string{&addAction, &removeAction} {
		rules.AddRule(netlink.RuleDefinition{
			Action: action,
			Env: map[string]string{
				"SUBSYSTEM": "^drm$",
				"DEVNAME":   "^dri/card[0-9]+$",
			},
		})
	}

	return rules
}

// processEvents handles incoming udev events.
func (m *Monitor) processEvents(queue chan netlink.UEvent, errs chan error) {
	for {
		select {
		case event, ok := <-queue:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				return
			}
			// Check if we're stopping
			m.mu.Lock()
			stopped := m.stopped
			recoveryHandler := m.recoveryHandler
			m.mu.Unlock()
			if stopped {
				return
			}

			// Events may have been dropped on ENOBUFS, so refresh unconditionally.
			if isBufferOverflowError(err) {
				log.Warn().Msg("Netlink buffer overflow detected, triggering recovery refresh")
				if recoveryHandler != nil {
					go recoveryHandler()
				}
				continue
			}

			log.Error().Err(err).Msg("udev monitor error")
		}
	}
}

// setSocketBufferSize sets the receive buffer size for a socket.
// It first tries SO_RCVBUFFORCE (requires CAP_NET_ADMIN), then falls back to SO_RCVBUF.
func setSocketBufferSize(fd int, size int) error {
	err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUFFORCE, size)
	if err == nil {
		return nil
	}

	// The kernel caps SO_RCVBUF at net.core.rmem_max and doubles it internally
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, size)
}

// isBufferOverflowError checks if the error is a netlink buffer overflow (ENOBUFS).
func isBufferOverflowError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOBUFS) {
		return true
	}
	// Fallback: check error message for non-wrapped cases from the udev library
	return strings.Contains(strings.ToLower(err.Error()), "no buffer space available")
}

// shouldDebounce reports whether an event for key arrived within debounceWindow
// of the previous one, and records this one. Stale entries are dropped.
func (m *Monitor) shouldDebounce(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for k, t := range m.lastEventTime {
		if now.Sub(t) > debounceRetention {
			delete(m.lastEventTime, k)
		}
	}

	last, seen := m.lastEventTime[key]
	m.lastEventTime[key] = now
	return seen && now.Sub(last) < debounceWindow
}

// handleEvent processes a single udev event.
func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	var eventType EventType
	switch uevent.Action {
	case netlink.CHANGE:
		if uevent.Env["HOTPLUG"] != "1" {
			return
		}
		eventType = EventHotplug
	case netlink.ADD:
		eventType = EventAdd
	case netlink.REMOVE:
		eventType = EventRemove
	default:
		return
	}

	if m.shouldDebounce(eventType.String() + ":" + uevent.KObj) {
		log.Debug().Str("devpath", uevent.KObj).Msg("Debounced DRM event")
		return
	}

	log.Info().
		Str("action", string(uevent.Action)).
		Str("devpath", uevent.KObj).
		Str("connector", uevent.Env["CONNECTOR"]).
		Msg("DRM hot-plug event")

	if m.handler != nil {
		m.handler(Event{Type: eventType, Device: uevent.KObj})
	}
}
