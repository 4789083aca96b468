// SPDX-License-Identifier: GPL-3.0-only

// Package control is the boundary between the coordinator loop and the
// front ends that observe and steer it (IPC socket, D-Bus, signals, udev).
//
// The loop writes status snapshots and reads commands; front ends read
// snapshots and submit commands. Neither side ever blocks the other.
package control

import (
	"sync"
	"time"

	"github.com/shini4i/wl-nightshift/internal/solar"
)

// CommandKind distinguishes the commands the loop accepts.
type CommandKind int

const (
	// CommandSetMode requests a mode change.
	CommandSetMode CommandKind = iota
	// CommandSetCurve replaces the temperature curve.
	CommandSetCurve
)

// Command is a request for the loop to change its state.
type Command struct {
	Kind  CommandKind
	Mode  solar.Mode
	Curve solar.Curve
}

// SunTimes holds today's sunrise and sunset as local HH:MM.
type SunTimes struct {
	Sunrise string
	Sunset  string
}

// Snapshot is the status the loop publishes after every tick.
type Snapshot struct {
	RequestedMode solar.Mode
	NaturalPhase  solar.Phase
	AppliedPhase  solar.Phase
	Temperature   int
	Curve         solar.Curve
	// Location is nil when manual sunrise/sunset times drive the schedule.
	Location *solar.Location
	SunTimes *SunTimes
	// OverrideExpiresAt is zero when no override is active.
	OverrideExpiresAt time.Time
	Outputs           int
	UpdatedAt         time.Time
}

// Hub holds the published snapshot and the pending commands.
type Hub struct {
	mu       sync.RWMutex
	snapshot Snapshot

	cmdMu    sync.Mutex
	commands []Command
	ready    chan struct{}
	refresh  chan struct{}
}

// NewHub creates a hub whose status starts as initial.
func NewHub(initial Snapshot) *Hub {
	return &Hub{
		snapshot: initial,
		ready:    make(chan struct{}, 1),
		refresh:  make(chan struct{}, 1),
	}
}

// Status returns the latest published snapshot.
func (h *Hub) Status() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}

// Publish replaces the status snapshot.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = s
}

// Submit queues a command. The queue is unbounded and preserves order.
func (h *Hub) Submit(cmd Command) {
	h.cmdMu.Lock()
	h.commands = append(h.commands, cmd)
	h.cmdMu.Unlock()

	select {
	case h.ready <- struct{}{}:
	default:
	}
}

// Ready fires when at least one command is queued.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Drain removes and returns every queued command in submission order.
func (h *Hub) Drain() []Command {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()
	cmds := h.commands
	h.commands = nil
	return cmds
}

// Refresh asks the loop to tick immediately without changing any state.
// Requests made while one is already pending are coalesced.
func (h *Hub) Refresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// Refreshes fires when a refresh has been requested.
func (h *Hub) Refreshes() <-chan struct{} {
	return h.refresh
}

// RequestMode queues a mode change and records it as the requested mode
// right away, so replies sent before the next tick already reflect it.
func (h *Hub) RequestMode(mode solar.Mode) Snapshot {
	h.mu.Lock()
	h.snapshot.RequestedMode = mode
	s := h.snapshot
	h.mu.Unlock()

	h.Submit(Command{Kind: CommandSetMode, Mode: mode})
	return s
}

// RequestCurve validates and queues a new temperature curve. An invalid
// curve is rejected and nothing changes.
func (h *Hub) RequestCurve(curve solar.Curve) (Snapshot, error) {
	if err := curve.Validate(); err != nil {
		return Snapshot{}, err
	}

	h.mu.Lock()
	h.snapshot.Curve = curve
	s := h.snapshot
	h.mu.Unlock()

	h.Submit(Command{Kind: CommandSetCurve, Curve: curve})
	return s, nil
}
