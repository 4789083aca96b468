// SPDX-License-Identifier: GPL-3.0-only

// Package wayland drives compositor gamma tables through the
// wlr-gamma-control-unstable-v1 protocol.
//
// The client speaks the wire protocol directly. Every live object id is
// recorded in a table together with its interface, and incoming messages are
// decoded into typed events by looking the sender up in that table.
package wayland

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/wl-nightshift/internal/color"
)

// ErrGammaControlUnsupported is returned when the compositor does not advertise a gamma control manager.
var ErrGammaControlUnsupported = errors.New("compositor lacks wlr-gamma-control-unstable-v1")

// ProtocolError is a fatal error reported by the compositor through wl_display.error.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wayland protocol error on object %d (code %d): %s", e.Object, e.Code, e.Message)
}

// transport is the connection a Session talks through.
type transport interface {
	NewID() uint32
	FreeID(id uint32)
	Send(m Message)
	Flush() error
	Readable() (bool, error)
	Read(block bool) error
	Next() (Message, bool, error)
	Close() error
}

// Verify Conn implements transport interface.
var _ transport = (*Conn)(nil)

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithAllocator sets the ramp buffer allocator, mainly for testing.
func WithAllocator(fn Allocator) Option {
	return func(s *Session) {
		s.allocate = fn
	}
}

// WithOutputFilter restricts ApplyTemperature to outputs whose name or
// description is in names. An empty list selects every output.
func WithOutputFilter(names []string) Option {
	return func(s *Session) {
		for _, n := range names {
			s.filter[n] = true
		}
	}
}

// Session owns the set of outputs and their gamma controls.
// It is not safe for concurrent use; the coordinator drives it from one goroutine.
type Session struct {
	conn     transport
	allocate Allocator
	filter   map[string]bool

	// objects maps every live object id to its interface.
	objects map[uint32]objectKind
	// owners maps wl_output and gamma control ids to the owning output's global name.
	owners map[uint32]uint32
	// outputs is keyed by registry global name.
	outputs map[uint32]*Output
	done    map[uint32]bool

	registry    uint32
	manager     uint32
	managerName uint32
}

// Connect dials the compositor and runs the initial discovery.
func Connect(opts ...Option) (*Session, error) {
	conn, err := Dial()
	if err != nil {
		return nil, err
	}

	s := NewSession(conn, opts...)
	if err := s.Start(); err != nil {
		if closeErr := s.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close wayland connection during cleanup")
		}
		return nil, err
	}
	return s, nil
}

// NewSession creates a session over an established transport.
func NewSession(conn transport, opts ...Option) *Session {
	s := &Session{
		conn:     conn,
		allocate: AllocateRampBuffer,
		filter:   make(map[string]bool),
		objects:  map[uint32]objectKind{displayID: kindDisplay},
		owners:   make(map[uint32]uint32),
		outputs:  make(map[uint32]*Output),
		done:     make(map[uint32]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start requests the registry and waits until every announced global has been
// bound and every gamma control has reported its ramp size.
func (s *Session) Start() error {
	s.registry = s.conn.NewID()
	s.objects[s.registry] = kindRegistry
	s.conn.Send(Message{
		Sender: displayID,
		Opcode: opDisplayGetRegistry,
		Args:   newArgs().uint(s.registry).bytes(),
	})

	if err := s.roundtrip(); err != nil {
		return fmt.Errorf("initial roundtrip: %w", err)
	}
	if s.manager == 0 {
		return ErrGammaControlUnsupported
	}

	s.ensureGammaAll()
	if err := s.roundtrip(); err != nil {
		return fmt.Errorf("gamma setup roundtrip: %w", err)
	}

	log.Info().Int("outputs", len(s.outputs)).Msg("Wayland session ready")
	return nil
}

// roundtrip blocks until the compositor has processed every request sent so far.
func (s *Session) roundtrip() error {
	cb := s.conn.NewID()
	s.objects[cb] = kindCallback
	s.conn.Send(Message{
		Sender: displayID,
		Opcode: opDisplaySync,
		Args:   newArgs().uint(cb).bytes(),
	})
	if err := s.conn.Flush(); err != nil {
		return err
	}

	for {
		if err := s.DispatchPending(); err != nil {
			return err
		}
		if s.done[cb] {
			delete(s.done, cb)
			return nil
		}
		if err := s.conn.Read(true); err != nil {
			return err
		}
	}
}

// DispatchPending handles every complete event already received without blocking.
func (s *Session) DispatchPending() error {
	for {
		m, ok, err := s.conn.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.dispatch(m); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(m Message) error {
	kind, ok := s.objects[m.Sender]
	if !ok {
		// Events can still arrive for objects destroyed on our side.
		log.Debug().Uint32("object", m.Sender).Uint16("opcode", m.Opcode).Msg("Dropping event for unknown object")
		return nil
	}

	ev, err := decodeEvent(kind, m)
	if err != nil {
		return fmt.Errorf("failed to decode %s event %d: %w", kind, m.Opcode, err)
	}

	switch e := ev.(type) {
	case displayError:
		return &ProtocolError{Object: e.object, Code: e.code, Message: e.message}
	case deleteID:
		delete(s.objects, e.id)
		s.conn.FreeID(e.id)
	case global:
		s.handleGlobal(e)
	case globalRemove:
		s.handleGlobalRemove(e.name)
	case callbackDone:
		s.done[m.Sender] = true
		delete(s.objects, m.Sender)
	case outputName:
		if out := s.ownerOf(m.Sender); out != nil {
			out.Name = e.name
		}
	case outputDescription:
		if out := s.ownerOf(m.Sender); out != nil {
			out.Description = e.description
		}
	case gammaSize:
		s.handleGammaSize(m.Sender, e.size)
	case gammaFailed:
		s.handleGammaFailed(m.Sender)
	}
	return nil
}

func (s *Session) ownerOf(id uint32) *Output {
	name, ok := s.owners[id]
	if !ok {
		return nil
	}
	return s.outputs[name]
}

func (s *Session) bind(name uint32, iface string, version uint32, kind objectKind) uint32 {
	id := s.conn.NewID()
	s.objects[id] = kind
	s.conn.Send(Message{
		Sender: s.registry,
		Opcode: opRegistryBind,
		Args:   newArgs().uint(name).str(iface).uint(version).uint(id).bytes(),
	})
	return id
}

func (s *Session) handleGlobal(g global) {
	switch g.iface {
	case ifaceOutput:
		if _, exists := s.outputs[g.name]; exists {
			return
		}
		version := min(g.version, outputVersion)
		out := &Output{Global: g.name, version: version}
		out.object = s.bind(g.name, ifaceOutput, version, kindOutput)
		s.outputs[g.name] = out
		s.owners[out.object] = g.name
		log.Debug().Uint32("output", g.name).Uint32("version", version).Msg("Bound output")
		s.ensureGamma(out)

	case ifaceGammaManager:
		if s.manager != 0 {
			return
		}
		s.manager = s.bind(g.name, ifaceGammaManager, gammaManagerVersion, kindGammaManager)
		s.managerName = g.name
		log.Debug().Uint32("global", g.name).Msg("Bound gamma control manager")
		s.ensureGammaAll()
	}
}

func (s *Session) handleGlobalRemove(name uint32) {
	if s.manager != 0 && name == s.managerName {
		log.Warn().Msg("Gamma control manager removed by compositor")
		s.conn.Send(Message{Sender: s.manager, Opcode: opManagerDestroy})
		delete(s.objects, s.manager)
		s.manager = 0
		s.managerName = 0
		return
	}

	out, ok := s.outputs[name]
	if !ok {
		return
	}
	s.removeOutput(out)
}

// ensureGamma requests a gamma control for out once both it and the manager exist.
func (s *Session) ensureGamma(out *Output) {
	if s.manager == 0 || out.gamma != 0 {
		return
	}
	id := s.conn.NewID()
	s.objects[id] = kindGammaControl
	s.owners[id] = out.Global
	out.gamma = id
	s.conn.Send(Message{
		Sender: s.manager,
		Opcode: opManagerGetGammaControl,
		Args:   newArgs().uint(id).uint(out.object).bytes(),
	})
}

func (s *Session) ensureGammaAll() {
	for _, name := range sortedKeys(s.outputs) {
		s.ensureGamma(s.outputs[name])
	}
}

func (s *Session) handleGammaSize(id uint32, size uint32) {
	out := s.ownerOf(id)
	if out == nil || out.gamma != id {
		return
	}

	out.releaseBuffer()
	out.RampSize = size
	if size == 0 {
		return
	}

	buf, err := s.allocate(color.TableBytes(int(size)))
	if err != nil {
		log.Warn().Err(err).Uint32("output", out.Global).Str("name", out.Name).Msg("Failed to allocate gamma table, output disabled")
		return
	}
	out.buffer = buf
	log.Debug().Uint32("output", out.Global).Uint32("ramp_size", size).Msg("Allocated gamma table")
}

func (s *Session) handleGammaFailed(id uint32) {
	out := s.ownerOf(id)
	if out == nil || out.gamma != id {
		return
	}
	log.Warn().Uint32("output", out.Global).Str("name", out.Name).Msg("Gamma control failed, output disabled")
	s.dropGamma(out)
}

// dropGamma destroys the output's gamma control and releases its table.
func (s *Session) dropGamma(out *Output) {
	if out.gamma != 0 {
		s.conn.Send(Message{Sender: out.gamma, Opcode: opGammaDestroy})
		delete(s.objects, out.gamma)
		delete(s.owners, out.gamma)
		out.gamma = 0
	}
	out.releaseBuffer()
	out.RampSize = 0
}

func (s *Session) removeOutput(out *Output) {
	s.dropGamma(out)
	if out.version >= outputReleaseVersion {
		s.conn.Send(Message{Sender: out.object, Opcode: opOutputRelease})
	}
	delete(s.objects, out.object)
	delete(s.owners, out.object)
	delete(s.outputs, out.Global)
	log.Info().Uint32("output", out.Global).Str("name", out.Name).Msg("Output removed")
}

// ApplyTemperature fills every usable output's table for kelvin and asks the
// compositor to adopt it. The table is rewritten in place and the compositor
// is handed the same shared memory, not a copy. It returns the number of
// outputs updated; with none usable it does nothing.
func (s *Session) ApplyTemperature(kelvin int, gamma float64) int {
	wp := color.WhitepointForKelvin(kelvin)
	applied := 0

	for _, name := range sortedKeys(s.outputs) {
		out := s.outputs[name]
		if !out.usable() || !out.matches(s.filter) {
			continue
		}

		if err := color.FillRamp(out.buffer.Samples(), int(out.RampSize), wp, gamma); err != nil {
			log.Warn().Err(err).Uint32("output", out.Global).Msg("Failed to fill gamma table")
			continue
		}
		if err := out.buffer.Rewind(); err != nil {
			log.Warn().Err(err).Uint32("output", out.Global).Msg("Failed to rewind gamma table")
			continue
		}

		s.conn.Send(Message{Sender: out.gamma, Opcode: opGammaSetGamma, FDs: []int{out.buffer.Fd()}})
		applied++
		log.Debug().
			Uint32("output", out.Global).
			Str("name", out.Name).
			Uint32("ramp_size", out.RampSize).
			Int("kelvin", kelvin).
			Msg("Applied gamma table")
	}
	return applied
}

// Flush sends queued requests to the compositor.
func (s *Session) Flush() error {
	return s.conn.Flush()
}

// ReadReady reads pending bytes only if a zero-timeout poll says the socket is
// ready, so it never blocks. Read failures other than a hangup are logged and
// left for the next tick; poll failures are returned.
func (s *Session) ReadReady() error {
	ready, err := s.conn.Readable()
	if err != nil {
		return fmt.Errorf("failed to poll wayland connection: %w", err)
	}
	if !ready {
		return nil
	}

	if err := s.conn.Read(false); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return err
		}
		log.Warn().Err(err).Msg("Failed to read wayland events")
	}
	return nil
}

// Outputs returns a snapshot of every known output ordered by global name.
func (s *Session) Outputs() []OutputInfo {
	infos := make([]OutputInfo, 0, len(s.outputs))
	for _, name := range sortedKeys(s.outputs) {
		infos = append(infos, s.outputs[name].info())
	}
	return infos
}

// Close releases every ramp buffer and closes the connection.
func (s *Session) Close() error {
	for _, out := range s.outputs {
		out.releaseBuffer()
	}
	return s.conn.Close()
}

// sortedKeys returns the map's keys in ascending order.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
