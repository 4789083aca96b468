// SPDX-License-Identifier: GPL-3.0-only

// Package ipc serves status and control requests as newline-delimited JSON
// on a Unix domain socket.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/shini4i/wl-nightshift/internal/control"
	"github.com/shini4i/wl-nightshift/internal/solar"
)

// ErrRateLimitExceeded is returned when mutating requests exceed the rate limit.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	rateLimitPerSecond = 20
	rateLimitBurst     = 5

	// maxRequestSize bounds a single request line.
	maxRequestSize = 64 * 1024

	// Accept failures such as EMFILE are retried with exponential backoff.
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Request types.
const (
	TypeGetStatus      = "get_status"
	TypeSetMode        = "set_mode"
	TypeSetTemperature = "set_temperature"
)

// Response types.
const (
	TypeStatus = "status"
	TypeError  = "error"
)

// Controller is the daemon state the socket reads and steers.
// *control.Hub implements it.
type Controller interface {
	Status() control.Snapshot
	RequestMode(mode solar.Mode) control.Snapshot
	RequestCurve(curve solar.Curve) (control.Snapshot, error)
}

// Request is one line sent by a client.
type Request struct {
	Type string  `json:"type"`
	Mode *string `json:"mode,omitempty"`
	Low  *int    `json:"low,omitempty"`
	High *int    `json:"high,omitempty"`
}

// Response is one line sent back to a client. Status fields are present
// only when Type is "status"; Message only when Type is "error".
type Response struct {
	Type          string `json:"type"`
	RequestedMode string `json:"requested_mode"`
	CurrentMode   string `json:"current_mode"`
	AutomaticMode string `json:"automatic_mode"`
	CurrentTemp   int    `json:"current_temp"`
	LowTemp       int    `json:"low_temp"`
	HighTemp      int    `json:"high_temp"`
	// Location is [latitude, longitude], or null without a location.
	Location *[2]float64 `json:"location"`
	// SunTimes is [sunrise, sunset] as local HH:MM, or null.
	SunTimes *[2]string `json:"sun_times"`
	Message  string     `json:"message,omitempty"`
}

// MarshalJSON drops the status-only keys from error replies.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Type == TypeError {
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{r.Type, r.Message})
	}
	type plain Response
	return json.Marshal(plain(r))
}

// StatusResponse renders a snapshot as a status reply.
func StatusResponse(s control.Snapshot) Response {
	resp := Response{
		Type:          TypeStatus,
		RequestedMode: s.RequestedMode.String(),
		CurrentMode:   s.AppliedPhase.String(),
		AutomaticMode: s.NaturalPhase.String(),
		CurrentTemp:   s.Temperature,
		LowTemp:       s.Curve.Low,
		HighTemp:      s.Curve.High,
	}
	if s.Location != nil {
		resp.Location = &[2]float64{s.Location.Latitude, s.Location.Longitude}
	}
	if s.SunTimes != nil {
		resp.SunTimes = &[2]string{s.SunTimes.Sunrise, s.SunTimes.Sunset}
	}
	return resp
}

func errorResponse(err error) Response {
	return Response{Type: TypeError, Message: fmt.Sprintf("Invalid command: %v", err)}
}

// Server accepts clients on a Unix socket.
type Server struct {
	path        string
	controller  Controller
	rateLimiter *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	wg       sync.WaitGroup
}

// NewServer creates a server that will listen on path.
func NewServer(path string, controller Controller) *Server {
	return &Server{
		path:        path,
		controller:  controller,
		rateLimiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
		conns:       make(map[string]net.Conn),
	}
}

// Listen binds the socket, removing a stale socket file first.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.path, err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Info().Str("socket", s.path).Msg("IPC server listening")
	return nil
}

// Serve accepts clients until ctx is cancelled or the server is closed.
// Listen must have been called first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("ipc server is not listening")
	}

	stop := context.AfterFunc(ctx, func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close IPC server")
		}
	})
	defer stop()

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			delay = nextAcceptDelay(delay)
			log.Error().Err(err).Dur("retry_in", delay).Msg("Failed to accept IPC connection")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
			continue
		}
		delay = 0

		id := uuid.NewString()
		s.mu.Lock()
		s.conns[id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(id, conn)
		}()
	}
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(prev*2, maxAcceptDelay)
}

// Close stops accepting clients, disconnects existing ones and removes
// the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	for id, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, id)
	}
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

func (s *Server) handle(id string, conn net.Conn) {
	logger := log.With().Str("session", id).Logger()
	logger.Debug().Msg("IPC client connected")

	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		_ = conn.Close()
		logger.Debug().Msg("IPC client disconnected")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.Dispatch(line)
		if resp.Type == TypeError {
			logger.Debug().Str("message", resp.Message).Msg("Rejected IPC request")
		}
		if err := encoder.Encode(resp); err != nil {
			logger.Warn().Err(err).Msg("Failed to write IPC response")
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Warn().Err(err).Msg("Failed to read IPC request")
	}
}

// Dispatch answers a single request line.
func (s *Server) Dispatch(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(err)
	}

	switch req.Type {
	case TypeGetStatus:
		return StatusResponse(s.controller.Status())

	case TypeSetMode:
		if req.Mode == nil {
			return errorResponse(errors.New("missing field `mode`"))
		}
		mode, err := solar.ParseMode(*req.Mode)
		if err != nil {
			return errorResponse(err)
		}
		if !s.rateLimiter.Allow() {
			return errorResponse(ErrRateLimitExceeded)
		}
		log.Info().Str("mode", mode.String()).Msg("Mode requested over IPC")
		return StatusResponse(s.controller.RequestMode(mode))

	case TypeSetTemperature:
		if req.Low == nil || req.High == nil {
			return errorResponse(errors.New("missing field `low` or `high`"))
		}
		if !s.rateLimiter.Allow() {
			return errorResponse(ErrRateLimitExceeded)
		}
		snapshot, err := s.controller.RequestCurve(solar.Curve{Low: *req.Low, High: *req.High})
		if err != nil {
			return errorResponse(err)
		}
		log.Info().Int("low", *req.Low).Int("high", *req.High).Msg("Temperature curve requested over IPC")
		return StatusResponse(snapshot)

	default:
		return errorResponse(fmt.Errorf("unknown request type %q", req.Type))
	}
}
