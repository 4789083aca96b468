// SPDX-License-Identifier: GPL-3.0-only

// Package metrics exports the daemon's status snapshots as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/shini4i/wl-nightshift/internal/control"
	"github.com/shini4i/wl-nightshift/internal/solar"
)

const shutdownTimeout = 5 * time.Second

var phases = []solar.Phase{solar.PhaseNight, solar.PhaseSunrise, solar.PhaseDay, solar.PhaseSunset}

var (
	registerOnce sync.Once

	temperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nightshift",
			Name:      "temperature_kelvin",
			Help:      "Color temperature in Kelvin: the applied value and the curve bounds.",
		},
		[]string{"kind"},
	)
	phase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nightshift",
			Name:      "phase",
			Help:      "1 for the current phase of the day, 0 otherwise.",
		},
		[]string{"phase", "source"},
	)
	outputsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nightshift",
			Name:      "outputs_active",
			Help:      "Outputs that received the last gamma ramp.",
		},
	)
	overrideActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nightshift",
			Name:      "override_active",
			Help:      "1 while a manual mode override is in effect.",
		},
	)
	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nightshift",
			Name:      "ticks_total",
			Help:      "Scheduler ticks completed.",
		},
	)
)

// Register adds the collectors to the default registry. Repeated calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(temperature, phase, outputsActive, overrideActive, ticks)
	})
}

// Observe records one published snapshot.
func Observe(s control.Snapshot) {
	Register()

	temperature.WithLabelValues("current").Set(float64(s.Temperature))
	temperature.WithLabelValues("low").Set(float64(s.Curve.Low))
	temperature.WithLabelValues("high").Set(float64(s.Curve.High))

	for _, p := range phases {
		phase.WithLabelValues(p.String(), "applied").Set(boolGauge(p == s.AppliedPhase))
		phase.WithLabelValues(p.String(), "natural").Set(boolGauge(p == s.NaturalPhase))
	}

	outputsActive.Set(float64(s.Outputs))
	overrideActive.Set(boolGauge(!s.OverrideExpiresAt.IsZero()))
	ticks.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr and prepares the /metrics handler.
func Listen(addr string) (*Server, error) {
	Register()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve handles scrapes until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		errs <- s.srv.Serve(s.listener)
	}()
	log.Info().Str("addr", s.listener.Addr().String()).Msg("Metrics endpoint listening")

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return nil
}
