// SPDX-License-Identifier: GPL-3.0-only

// Package main provides the entry point for the wl-nightshift daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shini4i/wl-nightshift/internal/config"
	"github.com/shini4i/wl-nightshift/internal/control"
	"github.com/shini4i/wl-nightshift/internal/daemon"
	"github.com/shini4i/wl-nightshift/internal/dbus"
	"github.com/shini4i/wl-nightshift/internal/geoclue"
	"github.com/shini4i/wl-nightshift/internal/ipc"
	"github.com/shini4i/wl-nightshift/internal/metrics"
	"github.com/shini4i/wl-nightshift/internal/solar"
	"github.com/shini4i/wl-nightshift/internal/udev"
	"github.com/shini4i/wl-nightshift/internal/wayland"
)

// options holds the raw flag values. Only flags the user set are applied
// over the config file and environment.
type options struct {
	configPath  string
	verbose     bool
	low         int
	high        int
	lat         float64
	lon         float64
	sunrise     string
	sunset      string
	duration    int
	gamma       float64
	mode        string
	outputs     []string
	socket      string
	dbus        bool
	hotplug     bool
	metricsAddr string
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wl-nightshift",
		Short: "Adjust Wayland screen color temperature to the time of day",
		Long: `wl-nightshift warms the screen after sunset and restores it after sunrise
on compositors implementing wlr-gamma-control-unstable-v1.

Sunrise and sunset come from the configured coordinates, from GeoClue when no
coordinates are given, or from fixed local times. The daemon can be steered
through a Unix socket, the session bus, SIGUSR1 and display hot-plug events.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.IntVarP(&opts.low, "low", "t", 4000, "Low color temperature at night (K)")
	flags.IntVarP(&opts.high, "high", "T", 6500, "High color temperature during the day (K)")
	flags.Float64VarP(&opts.lat, "lat", "l", 0, "Latitude in degrees")
	flags.Float64VarP(&opts.lon, "lon", "L", 0, "Longitude in degrees")
	flags.StringVarP(&opts.sunrise, "sunrise", "S", "", "Manual sunrise time HH:MM (local), disables the solar computation")
	flags.StringVarP(&opts.sunset, "sunset", "s", "", "Manual sunset time HH:MM (local), disables the solar computation")
	flags.IntVarP(&opts.duration, "duration", "d", 1800, "Transition duration around sunrise and sunset in seconds")
	flags.Float64VarP(&opts.gamma, "gamma", "g", 1.0, "Gamma correction exponent")
	flags.StringVar(&opts.mode, "mode", "auto", "Startup mode: auto, day, night or sunset")
	flags.StringArrayVarP(&opts.outputs, "output", "o", nil, "Name or description of an output to drive (repeatable, default all)")
	flags.StringVar(&opts.socket, "socket", "", "Serve JSON control requests on this Unix socket")
	flags.BoolVar(&opts.dbus, "dbus", false, "Export the control service on the session bus")
	flags.BoolVar(&opts.hotplug, "hotplug", false, "Refresh immediately on display hot-plug events")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

// applyFlags copies every explicitly set flag onto cfg.
func applyFlags(flags *pflag.FlagSet, opts *options, cfg *config.Config) {
	if flags.Changed("low") {
		cfg.LowTemp = opts.low
	}
	if flags.Changed("high") {
		cfg.HighTemp = opts.high
	}
	if flags.Changed("lat") {
		lat := opts.lat
		cfg.Latitude = &lat
	}
	if flags.Changed("lon") {
		lon := opts.lon
		cfg.Longitude = &lon
	}
	if flags.Changed("sunrise") {
		cfg.Sunrise = opts.sunrise
	}
	if flags.Changed("sunset") {
		cfg.Sunset = opts.sunset
	}
	if flags.Changed("duration") {
		cfg.Duration = opts.duration
	}
	if flags.Changed("gamma") {
		cfg.Gamma = opts.gamma
	}
	if flags.Changed("mode") {
		cfg.Mode = opts.mode
	}
	if flags.Changed("output") {
		cfg.Outputs = opts.outputs
	}
	if flags.Changed("socket") {
		cfg.Socket = opts.socket
	}
	if flags.Changed("dbus") {
		cfg.DBus = opts.dbus
	}
	if flags.Changed("hotplug") {
		cfg.Hotplug = opts.hotplug
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
}

// setupLogging configures the global logger. verbose wins over level.
func setupLogging(verbose bool, level string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return nil
	}

	parsed := zerolog.InfoLevel
	if level != "" {
		var err error
		parsed, err = zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// initialSnapshot is the status reported before the first tick.
func initialSnapshot(curve solar.Curve, mode solar.Mode, location *solar.Location) control.Snapshot {
	return control.Snapshot{
		RequestedMode: mode,
		NaturalPhase:  solar.PhaseDay,
		AppliedPhase:  solar.PhaseDay,
		Temperature:   curve.Midpoint(),
		Curve:         curve,
		Location:      location,
	}
}

func run(flags *pflag.FlagSet, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(flags, opts, cfg)

	if err := setupLogging(opts.verbose, cfg.LogLevel); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate has already rejected malformed times and modes.
	manual, _ := cfg.ManualTimes()
	startMode, _ := cfg.StartMode()
	curve := cfg.Curve()

	log.Info().
		Int("low", curve.Low).
		Int("high", curve.High).
		Str("mode", startMode.String()).
		Msg("Starting wl-nightshift")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	schedule := solar.Schedule{Duration: cfg.TransitionDuration(), Manual: manual}
	var location *solar.Location
	if manual == nil {
		location = cfg.Location()
		if cfg.NeedsGeolocation() {
			log.Info().Msg("No coordinates configured, asking GeoClue")
			found, err := geoclue.Lookup(ctx, cfg.GeoclueDesktopID)
			if err != nil {
				return fmt.Errorf("failed to determine location: %w", err)
			}
			location = &found
		}
		schedule.Location = *location
		log.Info().
			Float64("latitude", location.Latitude).
			Float64("longitude", location.Longitude).
			Msg("Using location")
	} else {
		log.Info().Str("sunrise", cfg.Sunrise).Str("sunset", cfg.Sunset).Msg("Using manual sunrise and sunset")
	}

	session, err := wayland.Connect(wayland.WithOutputFilter(cfg.Outputs))
	if err != nil {
		return fmt.Errorf("failed to connect to the compositor: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close wayland connection")
		}
	}()
	for _, out := range session.Outputs() {
		log.Info().
			Str("name", out.Name).
			Str("description", out.Description).
			Bool("usable", out.Usable).
			Msg("Found output")
	}

	hub := control.NewHub(initialSnapshot(curve, startMode, location))

	var (
		coordOpts []daemon.Option
		wg        sync.WaitGroup
	)

	if cfg.MetricsAddr != "" {
		server, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		coordOpts = append(coordOpts, daemon.WithObserver(metrics.Observe))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	if cfg.DBus {
		server := dbus.NewServer(hub)
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start D-Bus server (D-Bus control disabled)")
		} else {
			coordOpts = append(coordOpts, daemon.WithObserver(server.NotifyStatus))
			defer func() {
				if err := server.Stop(); err != nil {
					log.Error().Err(err).Msg("Failed to stop D-Bus server")
				}
			}()
		}
	}

	if cfg.Socket != "" {
		server := ipc.NewServer(cfg.Socket, hub)
		if err := server.Listen(); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("IPC server stopped")
			}
		}()
	}

	if cfg.Hotplug {
		monitor := udev.NewMonitor(createHotplugHandler(hub))
		monitor.SetRecoveryHandler(createRecoveryHandler(hub))
		if err := monitor.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start udev monitor (hot-plug detection disabled)")
		} else {
			defer func() {
				if err := monitor.Stop(); err != nil {
					log.Error().Err(err).Msg("Failed to stop udev monitor")
				}
			}()
		}
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go forwardRefreshes(ctx, usr1, hub)

	coordinator := daemon.New(session, hub, daemon.Config{
		Curve:     curve,
		Gamma:     cfg.Gamma,
		Schedule:  schedule,
		StartMode: startMode,
		Location:  location,
	}, coordOpts...)

	log.Info().Msg("Daemon running, press Ctrl+C to stop")
	runErr := coordinator.Run(ctx)

	log.Info().Msg("Shutting down...")
	cancel()
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	log.Info().Msg("Daemon stopped")
	return nil
}

// forwardRefreshes turns every signal received on sigs into a refresh tick.
func forwardRefreshes(ctx context.Context, sigs <-chan os.Signal, hub *control.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			log.Debug().Str("signal", sig.String()).Msg("Refresh requested")
			hub.Refresh()
		}
	}
}

// createHotplugHandler returns an event handler that forces a refresh tick so
// newly attached outputs receive the current ramp without waiting for the
// next scheduled wake.
func createHotplugHandler(hub *control.Hub) udev.EventHandler {
	return func(event udev.Event) {
		log.Debug().Str("type", event.Type.String()).Str("device", event.Device).Msg("Display hot-plug, refreshing")
		hub.Refresh()
	}
}

// createRecoveryHandler returns a handler for netlink buffer overflow recovery.
// Missed hot-plug events are covered by an unconditional refresh.
func createRecoveryHandler(hub *control.Hub) udev.RecoveryHandler {
	return func() {
		log.Info().Msg("Performing recovery refresh after netlink buffer overflow")
		hub.Refresh()
	}
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}
