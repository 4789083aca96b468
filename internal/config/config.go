// SPDX-License-Identifier: GPL-3.0-only

// Package config loads daemon settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// NIGHTSHIFT_* environment variables. Command-line flags are applied last by
// the caller, and Validate runs once everything is merged.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shini4i/wl-nightshift/internal/solar"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NIGHTSHIFT_"

// DefaultDesktopID identifies the daemon to GeoClue.
const DefaultDesktopID = "wl-nightshift"

var (
	// ErrPartialManualTimes is returned when only one of sunrise and sunset is set.
	ErrPartialManualTimes = errors.New("sunrise and sunset must be set together")

	// ErrInvertedManualTimes is returned when sunrise is not before sunset.
	ErrInvertedManualTimes = errors.New("sunrise must be before sunset")

	// ErrPartialLocation is returned when only one of latitude and longitude is set.
	ErrPartialLocation = errors.New("latitude and longitude must be set together")

	// ErrInvalidGamma is returned for a non-positive gamma.
	ErrInvalidGamma = errors.New("gamma must be greater than zero")

	// ErrInvalidDuration is returned for a negative transition duration.
	ErrInvalidDuration = errors.New("duration must not be negative")
)

// Config holds every daemon setting.
type Config struct {
	LowTemp  int `yaml:"low_temp"`
	HighTemp int `yaml:"high_temp"`

	// Latitude and Longitude are nil when the location should come from GeoClue.
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`

	// Sunrise and Sunset are local HH:MM times that replace the solar computation.
	Sunrise string `yaml:"sunrise"`
	Sunset  string `yaml:"sunset"`

	// Duration is the transition length in seconds.
	Duration int      `yaml:"duration"`
	Gamma    float64  `yaml:"gamma"`
	Mode     string   `yaml:"mode"`
	Outputs  []string `yaml:"outputs"`

	Socket           string `yaml:"socket"`
	DBus             bool   `yaml:"dbus"`
	Hotplug          bool   `yaml:"hotplug"`
	MetricsAddr      string `yaml:"metrics_addr"`
	GeoclueDesktopID string `yaml:"geoclue_desktop_id"`
	LogLevel         string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LowTemp:          4000,
		HighTemp:         6500,
		Duration:         1800,
		Gamma:            1.0,
		Mode:             solar.ModeAuto.String(),
		GeoclueDesktopID: DefaultDesktopID,
		LogLevel:         "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any, and
// then with environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays NIGHTSHIFT_* variables found by lookup onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst **float64) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = &f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	integer("LOW_TEMP", &cfg.LowTemp)
	integer("HIGH_TEMP", &cfg.HighTemp)
	float("LATITUDE", &cfg.Latitude)
	float("LONGITUDE", &cfg.Longitude)
	str("SUNRISE", &cfg.Sunrise)
	str("SUNSET", &cfg.Sunset)
	integer("DURATION", &cfg.Duration)
	str("MODE", &cfg.Mode)
	str("SOCKET", &cfg.Socket)
	boolean("DBUS", &cfg.DBus)
	boolean("HOTPLUG", &cfg.Hotplug)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("GEOCLUE_DESKTOP_ID", &cfg.GeoclueDesktopID)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup(EnvPrefix + "GAMMA"); ok && v != "" {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sGAMMA: %w", EnvPrefix, err))
		} else {
			cfg.Gamma = g
		}
	}
	if v, ok := lookup(EnvPrefix + "OUTPUTS"); ok && v != "" {
		cfg.Outputs = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Outputs = append(cfg.Outputs, name)
			}
		}
	}

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Curve().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ManualTimes(); err != nil {
		errs = append(errs, err)
	}
	if c.Latitude != nil || c.Longitude != nil {
		if loc := c.Location(); loc == nil {
			errs = append(errs, ErrPartialLocation)
		} else if err := loc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Gamma <= 0 || math.IsNaN(c.Gamma) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidGamma, c.Gamma))
	}
	if c.Duration < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidDuration, c.Duration))
	}
	if _, err := c.StartMode(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Curve returns the configured temperature bounds.
func (c *Config) Curve() solar.Curve {
	return solar.Curve{Low: c.LowTemp, High: c.HighTemp}
}

// ManualTimes returns the fixed sunrise and sunset offsets, or nil when the
// schedule should follow the sun.
func (c *Config) ManualTimes() (*solar.ManualTimes, error) {
	if c.Sunrise == "" && c.Sunset == "" {
		return nil, nil
	}
	if c.Sunrise == "" || c.Sunset == "" {
		return nil, ErrPartialManualTimes
	}

	sunrise, err := solar.ParseClock(c.Sunrise)
	if err != nil {
		return nil, fmt.Errorf("sunrise: %w", err)
	}
	sunset, err := solar.ParseClock(c.Sunset)
	if err != nil {
		return nil, fmt.Errorf("sunset: %w", err)
	}
	if sunrise >= sunset {
		return nil, fmt.Errorf("%w: sunrise %s, sunset %s", ErrInvertedManualTimes, c.Sunrise, c.Sunset)
	}
	return &solar.ManualTimes{Sunrise: sunrise, Sunset: sunset}, nil
}

// Location returns the configured coordinates, or nil unless both are set.
func (c *Config) Location() *solar.Location {
	if c.Latitude == nil || c.Longitude == nil {
		return nil
	}
	return &solar.Location{Latitude: *c.Latitude, Longitude: *c.Longitude}
}

// NeedsGeolocation reports whether the location has to be looked up.
func (c *Config) NeedsGeolocation() bool {
	return c.Sunrise == "" && c.Sunset == "" && c.Location() == nil
}

// StartMode returns the parsed startup mode.
func (c *Config) StartMode() (solar.Mode, error) {
	return solar.ParseMode(c.Mode)
}

// TransitionDuration returns Duration as a time.Duration.
func (c *Config) TransitionDuration() time.Duration {
	return time.Duration(c.Duration) * time.Second
}
