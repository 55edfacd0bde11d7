// Package config reads the flat UCI-style configuration file that
// authorizes every location source.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the subset of the operator configuration this core
// consumes. The permission/authorization policy layer that produces the
// effective configuration is out of scope; this type is what it hands us.
type Config struct {
	WifiEnable          bool
	WifiURL             string
	WifiSubmissionURL   string
	WifiSubmissionNick  string // 2-32 chars, default "geoclue"
	WifiSubmitData      bool

	// GoogleAPIKey selects the Google Geolocation API as the locate
	// transport for both WifiSource and ThreeGSource when non-empty,
	// instead of the Mozilla-style locate_url POST.
	GoogleAPIKey string

	ThreeGEnable bool
	// ThreeGRepeatRefresh is the 3GPP staleness timer: how often a valid
	// tower fix is re-submitted so it isn't evicted by the locate
	// service's own maximum-location-age expiry.
	ThreeGRepeatRefresh time.Duration

	NmeaEnable     bool
	NmeaSocketPath string

	StaticEnable bool
	StaticFile   string
	ScrambleLocation bool

	// ModemGPSEnable authorizes the modem's onboard GNSS receiver as a
	// location source, independent of ThreeGEnable -- a modem can expose
	// a GPS-NMEA stream without 3GPP cell evidence, or vice versa.
	ModemGPSEnable bool
	// ModemGPSRefreshThreshold is how often the modem's GPS stream is
	// asked to refresh.
	ModemGPSRefreshThreshold time.Duration
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		WifiSubmissionNick:       "geoclue",
		ThreeGRepeatRefresh:      25 * time.Minute,
		StaticFile:               "/etc/geolocation",
		ModemGPSRefreshThreshold: 1 * time.Second,
	}
}

// Load reads a UCI-style config file ("option key value" lines within
// "config <section>" blocks; other lines, including "list" lines, are
// ignored) and overlays it onto
// Default(). A missing file yields the defaults, matching this core's
// policy of never treating absent operator config as fatal.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "config":
			if len(fields) >= 2 {
				section = strings.Trim(fields[1], "'\"")
			}
		case "option":
			if len(fields) >= 3 {
				applyOption(cfg, section, fields[1], unquote(strings.Join(fields[2:], " ")))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

func unquote(s string) string {
	return strings.Trim(s, "'\"")
}

func applyOption(cfg *Config, section, key, value string) {
	switch section {
	case "wifi":
		switch key {
		case "enable":
			cfg.WifiEnable = parseBool(value)
		case "url":
			cfg.WifiURL = value
		case "submission-url":
			cfg.WifiSubmissionURL = value
		case "submission-nick":
			if n := len(value); n >= 2 && n <= 32 {
				cfg.WifiSubmissionNick = value
			}
		case "submit-data":
			cfg.WifiSubmitData = parseBool(value)
		case "google-api-key":
			cfg.GoogleAPIKey = value
		}
	case "3g":
		switch key {
		case "enable":
			cfg.ThreeGEnable = parseBool(value)
		case "repeat-refresh-s":
			if secs, err := strconv.Atoi(value); err == nil {
				cfg.ThreeGRepeatRefresh = time.Duration(secs) * time.Second
			}
		}
	case "network-nmea":
		switch key {
		case "enable":
			cfg.NmeaEnable = parseBool(value)
		case "nmea-socket":
			cfg.NmeaSocketPath = value
		}
	case "static-source":
		switch key {
		case "enable":
			cfg.StaticEnable = parseBool(value)
		case "file":
			cfg.StaticFile = value
		case "scramble-location":
			cfg.ScrambleLocation = parseBool(value)
		}
	case "modem":
		switch key {
		case "gps-enable":
			cfg.ModemGPSEnable = parseBool(value)
		case "gps-refresh-threshold-s":
			if secs, err := strconv.Atoi(value); err == nil {
				cfg.ModemGPSRefreshThreshold = time.Duration(secs) * time.Second
			}
		}
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes", "enabled":
		return true
	default:
		return false
	}
}
