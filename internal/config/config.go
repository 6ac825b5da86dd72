// Package config provides configuration management for authd.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the daemon's full configuration. The cert/key and
// opaque_cookies keys are top-level, matching the file layout the NSS
// clients and admin tools expect.
type Config struct {
	AuthoritativeName string   `toml:"authoritative_name"`
	LogLevel          string   `toml:"log_level"`
	BindAddrs         []string `toml:"bind_addrs"`

	OpaqueServerSetup string `toml:"opaque_server_setup"`

	PasswdFile    string `toml:"passwd_file"`
	ShadowFile    string `toml:"shadow_file"`
	GroupFile     string `toml:"group_file"`
	OpaqueCookies string `toml:"opaque_cookies"`

	// All connections to authd are TLS; there is no plaintext listener
	// mode.
	Cert          string `toml:"cert"`
	Key           string `toml:"key"`
	TLSMinVersion string `toml:"tls_min_version"`

	Timeouts TimeoutsConfig `toml:"timeouts"`
	Limits   LimitsConfig   `toml:"limits"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// TimeoutsConfig defines timeout durations, expressed as parseable
// durations ("30s", "10m").
type TimeoutsConfig struct {
	Idle       string `toml:"idle"`
	AdminLogin string `toml:"admin_login"`
}

// LimitsConfig defines connection admission limits. A connection over
// either limit is queued, never rejected outright.
type LimitsConfig struct {
	MaxConnections      int `toml:"max_connections"`
	MaxConnectionsPerIP int `toml:"max_connections_per_ip"`
}

// MetricsConfig holds configuration for the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		AuthoritativeName: "localhost",
		LogLevel:          "info",
		BindAddrs:         []string{":8443"},
		OpaqueServerSetup: "/etc/authd/server-setup.pem",
		PasswdFile:        "/etc/authd/passwd",
		ShadowFile:        "/etc/authd/shadow",
		GroupFile:         "/etc/authd/group",
		OpaqueCookies:     "/etc/authd/opaque_cookies",
		TLSMinVersion:     "1.3",
		Timeouts: TimeoutsConfig{
			Idle:       "10m",
			AdminLogin: "60s",
		},
		Limits: LimitsConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 20,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.AuthoritativeName == "" {
		return errors.New("authoritative_name is required")
	}
	if len(c.BindAddrs) == 0 {
		return errors.New("at least one bind address is required")
	}
	if c.OpaqueServerSetup == "" {
		return errors.New("opaque_server_setup path is required")
	}
	if c.PasswdFile == "" || c.ShadowFile == "" || c.GroupFile == "" {
		return errors.New("passwd_file, shadow_file, and group_file are all required")
	}
	if c.OpaqueCookies == "" {
		return errors.New("opaque_cookies is required")
	}
	if c.Cert == "" || c.Key == "" {
		return errors.New("cert and key are required")
	}
	if c.Limits.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}
	if c.Limits.MaxConnectionsPerIP <= 0 {
		return errors.New("max_connections_per_ip must be positive")
	}
	if c.Timeouts.Idle != "" {
		if _, err := time.ParseDuration(c.Timeouts.Idle); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}
	if c.Timeouts.AdminLogin != "" {
		if _, err := time.ParseDuration(c.Timeouts.AdminLogin); err != nil {
			return fmt.Errorf("invalid admin_login timeout: %w", err)
		}
	}
	if c.TLSMinVersion != "" {
		if _, ok := minTLSVersions[c.TLSMinVersion]; !ok {
			return fmt.Errorf("invalid tls_min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLSMinVersion)
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}
	return nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum
// TLS version. Returns tls.VersionTLS13 if not configured or invalid,
// since authd has no legacy client to support.
func (c *Config) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.TLSMinVersion]; ok {
		return v
	}
	return tls.VersionTLS13
}

// IdleTimeout returns the idle connection timeout.
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	return parseDurationOr(c.Idle, 10*time.Minute)
}

// AdminLoginTimeout returns the extended deadline admin login exchanges
// get; interactive password entry dominates those round trips.
func (c *TimeoutsConfig) AdminLoginTimeout() time.Duration {
	return parseDurationOr(c.AdminLogin, 60*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// expandPath expands a leading "~" and environment variables in a
// configured path.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
