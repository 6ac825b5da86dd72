package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}

	expected := Default()
	if cfg.AuthoritativeName != expected.AuthoritativeName {
		t.Errorf("expected authoritative_name %q, got %q", expected.AuthoritativeName, cfg.AuthoritativeName)
	}
}

func TestLoadValidTOML(t *testing.T) {
	content := `
authoritative_name = "auth.example.com"
log_level = "debug"
bind_addrs = [":8443", ":8444"]
opaque_server_setup = "/etc/authd/server-setup.pem"
passwd_file = "/etc/authd/passwd"
shadow_file = "/etc/authd/shadow"
group_file = "/etc/authd/group"
opaque_cookies = "/etc/authd/opaque_cookies"
cert = "/etc/ssl/cert.pem"
key = "/etc/ssl/key.pem"
tls_min_version = "1.3"

[limits]
max_connections = 50
max_connections_per_ip = 5

[timeouts]
idle = "45m"
admin_login = "90s"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AuthoritativeName != "auth.example.com" {
		t.Errorf("authoritative_name = %q, want 'auth.example.com'", cfg.AuthoritativeName)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", cfg.LogLevel)
	}
	if len(cfg.BindAddrs) != 2 || cfg.BindAddrs[0] != ":8443" || cfg.BindAddrs[1] != ":8444" {
		t.Errorf("bind_addrs = %v, want [':8443' ':8444']", cfg.BindAddrs)
	}
	if cfg.Cert != "/etc/ssl/cert.pem" {
		t.Errorf("cert = %q, want '/etc/ssl/cert.pem'", cfg.Cert)
	}
	if cfg.TLSMinVersion != "1.3" {
		t.Errorf("tls_min_version = %q, want '1.3'", cfg.TLSMinVersion)
	}
	if cfg.Limits.MaxConnections != 50 {
		t.Errorf("limits.max_connections = %d, want 50", cfg.Limits.MaxConnections)
	}
	if cfg.Limits.MaxConnectionsPerIP != 5 {
		t.Errorf("limits.max_connections_per_ip = %d, want 5", cfg.Limits.MaxConnectionsPerIP)
	}
	if cfg.Timeouts.Idle != "45m" {
		t.Errorf("timeouts.idle = %q, want '45m'", cfg.Timeouts.Idle)
	}
	if cfg.Timeouts.AdminLogin != "90s" {
		t.Errorf("timeouts.admin_login = %q, want '90s'", cfg.Timeouts.AdminLogin)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	content := `
authoritative_name = "broken
`
	path := createTempConfig(t, content)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	content := `
authoritative_name = "partial.example.com"
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AuthoritativeName != "partial.example.com" {
		t.Errorf("authoritative_name = %q, want 'partial.example.com'", cfg.AuthoritativeName)
	}

	defaults := Default()
	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("log_level = %q, want default %q", cfg.LogLevel, defaults.LogLevel)
	}
	if cfg.Limits.MaxConnections != defaults.Limits.MaxConnections {
		t.Errorf("max_connections = %d, want default %d", cfg.Limits.MaxConnections, defaults.Limits.MaxConnections)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()

	flags := &Flags{
		LogLevel:       "debug",
		TLSCert:        "/flag/cert.pem",
		TLSKey:         "/flag/key.pem",
		MaxConnections: 25,
	}

	result := ApplyFlags(cfg, flags)

	if result.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", result.LogLevel)
	}
	if result.Cert != "/flag/cert.pem" {
		t.Errorf("cert = %q, want '/flag/cert.pem'", result.Cert)
	}
	if result.Key != "/flag/key.pem" {
		t.Errorf("key = %q, want '/flag/key.pem'", result.Key)
	}
	if result.Limits.MaxConnections != 25 {
		t.Errorf("max_connections = %d, want 25", result.Limits.MaxConnections)
	}
}

func TestApplyFlagsEmptyValuesDoNotOverride(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.Limits.MaxConnections = 50

	flags := &Flags{
		LogLevel:       "",
		MaxConnections: 0,
	}

	result := ApplyFlags(cfg, flags)

	if result.LogLevel != "warn" {
		t.Errorf("log_level = %q, want 'warn' (should not be overridden)", result.LogLevel)
	}
	if result.Limits.MaxConnections != 50 {
		t.Errorf("max_connections = %d, want 50 (should not be overridden)", result.Limits.MaxConnections)
	}
}

func TestApplyFlagsListenReplacesAllBindAddrs(t *testing.T) {
	cfg := Default()
	cfg.BindAddrs = []string{":8443", ":8444"}

	flags := &Flags{Listen: ":9443"}

	result := ApplyFlags(cfg, flags)

	if len(result.BindAddrs) != 1 || result.BindAddrs[0] != ":9443" {
		t.Errorf("bind_addrs = %v, want [':9443']", result.BindAddrs)
	}
}

func TestLoadMetricsConfig(t *testing.T) {
	content := `
authoritative_name = "auth.example.com"

[metrics]
enabled = true
address = ":9200"
path = "/custom-metrics"
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Metrics.Enabled {
		t.Errorf("metrics.enabled = %v, want true", cfg.Metrics.Enabled)
	}
	if cfg.Metrics.Address != ":9200" {
		t.Errorf("metrics.address = %q, want ':9200'", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("metrics.path = %q, want '/custom-metrics'", cfg.Metrics.Path)
	}
}

func TestLoadMetricsConfigPartial(t *testing.T) {
	content := `
authoritative_name = "auth.example.com"

[metrics]
enabled = true
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Metrics.Enabled {
		t.Errorf("metrics.enabled = %v, want true", cfg.Metrics.Enabled)
	}

	defaults := Default()
	if cfg.Metrics.Address != defaults.Metrics.Address {
		t.Errorf("metrics.address = %q, want default %q", cfg.Metrics.Address, defaults.Metrics.Address)
	}
	if cfg.Metrics.Path != defaults.Metrics.Path {
		t.Errorf("metrics.path = %q, want default %q", cfg.Metrics.Path, defaults.Metrics.Path)
	}
}

func TestFlagPriorityOverConfig(t *testing.T) {
	content := `
authoritative_name = "config.example.com"
log_level = "info"

[limits]
max_connections = 100
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	flags := &Flags{MaxConnections: 50}

	result := ApplyFlags(cfg, flags)

	if result.Limits.MaxConnections != 50 {
		t.Errorf("max_connections = %d, want 50 (flag should override)", result.Limits.MaxConnections)
	}
	if result.LogLevel != "info" {
		t.Errorf("log_level = %q, want 'info' (config value should remain)", result.LogLevel)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	return path
}

func TestLogLevelEnvOverride(t *testing.T) {
	content := `
authoritative_name = "auth.example.com"
log_level = "info"
`
	path := createTempConfig(t, content)
	t.Setenv(LogLevelEnv, "debug")

	cfg, err := LoadWithFlags(&Flags{ConfigPath: path})
	if err != nil {
		t.Fatalf("LoadWithFlags() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug' (env should override config)", cfg.LogLevel)
	}

	// A flag still wins over the environment.
	cfg, err = LoadWithFlags(&Flags{ConfigPath: path, LogLevel: "error"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("log_level = %q, want 'error' (flag should win)", cfg.LogLevel)
	}
}
