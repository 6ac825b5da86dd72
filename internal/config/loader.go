package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath     string
	LogLevel       string
	Listen         string
	TLSCert        string
	TLSKey         string
	MaxConnections int
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "/etc/authd/authd.toml", "Path to configuration file")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Listen, "listen", "", "Listen address (replaces all configured bind_addrs)")
	flag.StringVar(&f.TLSCert, "tls-cert", "", "TLS certificate file path")
	flag.StringVar(&f.TLSKey, "tls-key", "", "TLS key file path")
	flag.IntVar(&f.MaxConnections, "max-connections", 0, "Maximum concurrent connections")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config. If the file
// does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig Config
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg = mergeConfig(cfg, fileConfig)
	cfg = expandConfigPaths(cfg)
	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config. Non-zero /
// non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Listen != "" {
		cfg.BindAddrs = []string{f.Listen}
	}
	if f.TLSCert != "" {
		cfg.Cert = f.TLSCert
	}
	if f.TLSKey != "" {
		cfg.Key = f.TLSKey
	}
	if f.MaxConnections > 0 {
		cfg.Limits.MaxConnections = f.MaxConnections
	}
	return cfg
}

// LogLevelEnv overrides the configured log level when set, so verbosity
// can be raised on a single run without editing the config file.
const LogLevelEnv = "AUTHD_LOG"

// LoadWithFlags loads configuration from the path specified in flags, then
// applies environment and flag overrides (flags win).
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if lvl := os.Getenv(LogLevelEnv); lvl != "" {
		cfg.LogLevel = lvl
	}
	return ApplyFlags(cfg, f), nil
}

func mergeConfig(dst, src Config) Config {
	if src.AuthoritativeName != "" {
		dst.AuthoritativeName = src.AuthoritativeName
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if len(src.BindAddrs) > 0 {
		dst.BindAddrs = src.BindAddrs
	}
	if src.OpaqueServerSetup != "" {
		dst.OpaqueServerSetup = src.OpaqueServerSetup
	}
	if src.PasswdFile != "" {
		dst.PasswdFile = src.PasswdFile
	}
	if src.ShadowFile != "" {
		dst.ShadowFile = src.ShadowFile
	}
	if src.GroupFile != "" {
		dst.GroupFile = src.GroupFile
	}
	if src.OpaqueCookies != "" {
		dst.OpaqueCookies = src.OpaqueCookies
	}
	if src.Cert != "" {
		dst.Cert = src.Cert
	}
	if src.Key != "" {
		dst.Key = src.Key
	}
	if src.TLSMinVersion != "" {
		dst.TLSMinVersion = src.TLSMinVersion
	}
	if src.Timeouts.Idle != "" {
		dst.Timeouts.Idle = src.Timeouts.Idle
	}
	if src.Timeouts.AdminLogin != "" {
		dst.Timeouts.AdminLogin = src.Timeouts.AdminLogin
	}
	if src.Limits.MaxConnections > 0 {
		dst.Limits.MaxConnections = src.Limits.MaxConnections
	}
	if src.Limits.MaxConnectionsPerIP > 0 {
		dst.Limits.MaxConnectionsPerIP = src.Limits.MaxConnectionsPerIP
	}
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	return dst
}

func expandConfigPaths(cfg Config) Config {
	cfg.OpaqueServerSetup = expandPath(cfg.OpaqueServerSetup)
	cfg.PasswdFile = expandPath(cfg.PasswdFile)
	cfg.ShadowFile = expandPath(cfg.ShadowFile)
	cfg.GroupFile = expandPath(cfg.GroupFile)
	cfg.OpaqueCookies = expandPath(cfg.OpaqueCookies)
	cfg.Cert = expandPath(cfg.Cert)
	cfg.Key = expandPath(cfg.Key)
	return cfg
}
