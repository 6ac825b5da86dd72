// Package nssclient is the business logic behind the NSS shared library
// (cmd/nss_authd): a lazily-connected, idle-timing-out RPC client cache
// and a mutex-guarded cursor for the set*ent/get*ent/end*ent iteration
// protocol. Kept free of cgo so it can be unit tested like any other
// package; cmd/nss_authd supplies only the C ABI glue on top.
package nssclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the small TOML file an NSS client reads on first use: the
// daemon's address and a pinned certificate path.
type Config struct {
	Host string `toml:"host"`
	Cert string `toml:"cert"`
}

// FindConfigDir tries /etc/auth first, then $XDG_CONFIG_HOME/auth (or
// the platform default ~/.config/auth), erroring only if neither
// exists.
func FindConfigDir() (string, error) {
	if st, err := os.Stat("/etc/auth"); err == nil && st.IsDir() {
		return "/etc/auth", nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating config directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	dir := filepath.Join(base, "auth")
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		return dir, nil
	}
	return "", fmt.Errorf("no config directory found in /etc/auth or %s", dir)
}

// LoadConfig reads nss_authd.toml from the discovered config directory and
// expands "~"/"$VAR" in Cert the same way internal/config does for the
// daemon side.
func LoadConfig() (Config, error) {
	dir, err := FindConfigDir()
	if err != nil {
		return Config{}, err
	}
	path := filepath.Join(dir, "nss_authd.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Cert = expandPath(cfg.Cert)
	return cfg, nil
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
