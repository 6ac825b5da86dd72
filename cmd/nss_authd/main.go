// Command nss_authd is the host-side Name Service Switch provider for
// authd: built with `go build -buildmode=c-shared` and installed as
// libnss_authd.so.2, it answers getpwnam/getpwuid/getgrnam/getgrgid/
// getspnam and their *ent iteration families by proxying to the daemon
// over TLS. The exported symbols follow glibc's _nss_<service>_<call>
// naming convention; the buffer packing follows the *_r convention of
// filling the caller's buffer and reporting ERANGE when it is too
// small.
package main

/*
#include <errno.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"time"

	"github.com/cosi-lab/authd/internal/adminclient"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/nssclient"
	"github.com/cosi-lab/authd/internal/rpcclient"
)

// dialTimeout bounds the connect step of a lazy (re)connect; NSS callers
// are typically on a syscall's hot path and should not hang indefinitely.
const dialTimeout = 5 * time.Second

var (
	initOnce sync.Once
	initErr  error
	cache    *nssclient.Cache

	passwdIter nssclient.Cursor[directory.Passwd]
	groupIter  nssclient.Cursor[directory.Group]
	shadowIter nssclient.Cursor[directory.Shadow]
)

// lazyInit reads nss_authd.toml and builds the client Cache on first
// call from any entry point. Config errors are sticky: every later call
// fails fast with the same error rather than re-reading the file.
func lazyInit() error {
	initOnce.Do(func() {
		cfg, err := nssclient.LoadConfig()
		if err != nil {
			initErr = fmt.Errorf("loading nss_authd config: %w", err)
			return
		}
		cache = nssclient.NewCache(func() (*rpcclient.Client, error) {
			return adminclient.Dial(cfg.Host, cfg.Cert, dialTimeout)
		})
	})
	return initErr
}

func main() {}
