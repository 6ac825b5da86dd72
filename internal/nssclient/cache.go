package nssclient

import (
	"sync"
	"time"

	"github.com/cosi-lab/authd/internal/rpcclient"
)

// IdleTimeout is how long an unused connection is kept open before the
// janitor closes it.
const IdleTimeout = 30 * time.Second

// dialFunc creates a fresh RPC connection; overridden in tests.
type dialFunc func() (*rpcclient.Client, error)

// Cache holds one long-lived, lazily-constructed *rpcclient.Client.
// Every use bumps a deadline, and a background janitor goroutine drops
// the client once the deadline passes so a long-lived host process
// (sshd, a login shell) doesn't pin a connection forever.
type Cache struct {
	dial dialFunc

	mu       sync.Mutex
	client   *rpcclient.Client
	deadline time.Time
	janitor  bool
}

// NewCache builds a Cache that dials new connections with dial.
func NewCache(dial func() (*rpcclient.Client, error)) *Cache {
	return &Cache{dial: dial}
}

// WithClient runs f against the cached client, connecting it first if
// necessary, and extends the idle deadline. The mutex is held for the
// duration of f, matching the RPC protocol's one-call-at-a-time-per-
// connection contract (internal/rpcclient.Client already serializes
// concurrent callers, so this only prevents the janitor from closing the
// connection out from under an in-flight call).
func (c *Cache) WithClient(f func(*rpcclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline = time.Now().Add(IdleTimeout)
	if !c.janitor {
		c.janitor = true
		go c.runJanitor()
	}

	if c.client == nil {
		client, err := c.dial()
		if err != nil {
			return err
		}
		c.client = client
	}
	return f(c.client)
}

// runJanitor periodically checks whether the deadline has passed and,
// if so, closes and forgets the cached client. Tolerates being orphaned
// if the process exits or (in the cgo boundary) the library is
// dlclose'd, since it only ever touches its own Cache's state.
func (c *Cache) runJanitor() {
	ticker := time.NewTicker(IdleTimeout / 3)
	defer ticker.Stop()
	for range ticker.C {
		if c.closeIfIdle() {
			return
		}
	}
}

// closeIfIdle drops the cached client if its idle deadline has passed,
// reporting whether the janitor that called it should retire.
func (c *Cache) closeIfIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && time.Now().After(c.deadline) {
		_ = c.client.Close()
		c.client = nil
		c.janitor = false
		return true
	}
	return false
}
