// Package session implements the per-connection state machine: Anonymous
// -> LoginInProgress -> Authenticated -> AdminAuthenticated, and the RPC
// methods the transport dispatches to it. The session is a tagged state
// plus state-specific fields that are only ever set or cleared by a
// transition, guarded by one mutex per session.
package session

import (
	"net"
	"sync"

	"github.com/cosi-lab/authd/internal/apake"
	"github.com/cosi-lab/authd/internal/apierr"
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/metrics"
	"github.com/cosi-lab/authd/internal/secret"
	"github.com/frekui/opaque"
)

// State is the session's position in the login state machine.
type State int

const (
	// Anonymous is the initial state; read-only directory RPCs work here.
	Anonymous State = iota
	// LoginInProgress means start_login has run and finish_login is
	// awaited.
	LoginInProgress
	// Authenticated means a login completed successfully.
	Authenticated
	// AdminAuthenticated is not a distinct stored state: it is
	// Authenticated re-evaluated against the current auth-admins group
	// on every admin-gated call, never latched.
	AdminAuthenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "Anonymous"
	case LoginInProgress:
		return "LoginInProgress"
	case Authenticated:
		return "Authenticated"
	case AdminAuthenticated:
		return "AdminAuthenticated"
	default:
		return "Unknown"
	}
}

// Shared is the daemon-wide state every session reads: the aPAKE adapter
// and the identity store.
type Shared struct {
	Store   *directory.Store
	APake   *apake.Adapter
	Logger  Logger
	Metrics metrics.Collector
}

// Logger is the minimal logging surface sessions need; satisfied by
// *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Session is one connection's worth of protocol and authorization state.
type Session struct {
	mu sync.Mutex

	shared *Shared
	peer   net.Addr

	state State

	// LoginInProgress fields.
	serverLoginState  *opaque.AuthServerSession
	purportedUsername string

	// Authenticated fields.
	sessionKey []byte

	// AdminAuthenticated / register_new_user in-flight fields.
	registrationUsername string
	registrationUID      *uint32
	registrationShell    string
	registrationHomeDir  string
	serverRegState       *opaque.PwRegServerSession
}

// New creates a fresh Anonymous session for an accepted connection.
func New(shared *Shared, peer net.Addr) *Session {
	return &Session{shared: shared, peer: peer, state: Anonymous}
}

// Close zeros in-memory protocol secrets. Must be called when the
// connection closes.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLoginLocked()
	s.clearRegistrationLocked()
	secret.Bytes(s.sessionKey).Wipe()
	s.sessionKey = nil
}

func (s *Session) clearLoginLocked() {
	s.serverLoginState = nil
	s.purportedUsername = ""
}

func (s *Session) clearRegistrationLocked() {
	s.registrationUsername = ""
	s.registrationUID = nil
	s.registrationShell = ""
	s.registrationHomeDir = ""
	s.serverRegState = nil
}

// State returns the current coarse state (Anonymous/LoginInProgress/
// Authenticated). AdminAuthenticated is never returned here; callers that
// need it call isAdminLocked.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns the daemon-wide metrics collector, for callers (the RPC
// dispatcher) that need to record per-call metrics outside the session's
// own RPC methods.
func (s *Session) Metrics() metrics.Collector {
	return s.shared.Metrics
}

// isAdminLocked re-checks the store's auth-admins membership for the
// session's authenticated identity. Must be called with s.mu held and
// AFTER the store has been refreshed, so a just-added admin takes effect
// and a just-removed admin cannot act.
func (s *Session) isAdminLocked() (bool, error) {
	if s.state != Authenticated || s.purportedUsername == "" {
		return false, nil
	}
	return s.shared.Store.IsAdmin(s.purportedUsername)
}

// requireAdminLocked refreshes the store and checks admin authorization,
// returning apierr.ErrNotAuthorized if the check fails.
func (s *Session) requireAdminLocked() error {
	if err := s.shared.Store.Refresh(); err != nil {
		return apierr.Wrap(apierr.KindInternal, "refreshing directory", err)
	}
	ok, err := s.isAdminLocked()
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "checking admin authorization", err)
	}
	if !ok {
		if s.shared.Metrics != nil {
			s.shared.Metrics.AdminCheckDenied()
		}
		return apierr.ErrNotAuthorized
	}
	return nil
}
