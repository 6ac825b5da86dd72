// Package apierr defines the small error taxonomy shared by the session,
// store, and transport layers.
package apierr

import "errors"

// Kind classifies an error for the purposes of RPC response mapping and
// NSS status translation.
type Kind int

const (
	// KindInternal is an unexpected I/O or crypto failure; the connection
	// is closed after it is returned.
	KindInternal Kind = iota
	// KindNotAuthorized means the admin check failed.
	KindNotAuthorized
	// KindAuthenticationFailure means an aPAKE step was rejected or
	// arrived out of order.
	KindAuthenticationFailure
	// KindNotFound means a directory lookup had no match.
	KindNotFound
	// KindUnavailable means a transport or parse error was surfaced to a
	// caller with no richer channel (NSS).
	KindUnavailable
)

// Error wraps a Kind with a message and an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

var (
	// ErrNotAuthorized is returned when a non-admin session invokes an
	// admin-gated RPC.
	ErrNotAuthorized = New(KindNotAuthorized, "not authorized")
	// ErrAuthenticationFailure is returned on any aPAKE rejection or
	// out-of-order protocol message.
	ErrAuthenticationFailure = New(KindAuthenticationFailure, "authentication failed")
	// ErrNotFound is returned when a lookup has no match.
	ErrNotFound = New(KindNotFound, "not found")
	// ErrUIDRequired is returned when register_new_user is called with no
	// selected uid; the daemon never auto-allocates uids.
	ErrUIDRequired = New(KindInternal, "uid must be specified for new users")
)

// As reports whether err carries the given Kind.
func As(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
