// Package metrics provides interfaces and implementations for collecting
// authd metrics: connection counts, aPAKE attempts, admin mutations, and
// RPC call volume.
package metrics

import "context"

// Collector defines the interface for recording authd metrics.
type Collector interface {
	// Connection metrics
	ConnectionOpened()
	ConnectionClosed()

	// LoginAttempt records the outcome of a start_login/finish_login pair.
	LoginAttempt(success bool)

	// RegistrationCompleted records a committed finish_registration call.
	RegistrationCompleted()

	// RPCCalled records one dispatched RPC method call.
	RPCCalled(method string)

	// AdminCheckDenied records a requireAdminLocked rejection.
	AdminCheckDenied()
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
