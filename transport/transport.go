// Package transport provides the transport abstractions a connection pool holds.
// A Transport is an opaque, multiplexed handle to one backend endpoint.
package transport

import (
	"github.com/bearlytools/svcpool/config"

	"github.com/gostdlib/base/context"
)

// Transport is an established connection to a backend service. A Transport is shared by
// every caller that acquires its pool connection, so implementations must be safe for
// concurrent use.
type Transport interface {
	// Probe checks that the remote end is reachable and serving. It must honor ctx's deadline.
	Probe(ctx context.Context) error
	// Close releases the transport. Close is called exactly once by the pool.
	Close() error
}

// Dialer creates new transports to a service.
type Dialer interface {
	// Dial establishes a new Transport to cfg.Addr(). It must honor ctx's deadline.
	Dial(ctx context.Context, cfg config.ServiceConfig) (Transport, error)
}

// DialFunc is an adapter to allow the use of ordinary functions as a Dialer.
type DialFunc func(ctx context.Context, cfg config.ServiceConfig) (Transport, error)

// Dial implements Dialer.Dial().
func (f DialFunc) Dial(ctx context.Context, cfg config.ServiceConfig) (Transport, error) {
	return f(ctx, cfg)
}

// FailureClassifier can be implemented by a Transport to tell the pool that an error
// returned by a call means the transport itself is broken, not just the call.
type FailureClassifier interface {
	IsConnectionFailure(err error) bool
}

// IsConnectionFailure returns true if t implements FailureClassifier and classifies err
// as a connection failure.
func IsConnectionFailure(t Transport, err error) bool {
	if err == nil || t == nil {
		return false
	}
	if fc, ok := t.(FailureClassifier); ok {
		return fc.IsConnectionFailure(err)
	}
	return false
}
