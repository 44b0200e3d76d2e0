// Package grpcconn implements transport.Dialer and transport.Transport on top of a
// *grpc.ClientConn. Each Transport is one HTTP/2 channel that multiplexes any number of
// concurrent unary and streaming calls.
package grpcconn

import (
	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"
	"github.com/bearlytools/svcpool/transport"

	"github.com/gostdlib/base/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

var (
	// ErrTransientFailure is returned when the channel failed to connect.
	ErrTransientFailure = errors.New("channel is in TRANSIENT_FAILURE")
	// ErrClosed is returned when the channel was closed.
	ErrClosed = errors.New("channel is closed")
	// ErrNotServing is returned by Probe() when the health service reports anything but SERVING.
	ErrNotServing = errors.New("health service is not SERVING")
)

// Dialer dials gRPC channels. It implements transport.Dialer.
type Dialer struct {
	cfg *dialConfig
}

// NewDialer creates a new Dialer.
func NewDialer(opts ...Option) *Dialer {
	cfg := defaultDialConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Dialer{cfg: cfg}
}

// Dial implements transport.Dialer.Dial(). It returns only after the channel reached
// READY, failed, or ctx expired.
func (d *Dialer) Dial(ctx context.Context, cfg config.ServiceConfig) (transport.Transport, error) {
	opts, err := d.cfg.dialOptions(cfg)
	if err != nil {
		return nil, err
	}

	cc, err := grpc.NewClient(cfg.Addr(), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating client for %s", cfg.Addr())
	}
	cc.Connect()

	if err := waitReady(ctx, cc); err != nil {
		cc.Close()
		return nil, err
	}

	return &Conn{
		cc:            cc,
		health:        healthpb.NewHealthClient(cc),
		healthService: d.cfg.healthService,
		healthRPC:     d.cfg.healthRPC,
	}, nil
}

// waitReady blocks until cc is READY. A TRANSIENT_FAILURE fails fast instead of waiting
// for gRPC's own reconnect backoff, because the pool runs its own.
func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	for {
		s := cc.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return ErrTransientFailure
		case connectivity.Shutdown:
			return ErrClosed
		}
		if !cc.WaitForStateChange(ctx, s) {
			return ctx.Err()
		}
	}
}

// Conn is a transport.Transport backed by a *grpc.ClientConn.
type Conn struct {
	cc            *grpc.ClientConn
	health        healthpb.HealthClient
	healthService string
	healthRPC     bool
}

// ClientConn returns the underlying channel for use with generated gRPC stubs.
func (c *Conn) ClientConn() *grpc.ClientConn {
	return c.cc
}

// Probe implements transport.Transport.Probe().
func (c *Conn) Probe(ctx context.Context) error {
	switch c.cc.GetState() {
	case connectivity.Shutdown:
		return ErrClosed
	case connectivity.TransientFailure:
		return ErrTransientFailure
	}
	if !c.healthRPC {
		return nil
	}

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: c.healthService})
	if err != nil {
		// The server answered, it just doesn't implement health checking.
		if status.Code(err) == codes.Unimplemented {
			return nil
		}
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.Wrapf(ErrNotServing, "status %s", resp.GetStatus())
	}
	return nil
}

// Close implements transport.Transport.Close().
func (c *Conn) Close() error {
	return c.cc.Close()
}

// IsConnectionFailure implements transport.FailureClassifier. A call that failed with
// Unavailable means the channel could not reach the server.
func (c *Conn) IsConnectionFailure(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// ClientConn extracts the *grpc.ClientConn from a Transport created by a Dialer.
func ClientConn(t transport.Transport) (*grpc.ClientConn, bool) {
	c, ok := t.(*Conn)
	if !ok {
		return nil, false
	}
	return c.cc, true
}
