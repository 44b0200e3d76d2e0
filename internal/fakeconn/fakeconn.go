// Package fakeconn provides an in-memory transport.Dialer whose endpoint can be taken down
// and brought back, for testing pools without a network.
package fakeconn

import (
	"sync/atomic"

	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"
	"github.com/bearlytools/svcpool/transport"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
)

var (
	// ErrRefused is returned by Dial() while the endpoint is down.
	ErrRefused = errors.New("connection refused")
	// ErrUnreachable is returned by Probe() while the endpoint is down.
	ErrUnreachable = errors.New("endpoint unreachable")
	// ErrBroken is an error that Transport.IsConnectionFailure() classifies as a connection failure.
	ErrBroken = errors.New("transport broken")
)

// Endpoint is a fake service. It implements transport.Dialer.
type Endpoint struct {
	mu         sync.Mutex
	down       bool
	hang       bool
	dials      int
	transports []*Transport
}

// New creates an Endpoint that is up.
func New() *Endpoint {
	return &Endpoint{}
}

// SetDown makes Dial() and Probe() on all transports fail (true) or succeed (false).
func (e *Endpoint) SetDown(down bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.down = down
}

// SetHang makes Dial() and Probe() block until their context is done.
func (e *Endpoint) SetHang(hang bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hang = hang
}

func (e *Endpoint) status() (down, hang bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.down, e.hang
}

// Dials returns the number of Dial() calls made.
func (e *Endpoint) Dials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dials
}

// Transports returns every Transport successfully dialed, in order.
func (e *Endpoint) Transports() []*Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Transport, len(e.transports))
	copy(out, e.transports)
	return out
}

// Dial implements transport.Dialer.Dial().
func (e *Endpoint) Dial(ctx context.Context, cfg config.ServiceConfig) (transport.Transport, error) {
	e.mu.Lock()
	e.dials++
	down, hang := e.down, e.hang
	e.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if down {
		return nil, ErrRefused
	}

	t := &Transport{ep: e, addr: cfg.Addr()}
	e.mu.Lock()
	e.transports = append(e.transports, t)
	e.mu.Unlock()
	return t, nil
}

// Transport is a fake transport.Transport.
type Transport struct {
	ep     *Endpoint
	addr   string
	probes atomic.Int64
	closes atomic.Int64
}

// Addr returns the address the Transport was dialed to.
func (t *Transport) Addr() string {
	return t.addr
}

// Probe implements transport.Transport.Probe().
func (t *Transport) Probe(ctx context.Context) error {
	t.probes.Add(1)
	if t.closes.Load() > 0 {
		return errors.New("probe on closed transport")
	}
	down, hang := t.ep.status()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if down {
		return ErrUnreachable
	}
	return nil
}

// Close implements transport.Transport.Close().
func (t *Transport) Close() error {
	t.closes.Add(1)
	return nil
}

// IsConnectionFailure implements transport.FailureClassifier.
func (t *Transport) IsConnectionFailure(err error) bool {
	return errors.Is(err, ErrBroken) || errors.Is(err, ErrUnreachable)
}

// Probes returns the number of Probe() calls.
func (t *Transport) Probes() int {
	return int(t.probes.Load())
}

// Closes returns the number of Close() calls.
func (t *Transport) Closes() int {
	return int(t.closes.Load())
}
