// Package manager holds one connection pool per backend service and owns their lifecycle.
// A Manager is initialized once with every service's config, hands out connections by
// service id, reports health and metrics for all pools, and shuts them all down together.
package manager

import (
	"slices"
	"time"

	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"
	"github.com/bearlytools/svcpool/pool"
	"github.com/bearlytools/svcpool/transport"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Manager.
type State uint8

const (
	// StateUninitialized is a Manager that has not had Initialize() called.
	StateUninitialized State = iota
	// StateRunning is a Manager with live pools.
	StateRunning
	// StateShutdown is a Manager that was shut down. It cannot be reused.
	StateShutdown
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Manager is a registry of connection pools keyed by service id.
type Manager struct {
	opts *options
	log  logrus.FieldLogger

	mu    sync.RWMutex
	state State
	pools map[string]*pool.Pool
	inst  *instruments
}

// New creates a Manager. Call Initialize() before use.
func New(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Manager{opts: o, log: o.log}
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Initialize validates every config and creates one pool per service. No pool is created
// unless all configs are valid. It returns a ConfigError if called more than once or if any
// config is invalid. ctx must outlive the Manager; it carries the worker pool and meter used
// by background work.
func (m *Manager) Initialize(ctx context.Context, configs map[string]config.ServiceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateRunning:
		return errors.Config("", "manager is already initialized")
	case StateShutdown:
		return errors.E(errors.KindManagerShutDown, "", errors.NoConn, nil, "cannot initialize a manager that was shut down")
	}

	if err := config.ValidateAll(configs); err != nil {
		return err
	}

	dialer := m.opts.getDialer()
	poolOpts := append([]pool.Option{pool.WithLogger(m.log)}, m.opts.poolOpts...)

	pools := make(map[string]*pool.Pool, len(configs))
	for name, cfg := range configs {
		p, err := pool.New(ctx, name, cfg, dialer, poolOpts...)
		if err != nil {
			closeAll(pools)
			return err
		}
		pools[name] = p
	}
	m.pools = pools

	if m.opts.enableMetrics {
		inst, err := newInstruments(ctx, m)
		if err != nil {
			closeAll(pools)
			m.pools = nil
			return errors.Wrap(err, "registering metrics")
		}
		m.inst = inst
	}

	m.state = StateRunning
	m.log.WithField("services", m.servicesLocked()).Info("connection pools initialized")
	return nil
}

func closeAll(pools map[string]*pool.Pool) {
	for _, p := range pools {
		p.Close()
	}
}

// lookup returns the pool for service or the lifecycle/unknown service error.
func (m *Manager) lookup(service string) (*pool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.state {
	case StateUninitialized:
		return nil, errors.E(errors.KindManagerNotInitialized, service, errors.NoConn, nil, "call Initialize() first")
	case StateShutdown:
		return nil, errors.E(errors.KindManagerShutDown, service, errors.NoConn, nil, "")
	}
	p, ok := m.pools[service]
	if !ok {
		return nil, errors.E(errors.KindUnknownService, service, errors.NoConn, nil, "no pool configured for service")
	}
	return p, nil
}

// Acquire returns a Handle to the next connection for service. It never blocks on the
// network: if no connection is READY a non-ready one is returned and Handle.Degraded()
// is true. The Handle must be released.
func (m *Manager) Acquire(service string) (*Handle, error) {
	p, err := m.lookup(service)
	if err != nil {
		return nil, err
	}

	c, ready, err := p.Acquire()
	if err != nil {
		// The pool was closed between lookup and Acquire by a concurrent Shutdown().
		return nil, errors.E(errors.KindManagerShutDown, service, errors.NoConn, err, "")
	}
	return &Handle{pool: p, conn: c, degraded: !ready}, nil
}

// WaitReady blocks until service has at least one READY connection or ctx is done.
func (m *Manager) WaitReady(ctx context.Context, service string) error {
	p, err := m.lookup(service)
	if err != nil {
		return err
	}
	return p.WaitReady(ctx)
}

// Services returns the configured service ids, sorted.
func (m *Manager) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servicesLocked()
}

func (m *Manager) servicesLocked() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Configs returns the config each pool was built with.
func (m *Manager) Configs() map[string]config.ServiceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]config.ServiceConfig, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Config()
	}
	return out
}

// HealthCheckAll reports, per service, whether the pool has at least one READY connection.
// It is empty before Initialize().
func (m *Manager) HealthCheckAll() map[string]bool {
	out := map[string]bool{}
	for name, h := range m.HealthAll() {
		out[name] = h.Healthy
	}
	return out
}

// HealthAll returns the health summary of every pool.
func (m *Manager) HealthAll() map[string]pool.Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]pool.Health, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Health()
	}
	return out
}

// MetricsAll returns a metrics snapshot of every pool.
func (m *Manager) MetricsAll() map[string]pool.Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]pool.Metrics, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Metrics()
	}
	return out
}

// Shutdown closes every pool. After Shutdown, Acquire() returns a ManagerShutDown error.
// It is safe to call more than once.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.state == StateShutdown {
		m.mu.Unlock()
		return nil
	}
	m.state = StateShutdown
	pools := m.pools
	inst := m.inst
	m.inst = nil
	m.mu.Unlock()

	// Unregister outside the lock, a metrics collection in progress takes a read lock.
	var errs []error
	if err := inst.close(); err != nil {
		errs = append(errs, errors.Wrap(err, "unregistering metrics"))
	}
	for name, p := range pools {
		if err := p.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing pool %s", name))
		}
	}
	m.log.Info("connection pools shut down")
	return errors.Join(errs...)
}

// Handle is a connection checked out of a pool. Release it when done.
type Handle struct {
	pool     *pool.Pool
	conn     *pool.Connection
	degraded bool
	once     sync.Once
}

// Conn returns the connection.
func (h *Handle) Conn() *pool.Connection {
	return h.conn
}

// Transport returns the connection's current transport. It may be nil if the connection
// has never connected.
func (h *Handle) Transport() transport.Transport {
	return h.conn.Transport()
}

// Degraded is true if no connection was READY when the Handle was acquired.
func (h *Handle) Degraded() bool {
	return h.degraded
}

// Release returns the connection to its pool. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.pool.Release(h.conn)
	})
}

// WithConnection acquires a connection to service, runs fn with it and releases it on every
// exit path, including a panic in fn. The call's latency and outcome are recorded on the
// connection. If fn fails with an error the transport classifies as a connection failure,
// the connection is marked failed for the health loop to repair and a ConnectionLost error
// wrapping fn's error is returned.
func WithConnection[T any](ctx context.Context, m *Manager, service string, fn func(ctx context.Context, c *pool.Connection) (T, error)) (T, error) {
	var zero T

	h, err := m.Acquire(service)
	if err != nil {
		return zero, err
	}
	defer h.Release()

	c := h.Conn()
	start := time.Now()
	v, err := fn(ctx, c)
	d := time.Since(start)

	c.RecordRequest(d, err)
	m.recordDuration(ctx, service, d, err)

	if err != nil && transport.IsConnectionFailure(c.Transport(), err) {
		return v, c.MarkFailed(err)
	}
	return v, err
}

func (m *Manager) recordDuration(ctx context.Context, service string, d time.Duration, err error) {
	m.mu.RLock()
	inst := m.inst
	m.mu.RUnlock()
	inst.recordDuration(ctx, service, d, err)
}
