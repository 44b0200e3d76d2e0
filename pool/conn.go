package pool

import (
	"sync/atomic"
	"time"

	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"
	"github.com/bearlytools/svcpool/transport"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ConnState represents the state of a Connection.
type ConnState uint32

const (
	// StateIdle indicates the Connection has never been connected.
	StateIdle ConnState = iota
	// StateConnecting indicates the Connection is establishing a transport.
	StateConnecting
	// StateReady indicates the Connection has a working transport and can be handed out.
	StateReady
	// StateTransientFailure indicates the Connection failed and is waiting for the health loop to reconnect it.
	StateTransientFailure
	// StateShutdown indicates the Connection is shut down permanently.
	StateShutdown
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateTransientFailure:
		return "TRANSIENT_FAILURE"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// validTransition reports if a Connection may move from one state to another.
func validTransition(from, to ConnState) bool {
	if from == to || from == StateShutdown {
		return false
	}
	switch to {
	case StateShutdown:
		return true
	case StateConnecting:
		return from == StateIdle || from == StateTransientFailure
	case StateReady:
		return from == StateConnecting
	case StateTransientFailure:
		return from == StateConnecting || from == StateReady
	}
	return false
}

// Connection is one long-lived transport to a service, owned by a Pool. The transport is
// multiplexed, so a Connection handed out by Acquire() may be used by several callers at once.
type Connection struct {
	id      int
	service string
	cfg     *config.ServiceConfig
	dialer  transport.Dialer
	log     logrus.FieldLogger
	tracer  trace.Tracer

	// state is only written with mu held, but may be read without it.
	state atomic.Uint32
	// busy is set while a connect, reconnect or probe is running for this Connection.
	busy atomic.Bool
	// lastActivity is unix nanoseconds of the last connect or request.
	lastActivity atomic.Int64

	mu                  sync.Mutex
	transport           transport.Transport
	consecutiveFailures int
	lastErr             error
	closeCh             chan struct{}

	// onLost, if set, is called after MarkFailed moves the Connection to TRANSIENT_FAILURE.
	onLost func()

	counters counters
}

func newConnection(id int, service string, cfg *config.ServiceConfig, dialer transport.Dialer, log logrus.FieldLogger, tracer trace.Tracer) *Connection {
	return &Connection{
		id:      id,
		service: service,
		cfg:     cfg,
		dialer:  dialer,
		log:     log.WithField("conn", id),
		tracer:  tracer,
		closeCh: make(chan struct{}),
	}
}

// ID returns the index of the Connection in its Pool.
func (c *Connection) ID() int {
	return c.id
}

// Service returns the id of the service the Connection belongs to.
func (c *Connection) Service() string {
	return c.service
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Transport returns the current transport. This is nil before the first successful connect
// and after Close(). A Connection in TRANSIENT_FAILURE keeps its broken transport until it
// is replaced by a reconnect.
func (c *Connection) Transport() transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// LastError returns the last error that occurred, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastActivity returns the time of the last successful connect or recorded request.
func (c *Connection) LastActivity() time.Time {
	n := c.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// setStateLocked moves the Connection to state to. c.mu must be held.
// Returns false if the transition is not allowed.
func (c *Connection) setStateLocked(to ConnState) bool {
	from := c.State()
	if !validTransition(from, to) {
		return false
	}
	c.state.Store(uint32(to))
	c.counters.transitions.Add(1)
	c.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("connection state change")
	return true
}

// startConnect moves the Connection to CONNECTING and dials in the background.
// done is called when the dial finishes, successful or not.
func (c *Connection) startConnect(ctx context.Context, done func()) {
	c.busy.Store(true)
	c.mu.Lock()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	pool := context.Pool(ctx)
	pool.Submit(ctx, func() {
		defer done()
		defer c.busy.Store(false)
		if err := c.connect(ctx); err != nil {
			c.log.WithError(err).Warn("initial connect failed, health loop will retry")
		}
	})
}

// connect establishes a new transport, bounded by the config's Timeout.
func (c *Connection) connect(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.State() == StateShutdown {
		c.mu.Unlock()
		return errors.E(errors.KindConnShutdown, c.service, c.id, nil, "")
	}
	if c.State() != StateConnecting {
		c.setStateLocked(StateConnecting)
	}
	c.mu.Unlock()

	c.counters.connectAttempts.Add(1)

	sctx, span := c.tracer.Start(
		ctx,
		"svcpool.Connection.connect",
		trace.WithAttributes(
			attribute.String("svcpool.service", c.service),
			attribute.Int("svcpool.conn", c.id),
			attribute.String("net.peer.name", c.cfg.Host),
			attribute.Int("net.peer.port", c.cfg.Port),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dctx, cancel := context.WithTimeout(sctx, c.cfg.Timeout)
	defer cancel()

	t, dialErr := c.dialer.Dial(dctx, *c.cfg)
	if dialErr != nil {
		kind := errors.KindConnectFailed
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			kind = errors.KindConnectionTimeout
		}
		err = errors.E(kind, c.service, c.id, dialErr, "connecting to %s", c.cfg.Addr())
		c.counters.connectFailures.Add(1)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.State() == StateShutdown {
			return errors.E(errors.KindConnShutdown, c.service, c.id, nil, "")
		}
		c.setStateLocked(StateTransientFailure)
		c.consecutiveFailures++
		c.lastErr = err
		return err
	}

	c.mu.Lock()
	if c.State() == StateShutdown {
		c.mu.Unlock()
		t.Close()
		return errors.E(errors.KindConnShutdown, c.service, c.id, nil, "")
	}
	old := c.transport
	c.transport = t
	c.setStateLocked(StateReady)
	c.consecutiveFailures = 0
	c.lastErr = nil
	c.mu.Unlock()

	c.touch()
	if old != nil {
		old.Close()
	}
	c.log.Debug("connection ready")
	return nil
}

// reconnectWithBackoff tries to connect up to max(1, MaxRetries) times, sleeping the
// backoff delay before each attempt. If all attempts fail it returns a ServiceUnavailable
// error wrapping the last failure.
func (c *Connection) reconnectWithBackoff(ctx context.Context) error {
	attempts := max(1, c.cfg.MaxRetries)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		delay := backoffDelay(c.cfg.RetryDelay, c.cfg.MaxRetryDelay, attempt, jitter(c.cfg.RetryDelay))
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}

		err := c.connect(ctx)
		if err == nil {
			c.counters.reconnects.Add(1)
			c.log.WithField("attempt", attempt+1).Info("connection re-established")
			return nil
		}
		if errors.Is(err, errors.ErrConnShutdown) {
			return err
		}
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt+1).Debug("reconnect attempt failed")
	}
	err := errors.E(errors.KindServiceUnavailable, c.service, c.id, lastErr, "gave up after %d attempts", attempts)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// sleep waits for d, returning early with an error if ctx is done or the Connection is closed.
func (c *Connection) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-c.closeCh:
		return errors.E(errors.KindConnShutdown, c.service, c.id, nil, "")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// healthCheck probes a READY Connection. On failure the Connection moves to
// TRANSIENT_FAILURE but keeps its transport until a reconnect replaces it.
// Connections that are not READY are not probed and nil is returned.
func (c *Connection) healthCheck(ctx context.Context) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if c.State() != StateReady || t == nil {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	probeErr := t.Probe(pctx)
	if probeErr == nil {
		return nil
	}

	kind := errors.KindConnectionLost
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		kind = errors.KindConnectionTimeout
	}
	err := errors.E(kind, c.service, c.id, probeErr, "health probe")
	c.counters.healthFailures.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setStateLocked(StateTransientFailure) {
		c.consecutiveFailures++
		c.lastErr = err
	}
	return err
}

// MarkFailed moves a READY Connection to TRANSIENT_FAILURE after its transport broke while
// in use and wakes the Pool's health loop to repair it. It returns a ConnectionLost error
// wrapping cause.
func (c *Connection) MarkFailed(cause error) error {
	err := errors.E(errors.KindConnectionLost, c.service, c.id, cause, "")

	c.mu.Lock()
	moved := c.setStateLocked(StateTransientFailure)
	if moved {
		c.consecutiveFailures++
		c.lastErr = err
	}
	c.mu.Unlock()

	if moved {
		c.log.WithError(cause).Warn("connection lost while in use")
		if c.onLost != nil {
			c.onLost()
		}
	}
	return err
}

// RecordRequest records the outcome of one request made over the Connection.
func (c *Connection) RecordRequest(latency time.Duration, err error) {
	c.counters.requests.Add(1)
	c.counters.latencyNanos.Add(int64(latency))
	if err != nil {
		c.counters.failures.Add(1)
	} else {
		c.counters.successes.Add(1)
	}
	c.touch()
}

func (c *Connection) ref() {
	c.counters.inFlight.Add(1)
}

func (c *Connection) unref() {
	c.counters.inFlight.Add(-1)
}

// Close permanently shuts down the Connection and closes its transport. It is safe to call
// more than once; the transport is only closed the first time.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.State() == StateShutdown {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateShutdown)
	t := c.transport
	c.transport = nil

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
	c.mu.Unlock()

	if t != nil {
		return t.Close()
	}
	return nil
}
