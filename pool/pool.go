package pool

import (
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"
	"github.com/bearlytools/svcpool/transport"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/retry/exponential"
	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Acquire() after Close().
var ErrPoolClosed = errors.New("pool is closed")

var errNoneReady = errors.New("no connection is READY")

// Pool holds a fixed number of Connections to one service and hands them out in rotation.
type Pool struct {
	service string
	cfg     config.ServiceConfig
	log     logrus.FieldLogger

	// conns never changes after New(), so it can be read without mu.
	conns []*Connection
	rr    roundRobin
	mu    sync.Mutex

	interval time.Duration
	degraded atomic.Uint64

	// initDone is closed when every initial connect has finished, successfully or not.
	initDone chan struct{}
	// wake asks the health loop to run a cycle now.
	wake chan struct{}
	// loopDone is closed when the health loop exits, or at New() if there is no loop.
	loopDone chan struct{}
	// loopClaimed is set by whichever of the health loop or Close() gets there first.
	// If Close() wins, the loop never runs and Close() closes loopDone itself.
	loopClaimed atomic.Bool

	closed chan struct{}
	cancel context.CancelFunc
}

// New creates a Pool of cfg.PoolSize connections to service and starts connecting them in
// the background. Every connection is CONNECTING when New returns. ctx must outlive the Pool;
// background work stops when ctx is canceled or Close() is called. New fails if ctx is
// already done.
func New(ctx context.Context, service string, cfg config.ServiceConfig, dialer transport.Dialer, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(service); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, errors.Config(service, "dialer must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "creating pool for %s", service)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	interval := cfg.HealthCheckInterval
	if o.intervalSet {
		interval = o.healthCheckInterval
	}

	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		service:  service,
		cfg:      cfg,
		log:      o.log.WithField("service", service),
		conns:    make([]*Connection, cfg.PoolSize),
		interval: interval,
		initDone: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
		closed:   make(chan struct{}),
		cancel:   cancel,
	}

	tracer := o.tracer()
	for i := range p.conns {
		p.conns[i] = newConnection(i, service, &p.cfg, dialer, p.log, tracer)
		p.conns[i].onLost = p.wakeHealthLoop
	}

	wg := &stdsync.WaitGroup{}
	wg.Add(len(p.conns))
	for _, c := range p.conns {
		c.startConnect(ctx, wg.Done)
	}
	context.Pool(ctx).Submit(ctx, func() {
		wg.Wait()
		close(p.initDone)
	})

	p.startHealthChecker(ctx)
	return p, nil
}

// Service returns the service id of the Pool.
func (p *Pool) Service() string {
	return p.service
}

// Config returns the Pool's copy of its ServiceConfig.
func (p *Pool) Config() config.ServiceConfig {
	return p.cfg
}

// Connections returns the Pool's connections in order.
func (p *Pool) Connections() []*Connection {
	out := make([]*Connection, len(p.conns))
	copy(out, p.conns)
	return out
}

// Acquire returns the next READY connection in rotation. It never blocks on the network.
// If no connection is READY it still returns a connection, ready == false, and the health
// loop is woken up; calls made on that connection will most likely fail. The only error
// is ErrPoolClosed.
// Each successful Acquire must be paired with a Release.
func (p *Pool) Acquire() (c *Connection, ready bool, err error) {
	select {
	case <-p.closed:
		return nil, false, ErrPoolClosed
	default:
	}

	p.mu.Lock()
	c, ready = p.rr.pick(p.conns)
	p.mu.Unlock()

	if !ready {
		p.degraded.Add(1)
		p.log.WithError(errors.E(errors.KindAllConnectionsDown, p.service, errors.NoConn, nil, "")).
			WithField("conn", c.id).
			Warn("no READY connection, handing out a non-ready one")
		p.wakeHealthLoop()
	}
	c.ref()
	return c, ready, nil
}

// wakeHealthLoop asks the health loop to run a cycle now. It never blocks.
func (p *Pool) wakeHealthLoop() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Release returns a connection obtained from Acquire.
func (p *Pool) Release(c *Connection) {
	if c == nil {
		return
	}
	c.unref()
}

// ReadyCount returns the number of READY connections.
func (p *Pool) ReadyCount() int {
	n := 0
	for _, c := range p.conns {
		if c.State() == StateReady {
			n++
		}
	}
	return n
}

// WaitReady blocks until at least one connection is READY or ctx is done.
func (p *Pool) WaitReady(ctx context.Context) error {
	if p.ReadyCount() > 0 {
		return nil
	}

	backoff, err := exponential.New(exponential.WithPolicy(exponential.FastRetryPolicy()))
	if err != nil {
		return err
	}

	err = backoff.Retry(ctx, func(ctx context.Context, r exponential.Record) error {
		select {
		case <-p.closed:
			return exponential.ErrRetryCanceled
		default:
		}
		if p.ReadyCount() > 0 {
			return nil
		}
		return errNoneReady
	})
	if err != nil {
		if p.ReadyCount() > 0 {
			return nil
		}
		return errors.E(errors.KindAllConnectionsDown, p.service, errors.NoConn, err, "waiting for a READY connection")
	}
	return nil
}

// Close stops the health loop and shuts down every connection. It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		return nil
	default:
		close(p.closed)
	}
	p.mu.Unlock()

	p.cancel()
	if p.loopClaimed.CompareAndSwap(false, true) {
		close(p.loopDone)
	}
	<-p.loopDone

	var errs []error
	for _, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing connection %d", c.id))
		}
	}
	p.log.Info("pool closed")
	return errors.Join(errs...)
}
