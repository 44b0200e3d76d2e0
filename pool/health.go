package pool

import (
	stdsync "sync"
	"time"

	"github.com/bearlytools/svcpool/errors"

	"github.com/gostdlib/base/context"
)

// startHealthChecker starts the background health loop. It is a no-op when the interval
// is zero.
func (p *Pool) startHealthChecker(ctx context.Context) {
	if p.interval <= 0 {
		p.loopClaimed.Store(true)
		close(p.loopDone)
		return
	}

	pool := context.Pool(ctx)
	pool.Submit(ctx, func() {
		if !p.loopClaimed.CompareAndSwap(false, true) {
			return
		}
		p.healthCheckLoop(ctx)
	})
}

// healthCheckLoop runs a health cycle every interval, or sooner when woken by Acquire().
func (p *Pool) healthCheckLoop(ctx context.Context) {
	defer close(p.loopDone)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAll(ctx)
		case <-p.wake:
			p.checkAll(ctx)
		}
	}
}

// checkAll starts one health cycle. Each connection is handled independently, so a slow
// reconnect never delays the others. A connection whose work from an earlier cycle is still
// running is skipped. The returned channel is closed when all work started by this cycle
// has finished.
func (p *Pool) checkAll(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if ctx.Err() != nil {
		close(done)
		return done
	}

	pool := context.Pool(ctx)
	wg := &stdsync.WaitGroup{}
	for _, c := range p.conns {
		if c.State() == StateShutdown {
			continue
		}
		if !c.busy.CompareAndSwap(false, true) {
			continue
		}
		wg.Add(1)
		pool.Submit(ctx, func() {
			defer wg.Done()
			defer c.busy.Store(false)
			p.checkOne(ctx, c)
		})
	}
	pool.Submit(ctx, func() {
		wg.Wait()
		close(done)
	})
	return done
}

// checkOne probes a READY connection or reconnects a broken one.
func (p *Pool) checkOne(ctx context.Context, c *Connection) {
	switch c.State() {
	case StateReady:
		if err := c.healthCheck(ctx); err != nil {
			c.log.WithError(err).Warn("health probe failed")
		}
	case StateIdle, StateTransientFailure:
		err := c.reconnectWithBackoff(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errors.ErrServiceUnavailable):
			c.log.WithError(err).Error("service unavailable, will retry next cycle")
		case errors.Is(err, errors.ErrConnShutdown), ctx.Err() != nil:
		default:
			c.log.WithError(err).Warn("reconnect failed")
		}
	}
}
