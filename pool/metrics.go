package pool

import (
	"sync/atomic"
	"time"

	"golang.org/x/exp/constraints"
)

type counters struct {
	requests        atomic.Uint64
	successes       atomic.Uint64
	failures        atomic.Uint64
	latencyNanos    atomic.Int64
	connectAttempts atomic.Uint64
	connectFailures atomic.Uint64
	healthFailures  atomic.Uint64
	reconnects      atomic.Uint64
	transitions     atomic.Uint64
	inFlight        atomic.Int64
}

// ConnMetrics is a point in time snapshot of one Connection.
type ConnMetrics struct {
	ID                  int
	State               ConnState
	Requests            uint64
	Successes           uint64
	Failures            uint64
	AvgResponseTimeMs   float64
	ConnectAttempts     uint64
	ConnectFailures     uint64
	HealthCheckFailures uint64
	Reconnects          uint64
	StateTransitions    uint64
	ConsecutiveFailures int
	InFlight            int64
	LastActivity        time.Time
	LastError           string `json:",omitempty"`

	latencyNanos int64
}

// Metrics is a point in time snapshot of a Pool. Counters only ever grow.
type Metrics struct {
	Service            string
	PoolSize           int
	ReadyConnections   int
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	// SuccessRate is SuccessfulRequests/TotalRequests, or 0 with no requests.
	SuccessRate float64
	// AvgResponseTimeMs is the mean request latency across all connections.
	AvgResponseTimeMs float64
	// DegradedAcquires counts Acquire() calls made while no connection was READY.
	DegradedAcquires uint64
	Reconnects       uint64
	Connections      []ConnMetrics
}

// Health summarizes whether a Pool can serve requests.
type Health struct {
	Service string
	Ready   int
	Total   int
	// Healthy is true when at least one connection is READY.
	Healthy bool
	// LastError is the most recent connection error in the pool, if any.
	LastError string `json:",omitempty"`
}

// Fraction returns Ready/Total.
func (h Health) Fraction() float64 {
	return ratio(h.Ready, h.Total)
}

func ratio[N constraints.Integer](num, den N) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Metrics returns a snapshot of the Connection's counters.
func (c *Connection) Metrics() ConnMetrics {
	c.mu.Lock()
	consecutive := c.consecutiveFailures
	lastErr := c.lastErr
	c.mu.Unlock()

	m := ConnMetrics{
		ID:                  c.id,
		State:               c.State(),
		Requests:            c.counters.requests.Load(),
		Successes:           c.counters.successes.Load(),
		Failures:            c.counters.failures.Load(),
		ConnectAttempts:     c.counters.connectAttempts.Load(),
		ConnectFailures:     c.counters.connectFailures.Load(),
		HealthCheckFailures: c.counters.healthFailures.Load(),
		Reconnects:          c.counters.reconnects.Load(),
		StateTransitions:    c.counters.transitions.Load(),
		ConsecutiveFailures: consecutive,
		InFlight:            c.counters.inFlight.Load(),
		LastActivity:        c.LastActivity(),
		latencyNanos:        c.counters.latencyNanos.Load(),
	}
	m.AvgResponseTimeMs = ratio(m.latencyNanos, int64(m.Requests)) / float64(time.Millisecond)
	if lastErr != nil {
		m.LastError = lastErr.Error()
	}
	return m
}

// Metrics returns a snapshot of the Pool's counters.
func (p *Pool) Metrics() Metrics {
	m := Metrics{
		Service:          p.service,
		PoolSize:         len(p.conns),
		DegradedAcquires: p.degraded.Load(),
		Connections:      make([]ConnMetrics, 0, len(p.conns)),
	}

	var latency int64
	for _, c := range p.conns {
		cm := c.Metrics()
		if cm.State == StateReady {
			m.ReadyConnections++
		}
		m.TotalRequests += cm.Requests
		m.SuccessfulRequests += cm.Successes
		m.FailedRequests += cm.Failures
		m.Reconnects += cm.Reconnects
		latency += cm.latencyNanos
		m.Connections = append(m.Connections, cm)
	}
	m.SuccessRate = ratio(m.SuccessfulRequests, m.TotalRequests)
	m.AvgResponseTimeMs = ratio(latency, int64(m.TotalRequests)) / float64(time.Millisecond)
	return m
}

// Health returns a summary of the Pool's readiness.
func (p *Pool) Health() Health {
	h := Health{Service: p.service, Total: len(p.conns)}
	for _, c := range p.conns {
		if c.State() == StateReady {
			h.Ready++
			continue
		}
		if err := c.LastError(); err != nil {
			h.LastError = err.Error()
		}
	}
	h.Healthy = h.Ready > 0
	return h
}
