package pool

import (
	"io"
	"testing"
	"time"

	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"
	"github.com/bearlytools/svcpool/internal/fakeconn"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() config.ServiceConfig {
	cfg := config.New("stt", 50051)
	cfg.PoolSize = 3
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 4 * time.Millisecond
	cfg.Timeout = 100 * time.Millisecond
	return cfg
}

func newTestConn(cfg *config.ServiceConfig, ep *fakeconn.Endpoint) *Connection {
	return newConnection(0, "stt", cfg, ep, quietLogger(), defaultOptions().tracer())
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateReady, "READY"},
		{StateTransientFailure, "TRANSIENT_FAILURE"},
		{StateShutdown, "SHUTDOWN"},
		{ConnState(99), "UNKNOWN"},
	}

	for _, test := range tests {
		if got := test.state.String(); got != test.want {
			t.Errorf("TestConnStateString(%d): got %q, want %q", test.state, got, test.want)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to ConnState
		want     bool
	}{
		{StateIdle, StateConnecting, true},
		{StateConnecting, StateReady, true},
		{StateConnecting, StateTransientFailure, true},
		{StateReady, StateTransientFailure, true},
		{StateTransientFailure, StateConnecting, true},
		{StateIdle, StateShutdown, true},
		{StateReady, StateShutdown, true},
		{StateTransientFailure, StateShutdown, true},

		{StateIdle, StateReady, false},
		{StateReady, StateConnecting, false},
		{StateTransientFailure, StateReady, false},
		{StateIdle, StateTransientFailure, false},
		{StateReady, StateReady, false},
		{StateShutdown, StateConnecting, false},
		{StateShutdown, StateShutdown, false},
	}

	for _, test := range tests {
		if got := validTransition(test.from, test.to); got != test.want {
			t.Errorf("TestValidTransition(%s->%s): got %v, want %v", test.from, test.to, got, test.want)
		}
	}
}

func TestConnect(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	ep := fakeconn.New()
	c := newTestConn(&cfg, ep)

	if err := c.connect(ctx); err != nil {
		t.Fatalf("TestConnect: connect() err: %s", err)
	}
	if c.State() != StateReady {
		t.Errorf("TestConnect: got state %s, want READY", c.State())
	}
	if c.Transport() == nil {
		t.Errorf("TestConnect: got nil transport after connect")
	}
	if c.LastActivity().IsZero() {
		t.Errorf("TestConnect: LastActivity() not set after connect")
	}

	ep.SetDown(true)
	c2 := newTestConn(&cfg, ep)
	err := c2.connect(ctx)
	if !errors.Is(err, errors.ErrConnectFailed) {
		t.Errorf("TestConnect(refused): got err == %v, want ConnectFailed", err)
	}
	if !errors.Is(err, fakeconn.ErrRefused) {
		t.Errorf("TestConnect(refused): got err == %v, want it to wrap ErrRefused", err)
	}
	if c2.State() != StateTransientFailure {
		t.Errorf("TestConnect(refused): got state %s, want TRANSIENT_FAILURE", c2.State())
	}
	if got := c2.Metrics().ConsecutiveFailures; got != 1 {
		t.Errorf("TestConnect(refused): got %d consecutive failures, want 1", got)
	}
}

func TestConnectTimeout(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	ep := fakeconn.New()
	ep.SetHang(true)
	c := newTestConn(&cfg, ep)

	start := time.Now()
	err := c.connect(ctx)
	if !errors.Is(err, errors.ErrConnectionTimeout) {
		t.Errorf("TestConnectTimeout: got err == %v, want ConnectionTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("TestConnectTimeout: connect was not bounded by the timeout")
	}
	if c.State() != StateTransientFailure {
		t.Errorf("TestConnectTimeout: got state %s, want TRANSIENT_FAILURE", c.State())
	}
}

func TestHealthCheckKeepsTransport(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	ep := fakeconn.New()
	c := newTestConn(&cfg, ep)

	if err := c.connect(ctx); err != nil {
		t.Fatalf("TestHealthCheckKeepsTransport: connect() err: %s", err)
	}
	if err := c.healthCheck(ctx); err != nil {
		t.Errorf("TestHealthCheckKeepsTransport: healthCheck() on healthy endpoint err: %s", err)
	}

	ep.SetDown(true)
	err := c.healthCheck(ctx)
	if !errors.Is(err, errors.ErrConnectionLost) {
		t.Errorf("TestHealthCheckKeepsTransport: got err == %v, want ConnectionLost", err)
	}
	if c.State() != StateTransientFailure {
		t.Errorf("TestHealthCheckKeepsTransport: got state %s, want TRANSIENT_FAILURE", c.State())
	}

	tr := ep.Transports()[0]
	if c.Transport() != tr {
		t.Errorf("TestHealthCheckKeepsTransport: transport was replaced by a failed probe")
	}
	if tr.Closes() != 0 {
		t.Errorf("TestHealthCheckKeepsTransport: transport closed %d times, want 0", tr.Closes())
	}

	// A connection that is not READY is not probed.
	probes := tr.Probes()
	if err := c.healthCheck(ctx); err != nil {
		t.Errorf("TestHealthCheckKeepsTransport: healthCheck() on non-READY err: %s", err)
	}
	if tr.Probes() != probes {
		t.Errorf("TestHealthCheckKeepsTransport: non-READY connection was probed")
	}
}

func TestReconnectWithBackoff(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	ep := fakeconn.New()
	c := newTestConn(&cfg, ep)

	if err := c.connect(ctx); err != nil {
		t.Fatalf("TestReconnectWithBackoff: connect() err: %s", err)
	}
	ep.SetDown(true)
	c.healthCheck(ctx)

	dials := ep.Dials()
	err := c.reconnectWithBackoff(ctx)
	if !errors.Is(err, errors.ErrServiceUnavailable) {
		t.Errorf("TestReconnectWithBackoff: got err == %v, want ServiceUnavailable", err)
	}
	if got := ep.Dials() - dials; got != cfg.MaxRetries {
		t.Errorf("TestReconnectWithBackoff: got %d dial attempts, want %d", got, cfg.MaxRetries)
	}
	if !errors.Is(c.LastError(), errors.ErrServiceUnavailable) {
		t.Errorf("TestReconnectWithBackoff: LastError() == %v, want ServiceUnavailable", c.LastError())
	}

	ep.SetDown(false)
	if err := c.reconnectWithBackoff(ctx); err != nil {
		t.Fatalf("TestReconnectWithBackoff: reconnect after endpoint came back err: %s", err)
	}
	if c.State() != StateReady {
		t.Errorf("TestReconnectWithBackoff: got state %s, want READY", c.State())
	}

	trs := ep.Transports()
	if len(trs) != 2 {
		t.Fatalf("TestReconnectWithBackoff: got %d transports, want 2", len(trs))
	}
	if trs[0].Closes() != 1 {
		t.Errorf("TestReconnectWithBackoff: old transport closed %d times, want 1", trs[0].Closes())
	}
	if c.Transport() != trs[1] {
		t.Errorf("TestReconnectWithBackoff: new transport not installed")
	}
	m := c.Metrics()
	if m.Reconnects != 1 || m.ConsecutiveFailures != 0 {
		t.Errorf("TestReconnectWithBackoff: got reconnects=%d consecutive=%d, want 1 and 0", m.Reconnects, m.ConsecutiveFailures)
	}
}

func TestReconnectZeroRetries(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	cfg.MaxRetries = 0
	ep := fakeconn.New()
	ep.SetDown(true)
	c := newTestConn(&cfg, ep)

	c.reconnectWithBackoff(ctx)
	if ep.Dials() != 1 {
		t.Errorf("TestReconnectZeroRetries: got %d dials, want 1", ep.Dials())
	}
}

func TestReconnectAbortsOnClose(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	cfg.MaxRetryDelay = time.Hour
	ep := fakeconn.New()
	c := newTestConn(&cfg, ep)

	result := make(chan error, 1)
	go func() {
		result <- c.reconnectWithBackoff(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-result:
		if !errors.Is(err, errors.ErrConnShutdown) {
			t.Errorf("TestReconnectAbortsOnClose: got err == %v, want ConnShutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("TestReconnectAbortsOnClose: reconnect did not stop after Close()")
	}
	if ep.Dials() != 0 {
		t.Errorf("TestReconnectAbortsOnClose: got %d dials, want 0", ep.Dials())
	}
}

func TestClose(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	ep := fakeconn.New()
	c := newTestConn(&cfg, ep)

	if err := c.connect(ctx); err != nil {
		t.Fatalf("TestClose: connect() err: %s", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.Close(); err != nil {
			t.Errorf("TestClose: Close() #%d err: %s", i, err)
		}
	}
	if c.State() != StateShutdown {
		t.Errorf("TestClose: got state %s, want SHUTDOWN", c.State())
	}
	if got := ep.Transports()[0].Closes(); got != 1 {
		t.Errorf("TestClose: transport closed %d times, want 1", got)
	}
	if c.Transport() != nil {
		t.Errorf("TestClose: transport still set after Close()")
	}

	if err := c.connect(ctx); !errors.Is(err, errors.ErrConnShutdown) {
		t.Errorf("TestClose: connect() after Close() got err == %v, want ConnShutdown", err)
	}
	if c.State() != StateShutdown {
		t.Errorf("TestClose: connect() moved a closed connection to %s", c.State())
	}
}

func TestMarkFailed(t *testing.T) {
	ctx := t.Context()
	cfg := testConfig()
	ep := fakeconn.New()
	c := newTestConn(&cfg, ep)

	if err := c.connect(ctx); err != nil {
		t.Fatalf("TestMarkFailed: connect() err: %s", err)
	}

	err := c.MarkFailed(fakeconn.ErrBroken)
	if !errors.Is(err, errors.ErrConnectionLost) || !errors.Is(err, fakeconn.ErrBroken) {
		t.Errorf("TestMarkFailed: got err == %v, want ConnectionLost wrapping ErrBroken", err)
	}
	if c.State() != StateTransientFailure {
		t.Errorf("TestMarkFailed: got state %s, want TRANSIENT_FAILURE", c.State())
	}
}

func TestMarkFailedCallsOnLost(t *testing.T) {
	cfg := testConfig()
	c := newTestConn(&cfg, fakeconn.New())
	calls := 0
	c.onLost = func() { calls++ }

	if err := c.connect(t.Context()); err != nil {
		t.Fatalf("TestMarkFailedCallsOnLost: connect() err: %s", err)
	}
	c.MarkFailed(fakeconn.ErrBroken)
	// Already in TRANSIENT_FAILURE, nothing changes.
	c.MarkFailed(fakeconn.ErrBroken)

	if calls != 1 {
		t.Errorf("TestMarkFailedCallsOnLost: onLost called %d times, want 1", calls)
	}
}

func TestRecordRequest(t *testing.T) {
	cfg := testConfig()
	c := newTestConn(&cfg, fakeconn.New())

	c.RecordRequest(10*time.Millisecond, nil)
	c.RecordRequest(30*time.Millisecond, errors.New("boom"))

	m := c.Metrics()
	if m.Requests != 2 || m.Successes != 1 || m.Failures != 1 {
		t.Errorf("TestRecordRequest: got requests=%d successes=%d failures=%d, want 2/1/1", m.Requests, m.Successes, m.Failures)
	}
	if m.AvgResponseTimeMs != 20 {
		t.Errorf("TestRecordRequest: got avg %v ms, want 20", m.AvgResponseTimeMs)
	}
}
