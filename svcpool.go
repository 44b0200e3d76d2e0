// Package svcpool maintains pools of persistent gRPC connections to backend services.
//
// A process calls InitializePools once at startup with the config of every service it talks
// to. Each service gets a fixed size pool whose connections are dialed in the background,
// health checked on an interval and reconnected with exponential backoff when they fail.
// Callers borrow a connection with WithConnection, which never blocks waiting for a
// connection: if nothing is READY the call is attempted anyway and fails fast.
//
// Example:
//
//	configs := map[string]config.ServiceConfig{
//		"stt": config.New("stt.internal", 50051),
//		"nlp": config.New("nlp.internal", 50052),
//	}
//	if err := svcpool.InitializePools(ctx, configs); err != nil {
//		// handle error
//	}
//	defer svcpool.ShutdownPools()
//
//	text, err := svcpool.WithConnection(ctx, "stt", func(ctx context.Context, c *pool.Connection) (string, error) {
//		cc, _ := grpcconn.ClientConn(c.Transport())
//		return transcribe(ctx, sttpb.NewSpeechClient(cc), audio)
//	})
//
// Everything here is a thin wrapper over one process wide manager.Manager. Code that wants
// more than one Manager, or wants to inject a fake, should use package manager directly.
package svcpool

import (
	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"
	"github.com/bearlytools/svcpool/manager"
	"github.com/bearlytools/svcpool/pool"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
)

var (
	mu     sync.Mutex
	global *manager.Manager
)

// InitializePools creates the process wide Manager and a pool for every service in configs.
// It returns a ConfigError if the pools are already running or any config is invalid.
// After ShutdownPools, it can be called again.
func InitializePools(ctx context.Context, configs map[string]config.ServiceConfig, opts ...manager.Option) error {
	mu.Lock()
	defer mu.Unlock()

	if global != nil && global.State() == manager.StateRunning {
		return errors.Config("", "connection pools are already initialized")
	}

	m := manager.New(opts...)
	if err := m.Initialize(ctx, configs); err != nil {
		return err
	}
	global = m
	return nil
}

// GetManager returns the process wide Manager. It returns a ManagerNotInitialized error
// if InitializePools has not succeeded.
func GetManager() (*manager.Manager, error) {
	mu.Lock()
	defer mu.Unlock()

	if global == nil {
		return nil, errors.E(errors.KindManagerNotInitialized, "", errors.NoConn, nil, "call InitializePools() first")
	}
	return global, nil
}

// WithConnection runs fn with a connection to service from the process wide Manager.
// See manager.WithConnection.
func WithConnection[T any](ctx context.Context, service string, fn func(ctx context.Context, c *pool.Connection) (T, error)) (T, error) {
	m, err := GetManager()
	if err != nil {
		var zero T
		return zero, err
	}
	return manager.WithConnection(ctx, m, service, fn)
}

// HealthCheck reports, per service, whether at least one connection is READY. It is empty
// if the pools were never initialized.
func HealthCheck() map[string]bool {
	m, err := GetManager()
	if err != nil {
		return map[string]bool{}
	}
	return m.HealthCheckAll()
}

// Metrics returns a metrics snapshot of every pool.
func Metrics() map[string]pool.Metrics {
	m, err := GetManager()
	if err != nil {
		return map[string]pool.Metrics{}
	}
	return m.MetricsAll()
}

// ShutdownPools shuts down the process wide Manager. It is a no-op if there is none or it
// is already shut down.
func ShutdownPools() error {
	mu.Lock()
	m := global
	mu.Unlock()

	if m == nil {
		return nil
	}
	return m.Shutdown()
}
