// Package pool provides a fixed size, round robin connection pool to a single service.
// Connections are health checked in the background and reconnected with exponential
// backoff. Acquire never blocks on the network.
package pool

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/bearlytools/svcpool/pool"

// options holds configuration for Pool that is not part of the service's config.
type options struct {
	// healthCheckInterval overrides ServiceConfig.HealthCheckInterval if intervalSet.
	// Zero disables the health loop.
	healthCheckInterval time.Duration
	intervalSet         bool

	// log is the logger used by the pool and its connections.
	log logrus.FieldLogger

	// tracerProvider provides the tracer used for connect spans.
	tracerProvider trace.TracerProvider
}

func defaultOptions() *options {
	return &options{
		log: logrus.StandardLogger(),
	}
}

// Option configures a Pool.
type Option func(*options)

// WithHealthCheckInterval overrides the ServiceConfig's HealthCheckInterval.
// Set to zero to disable the health loop.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *options) {
		o.healthCheckInterval = d
		o.intervalSet = true
	}
}

// WithLogger sets the logger. Default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracerProvider sets the TracerProvider used for connect spans.
// Default is otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

func (o *options) tracer() trace.Tracer {
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}
