package manager

import (
	"github.com/bearlytools/svcpool/pool"
	"github.com/bearlytools/svcpool/transport"
	"github.com/bearlytools/svcpool/transport/grpcconn"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
)

// options holds configuration for Manager.
type options struct {
	// dialer creates transports for every pool.
	dialer transport.Dialer

	// log is the logger for the manager and its pools.
	log logrus.FieldLogger

	// meterProvider for metrics. If nil, uses context.Meter().
	meterProvider metric.MeterProvider

	// enableMetrics registers OTel instruments at Initialize.
	enableMetrics bool

	// poolOpts are passed to every pool.New().
	poolOpts []pool.Option
}

func defaultOptions() *options {
	return &options{
		log:           logrus.StandardLogger(),
		enableMetrics: true,
	}
}

// Option configures a Manager.
type Option func(*options)

// WithDialer sets the Dialer used by every pool.
// Default is a grpcconn.Dialer with default options.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) {
		o.dialer = d
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

// WithMeterProvider sets the MeterProvider pool metrics are exported to.
// Default is the Meter from context.Meter().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithMetricsDisabled stops the manager from registering OTel instruments.
func WithMetricsDisabled() Option {
	return func(o *options) {
		o.enableMetrics = false
	}
}

// WithPoolOptions sets options passed to every pool.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(o *options) {
		o.poolOpts = append(o.poolOpts, opts...)
	}
}

func (o *options) getDialer() transport.Dialer {
	if o.dialer == nil {
		return grpcconn.NewDialer()
	}
	return o.dialer
}
