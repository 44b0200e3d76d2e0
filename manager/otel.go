package manager

import (
	"time"

	"github.com/bearlytools/svcpool/errors"

	"github.com/gostdlib/base/context"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bearlytools/svcpool"

// instruments exports pool metrics to OpenTelemetry. Gauges and counters are observed from
// pool snapshots on collection, the request duration histogram is recorded per call.
type instruments struct {
	ready      metric.Int64ObservableGauge
	size       metric.Int64ObservableGauge
	requests   metric.Int64ObservableCounter
	reconnects metric.Int64ObservableCounter
	degraded   metric.Int64ObservableCounter
	latency    metric.Float64ObservableGauge
	duration   metric.Float64Histogram

	reg metric.Registration
}

func newInstruments(ctx context.Context, m *Manager) (*instruments, error) {
	var meter metric.Meter
	if m.opts.meterProvider != nil {
		meter = m.opts.meterProvider.Meter(meterName)
	} else {
		meter = context.Meter(ctx)
	}

	i := &instruments{}
	var err error

	i.ready, err = meter.Int64ObservableGauge(
		"svcpool.connections.ready",
		metric.WithDescription("Number of READY connections in the pool"),
	)
	if err != nil {
		return nil, err
	}

	i.size, err = meter.Int64ObservableGauge(
		"svcpool.connections.total",
		metric.WithDescription("Number of connections in the pool"),
	)
	if err != nil {
		return nil, err
	}

	i.requests, err = meter.Int64ObservableCounter(
		"svcpool.requests",
		metric.WithDescription("Requests made through the pool, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	i.reconnects, err = meter.Int64ObservableCounter(
		"svcpool.reconnects",
		metric.WithDescription("Connections re-established by the health loop"),
	)
	if err != nil {
		return nil, err
	}

	i.degraded, err = meter.Int64ObservableCounter(
		"svcpool.acquires.degraded",
		metric.WithDescription("Acquires made while no connection was READY"),
	)
	if err != nil {
		return nil, err
	}

	i.latency, err = meter.Float64ObservableGauge(
		"svcpool.requests.avg_duration",
		metric.WithDescription("Mean request duration since the pool started"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	i.duration, err = meter.Float64Histogram(
		"svcpool.request.duration",
		metric.WithDescription("Duration of requests made with WithConnection"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	i.reg, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			for name, pm := range m.MetricsAll() {
				svc := metric.WithAttributes(attribute.String("service", name))
				o.ObserveInt64(i.ready, int64(pm.ReadyConnections), svc)
				o.ObserveInt64(i.size, int64(pm.PoolSize), svc)
				o.ObserveInt64(
					i.requests, int64(pm.SuccessfulRequests),
					metric.WithAttributes(attribute.String("service", name), attribute.String("outcome", "success")),
				)
				o.ObserveInt64(
					i.requests, int64(pm.FailedRequests),
					metric.WithAttributes(attribute.String("service", name), attribute.String("outcome", "failure")),
				)
				o.ObserveInt64(i.reconnects, int64(pm.Reconnects), svc)
				o.ObserveInt64(i.degraded, int64(pm.DegradedAcquires), svc)
				o.ObserveFloat64(i.latency, pm.AvgResponseTimeMs, svc)
			}
			return nil
		},
		i.ready, i.size, i.requests, i.reconnects, i.degraded, i.latency,
	)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (i *instruments) recordDuration(ctx context.Context, service string, d time.Duration, err error) {
	if i == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if k := errors.KindOf(err); k != errors.KindUnknown {
			outcome = k.String()
		}
	}
	i.duration.Record(
		ctx,
		float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("service", service), attribute.String("outcome", outcome)),
	)
}

func (i *instruments) close() error {
	if i == nil || i.reg == nil {
		return nil
	}
	return i.reg.Unregister()
}
