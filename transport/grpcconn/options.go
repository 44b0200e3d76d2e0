package grpcconn

import (
	"crypto/tls"

	"github.com/bearlytools/svcpool/compress"
	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// dialConfig holds configuration for the Dialer.
type dialConfig struct {
	// TLS configuration for secure connections.
	// If nil, plaintext is used.
	tlsConfig *tls.Config

	// healthService is the service name sent in grpc.health.v1 Check requests.
	// The empty string asks about the server as a whole.
	healthService string

	// healthRPC, when false, makes Probe() only inspect the channel's connectivity state.
	healthRPC bool

	// extra are appended after the options derived from the ServiceConfig.
	extra []grpc.DialOption
}

func defaultDialConfig() *dialConfig {
	return &dialConfig{
		healthRPC: true,
	}
}

// Option configures a Dialer.
type Option func(*dialConfig)

// WithTLSConfig sets the TLS configuration for secure connections.
// If not set, connections are plaintext.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *dialConfig) {
		c.tlsConfig = cfg
	}
}

// WithHealthService sets the service name used in health probes.
// Default is "", which is the server's overall health.
func WithHealthService(name string) Option {
	return func(c *dialConfig) {
		c.healthService = name
	}
}

// WithStateProbe makes Probe() look only at the channel connectivity state instead of
// calling grpc.health.v1.Health/Check. Use this for backends that do not serve the
// health service and would take an extra round trip for nothing.
func WithStateProbe() Option {
	return func(c *dialConfig) {
		c.healthRPC = false
	}
}

// WithDialOptions appends raw gRPC dial options. These are applied last and can
// override anything derived from the ServiceConfig.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *dialConfig) {
		c.extra = append(c.extra, opts...)
	}
}

// dialOptions converts a ServiceConfig into gRPC dial options.
func (d *dialConfig) dialOptions(cfg config.ServiceConfig) ([]grpc.DialOption, error) {
	opts := make([]grpc.DialOption, 0, 8+len(d.extra))

	if d.tlsConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(d.tlsConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	opts = append(
		opts,
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                cfg.KeepaliveInterval,
				Timeout:             cfg.KeepaliveTimeout,
				PermitWithoutStream: true,
			},
		),
	)

	if cfg.MaxIdleDuration > 0 {
		opts = append(opts, grpc.WithIdleTimeout(cfg.MaxIdleDuration))
	}

	if cfg.CompressionEnabled {
		if !compress.Registered(cfg.Compressor) {
			return nil, errors.Config("", "compressor %q is not registered with gRPC", cfg.Compressor)
		}
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor(cfg.Compressor)))
	}

	sc, err := ServiceConfigJSON(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, grpc.WithDefaultServiceConfig(sc))
	if !cfg.RetriesEnabled {
		opts = append(opts, grpc.WithDisableRetry())
	}

	opts = append(opts, d.extra...)
	return opts, nil
}
