// Package config holds the per-service configuration used to build connection pools.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/bearlytools/svcpool/errors"
)

// Compressor names understood by the gRPC transport.
const (
	CompressorGzip   = "gzip"
	CompressorSnappy = "snappy"
	CompressorZstd   = "zstd"
)

// ServiceConfig is the immutable configuration of one backend service. A Pool copies the
// ServiceConfig it is built with, so later changes to the caller's value have no effect.
type ServiceConfig struct {
	// Host is the DNS name or IP of the service. Required.
	Host string
	// Port is the TCP port of the service. Required.
	Port int
	// PoolSize is the number of connections held open to the service. Must be >= 1.
	PoolSize int
	// MaxRetries is the number of reconnect attempts made for a broken connection in one
	// health cycle. The gRPC call level retry policy is also derived from it.
	MaxRetries int
	// RetryDelay is the base of the exponential reconnect backoff and the upper bound of its jitter.
	RetryDelay time.Duration
	// MaxRetryDelay caps the exponential part of the reconnect backoff.
	MaxRetryDelay time.Duration
	// Timeout bounds each call, each connect and each health probe.
	Timeout time.Duration
	// KeepaliveInterval is how often an idle transport sends a keepalive ping.
	KeepaliveInterval time.Duration
	// KeepaliveTimeout is how long to wait for a keepalive ack before the transport is considered broken.
	KeepaliveTimeout time.Duration
	// MaxIdleDuration is how long a transport may sit without RPCs before it goes idle.
	MaxIdleDuration time.Duration
	// RetriesEnabled turns on transport level call retries.
	RetriesEnabled bool
	// CompressionEnabled turns on message compression with Compressor.
	CompressionEnabled bool
	// Compressor is the name of the message compressor. One of gzip, snappy or zstd.
	Compressor string
	// HealthCheckInterval is how often the pool's health loop runs.
	HealthCheckInterval time.Duration
}

// Default returns a ServiceConfig with every field except Host and Port set to its default.
func Default() ServiceConfig {
	return ServiceConfig{
		PoolSize:            3,
		MaxRetries:          3,
		RetryDelay:          1 * time.Second,
		MaxRetryDelay:       30 * time.Second,
		Timeout:             30 * time.Second,
		KeepaliveInterval:   10000 * time.Millisecond,
		KeepaliveTimeout:    5000 * time.Millisecond,
		MaxIdleDuration:     300000 * time.Millisecond,
		RetriesEnabled:      true,
		CompressionEnabled:  true,
		Compressor:          CompressorGzip,
		HealthCheckInterval: 30 * time.Second,
	}
}

// New returns Default() with host and port set.
func New(host string, port int) ServiceConfig {
	c := Default()
	c.Host = host
	c.Port = port
	return c
}

// Addr returns the host:port dial target.
func (c ServiceConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate returns a KindConfig error if the config cannot be used to build a pool.
// service is only used to annotate the error.
func (c ServiceConfig) Validate(service string) error {
	switch {
	case c.Host == "":
		return errors.Config(service, "host must be set")
	case c.Port < 1 || c.Port > 65535:
		return errors.Config(service, "port %d out of range 1-65535", c.Port)
	case c.PoolSize < 1:
		return errors.Config(service, "pool_size must be >= 1, was %d", c.PoolSize)
	case c.MaxRetries < 0:
		return errors.Config(service, "max_retries must be >= 0, was %d", c.MaxRetries)
	case c.RetryDelay <= 0:
		return errors.Config(service, "retry_delay must be > 0")
	case c.MaxRetryDelay < c.RetryDelay:
		return errors.Config(service, "max_retry_delay(%v) must be >= retry_delay(%v)", c.MaxRetryDelay, c.RetryDelay)
	case c.Timeout <= 0:
		return errors.Config(service, "timeout must be > 0")
	case c.KeepaliveInterval <= 0:
		return errors.Config(service, "keepalive_interval must be > 0")
	case c.KeepaliveTimeout <= 0:
		return errors.Config(service, "keepalive_timeout must be > 0")
	case c.MaxIdleDuration < 0:
		return errors.Config(service, "max_idle_duration must be >= 0")
	case c.HealthCheckInterval < 0:
		return errors.Config(service, "health_check_interval must be >= 0")
	}
	if c.CompressionEnabled {
		switch c.Compressor {
		case CompressorGzip, CompressorSnappy, CompressorZstd:
		default:
			return errors.Config(service, "unknown compressor %q", c.Compressor)
		}
	}
	return nil
}

// ValidateAll validates every config in configs. An empty map is an error.
func ValidateAll(configs map[string]ServiceConfig) error {
	if len(configs) == 0 {
		return errors.Config("", "no services configured")
	}
	var errs []error
	for name, c := range configs {
		if name == "" {
			errs = append(errs, errors.Config("", "service id must not be empty"))
			continue
		}
		if err := c.Validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
