package config

import (
	"bytes"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/bearlytools/svcpool/errors"

	osfs "github.com/gopherfs/fs/io/os"
	"github.com/pelletier/go-toml/v2"
)

// File is the layout of a TOML pool configuration file:
//
//	[defaults]
//	pool_size = 3
//
//	[services.stt]
//	host = "stt.internal"
//	port = 50051
//	retry_delay = 1.0          # seconds
//	timeout = 30.0             # seconds
//	keepalive_interval = 10000 # milliseconds
//
// Any field left out of a service falls back to [defaults] and then to Default().
type File struct {
	Defaults fileService            `toml:"defaults"`
	Services map[string]fileService `toml:"services"`
}

// fileService uses pointers so that a missing key can be told apart from a zero value.
// Durations in seconds are floats, durations in milliseconds are integers, which is how
// operators have always written them.
type fileService struct {
	Host                *string  `toml:"host"`
	Port                *int     `toml:"port"`
	PoolSize            *int     `toml:"pool_size"`
	MaxRetries          *int     `toml:"max_retries"`
	RetryDelay          *float64 `toml:"retry_delay"`
	MaxRetryDelay       *float64 `toml:"max_retry_delay"`
	Timeout             *float64 `toml:"timeout"`
	KeepaliveInterval   *int64   `toml:"keepalive_interval"`
	KeepaliveTimeout    *int64   `toml:"keepalive_timeout"`
	MaxIdleDuration     *int64   `toml:"max_idle_duration"`
	RetriesEnabled      *bool    `toml:"retries_enabled"`
	CompressionEnabled  *bool    `toml:"compression_enabled"`
	Compressor          *string  `toml:"compressor"`
	HealthCheckInterval *float64 `toml:"health_check_interval"`
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func (f fileService) apply(c *ServiceConfig) {
	if f.Host != nil {
		c.Host = *f.Host
	}
	if f.Port != nil {
		c.Port = *f.Port
	}
	if f.PoolSize != nil {
		c.PoolSize = *f.PoolSize
	}
	if f.MaxRetries != nil {
		c.MaxRetries = *f.MaxRetries
	}
	if f.RetryDelay != nil {
		c.RetryDelay = seconds(*f.RetryDelay)
	}
	if f.MaxRetryDelay != nil {
		c.MaxRetryDelay = seconds(*f.MaxRetryDelay)
	}
	if f.Timeout != nil {
		c.Timeout = seconds(*f.Timeout)
	}
	if f.KeepaliveInterval != nil {
		c.KeepaliveInterval = time.Duration(*f.KeepaliveInterval) * time.Millisecond
	}
	if f.KeepaliveTimeout != nil {
		c.KeepaliveTimeout = time.Duration(*f.KeepaliveTimeout) * time.Millisecond
	}
	if f.MaxIdleDuration != nil {
		c.MaxIdleDuration = time.Duration(*f.MaxIdleDuration) * time.Millisecond
	}
	if f.RetriesEnabled != nil {
		c.RetriesEnabled = *f.RetriesEnabled
	}
	if f.CompressionEnabled != nil {
		c.CompressionEnabled = *f.CompressionEnabled
	}
	if f.Compressor != nil {
		c.Compressor = *f.Compressor
	}
	if f.HealthCheckInterval != nil {
		c.HealthCheckInterval = seconds(*f.HealthCheckInterval)
	}
}

// Parse decodes a TOML pool file and returns the validated config of every service.
// Unknown keys are an error.
func Parse(data []byte) (map[string]ServiceConfig, error) {
	var f File
	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(&f); err != nil {
		var se *toml.StrictMissingError
		if errors.As(err, &se) {
			return nil, errors.E(errors.KindConfig, "", errors.NoConn, nil, "unknown keys:\n%s", se.String())
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return nil, errors.E(errors.KindConfig, "", errors.NoConn, err, "line %d column %d", row, col)
		}
		return nil, errors.E(errors.KindConfig, "", errors.NoConn, err, "bad pool file")
	}

	m := make(map[string]ServiceConfig, len(f.Services))
	for name, s := range f.Services {
		c := Default()
		f.Defaults.apply(&c)
		s.apply(&c)
		m[name] = c
	}
	if err := ValidateAll(m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFS reads the pool file at path from fsys and parses it.
func LoadFS(fsys fs.ReadFileFS, path string) (map[string]ServiceConfig, error) {
	b, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.E(errors.KindConfig, "", errors.NoConn, err, "reading %s", path)
	}
	return Parse(b)
}

// Load reads the pool file at path from the OS filesystem and parses it.
func Load(path string) (map[string]ServiceConfig, error) {
	fsys, err := osfs.New()
	if err != nil {
		return nil, errors.Wrap(err, "can't access OS")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.E(errors.KindConfig, "", errors.NoConn, err, "bad path %s", path)
	}
	return LoadFS(fsys, abs)
}
