package grpcconn

import (
	"strconv"
	"time"

	"github.com/bearlytools/svcpool/config"

	"github.com/go-json-experiment/json"
)

// gRPC caps maxAttempts at 5 and requires at least 2 for a retry policy to be valid.
const (
	minAttempts = 2
	maxAttempts = 5
)

// RetryPolicy is the call level retry policy installed on a channel.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first call.
	MaxAttempts int
	// InitialBackoff is the initial wait time before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff is the maximum wait time between retries.
	MaxBackoff time.Duration
	// Multiplier is the factor by which the backoff increases after each retry.
	Multiplier float64
	// RetryableStatusCodes are the status code names that are retried.
	RetryableStatusCodes []string
}

// PolicyFor derives the call retry policy from cfg. MaxRetries retries means
// MaxRetries+1 attempts, clamped to what gRPC accepts.
func PolicyFor(cfg config.ServiceConfig) RetryPolicy {
	attempts := min(max(cfg.MaxRetries+1, minAttempts), maxAttempts)
	return RetryPolicy{
		MaxAttempts:          attempts,
		InitialBackoff:       cfg.RetryDelay,
		MaxBackoff:           cfg.MaxRetryDelay,
		Multiplier:           2.0,
		RetryableStatusCodes: []string{"UNAVAILABLE"},
	}
}

type jsonServiceConfig struct {
	MethodConfig []jsonMethodConfig `json:"methodConfig"`
}

type jsonMethodName struct {
	Service string `json:"service,omitempty"`
	Method  string `json:"method,omitempty"`
}

type jsonMethodConfig struct {
	Name        []jsonMethodName `json:"name"`
	Timeout     string           `json:"timeout,omitempty"`
	RetryPolicy *jsonRetryPolicy `json:"retryPolicy,omitempty"`
}

type jsonRetryPolicy struct {
	MaxAttempts          int      `json:"maxAttempts"`
	InitialBackoff       string   `json:"initialBackoff"`
	MaxBackoff           string   `json:"maxBackoff"`
	BackoffMultiplier    float64  `json:"backoffMultiplier"`
	RetryableStatusCodes []string `json:"retryableStatusCodes"`
}

// protoDuration formats d the way google.protobuf.Duration is written in JSON.
func protoDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// ServiceConfigJSON returns the gRPC service config for cfg. Every method gets cfg.Timeout
// as its call timeout and, if cfg.RetriesEnabled, the retry policy from PolicyFor().
func ServiceConfigJSON(cfg config.ServiceConfig) (string, error) {
	mc := jsonMethodConfig{
		Name:    []jsonMethodName{{}},
		Timeout: protoDuration(cfg.Timeout),
	}
	if cfg.RetriesEnabled {
		p := PolicyFor(cfg)
		mc.RetryPolicy = &jsonRetryPolicy{
			MaxAttempts:          p.MaxAttempts,
			InitialBackoff:       protoDuration(p.InitialBackoff),
			MaxBackoff:           protoDuration(p.MaxBackoff),
			BackoffMultiplier:    p.Multiplier,
			RetryableStatusCodes: p.RetryableStatusCodes,
		}
	}

	b, err := json.Marshal(jsonServiceConfig{MethodConfig: []jsonMethodConfig{mc}})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
