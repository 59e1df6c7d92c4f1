// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

// Package retry implements exponential-backoff retry for outbound
// calls to the content-management API.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Validation ranges for retry configuration parameters.
const (
	MinMaxRetries = 0
	MaxMaxRetries = 10

	MinInitialBackoff = time.Millisecond
	MaxInitialBackoff = 30 * time.Second

	MinBackoffFactor = 1.0
	MaxBackoffFactor = 10.0

	MaxMaxBackoff = 5 * time.Minute
)

// Config defines retry behavior for one client.
type Config struct {
	// MaxRetries is the number of retry attempts after the initial try.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// BackoffFactor multiplies the delay for each subsequent retry.
	// With factor 2.0: 100ms -> 200ms -> 400ms -> 800ms.
	BackoffFactor float64
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
}

// DefaultConfig is a conservative policy suitable for a remote REST
// API: three retries starting at 500ms, doubling, capped at 10s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		BackoffFactor:  2.0,
		MaxBackoff:     10 * time.Second,
	}
}

// Validate clamps configuration parameters to sensible ranges.
func (c Config) Validate() Config {
	validated := c

	if validated.MaxRetries < MinMaxRetries {
		validated.MaxRetries = MinMaxRetries
	} else if validated.MaxRetries > MaxMaxRetries {
		validated.MaxRetries = MaxMaxRetries
	}

	if validated.InitialBackoff < MinInitialBackoff {
		validated.InitialBackoff = MinInitialBackoff
	} else if validated.InitialBackoff > MaxInitialBackoff {
		validated.InitialBackoff = MaxInitialBackoff
	}

	if validated.BackoffFactor < MinBackoffFactor {
		validated.BackoffFactor = MinBackoffFactor
	} else if validated.BackoffFactor > MaxBackoffFactor {
		validated.BackoffFactor = MaxBackoffFactor
	}

	if validated.MaxBackoff < validated.InitialBackoff {
		validated.MaxBackoff = validated.InitialBackoff
	} else if validated.MaxBackoff > MaxMaxBackoff {
		validated.MaxBackoff = MaxMaxBackoff
	}

	return validated
}

// statusCoder is implemented by API errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// IsRetryableError reports whether an error is worth retrying.
// Transient network failures and server-side HTTP statuses qualify;
// client errors (4xx other than 408/429) and validation failures fail
// immediately.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is never retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code >= http.StatusInternalServerError:
			return true
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
			return true
		}
	}

	return false
}

// Execute runs operation with exponential backoff per config. A nil
// config or zero MaxRetries runs the operation exactly once.
func Execute(
	ctx context.Context,
	operation func() error,
	config *Config,
) error {
	if config == nil || config.MaxRetries == 0 {
		return operation()
	}

	var lastErr error
	maxAttempts := config.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if !IsRetryableError(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		var multiplier float64 = 1
		for i := 1; i < attempt; i++ {
			multiplier *= config.BackoffFactor
		}
		backoff := time.Duration(float64(config.InitialBackoff) * multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return lastErr
}
