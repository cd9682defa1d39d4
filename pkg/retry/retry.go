// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package retry runs an operation again when it fails with a transient error.
//
// Transient means a network failure (refused, reset, timeout) or a scanner
// API reply that marks itself temporary (429, 502, 503, 504). Anything else
// fails immediately so that a bad job id or a rejected API key is reported on
// the first attempt.
//
//	cfg := retry.Config{MaxAttempts: 3, InitialWait: time.Second, Multiplier: 2}
//	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
//	    _, err := client.Status(ctx, job)
//	    return err
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Config defines retry behavior for a single operation.
type Config struct {
	// MaxAttempts is the total number of attempts. 0 and 1 both mean a single try.
	MaxAttempts int

	// InitialWait is the wait before the second attempt.
	InitialWait time.Duration

	// MaxWait caps the wait between attempts. 0 means uncapped.
	MaxWait time.Duration

	// Multiplier grows the wait after each attempt (must be >= 1.0).
	Multiplier float64

	// Jitter adds up to ±25% randomness to each wait.
	Jitter bool
}

// DefaultConfig returns the retry policy used for status polls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 1 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// None returns a config that disables retries.
func None() Config {
	return Config{MaxAttempts: 1}
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("MaxAttempts must be >= 0, got %d", c.MaxAttempts)
	}
	if c.MaxAttempts <= 1 {
		return nil
	}
	if c.InitialWait < 0 {
		return fmt.Errorf("InitialWait must be >= 0, got %v", c.InitialWait)
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("MaxWait must be >= 0, got %v", c.MaxWait)
	}
	if c.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be >= 1.0, got %f", c.Multiplier)
	}
	if c.MaxWait > 0 && c.InitialWait > c.MaxWait {
		return fmt.Errorf("InitialWait (%v) must be <= MaxWait (%v)", c.InitialWait, c.MaxWait)
	}
	return nil
}

// Backoff returns the wait before the given retry (1-based).
func (c Config) Backoff(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}

	wait := float64(c.InitialWait) * math.Pow(c.Multiplier, float64(retry-1))
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}

	if c.Jitter {
		spread := wait * 0.25
		wait += (rand.Float64() * 2 * spread) - spread
	}
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

// Func is an operation that may be retried.
type Func func(ctx context.Context) error

// temporary is implemented by API errors that know whether a retry can help.
type temporary interface {
	Temporary() bool
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Do executes fn, retrying transient failures according to cfg.
//
// A non-retryable error is returned as is. When every attempt fails the last
// error is wrapped with the attempt count. Cancellation of ctx stops the loop
// and returns ctx.Err().
func Do(ctx context.Context, cfg Config, fn Func) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}

		if attempt < attempts-1 {
			timer := time.NewTimer(cfg.Backoff(attempt + 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max attempts (%d) exceeded: %w", attempts, lastErr)
}
