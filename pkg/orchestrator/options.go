package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/vulntor/scanpilot/pkg/retry"
)

// DefaultPollInterval is the wait between status queries.
const DefaultPollInterval = 5 * time.Second

// Options tune the polling loop and the connection gate.
type Options struct {
	// PollInterval is the wait between status queries.
	PollInterval time.Duration
	// BackoffMultiplier grows the interval after every poll. 0 or 1 keeps it fixed.
	BackoffMultiplier float64
	// MaxPollInterval caps a growing interval. 0 means uncapped.
	MaxPollInterval time.Duration
	// Timeout bounds the wall-clock wait for completion. 0 waits forever.
	Timeout time.Duration
	// MaxPolls bounds the number of status queries. 0 means unbounded.
	MaxPolls int
	// PollRetry governs retries of a single failing status query.
	PollRetry retry.Config
	// MinServerVersion rejects older scanners when set.
	MinServerVersion string
}

// DefaultOptions polls every five seconds with no bound.
func DefaultOptions() Options {
	return Options{
		PollInterval: DefaultPollInterval,
		PollRetry:    retry.DefaultConfig(),
	}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if o.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidSpec, o.PollInterval)
	}
	if o.BackoffMultiplier != 0 && o.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1, got %g", ErrInvalidSpec, o.BackoffMultiplier)
	}
	if o.MaxPollInterval < 0 {
		return fmt.Errorf("%w: max poll interval must be >= 0, got %s", ErrInvalidSpec, o.MaxPollInterval)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be >= 0, got %s", ErrInvalidSpec, o.Timeout)
	}
	if o.MaxPolls < 0 {
		return fmt.Errorf("%w: max polls must be >= 0, got %d", ErrInvalidSpec, o.MaxPolls)
	}
	if err := o.PollRetry.Validate(); err != nil {
		return fmt.Errorf("%w: poll retry: %v", ErrInvalidSpec, err)
	}
	if o.MinServerVersion != "" {
		if _, err := semver.NewVersion(o.MinServerVersion); err != nil {
			return fmt.Errorf("%w: min server version %q: %v", ErrInvalidSpec, o.MinServerVersion, err)
		}
	}
	return nil
}

// nextInterval applies the backoff multiplier to the current interval.
func (o Options) nextInterval(cur time.Duration) time.Duration {
	if o.BackoffMultiplier <= 1 {
		return cur
	}
	next := time.Duration(float64(cur) * o.BackoffMultiplier)
	if o.MaxPollInterval > 0 && next > o.MaxPollInterval {
		next = o.MaxPollInterval
	}
	return next
}

// WaitFunc suspends the caller for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default WaitFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errUnparsableVersion marks a server version string semver cannot read.
var errUnparsableVersion = fmt.Errorf("unparsable server version")

// checkServerVersion enforces the minimum server version.
func checkServerVersion(reported, minimum string) error {
	constraint, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return fmt.Errorf("invalid minimum server version %q: %w", minimum, err)
	}
	v, err := semver.NewVersion(reported)
	if err != nil {
		return fmt.Errorf("%w %q", errUnparsableVersion, reported)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("server version %s is older than required %s", reported, minimum)
	}
	return nil
}
