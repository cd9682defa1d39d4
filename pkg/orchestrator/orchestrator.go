// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package orchestrator drives one scan run against a remote scanning service:
// probe the service, submit a single scan, poll its progress until it reaches
// 100, then export the requested reports.
//
// An Orchestrator value represents exactly one run. It refuses a second
// submission and refuses to export before completion has been observed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/scanpilot/pkg/retry"
)

// CompleteProgress is the progress value at which a job counts as finished.
const CompleteProgress = 100

// Orchestrator runs one scan end to end.
type Orchestrator struct {
	dialer Dialer
	opts   Options
	sink   ProgressSink
	wait   WaitFunc
	now    func() time.Time
	logger zerolog.Logger

	mu            sync.Mutex
	state         State
	serverVersion string
	target        string
	job           JobID
	submitted     bool
	polls         int
	progress      int
}

// New builds an Orchestrator. Zero-valued options fall back to DefaultOptions.
func New(dialer Dialer, opts Options) *Orchestrator {
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollRetry.MaxAttempts == 0 {
		opts.PollRetry = retry.None()
	}
	return &Orchestrator{
		dialer: dialer,
		opts:   opts,
		wait:   SleepContext,
		now:    time.Now,
		logger: log.With().Str("component", "orchestrator").Logger(),
		state:  StateIdle,
	}
}

// WithProgressSink attaches a sink to receive run events.
func (o *Orchestrator) WithProgressSink(sink ProgressSink) *Orchestrator {
	o.sink = sink
	return o
}

// WithLogger replaces the component logger.
func (o *Orchestrator) WithLogger(logger zerolog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// WithWaitFunc replaces the suspension between polls (useful for tests).
func (o *Orchestrator) WithWaitFunc(wait WaitFunc) *Orchestrator {
	if wait != nil {
		o.wait = wait
	}
	return o
}

// WithClock replaces the time source used for timestamps and elapsed time.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ServerVersion returns the version reported by the last successful Connect.
func (o *Orchestrator) ServerVersion() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.serverVersion
}

// Polls returns the number of status queries made so far.
func (o *Orchestrator) Polls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polls
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Connect dials the scanning service and probes it with a version query.
// Any probe failure is a ConnectionError; no scan is submitted afterwards.
func (o *Orchestrator) Connect(ctx context.Context, ep Endpoint) (Client, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	o.emit(ProgressEvent{Phase: PhaseConnect, Status: StatusStart, Message: ep.String()})

	fail := func(err error) (Client, error) {
		if ctx.Err() != nil {
			return nil, o.cancelled(ctx, PhaseConnect, "")
		}
		o.setState(StateFailed)
		o.emit(ProgressEvent{Phase: PhaseConnect, Status: StatusFailed, Message: err.Error()})
		o.logger.Error().Err(err).Str("endpoint", ep.String()).Msg("Scanner unreachable")
		return nil, &ConnectionError{Endpoint: ep, Err: err}
	}

	client, err := o.dialer.Dial(ctx, ep)
	if err != nil {
		return fail(err)
	}

	version, err := client.Version(ctx)
	if err != nil {
		closeClient(client)
		return fail(err)
	}

	if o.opts.MinServerVersion != "" {
		if err := checkServerVersion(version, o.opts.MinServerVersion); err != nil {
			if !errors.Is(err, errUnparsableVersion) {
				closeClient(client)
				return fail(err)
			}
			o.logger.Warn().Str("version", version).Msg("Cannot compare scanner version, skipping version check")
		}
	}

	o.mu.Lock()
	o.serverVersion = version
	if o.state == StateIdle || o.state == StateFailed {
		o.state = StateConnected
	}
	o.mu.Unlock()

	o.emit(ProgressEvent{Phase: PhaseConnect, Status: StatusCompleted, Message: version})
	o.logger.Info().Str("endpoint", ep.String()).Str("version", version).Msg("Connected to scanner")
	return client, nil
}

// SubmitScan starts the run's single active scan of target.
func (o *Orchestrator) SubmitScan(ctx context.Context, client Client, target, policy string) (JobID, error) {
	if err := ValidateTarget(target); err != nil {
		return "", err
	}
	if policy == "" {
		policy = DefaultPolicy
	}

	o.mu.Lock()
	if o.submitted {
		o.mu.Unlock()
		return "", ErrAlreadySubmitted
	}
	// Reserve the slot before the network call so concurrent callers cannot both submit.
	o.submitted = true
	o.state = StateSubmitted
	o.target = target
	o.mu.Unlock()

	o.emit(ProgressEvent{Phase: PhaseSubmit, Status: StatusStart, Target: target, Message: policy})

	job, err := client.Scan(ctx, ScanRequest{Target: target, Policy: policy})
	if err != nil {
		if ctx.Err() != nil {
			return "", o.cancelled(ctx, PhaseSubmit, target)
		}
		o.setState(StateFailed)
		o.emit(ProgressEvent{Phase: PhaseSubmit, Status: StatusFailed, Target: target, Message: err.Error()})
		o.logger.Error().Err(err).Str("target", target).Str("policy", policy).Msg("Scan submission rejected")
		return "", &SubmissionError{Target: target, Policy: policy, Err: err}
	}

	o.mu.Lock()
	o.job = job
	o.mu.Unlock()

	o.emit(ProgressEvent{Phase: PhaseSubmit, Status: StatusCompleted, Target: target, JobID: job})
	o.logger.Info().Str("target", target).Str("policy", policy).Str("job_id", string(job)).Msg("Scan submitted")
	return job, nil
}

// AwaitCompletion polls job until its progress reaches 100.
//
// The loop queries status, returns on completion, and otherwise reports the
// progress and suspends for the poll interval. It never sleeps after the
// completing poll or after the last poll allowed by MaxPolls. A failing query
// is retried per Options.PollRetry before the run fails with a PollError.
func (o *Orchestrator) AwaitCompletion(ctx context.Context, client Client, job JobID) (*Completion, error) {
	o.mu.Lock()
	if o.job == "" || o.job != job {
		o.mu.Unlock()
		return nil, ErrNotSubmitted
	}
	if o.state != StateSubmitted {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("job %s cannot be awaited in state %s", job, state)
	}
	o.state = StateRunning
	target := o.target
	o.mu.Unlock()

	waitCtx := ctx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	var (
		start    = o.now()
		interval = o.opts.PollInterval
		waited   time.Duration
		polls    int
		last     int
	)

	stopped := func() error {
		if ctx.Err() != nil {
			o.setState(StateCancelled)
			o.emit(ProgressEvent{Phase: PhasePoll, Status: StatusCancelled, Target: target, JobID: job, Progress: last, Poll: polls})
			o.logger.Warn().Str("job_id", string(job)).Int("polls", polls).Msg("Wait for scan cancelled")
			return &CancelledError{JobID: job, Polls: polls, Err: ctx.Err()}
		}
		o.setState(StateTimedOut)
		o.emit(ProgressEvent{Phase: PhasePoll, Status: StatusTimeout, Target: target, JobID: job, Progress: last, Poll: polls})
		o.logger.Warn().Str("job_id", string(job)).Int("polls", polls).Int("progress", last).Msg("Scan did not complete before timeout")
		return &TimeoutError{JobID: job, Polls: polls, LastProgress: last, Elapsed: o.now().Sub(start), Timeout: o.opts.Timeout}
	}

	for {
		if waitCtx.Err() != nil {
			return nil, stopped()
		}

		progress, attempts, err := o.poll(waitCtx, client, job)
		polls++
		o.mu.Lock()
		o.polls = polls
		o.mu.Unlock()

		if err != nil {
			if waitCtx.Err() != nil {
				return nil, stopped()
			}
			o.setState(StateFailed)
			o.emit(ProgressEvent{Phase: PhasePoll, Status: StatusFailed, Target: target, JobID: job, Progress: last, Poll: polls, Message: err.Error()})
			return nil, &PollError{JobID: job, Poll: polls, Attempts: attempts, Err: err}
		}

		last = progress
		o.mu.Lock()
		o.progress = progress
		o.mu.Unlock()

		if progress >= CompleteProgress {
			o.setState(StateCompleted)
			o.emit(ProgressEvent{Phase: PhasePoll, Status: StatusCompleted, Target: target, JobID: job, Progress: progress, Poll: polls})
			o.logger.Info().Str("job_id", string(job)).Int("polls", polls).Dur("elapsed", o.now().Sub(start)).Msg("Scan completed")
			return &Completion{JobID: job, Progress: progress, Polls: polls, Waited: waited}, nil
		}

		o.emit(ProgressEvent{Phase: PhasePoll, Status: StatusRunning, Target: target, JobID: job, Progress: progress, Poll: polls})
		o.logger.Debug().Str("job_id", string(job)).Int("progress", progress).Int("poll", polls).Msg("Scan progress")

		if o.opts.MaxPolls > 0 && polls >= o.opts.MaxPolls {
			o.setState(StateTimedOut)
			o.emit(ProgressEvent{Phase: PhasePoll, Status: StatusTimeout, Target: target, JobID: job, Progress: last, Poll: polls})
			o.logger.Warn().Str("job_id", string(job)).Int("polls", polls).Int("progress", last).Msg("Scan did not complete within poll limit")
			return nil, &TimeoutError{JobID: job, Polls: polls, LastProgress: last, Elapsed: o.now().Sub(start), MaxPolls: o.opts.MaxPolls}
		}

		if err := o.wait(waitCtx, interval); err != nil {
			if waitCtx.Err() != nil {
				return nil, stopped()
			}
			o.setState(StateFailed)
			return nil, &PollError{JobID: job, Poll: polls, Attempts: attempts, Err: err}
		}
		waited += interval
		interval = o.opts.nextInterval(interval)
	}
}

// poll runs one status query with retries and returns the attempts used.
func (o *Orchestrator) poll(ctx context.Context, client Client, job JobID) (int, int, error) {
	var progress, attempts int
	err := retry.Do(ctx, o.opts.PollRetry, func(ctx context.Context) error {
		attempts++
		p, err := client.Status(ctx, job)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", string(job)).Int("attempt", attempts).Msg("Status query failed")
			return err
		}
		progress = p
		return nil
	})
	return progress, attempts, err
}

// ExportReports generates each report format in order.
//
// A failing format is logged and recorded; the remaining formats are still
// attempted. Failures are returned together as an ExportError alongside the
// outcome of every attempted format.
func (o *Orchestrator) ExportReports(ctx context.Context, client Client, target string, formats []ReportFormat) ([]ReportOutcome, error) {
	if o.State() != StateCompleted {
		return nil, ErrNotCompleted
	}
	if err := ValidateReportFormats(formats); err != nil {
		return nil, err
	}

	outcomes := make([]ReportOutcome, 0, len(formats))
	var failures []ReportOutcome
	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			return outcomes, &CancelledError{JobID: o.jobID(), Polls: o.Polls(), Err: err}
		}

		o.emit(ProgressEvent{Phase: PhaseExport, Status: StatusStart, Target: target, Format: f.Name, Message: f.Destination})
		start := o.now()
		err := client.GenerateReport(ctx, ReportRequest{
			Target:      target,
			Format:      f.Name,
			Template:    f.Template,
			Destination: f.Destination,
		})
		outcome := ReportOutcome{Format: f.Name, Destination: f.Destination, Duration: o.now().Sub(start)}

		if err != nil {
			outcome.Err = err
			outcome.Error = err.Error()
			failures = append(failures, outcome)
			o.emit(ProgressEvent{Phase: PhaseExport, Status: StatusFailed, Target: target, Format: f.Name, Message: err.Error()})
			o.logger.Error().Err(err).Str("format", f.Name).Str("destination", f.Destination).Msg("Report export failed")
		} else {
			o.emit(ProgressEvent{Phase: PhaseExport, Status: StatusCompleted, Target: target, Format: f.Name, Message: f.Destination})
			o.logger.Info().Str("format", f.Name).Str("destination", f.Destination).Msg("Report generated")
		}
		outcomes = append(outcomes, outcome)
	}

	if len(failures) > 0 {
		return outcomes, &ExportError{Target: target, Failures: failures}
	}
	return outcomes, nil
}

// Run connects, submits, awaits completion and exports reports.
//
// The returned Result is non-nil whenever the RunSpec passed validation, so
// callers can record what happened even when err is set.
func (o *Orchestrator) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	if err := o.opts.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Policy == "" {
		spec.Policy = DefaultPolicy
	}

	res := &Result{
		Endpoint:  spec.Endpoint,
		Target:    spec.Target,
		Policy:    spec.Policy,
		StartedAt: o.now(),
	}
	finish := func(err error) (*Result, error) {
		o.mu.Lock()
		res.State = o.state
		res.Polls = o.polls
		res.Progress = o.progress
		res.JobID = o.job
		res.ServerVersion = o.serverVersion
		o.mu.Unlock()
		res.FinishedAt = o.now()
		return res, err
	}

	if err := ctx.Err(); err != nil {
		o.setState(StateCancelled)
		return finish(&CancelledError{Err: err})
	}

	client, err := o.Connect(ctx, spec.Endpoint)
	if err != nil {
		return finish(err)
	}
	defer closeClient(client)

	job, err := o.SubmitScan(ctx, client, spec.Target, spec.Policy)
	if err != nil {
		return finish(err)
	}

	if _, err := o.AwaitCompletion(ctx, client, job); err != nil {
		return finish(err)
	}

	outcomes, err := o.ExportReports(ctx, client, spec.Target, spec.Reports)
	res.Reports = outcomes
	return finish(err)
}

// cancelled records a caller cancellation that interrupted phase.
func (o *Orchestrator) cancelled(ctx context.Context, phase Phase, target string) error {
	o.setState(StateCancelled)
	o.emit(ProgressEvent{Phase: phase, Status: StatusCancelled, Target: target})
	o.logger.Warn().Str("phase", string(phase)).Msg("Run cancelled")
	return &CancelledError{Err: ctx.Err()}
}

func (o *Orchestrator) jobID() JobID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now()
	}
	o.sink.OnEvent(ev)
}

func closeClient(c Client) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}
