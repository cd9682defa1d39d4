// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package scanrun runs orchestrated scans and persists them as run records.
package scanrun

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/server/jobs"
	"github.com/vulntor/scanpilot/pkg/storage"
)

// JobType is the jobs.Job type used by Enqueue.
const JobType = "scan"

// Params describes one run.
type Params struct {
	Endpoint orchestrator.Endpoint
	Target   string
	Policy   string
	Reports  []orchestrator.ReportFormat
	Options  orchestrator.Options
	// NestReports places each report under a directory named after the run id.
	NestReports bool
}

func (p Params) spec() orchestrator.RunSpec {
	return orchestrator.RunSpec{
		Endpoint: p.Endpoint,
		Target:   p.Target,
		Policy:   p.Policy,
		Reports:  p.Reports,
	}
}

// Validate checks the parameters without contacting the scanner.
func (p Params) Validate() error {
	if err := p.Options.Validate(); err != nil {
		return err
	}
	return p.spec().Validate()
}

// Outcome is what Execute produced: the final record and the orchestrator result.
type Outcome struct {
	Run    *storage.RunRecord
	Result *orchestrator.Result
}

// Service glues an orchestrator to a run store.
type Service struct {
	dialer    orchestrator.Dialer
	store     storage.RunStore
	sink      orchestrator.ProgressSink
	logger    zerolog.Logger
	newID     func() string
	now       func() time.Time
	configure func(*orchestrator.Orchestrator)
}

// NewService creates a run service. store may be nil, in which case runs
// are executed but not recorded.
func NewService(dialer orchestrator.Dialer, store storage.RunStore) *Service {
	return &Service{
		dialer: dialer,
		store:  store,
		logger: log.With().Str("component", "scanrun").Logger(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// WithProgressSink forwards every orchestrator event to sink.
func (s *Service) WithProgressSink(sink orchestrator.ProgressSink) *Service {
	s.sink = sink
	return s
}

// WithLogger replaces the service logger.
func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger
	return s
}

// WithIDGenerator replaces uuid-based run ids.
func (s *Service) WithIDGenerator(fn func() string) *Service {
	if fn != nil {
		s.newID = fn
	}
	return s
}

// WithOrchestratorHook lets callers adjust each orchestrator before it runs.
func (s *Service) WithOrchestratorHook(fn func(*orchestrator.Orchestrator)) *Service {
	s.configure = fn
	return s
}

// Store returns the run store, possibly nil.
func (s *Service) Store() storage.RunStore { return s.store }

// Prepare validates p and stores a pending record for it.
func (s *Service) Prepare(ctx context.Context, p Params) (*storage.RunRecord, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	policy := p.Policy
	if policy == "" {
		policy = orchestrator.DefaultPolicy
	}

	rec := &storage.RunRecord{
		ID:        s.newID(),
		Target:    p.Target,
		Policy:    policy,
		Endpoint:  p.Endpoint.String(),
		Status:    storage.RunPending,
		StartedAt: s.now().UTC(),
	}
	if s.store == nil {
		return rec, nil
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	return rec, nil
}

// Execute runs a prepared record to completion and stores the outcome.
//
// The returned error is the orchestrator's when the run failed; storage
// failures are returned only when the run itself succeeded.
func (s *Service) Execute(ctx context.Context, rec *storage.RunRecord, p Params) (*Outcome, error) {
	if rec == nil {
		return nil, storage.NewInvalidInputError("run", "record is required")
	}
	logger := s.logger.With().Str("run_id", rec.ID).Str("target", p.Target).Logger()
	if p.NestReports {
		p.Reports = nestReports(p.Reports, rec.ID)
	}

	rr := &recorder{
		ctx:    context.WithoutCancel(ctx),
		store:  s.store,
		id:     rec.ID,
		logger: logger,
	}
	o := orchestrator.New(s.dialer, p.Options).
		WithLogger(logger).
		WithProgressSink(orchestrator.MultiSink{rr, s.sink})
	if s.configure != nil {
		s.configure(o)
	}

	logger.Info().Msg("Run started")
	res, runErr := o.Run(ctx, p.spec())

	final, storeErr := s.finish(context.WithoutCancel(ctx), rec, res, runErr)
	if storeErr != nil {
		logger.Error().Err(storeErr).Msg("Failed to store run outcome")
	}

	ev := logger.Info()
	if runErr != nil {
		ev = logger.Warn().Err(runErr).Str("error_code", orchestrator.ErrorCode(runErr))
	}
	ev.Str("status", string(final.Status)).Int("polls", final.Polls).Msg("Run finished")

	out := &Outcome{Run: final, Result: res}
	if runErr != nil {
		return out, runErr
	}
	return out, storeErr
}

// Run prepares and executes p in one call.
func (s *Service) Run(ctx context.Context, p Params) (*Outcome, error) {
	rec, err := s.Prepare(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, rec, p)
}

// Enqueue prepares p and hands its execution to m. The pending record is
// returned immediately.
func (s *Service) Enqueue(ctx context.Context, m jobs.Manager, p Params) (*storage.RunRecord, error) {
	rec, err := s.Prepare(ctx, p)
	if err != nil {
		return nil, err
	}

	job := jobs.Job{
		ID:   rec.ID,
		Type: JobType,
		Run: func(jobCtx context.Context) error {
			_, err := s.Execute(jobCtx, rec, p)
			return err
		},
	}
	if err := m.Submit(job); err != nil {
		s.abandon(context.WithoutCancel(ctx), rec.ID, err)
		return nil, fmt.Errorf("enqueue run %s: %w", rec.ID, err)
	}
	return rec, nil
}

// abandon marks a record that never reached a worker as failed.
func (s *Service) abandon(ctx context.Context, id string, cause error) {
	if s.store == nil {
		return
	}
	_, err := s.store.Update(ctx, id, func(r *storage.RunRecord) error {
		now := s.now().UTC()
		r.Status = storage.RunFailed
		r.Error = cause.Error()
		r.ErrorCode = orchestrator.CodeRunFailure
		r.FinishedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", id).Msg("Failed to mark run as failed")
	}
}

func (s *Service) finish(ctx context.Context, rec *storage.RunRecord, res *orchestrator.Result, runErr error) (*storage.RunRecord, error) {
	apply := func(r *storage.RunRecord) error {
		now := s.now().UTC()
		r.Status = StatusOf(res, runErr)
		r.FinishedAt = &now
		if res != nil {
			r.ServerVersion = res.ServerVersion
			r.JobID = string(res.JobID)
			r.Progress = res.Progress
			r.Polls = res.Polls
			r.Reports = reportRecords(res.Reports)
		}
		r.Error, r.ErrorCode = "", ""
		if runErr != nil {
			r.Error = runErr.Error()
			r.ErrorCode = orchestrator.ErrorCode(runErr)
		}
		return nil
	}

	if s.store == nil {
		cp := *rec
		_ = apply(&cp)
		return &cp, nil
	}
	updated, err := s.store.Update(ctx, rec.ID, apply)
	if err != nil {
		cp := *rec
		_ = apply(&cp)
		return &cp, err
	}
	return updated, nil
}

// StatusOf maps a run outcome to a stored status. A scan that completed but
// failed to export some reports is still completed; the error is kept on the
// record.
func StatusOf(res *orchestrator.Result, err error) storage.RunStatus {
	switch {
	case errors.Is(err, orchestrator.ErrCancelled):
		return storage.RunCancelled
	case errors.Is(err, orchestrator.ErrTimeout):
		return storage.RunTimeout
	case errors.Is(err, orchestrator.ErrExport):
		return storage.RunCompleted
	case err != nil:
		return storage.RunFailed
	}
	if res == nil {
		return storage.RunFailed
	}
	switch res.State {
	case orchestrator.StateCompleted:
		return storage.RunCompleted
	case orchestrator.StateTimedOut:
		return storage.RunTimeout
	case orchestrator.StateCancelled:
		return storage.RunCancelled
	case orchestrator.StateFailed:
		return storage.RunFailed
	default:
		return storage.RunRunning
	}
}

func nestReports(formats []orchestrator.ReportFormat, id string) []orchestrator.ReportFormat {
	out := make([]orchestrator.ReportFormat, len(formats))
	for i, f := range formats {
		f.Destination = filepath.Join(filepath.Dir(f.Destination), id, filepath.Base(f.Destination))
		out[i] = f
	}
	return out
}

func reportRecords(outcomes []orchestrator.ReportOutcome) []storage.ReportRecord {
	if len(outcomes) == 0 {
		return nil
	}
	out := make([]storage.ReportRecord, 0, len(outcomes))
	for _, o := range outcomes {
		rr := storage.ReportRecord{
			Format:      o.Format,
			Destination: o.Destination,
			DurationMS:  o.Duration.Milliseconds(),
			Error:       o.Error,
		}
		if rr.Error == "" && o.Err != nil {
			rr.Error = o.Err.Error()
		}
		out = append(out, rr)
	}
	return out
}
