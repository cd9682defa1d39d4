// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultPolicy is the scan policy submitted when none is given.
const DefaultPolicy = "Default Policy"

// JobID identifies a scan job on the remote scanning service.
type JobID string

// Endpoint is the network location of the scanning service API.
type Endpoint struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: scanner host is required", ErrInvalidSpec)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: scanner port %d out of range", ErrInvalidSpec, e.Port)
	}
	return nil
}

// ScanRequest carries the parameters of an active scan submission.
// Nil or empty fields are left to the scanner's defaults.
type ScanRequest struct {
	Target      string
	ContextID   string
	Recurse     *bool
	InScopeOnly *bool
	Method      string
	PostData    string
	Policy      string
}

// ReportRequest asks the scanner to write one report to Destination.
type ReportRequest struct {
	Target      string
	Format      string
	Template    string
	Destination string
}

// Client is a connected session with the scanning service.
type Client interface {
	// Version returns the server version string. It doubles as the
	// reachability probe.
	Version(ctx context.Context) (string, error)
	// Scan starts an active scan and returns its job id.
	Scan(ctx context.Context, req ScanRequest) (JobID, error)
	// Status returns the job progress as a percentage.
	Status(ctx context.Context, job JobID) (int, error)
	// GenerateReport writes one report on the scanner host.
	GenerateReport(ctx context.Context, req ReportRequest) error
}

// Dialer opens a Client for an endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, ep Endpoint) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Client, error) {
	return f(ctx, ep)
}

// ReportFormat names a report to export and where to put it.
type ReportFormat struct {
	Name        string `json:"name" yaml:"name"`
	Template    string `json:"template,omitempty" yaml:"template,omitempty"`
	Destination string `json:"destination" yaml:"destination"`
}

// DefaultReportFormats returns the HTML and Markdown reports written to dir.
func DefaultReportFormats(dir string) []ReportFormat {
	return []ReportFormat{
		{Name: "traditional-html", Destination: filepath.Join(dir, "zap-report.html")},
		{Name: "markdown", Destination: filepath.Join(dir, "zap-report.md")},
	}
}

// RunSpec describes one end-to-end run.
type RunSpec struct {
	Endpoint Endpoint
	Target   string
	Policy   string
	Reports  []ReportFormat
}

// Validate checks the run before anything touches the network.
func (s RunSpec) Validate() error {
	if err := s.Endpoint.Validate(); err != nil {
		return err
	}
	if err := ValidateTarget(s.Target); err != nil {
		return err
	}
	return ValidateReportFormats(s.Reports)
}

// ValidateTarget checks that target is an absolute http(s) URL.
func ValidateTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidSpec)
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return fmt.Errorf("%w: invalid target %q: %v", ErrInvalidSpec, target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: target %q must use http or https", ErrInvalidSpec, target)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: target %q has no host", ErrInvalidSpec, target)
	}
	return nil
}

// ValidateReportFormats rejects unnamed formats, empty destinations and two
// formats writing to the same file.
func ValidateReportFormats(formats []ReportFormat) error {
	seen := make(map[string]string, len(formats))
	for i, f := range formats {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: report format #%d has no name", ErrInvalidSpec, i+1)
		}
		if strings.TrimSpace(f.Destination) == "" {
			return fmt.Errorf("%w: report format %q has no destination", ErrInvalidSpec, f.Name)
		}
		dest := filepath.Clean(f.Destination)
		if prev, ok := seen[dest]; ok {
			return fmt.Errorf("%w: %w: %s used by %q and %q", ErrInvalidSpec, ErrDuplicateDestination, dest, prev, f.Name)
		}
		seen[dest] = f.Name
	}
	return nil
}

// State is the lifecycle state of a run.
type State string

const (
	StateIdle      State = "idle"
	StateConnected State = "connected"
	StateSubmitted State = "submitted"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateTimedOut  State = "timeout"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Completion is returned once a job reports progress of 100 or more.
type Completion struct {
	JobID    JobID
	Progress int
	Polls    int
	// Waited is the total time spent suspended between polls.
	Waited time.Duration
}

// ReportOutcome is the result of exporting one report format.
type ReportOutcome struct {
	Format      string        `json:"format" yaml:"format"`
	Destination string        `json:"destination" yaml:"destination"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Err         error         `json:"-" yaml:"-"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the export succeeded.
func (o ReportOutcome) OK() bool { return o.Err == nil }

// Result summarizes a run, including runs that ended in failure.
type Result struct {
	Endpoint      Endpoint        `json:"endpoint" yaml:"endpoint"`
	ServerVersion string          `json:"server_version,omitempty" yaml:"server_version,omitempty"`
	Target        string          `json:"target" yaml:"target"`
	Policy        string          `json:"policy" yaml:"policy"`
	JobID         JobID           `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	State         State           `json:"state" yaml:"state"`
	Polls         int             `json:"polls" yaml:"polls"`
	Progress      int             `json:"progress" yaml:"progress"`
	Reports       []ReportOutcome `json:"reports,omitempty" yaml:"reports,omitempty"`
	StartedAt     time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time       `json:"finished_at" yaml:"finished_at"`
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
