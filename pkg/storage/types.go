package storage

import (
	"context"
	"time"
)

// RunStatus is the lifecycle status of a stored run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimeout   RunStatus = "timeout"
	RunCancelled RunStatus = "cancelled"
)

// IsValid reports whether s is a known status.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed, RunTimeout, RunCancelled:
		return true
	}
	return false
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunTimeout, RunCancelled:
		return true
	}
	return false
}

// ReportRecord is the stored outcome of one report export.
type ReportRecord struct {
	Format      string `json:"format" yaml:"format"`
	Destination string `json:"destination" yaml:"destination"`
	DurationMS  int64  `json:"duration_ms" yaml:"duration_ms"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunRecord is the persisted state of one orchestrated run.
type RunRecord struct {
	ID            string         `json:"id" yaml:"id"`
	Target        string         `json:"target" yaml:"target"`
	Policy        string         `json:"policy" yaml:"policy"`
	Endpoint      string         `json:"endpoint" yaml:"endpoint"`
	ServerVersion string         `json:"server_version,omitempty" yaml:"server_version,omitempty"`
	JobID         string         `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Status        RunStatus      `json:"status" yaml:"status"`
	Progress      int            `json:"progress" yaml:"progress"`
	Polls         int            `json:"polls" yaml:"polls"`
	Reports       []ReportRecord `json:"reports,omitempty" yaml:"reports,omitempty"`
	Error         string         `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	StartedAt     time.Time      `json:"started_at" yaml:"started_at"`
	UpdatedAt     time.Time      `json:"updated_at" yaml:"updated_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Duration returns the run duration, or the time since start for live runs.
func (r *RunRecord) Duration(now time.Time) time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// RunFilter narrows a List call.
type RunFilter struct {
	Status RunStatus
	Target string
	Limit  int
	Cursor string
}

// ListResult is one page of runs, newest first.
type ListResult struct {
	Runs       []RunRecord
	NextCursor string
	Total      int
}

// DefaultListLimit and MaxListLimit bound page sizes.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// UpdateFunc mutates a record in place during Update.
type UpdateFunc func(r *RunRecord) error

// RunStore persists run records.
type RunStore interface {
	// Create stores a new record. It fails with AlreadyExistsError for a known id.
	Create(ctx context.Context, r *RunRecord) error
	// Update applies fn to the stored record atomically and returns the result.
	Update(ctx context.Context, id string, fn UpdateFunc) (*RunRecord, error)
	// Get returns one record.
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List returns a page of records matching the filter.
	List(ctx context.Context, filter RunFilter) (*ListResult, error)
}

// Backend is an opened storage location.
type Backend interface {
	Initialize(ctx context.Context) error
	Runs() RunStore
	Close() error
}
