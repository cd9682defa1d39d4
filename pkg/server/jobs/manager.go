package jobs

import (
	"context"
	"errors"
)

var (
	// ErrNotStarted is returned by Submit before Start or after Stop.
	ErrNotStarted = errors.New("job manager not started")
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("job queue is full")
)

// Manager defines the interface for background job processing.
type Manager interface {
	// Start launches the workers and returns immediately.
	Start(ctx context.Context) error

	// Stop cancels running jobs and waits for workers to exit or ctx to expire.
	Stop(ctx context.Context) error

	// Submit queues a job without blocking.
	Submit(job Job) error

	// Status returns current queue statistics.
	Status() Status
}

// Job represents a unit of work to be processed.
type Job struct {
	ID   string
	Type string
	Run  func(ctx context.Context) error
}

// Status holds job manager statistics.
type Status struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	ActiveJobs int   `json:"active_jobs"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}
