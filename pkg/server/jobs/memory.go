// pkg/server/jobs/memory.go
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is used when NewMemoryManager gets a non-positive size.
const DefaultQueueSize = 32

// MemoryManager is an in-memory implementation of Manager.
// It processes jobs using a worker pool with configurable concurrency.
type MemoryManager struct {
	concurrency int
	jobQueue    chan Job
	wg          sync.WaitGroup
	cancelFunc  context.CancelFunc
	mu          sync.RWMutex
	started     bool

	active    atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
}

var _ Manager = (*MemoryManager)(nil)

// NewMemoryManager creates a new in-memory job manager.
// concurrency controls the number of worker goroutines (default 2);
// queueSize bounds pending jobs (default DefaultQueueSize).
func NewMemoryManager(concurrency, queueSize int) *MemoryManager {
	if concurrency <= 0 {
		concurrency = 2
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &MemoryManager{
		concurrency: concurrency,
		jobQueue:    make(chan Job, queueSize),
	}
}

// Start begins processing jobs in the background.
func (m *MemoryManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("job manager already started")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	m.cancelFunc = cancel

	for i := 0; i < m.concurrency; i++ {
		m.wg.Add(1)
		go m.worker(workerCtx, i)
	}

	m.started = true
	log.Info().
		Str("component", "jobs").
		Int("workers", m.concurrency).
		Int("queue_size", cap(m.jobQueue)).
		Msg("Job manager started")

	return nil
}

// Stop cancels in-flight jobs and waits for the workers to return.
// Jobs still queued are dropped. It respects the ctx deadline.
func (m *MemoryManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}

	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.started = false
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().
			Str("component", "jobs").
			Int64("processed", m.processed.Load()).
			Msg("Job manager stopped gracefully")
		return nil
	case <-ctx.Done():
		log.Warn().
			Str("component", "jobs").
			Msg("Job manager shutdown timed out")
		return ctx.Err()
	}
}

// Submit queues job. It never blocks.
func (m *MemoryManager) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.ID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.started {
		return ErrNotStarted
	}

	select {
	case m.jobQueue <- job:
		log.Debug().
			Str("component", "jobs").
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Msg("Job queued")
		return nil
	default:
		return ErrQueueFull
	}
}

// Status returns current queue statistics.
func (m *MemoryManager) Status() Status {
	return Status{
		Workers:    m.concurrency,
		QueueDepth: len(m.jobQueue),
		ActiveJobs: int(m.active.Load()),
		Processed:  m.processed.Load(),
		Failed:     m.failed.Load(),
	}
}

// worker processes jobs from the queue until the context is canceled.
func (m *MemoryManager) worker(ctx context.Context, id int) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("component", "jobs").
				Int("worker_id", id).
				Msg("Worker stopping")
			return
		case job := <-m.jobQueue:
			m.run(ctx, id, job)
		}
	}
}

func (m *MemoryManager) run(ctx context.Context, workerID int, job Job) {
	m.active.Add(1)
	defer m.active.Add(-1)

	logger := log.With().
		Str("component", "jobs").
		Int("worker_id", workerID).
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Logger()

	defer func() {
		if rec := recover(); rec != nil {
			m.failed.Add(1)
			m.processed.Add(1)
			logger.Error().Interface("panic", rec).Msg("Job panicked")
		}
	}()

	logger.Debug().Msg("Processing job")
	if err := job.Run(ctx); err != nil {
		m.failed.Add(1)
		logger.Warn().Err(err).Msg("Job failed")
	} else {
		logger.Debug().Msg("Job finished")
	}
	m.processed.Add(1)
}
