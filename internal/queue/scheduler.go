// Package queue drains queued jobs from the store and runs them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidvault/internal/metrics"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

const statusTTL = 30 * time.Minute

// Runner executes the work of each job type.
type Runner interface {
	Download(ctx context.Context, url, owner string) error
	ExtendMetadata(ctx context.Context, videoID, owner string) error
	CreateHashes(ctx context.Context, videoID, owner string) error
	NostrUpload(ctx context.Context, videoID string) error
	Mirror(ctx context.Context, nevent string) error
}

// StatusCache mirrors job status changes for fast lookups.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
}

// Scheduler polls the store for queued jobs. At most one drain runs at a
// time; ticks arriving while one is running are skipped.
type Scheduler struct {
	store     store.Store
	runner    Runner
	cache     StatusCache
	interval  time.Duration
	batchSize int

	busy atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithBatchSize sets how many jobs one drain takes at most.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batchSize = n }
}

// NewScheduler creates a Scheduler. cache may be nil.
func NewScheduler(st store.Store, runner Runner, cache StatusCache, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		runner:    runner,
		cache:     cache,
		interval:  500 * time.Millisecond,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled. A drain still running at that point is
// not waited for.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts a drain in the background unless one is already running. It
// reports whether a drain was started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.busy.Store(false)
		s.Drain(ctx)
	}()
	return true
}

// Drain runs up to the batch size of queued jobs, oldest first, one after
// the other. It returns the number of jobs it ran.
func (s *Scheduler) Drain(ctx context.Context) int {
	jobs, err := s.store.ListJobs(ctx, store.JobFilter{Status: models.JobStatusQueued, Limit: s.batchSize})
	if err != nil {
		slog.Error("listing queued jobs failed", "error", err)
		return 0
	}

	ran := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if s.process(ctx, job) {
			ran++
		}
	}
	return ran
}

// process claims and runs one job. It returns false when the job was claimed
// elsewhere first.
func (s *Scheduler) process(ctx context.Context, job *models.Job) (ran bool) {
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			slog.Error("claiming job failed", "job_id", job.ID, "error", err)
		}
		return false
	}
	s.setCachedStatus(ctx, job.ID, models.JobStatusProcessing)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job", "error", r, "job_id", job.ID, "type", job.Type)
			s.finish(ctx, job, fmt.Errorf("panic: %v", r))
			ran = true
		}
	}()

	start := time.Now()
	err := s.dispatch(ctx, job)
	s.finish(ctx, job, err)
	slog.Info("job finished", "job_id", job.ID, "type", job.Type, "duration", time.Since(start), "error", err)
	return true
}

func (s *Scheduler) dispatch(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeDownload:
		return s.runner.Download(ctx, job.Payload, job.Owner)
	case models.JobTypeExtendMetadata:
		return s.runner.ExtendMetadata(ctx, job.Payload, job.Owner)
	case models.JobTypeCreateHashes:
		return s.runner.CreateHashes(ctx, job.Payload, job.Owner)
	case models.JobTypeNostrUpload:
		return s.runner.NostrUpload(ctx, job.Payload)
	case models.JobTypeMirror:
		return s.runner.Mirror(ctx, job.Payload)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (s *Scheduler) finish(ctx context.Context, job *models.Job, jobErr error) {
	status := models.JobStatusCompleted
	var opts []store.JobUpdateOption
	if jobErr != nil {
		status = models.JobStatusFailed
		opts = append(opts, store.WithErrorMessage(jobErr.Error()))
	}

	// The job's own context may be cancelled by now.
	if err := s.store.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, status, opts...); err != nil {
		slog.Error("updating job status failed", "job_id", job.ID, "status", status, "error", err)
	}
	s.setCachedStatus(ctx, job.ID, status)
	metrics.JobsProcessed.WithLabelValues(string(job.Type), status).Inc()
}

func (s *Scheduler) setCachedStatus(ctx context.Context, id uuid.UUID, status string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJobStatus(context.WithoutCancel(ctx), id, status, statusTTL); err != nil {
		slog.Debug("caching job status failed", "job_id", id, "error", err)
	}
}

// Purge deletes completed jobs.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteCompletedJobs(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("purged completed jobs", "count", n)
	}
	return n, nil
}
