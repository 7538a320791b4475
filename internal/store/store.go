package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a job status change is not allowed
// from the job's current status, including when another worker claimed it first.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// EnqueueJob inserts a queued job unless one with the same type and
	// payload is already queued, in which case that job is returned with
	// created=false.
	EnqueueJob(ctx context.Context, jobType models.JobType, payload, owner string) (job *models.Job, created bool, err error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	DeleteCompletedJobs(ctx context.Context) (int64, error)

	SaveVideo(ctx context.Context, video *models.VideoAsset) error
	GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoAsset, error)
	FindVideoBySha256(ctx context.Context, sha256 string) (*models.VideoAsset, error)
	FindVideoByEvent(ctx context.Context, eventID string) (*models.VideoAsset, error)
}

// JobFilter selects jobs for ListJobs. Results are ordered oldest first.
type JobFilter struct {
	Status string
	Type   models.JobType
	Limit  int
}

type jobUpdateParams struct {
	ErrorMessage *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// ApplyJobUpdateOptions resolves opts into the error message they set, if any.
// Store implementations outside this package use it.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) (errorMessage *string) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params.ErrorMessage
}

// validTransitions lists the statuses a job may move to from each status.
var validTransitions = map[string][]string{
	models.JobStatusQueued:     {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

// AllowedFrom returns the statuses from which a job may move to status.
func AllowedFrom(status string) []string {
	var from []string
	for current, next := range validTransitions {
		for _, n := range next {
			if n == status {
				from = append(from, current)
			}
		}
	}
	return from
}
