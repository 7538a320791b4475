// Package mock provides an in-memory store.Store for tests.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

// Store satisfies store.Store with maps guarded by a mutex. It follows the
// same transition and dedup rules as the Postgres store.
type Store struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*models.Job
	videos map[uuid.UUID]*models.VideoAsset
	seq    time.Time

	// Transitions records every successful status change in order.
	Transitions []Transition

	PingErr      error
	SaveVideoErr error
}

// Transition is one recorded job status change.
type Transition struct {
	JobID        uuid.UUID
	Status       string
	ErrorMessage string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:   make(map[uuid.UUID]*models.Job),
		videos: make(map[uuid.UUID]*models.VideoAsset),
		seq:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *Store) Ping(_ context.Context) error { return s.PingErr }

func (s *Store) EnqueueJob(_ context.Context, jobType models.JobType, payload, owner string) (*models.Job, bool, error) {
	if !jobType.Valid() {
		return nil, false, fmt.Errorf("enqueue job: unknown job type %q", jobType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Type == jobType && j.Payload == payload && j.Status == models.JobStatusQueued {
			cp := *j
			return &cp, false, nil
		}
	}

	// Monotonic added_at keeps ordering deterministic.
	s.seq = s.seq.Add(time.Millisecond)
	j := &models.Job{
		ID:      uuid.New(),
		Type:    jobType,
		Payload: payload,
		Owner:   owner,
		Status:  models.JobStatusQueued,
		AddedAt: s.seq,
	}
	s.jobs[j.ID] = j
	cp := *j
	return &cp, true, nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.Job{}
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].AddedAt.Before(out[b].AddedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	errMsg := store.ApplyJobUpdateOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(store.AllowedFrom(status), j.Status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, status)
	}

	j.Status = status
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		now := time.Now().UTC()
		j.ProcessedAt = &now
	}
	tr := Transition{JobID: id, Status: status}
	if errMsg != nil {
		j.ErrorMessage = errMsg
		tr.ErrorMessage = *errMsg
	}
	s.Transitions = append(s.Transitions, tr)
	return nil
}

func (s *Store) DeleteCompletedJobs(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Status == models.JobStatusCompleted {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveVideo(_ context.Context, v *models.VideoAsset) error {
	if s.SaveVideoErr != nil {
		return s.SaveVideoErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.AddedAt.IsZero() {
		v.AddedAt = time.Now().UTC()
	}
	for id, other := range s.videos {
		if id != v.ID && other.Store == v.Store && other.VideoPath == v.VideoPath {
			return store.ErrDuplicateKey
		}
	}
	cp := *v
	s.videos[v.ID] = &cp
	return nil
}

func (s *Store) GetVideo(_ context.Context, id uuid.UUID) (*models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) FindVideoBySha256(_ context.Context, sha256 string) (*models.VideoAsset, error) {
	return s.findVideo(func(v *models.VideoAsset) bool {
		return v.VideoSha256 != "" && v.VideoSha256 == strings.ToLower(sha256)
	})
}

func (s *Store) FindVideoByEvent(_ context.Context, eventID string) (*models.VideoAsset, error) {
	return s.findVideo(func(v *models.VideoAsset) bool {
		return v.Event != "" && v.Event == eventID
	})
}

func (s *Store) findVideo(match func(*models.VideoAsset) bool) (*models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.videos {
		if match(v) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// Videos returns a copy of every stored video.
func (s *Store) Videos() []*models.VideoAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.VideoAsset, 0, len(s.videos))
	for _, v := range s.videos {
		cp := *v
		out = append(out, &cp)
	}
	return out
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)
