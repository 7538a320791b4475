package mock

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EnqueueDedup(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	a, created, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/y", "")
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/y", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)

	jobs, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStore_Transitions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	job, _, err := s.EnqueueJob(ctx, models.JobTypeMirror, "nevent1", "")
	require.NoError(t, err)

	err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage("boom")))

	require.Len(t, s.Transitions, 2)
	assert.Equal(t, "boom", s.Transitions[1].ErrorMessage)
}

func TestStore_FindVideo(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	v := &models.VideoAsset{Store: "main", VideoPath: "a.mp4", VideoSha256: "abc", Event: "e1"}
	require.NoError(t, s.SaveVideo(ctx, v))

	got, err := s.FindVideoBySha256(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	_, err = s.FindVideoByEvent(ctx, "e2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
