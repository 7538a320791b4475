package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vidvault_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- Job Tests ---

func TestEnqueueJob_DeduplicatesQueued(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	first, created, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/y", "owner")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.JobStatusQueued, first.Status)

	second, created, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/y", "other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	jobs, err := s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusQueued})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestEnqueueJob_ConcurrentCallersCreateOneRow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.EnqueueJob(ctx, models.JobTypeMirror, "nevent1abc", "")
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	jobs, err := s.ListJobs(ctx, store.JobFilter{Type: models.JobTypeMirror})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestEnqueueJob_AllowsNewRowOnceProcessing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	first, _, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/y", "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateJobStatus(ctx, first.ID, models.JobStatusProcessing))

	second, created, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/y", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestEnqueueJob_UnknownType(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, _, err := s.EnqueueJob(context.Background(), models.JobType("transcode"), "x", "")
	assert.Error(t, err)
}

func TestUpdateJobStatus_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job, _, err := s.EnqueueJob(ctx, models.JobTypeCreateHashes, uuid.NewString(), "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
		store.WithErrorMessage("hash mismatch")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "hash mismatch", *got.ErrorMessage)
	assert.NotNil(t, got.ProcessedAt)
}

func TestUpdateJobStatus_SecondClaimLoses(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job, _, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/z", "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing))
	err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing)
	assert.True(t, errors.Is(err, store.ErrInvalidTransition))
}

func TestUpdateJobStatus_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	err := s.UpdateJobStatus(context.Background(), uuid.New(), models.JobStatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCompletedJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	done, _, err := s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/1", "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateJobStatus(ctx, done.ID, models.JobStatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, done.ID, models.JobStatusCompleted))

	_, _, err = s.EnqueueJob(ctx, models.JobTypeDownload, "https://x/2", "")
	require.NoError(t, err)

	n, err := s.DeleteCompletedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetJob(ctx, done.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobs_OrderedOldestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	var ids []uuid.UUID
	for _, u := range []string{"https://x/a", "https://x/b", "https://x/c"} {
		job, _, err := s.EnqueueJob(ctx, models.JobTypeDownload, u, "")
		require.NoError(t, err)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	jobs, err := s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusQueued, Limit: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[0], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)
}

// --- Video Tests ---

func TestSaveVideo_FindBySha256AndEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	v := &models.VideoAsset{
		Store:       "main",
		VideoPath:   "youtube/chan/abc/abc.mp4",
		VideoSha256: "aa11",
		ThumbPath:   "youtube/chan/abc/abc.webp",
		ThumbSha256: "bb22",
		MediaSize:   1024,
		Width:       1920,
		Height:      1080,
		Source:      "youtube",
		ExternalID:  "abc",
		Title:       "A video",
		Tags:        []string{"music"},
	}
	require.NoError(t, s.SaveVideo(ctx, v))
	assert.NotEqual(t, uuid.Nil, v.ID)

	got, err := s.FindVideoBySha256(ctx, "AA11")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, []string{"music"}, got.Tags)
	assert.Equal(t, "youtube-abc", got.Identifier())

	_, err = s.FindVideoByEvent(ctx, "evt1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	v.Event = "evt1"
	require.NoError(t, s.SaveVideo(ctx, v))

	got, err = s.FindVideoByEvent(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	byID, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt1", byID.Event)
}

func TestSaveVideo_DuplicatePath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.SaveVideo(ctx, &models.VideoAsset{Store: "main", VideoPath: "a.mp4"}))
	err := s.SaveVideo(ctx, &models.VideoAsset{Store: "main", VideoPath: "a.mp4"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestGetVideo_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetVideo(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Transition table ---

func TestAllowedFrom(t *testing.T) {
	assert.Equal(t, []string{models.JobStatusQueued}, store.AllowedFrom(models.JobStatusProcessing))
	assert.Equal(t, []string{models.JobStatusProcessing}, store.AllowedFrom(models.JobStatusCompleted))
	assert.Empty(t, store.AllowedFrom(models.JobStatusQueued))
}
