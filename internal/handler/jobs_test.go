package handler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kiranshivaraju/vidvault/internal/downloader"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_ImportsAndQueuesHashing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.svc.Download(ctx, "https://youtube.com/watch?v=abc123", "owner"))

	videos := env.store.Videos()
	require.Len(t, videos, 1)
	v := videos[0]
	assert.Equal(t, filepath.Join("youtube", "chan", "abc123", "abc123.mp4"), v.VideoPath)
	assert.Empty(t, v.VideoSha256)

	jobs, err := env.store.ListJobs(ctx, store.JobFilter{Type: models.JobTypeCreateHashes})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, v.ID.String(), jobs[0].Payload)
	assert.Equal(t, "owner", jobs[0].Owner)
}

func TestDownload_Failure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.downloader.err = downloader.ErrDownloadFailed

	err := env.svc.Download(context.Background(), "https://x/y", "")
	assert.ErrorIs(t, err, downloader.ErrDownloadFailed)
	assert.Empty(t, env.store.Videos())
}

func TestCreateHashes_QueuesPublishing(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.PublishVideos = true })
	ctx := context.Background()
	require.NoError(t, env.svc.Download(ctx, "https://youtube.com/watch?v=abc123", ""))
	v := env.store.Videos()[0]

	require.NoError(t, env.svc.CreateHashes(ctx, v.ID.String(), ""))

	got, err := env.store.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.HasHashes())
	assert.Equal(t, sum([]byte("video:https://youtube.com/watch?v=abc123")), got.VideoSha256)

	jobs, err := env.store.ListJobs(ctx, store.JobFilter{Type: models.JobTypeNostrUpload})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, v.ID.String(), jobs[0].Payload)
}

func TestCreateHashes_NoPublishingByDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	v := env.storeVideo(t, "content")

	require.NoError(t, env.svc.CreateHashes(ctx, v.ID.String(), ""))

	jobs, err := env.store.ListJobs(ctx, store.JobFilter{Type: models.JobTypeNostrUpload})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateHashes_InvalidID(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Error(t, env.svc.CreateHashes(context.Background(), "not-a-uuid", ""))
}

func TestExtendMetadata_ReplacesSidecars(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	v := env.storeVideo(t, "content")

	require.NoError(t, env.svc.ExtendMetadata(ctx, v.ID.String(), ""))

	require.Len(t, env.downloader.calls, 1)
	assert.True(t, env.downloader.calls[0].SkipVideo)

	got, err := env.store.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("youtube", "chan", "abc123", "abc123.info.json"), got.InfoPath)
	assert.Equal(t, filepath.Join("youtube", "chan", "abc123", "abc123.webp"), got.ThumbPath)
	assert.FileExists(t, filepath.Join(env.root, got.ThumbPath))

	jobs, err := env.store.ListJobs(ctx, store.JobFilter{Type: models.JobTypeCreateHashes})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestExtendMetadata_UnknownSource(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	v := env.storeVideo(t, "content")
	v.Source = "vimeo"
	require.NoError(t, env.store.SaveVideo(ctx, v))

	err := env.svc.ExtendMetadata(ctx, v.ID.String(), "")
	assert.ErrorIs(t, err, ErrNoSourceURL)
	assert.Empty(t, env.downloader.calls)
}

func TestNostrUpload_PublishesVideoEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.Download(ctx, "https://youtube.com/watch?v=abc123", ""))
	v := env.store.Videos()[0]
	require.NoError(t, env.svc.CreateHashes(ctx, v.ID.String(), ""))

	require.NoError(t, env.svc.NostrUpload(ctx, v.ID.String()))

	require.Len(t, env.publisher.events, 1)
	evt := env.publisher.events[0]
	got, err := env.store.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.Event)
	assert.Equal(t, "https://a.example/"+got.VideoSha256+".mp4", evt.Tags.Find("url")[1])
	assert.Equal(t, "https://thumbs.example/"+got.ThumbSha256+".webp", evt.Tags.Find("thumb")[1])
}

func TestNostrUpload_ThumbnailFailsEverywhere(t *testing.T) {
	env := newTestEnv(t, nil)
	env.blobs.failing["https://thumbs.example"] = errors.New("down")
	ctx := context.Background()
	require.NoError(t, env.svc.Download(ctx, "https://youtube.com/watch?v=abc123", ""))
	v := env.store.Videos()[0]
	require.NoError(t, env.svc.CreateHashes(ctx, v.ID.String(), ""))

	err := env.svc.NostrUpload(ctx, v.ID.String())
	assert.ErrorIs(t, err, ErrThumbnailUpload)
	assert.Empty(t, env.publisher.events)
}

func TestNostrUpload_RequiresHashes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.Download(ctx, "https://youtube.com/watch?v=abc123", ""))
	v := env.store.Videos()[0]

	assert.Error(t, env.svc.NostrUpload(ctx, v.ID.String()))
}
