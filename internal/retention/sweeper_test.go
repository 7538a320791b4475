package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	blobs     map[string][]models.BlobDescriptor
	listErr   map[string]error
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeServer) ListBlobs(_ context.Context, server, pubkey string) ([]models.BlobDescriptor, error) {
	if err := f.listErr[server]; err != nil {
		return nil, err
	}
	return f.blobs[server], nil
}

func (f *fakeServer) DeleteBlob(_ context.Context, server, hash string) error {
	if err := f.deleteErr[hash]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, server+"/"+hash)
	return nil
}

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func daysAgo(d int) int64 {
	return now.Add(-time.Duration(d) * 24 * time.Hour).Unix()
}

func newSweeper(f *fakeServer, policies ...config.ServerPolicy) *Sweeper {
	s := NewSweeper(f, "pub", policies, "video/mp4")
	s.now = func() time.Time { return now }
	return s
}

func TestSweep_DeletesOnlyWhenAllConditionsHold(t *testing.T) {
	f := &fakeServer{blobs: map[string][]models.BlobDescriptor{
		"https://a.example": {
			{SHA256: "old-big-mp4", Size: 5 * bytesPerMB, Type: "video/mp4", Uploaded: daysAgo(40)},
			{SHA256: "new-big-mp4", Size: 5 * bytesPerMB, Type: "video/mp4", Uploaded: daysAgo(10)},
			{SHA256: "old-small-mp4", Size: 1 * bytesPerMB, Type: "video/mp4", Uploaded: daysAgo(40)},
			{SHA256: "old-big-jpg", Size: 5 * bytesPerMB, Type: "image/jpeg", Uploaded: daysAgo(40)},
			{SHA256: "old-big-created", Size: 5 * bytesPerMB, Type: "video/mp4", Created: daysAgo(31)},
		},
	}}
	s := newSweeper(f, config.ServerPolicy{URL: "https://a.example", MaxAgeDays: 30, KeepUnderMB: 2})

	reports := s.Sweep(context.Background())

	assert.ElementsMatch(t, []string{
		"https://a.example/old-big-mp4",
		"https://a.example/old-big-created",
	}, f.deleted)
	require.Len(t, reports, 1)
	assert.Equal(t, 5, reports[0].Blobs)
	assert.Equal(t, 2, reports[0].Deleted)
	assert.Equal(t, int64(11*bytesPerMB), reports[0].StoredBytes)
}

func TestSweep_SizeFloorIsExclusive(t *testing.T) {
	f := &fakeServer{blobs: map[string][]models.BlobDescriptor{
		"https://a.example": {
			{SHA256: "at-floor", Size: 2 * bytesPerMB, Type: "video/mp4", Uploaded: daysAgo(40)},
		},
	}}
	s := newSweeper(f, config.ServerPolicy{URL: "https://a.example", MaxAgeDays: 30, KeepUnderMB: 2})

	s.Sweep(context.Background())
	assert.Empty(t, f.deleted)
}

func TestSweep_ContinuesAfterDeleteFailure(t *testing.T) {
	f := &fakeServer{
		blobs: map[string][]models.BlobDescriptor{
			"https://a.example": {
				{SHA256: "one", Size: 10, Type: "video/mp4", Uploaded: daysAgo(5)},
				{SHA256: "two", Size: 10, Type: "video/mp4", Uploaded: daysAgo(5)},
			},
		},
		deleteErr: map[string]error{"one": errors.New("401")},
	}
	s := newSweeper(f, config.ServerPolicy{URL: "https://a.example", MaxAgeDays: 1})

	reports := s.Sweep(context.Background())

	assert.Equal(t, []string{"https://a.example/two"}, f.deleted)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Failed)
	assert.Equal(t, 1, reports[0].Deleted)
}

func TestSweep_ReportsServersWithoutPolicy(t *testing.T) {
	f := &fakeServer{
		blobs: map[string][]models.BlobDescriptor{
			"https://keep.example": {{SHA256: "x", Size: 10, Type: "video/mp4", Uploaded: daysAgo(400)}},
			"https://ok.example":   {{SHA256: "y", Size: 10, Type: "video/mp4", Uploaded: daysAgo(400)}},
		},
		listErr: map[string]error{"https://down.example": errors.New("unreachable")},
	}
	s := newSweeper(f,
		config.ServerPolicy{URL: "https://keep.example"},
		config.ServerPolicy{URL: "https://down.example", MaxAgeDays: 1},
		config.ServerPolicy{URL: "https://ok.example", MaxAgeDays: 1},
	)

	reports := s.Sweep(context.Background())

	assert.Equal(t, []string{"https://ok.example/y"}, f.deleted)
	require.Len(t, reports, 2)
	assert.Equal(t, "https://keep.example", reports[0].Server)
	assert.Equal(t, 1, reports[0].Blobs)
	assert.Equal(t, int64(10), reports[0].StoredBytes)
	assert.Zero(t, reports[0].Deleted)
	assert.Equal(t, "https://ok.example", reports[1].Server)
}
