package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidvault/internal/downloader"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

var (
	ErrNoSourceURL     = errors.New("video has no known source URL")
	ErrThumbnailUpload = errors.New("thumbnail upload failed on every server")
)

// Download is the download job: it fetches url, imports the files into the
// target store and queues hashing.
func (s *Service) Download(ctx context.Context, url, owner string) error {
	res, err := s.downloader.Download(ctx, url, downloader.Options{}, nil)
	if err != nil {
		return err
	}
	defer os.RemoveAll(res.Dir)

	v, err := s.importer.Import(res.Files, res.Metadata)
	if err != nil {
		return fmt.Errorf("import video: %w", err)
	}
	if err := s.store.SaveVideo(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	slog.Info("downloaded video", "url", url, "video_id", v.ID)
	return s.enqueue(ctx, models.JobTypeCreateHashes, v.ID.String(), owner)
}

// ExtendMetadata downloads a fresh info file and thumbnail for the video with
// the given id and queues hashing of the replaced files.
func (s *Service) ExtendMetadata(ctx context.Context, videoID, owner string) error {
	v, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return err
	}
	url := OriginalURL(v)
	if url == "" {
		return fmt.Errorf("%w: %s", ErrNoSourceURL, v.ID)
	}

	res, err := s.downloader.Download(ctx, url, downloader.Options{SkipVideo: true}, nil)
	if err != nil {
		return err
	}
	defer os.RemoveAll(res.Dir)

	if err := s.importer.ReplaceSidecars(v, res.Files); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}
	if err := s.store.SaveVideo(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	return s.enqueue(ctx, models.JobTypeCreateHashes, v.ID.String(), owner)
}

// CreateHashes fills in the missing digests of a video. Unpublished videos
// are queued for publishing when that is enabled.
func (s *Service) CreateHashes(ctx context.Context, videoID, owner string) error {
	v, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if !v.HasHashes() {
		if err := media.ComputeHashes(v, s.cfg.Stores); err != nil {
			return fmt.Errorf("hash video: %w", err)
		}
		if err := s.store.SaveVideo(ctx, v); err != nil {
			return fmt.Errorf("save video: %w", err)
		}
	}
	if s.cfg.PublishVideos && v.Event == "" {
		return s.enqueue(ctx, models.JobTypeNostrUpload, v.ID.String(), owner)
	}
	return nil
}

// NostrUpload uploads the thumbnail of a video to the thumbnail servers and
// publishes its video event.
func (s *Service) NostrUpload(ctx context.Context, videoID string) error {
	v, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if !v.HasHashes() {
		return fmt.Errorf("video %s has no hashes yet", v.ID)
	}
	paths, err := media.Resolve(v, s.cfg.Stores)
	if err != nil {
		return err
	}

	var thumbURLs []string
	if paths.Thumb != "" && len(s.cfg.ThumbnailServers) > 0 {
		for _, server := range s.cfg.ThumbnailServers {
			res, err := s.blobs.UploadFile(ctx, server, paths.Thumb, media.MimeTypeByPath(paths.Thumb), "", v.ThumbSha256, nil)
			if err != nil {
				slog.Warn("thumbnail upload failed", "server", server, "video_id", v.ID, "error", err)
				continue
			}
			thumbURLs = append(thumbURLs, res.Blob.URL)
		}
		if len(thumbURLs) == 0 {
			return fmt.Errorf("%w: %s", ErrThumbnailUpload, v.ID)
		}
	}

	published, err := s.publishVideo(ctx, v, s.defaultVideoURL(v), thumbURLs)
	if err != nil {
		return err
	}
	v.Event = published.EventID
	if err := s.store.SaveVideo(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	slog.Info("published video event", "video_id", v.ID, "event_id", published.EventID)
	return nil
}

func (s *Service) loadVideo(ctx context.Context, videoID string) (*models.VideoAsset, error) {
	id, err := uuid.Parse(videoID)
	if err != nil {
		return nil, fmt.Errorf("invalid video id %q: %w", videoID, err)
	}
	v, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", id, err)
	}
	return v, nil
}

func (s *Service) enqueue(ctx context.Context, jobType models.JobType, payload, owner string) error {
	job, created, err := s.store.EnqueueJob(ctx, jobType, payload, owner)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	if created {
		slog.Debug("queued job", "job_id", job.ID, "type", jobType, "payload", payload)
	}
	return nil
}
