package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidvault/internal/downloader"
	"github.com/kiranshivaraju/vidvault/internal/dvm"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/nbd-wtf/go-nostr"
)

// ErrJobTaken is returned when a job was claimed by another worker.
var ErrJobTaken = errors.New("job already claimed")

// Archive downloads req.URL, stores and publishes the video and answers the
// request with an archive result. The download is tracked as a download job
// that is claimed before any work starts.
func (s *Service) Archive(ctx context.Context, jc *dvm.JobContext, req dvm.ArchiveRequest) error {
	job, _, err := s.store.EnqueueJob(ctx, models.JobTypeDownload, req.URL, jc.Event.PubKey)
	if err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "Could not queue the archive job.")
		return fmt.Errorf("enqueue download: %w", err)
	}
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "An archive job for this URL is already running.")
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("%w: %s", ErrJobTaken, job.ID)
		}
		return fmt.Errorf("claim download job: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in archive", "error", r, "job_id", job.ID)
			s.publisher.Status(ctx, jc, dvm.StatusError, "Archiving failed.")
			s.failJob(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.archive(ctx, jc, req); err != nil {
		s.failJob(ctx, job.ID, err.Error())
		return err
	}
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted); err != nil {
		slog.Error("marking archive job completed failed", "job_id", job.ID, "error", err)
	}
	return nil
}

func (s *Service) archive(ctx context.Context, jc *dvm.JobContext, req dvm.ArchiveRequest) error {
	s.publisher.Status(ctx, jc, dvm.StatusProcessing, "Starting archive download job for "+req.URL)

	throttle := NewThrottle(s.cfg.ThrottleInterval)
	res, err := s.downloader.Download(ctx, req.URL, downloader.Options{}, func(p downloader.Progress) {
		throttle.Do(func() {
			s.publisher.Status(ctx, jc, dvm.StatusPartial,
				fmt.Sprintf("Download in progress: %.1f%% done at %.2fMB/s", p.Percent, p.SpeedMiBs))
		})
	})
	throttle.Flush()
	if err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "Download from the video source failed.")
		return err
	}
	defer os.RemoveAll(res.Dir)

	s.publisher.Status(ctx, jc, dvm.StatusProcessing, "Download finished. Processing and uploading to NOSTR...")

	v, err := s.importVideo(ctx, res.Files, res.Metadata)
	if err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "Storing the downloaded video failed.")
		return err
	}

	paths, err := media.Resolve(v, s.cfg.Stores)
	if err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "Storing the downloaded video failed.")
		return err
	}
	uploads := s.uploadAll(ctx, v, paths, s.cfg.UploadServers, uploadHooks{})

	videoURL := s.defaultVideoURL(v)
	if urls := uploads.urlsFor(v.VideoSha256); len(urls) > 0 {
		videoURL = urls[0]
	}
	published, err := s.publishVideo(ctx, v, videoURL, uploads.urlsFor(v.ThumbSha256))
	if err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "Publishing the video event failed.")
		return err
	}

	v.Event = published.EventID
	if err := s.store.SaveVideo(ctx, v); err != nil {
		slog.Error("storing video event id failed", "video_id", v.ID, "error", err)
	}

	payload := newArchiveResult(published, v, uploads.Blobs)
	if _, err := s.publisher.Result(ctx, jc, dvm.KindArchiveResult, payload, archiveResultTTL,
		nostr.Tag{"d", v.Identifier()}); err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "Publishing the archive result failed.")
		return fmt.Errorf("publish archive result: %w", err)
	}

	slog.Info("archived video", "url", req.URL, "video_id", v.ID, "event_id", published.EventID,
		"blobs", len(uploads.Blobs))
	return nil
}

// importVideo moves downloaded files into the target store, saves the asset
// and fills in its hashes.
func (s *Service) importVideo(ctx context.Context, files media.Files, meta media.Metadata) (*models.VideoAsset, error) {
	v, err := s.importer.Import(files, meta)
	if err != nil {
		return nil, fmt.Errorf("import video: %w", err)
	}
	if err := media.ComputeHashes(v, s.cfg.Stores); err != nil {
		return nil, fmt.Errorf("hash video: %w", err)
	}
	if err := s.store.SaveVideo(ctx, v); err != nil {
		return nil, fmt.Errorf("save video: %w", err)
	}
	return v, nil
}

func (s *Service) failJob(ctx context.Context, id uuid.UUID, msg string) {
	if err := s.store.UpdateJobStatus(ctx, id, models.JobStatusFailed, store.WithErrorMessage(msg)); err != nil {
		slog.Error("could not mark job failed", "job_id", id, "error", err)
	}
}
