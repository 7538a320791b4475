package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/blossom"
	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/internal/dvm"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/internal/store"
)

// Recover uploads the stored video with hash req.X, plus its thumbnail and
// info file, to the configured servers and the servers the request names.
// An unknown hash is not answered.
func (s *Service) Recover(ctx context.Context, jc *dvm.JobContext, req dvm.RecoverRequest) error {
	v, err := s.store.FindVideoBySha256(ctx, req.X)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("recover request for unknown video", "x", req.X, "event_id", jc.Event.ID)
		return nil
	}
	if err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError, "Looking up the requested video failed.")
		return fmt.Errorf("find video: %w", err)
	}

	paths, err := media.Resolve(v, s.cfg.Stores)
	if err != nil {
		s.publisher.Status(ctx, jc, dvm.StatusError,
			"Requested video found in database but the file is currently not available.")
		return err
	}

	servers := config.MergeServers(s.cfg.UploadServers, req.Targets)
	if len(servers) == 0 {
		s.publisher.Status(ctx, jc, dvm.StatusError, "No upload servers are configured.")
		return fmt.Errorf("recover %s: no upload servers", req.X)
	}

	eta := s.speed.Estimate(v.MediaSize * int64(len(servers)))
	s.publisher.Status(ctx, jc, dvm.StatusProcessing,
		"Starting video upload. Estimated time "+media.FormatDuration(eta)+"...")

	throttle := NewThrottle(s.cfg.ThrottleInterval)
	started := time.Now()
	uploads := s.uploadAll(ctx, v, paths, servers, uploadHooks{
		progress: func(server string, p blossom.Progress) {
			throttle.Do(func() {
				s.publisher.Status(ctx, jc, dvm.StatusPartial,
					fmt.Sprintf("Upload to %s: %.0f%% done at %.2f MB/s", server, p.Percent, p.SpeedMBs))
			})
		},
		videoFailed: func(server string, err error) {
			s.publisher.Status(ctx, jc, dvm.StatusError, "Upload of video to "+server+" failed.")
		},
		videoDone: func(string) { throttle.Flush() },
	})

	s.speed.Observe(uploads.Sent, time.Since(started))

	payload := newRecoverResult(req.EventID, req.Relay, v, uploads.Blobs)
	if _, err := s.publisher.Result(ctx, jc, dvm.KindRecoverResult, payload, recoverResultTTL); err != nil {
		return fmt.Errorf("publish recover result: %w", err)
	}

	slog.Info("recovered video", "x", req.X, "servers", len(servers), "uploaded_to", len(uploads.VideoOK),
		"bytes_sent", uploads.Sent, "speed_mbs", formatMBs(s.speed.BytesPerSecond()))
	return nil
}
