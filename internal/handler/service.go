// Package handler fulfills archive, recover and mirror requests and runs the
// queue job types that prepare and publish videos.
package handler

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/blossom"
	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/internal/downloader"
	"github.com/kiranshivaraju/vidvault/internal/dvm"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/internal/metrics"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	archiveResultTTL = 24 * time.Hour
	recoverResultTTL = 5 * 24 * time.Hour
)

// Publisher publishes status, result and video events.
type Publisher interface {
	Status(ctx context.Context, jc *dvm.JobContext, status, msg string) []dvm.PublishResult
	Result(ctx context.Context, jc *dvm.JobContext, kind int, payload any, ttl time.Duration, extra ...nostr.Tag) ([]dvm.PublishResult, error)
	Event(ctx context.Context, evt *nostr.Event) ([]dvm.PublishResult, error)
	Relays() []string
}

// EventFetcher looks up a single event by id.
type EventFetcher interface {
	FetchEvent(ctx context.Context, id string, hints []string) (*nostr.Event, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store      store.Store
	Blobs      blossom.ContentStore
	Publisher  Publisher
	Downloader downloader.Downloader
	Importer   *media.Importer
	Fetcher    EventFetcher
	Keys       dvm.KeyAgreement
}

// Config holds the Service settings.
type Config struct {
	UploadServers    []string
	ThumbnailServers []string
	Stores           []config.MediaStore
	TempPath         string
	DownloadEnabled  bool
	MirrorEnabled    bool
	MirrorMatch      []*regexp.Regexp
	// PublishVideos makes create-hashes queue a nostr-upload job.
	PublishVideos    bool
	ThrottleInterval time.Duration
}

// Service handles request events and queue jobs.
type Service struct {
	store      store.Store
	blobs      blossom.ContentStore
	publisher  Publisher
	downloader downloader.Downloader
	importer   *media.Importer
	fetcher    EventFetcher
	keys       dvm.KeyAgreement
	cfg        Config
	speed      *SpeedEstimator
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = 5 * time.Second
	}
	return &Service{
		store:      deps.Store,
		blobs:      deps.Blobs,
		publisher:  deps.Publisher,
		downloader: deps.Downloader,
		importer:   deps.Importer,
		fetcher:    deps.Fetcher,
		keys:       deps.Keys,
		cfg:        cfg,
		speed:      NewSpeedEstimator(initialUploadSpeed),
	}
}

// HandleEvent routes an event received from a relay. Request events are
// decrypted, decoded and fulfilled; video events become mirror jobs.
func (s *Service) HandleEvent(ctx context.Context, evt *nostr.Event) {
	switch {
	case dvm.IsRequestKind(evt.Kind):
		s.handleRequest(ctx, evt)
	case dvm.IsVideoKind(evt.Kind):
		if s.cfg.MirrorEnabled {
			s.queueMirror(ctx, evt)
		}
	default:
		slog.Debug("ignoring event", "kind", evt.Kind, "event_id", evt.ID)
	}
}

func (s *Service) handleRequest(ctx context.Context, evt *nostr.Event) {
	decrypted, wasEncrypted, err := dvm.Decrypt(s.keys, evt)
	if err != nil {
		metrics.RequestsDropped.WithLabelValues("decrypt").Inc()
		slog.Warn("dropping request that could not be decrypted", "event_id", evt.ID, "error", err)
		return
	}

	req, err := dvm.Decode(decrypted)
	if err != nil {
		metrics.RequestsDropped.WithLabelValues("decode").Inc()
		slog.Warn("dropping undecodable request", "event_id", evt.ID, "kind", evt.Kind, "error", err)
		return
	}

	jc := &dvm.JobContext{Event: decrypted, WasEncrypted: wasEncrypted, Request: req}
	switch r := req.(type) {
	case dvm.ArchiveRequest:
		if !s.cfg.DownloadEnabled {
			metrics.RequestsDropped.WithLabelValues("downloads_disabled").Inc()
			slog.Info("ignoring archive request, downloads are disabled", "event_id", evt.ID)
			return
		}
		err = s.Archive(ctx, jc, r)
	case dvm.RecoverRequest:
		err = s.Recover(ctx, jc, r)
	}
	if err != nil {
		slog.Error("request failed", "event_id", evt.ID, "kind", evt.Kind, "error", err)
	}
}

func (s *Service) queueMirror(ctx context.Context, evt *nostr.Event) {
	nevent, err := nip19.EncodeEvent(evt.ID, s.publisher.Relays(), evt.PubKey)
	if err != nil {
		slog.Error("encoding mirror pointer failed", "event_id", evt.ID, "error", err)
		return
	}
	job, created, err := s.store.EnqueueJob(ctx, models.JobTypeMirror, nevent, evt.PubKey)
	if err != nil {
		slog.Error("queueing mirror job failed", "event_id", evt.ID, "error", err)
		return
	}
	if created {
		slog.Info("queued mirror job", "job_id", job.ID, "event_id", evt.ID)
	}
}

// PublishedVideo identifies a published video event.
type PublishedVideo struct {
	EventID string
	Naddr   Naddr
}

// publishVideo signs and publishes the video event for v. Relay failures are
// logged and do not fail the call.
func (s *Service) publishVideo(ctx context.Context, v *models.VideoAsset, videoURL string, thumbURLs []string) (*PublishedVideo, error) {
	evt := BuildVideoEvent(v, videoURL, thumbURLs)
	results, err := s.publisher.Event(ctx, evt)
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if len(results) > 0 && failed == len(results) {
		slog.Warn("video event was not accepted by any relay", "event_id", evt.ID, "video_id", v.ID)
	}

	naddr := Naddr{
		Identifier: v.Identifier(),
		PubKey:     evt.PubKey,
		Relays:     s.publisher.Relays(),
		Kind:       evt.Kind,
	}
	if naddr.Relays == nil {
		naddr.Relays = []string{}
	}
	return &PublishedVideo{EventID: evt.ID, Naddr: naddr}, nil
}

// defaultVideoURL is where the first upload server serves the video.
func (s *Service) defaultVideoURL(v *models.VideoAsset) string {
	if len(s.cfg.UploadServers) == 0 || v.VideoSha256 == "" {
		return ""
	}
	return s.cfg.UploadServers[0] + "/" + v.VideoSha256 + media.ExtensionForMime(media.MimeTypeByPath(v.VideoPath))
}

func formatMBs(bytesPerSec float64) string {
	return strconv.FormatFloat(bytesPerSec/(1024*1024), 'f', 2, 64)
}
