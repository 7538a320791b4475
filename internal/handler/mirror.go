package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var (
	ErrInvalidPointer = errors.New("invalid nevent pointer")
	ErrNoVideoHash    = errors.New("video event has no video hash")
)

// Mirror copies the video referenced by nevent into the target store. The
// event is skipped when an asset already references it or when it does not
// pass the match policy. Nothing is written to the database on failure.
func (s *Service) Mirror(ctx context.Context, nevent string) error {
	prefix, value, err := nip19.Decode(nevent)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPointer, err)
	}
	ptr, ok := value.(nostr.EventPointer)
	if prefix != "nevent" || !ok {
		return fmt.Errorf("%w: got %s", ErrInvalidPointer, prefix)
	}

	if _, err := s.store.FindVideoByEvent(ctx, ptr.ID); err == nil {
		slog.Debug("video event already mirrored", "event_id", ptr.ID)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("find mirrored video: %w", err)
	}

	evt, err := s.fetcher.FetchEvent(ctx, ptr.ID, ptr.Relays)
	if err != nil {
		return fmt.Errorf("fetch video event: %w", err)
	}
	if !s.matches(evt) {
		slog.Debug("video event does not match mirror policy", "event_id", evt.ID)
		return nil
	}

	hashes := HashesFromEvent(evt)
	if hashes.Video == "" {
		return fmt.Errorf("%w: %s", ErrNoVideoHash, evt.ID)
	}

	servers := s.cfg.UploadServers
	if tag := evt.Tags.Find("url"); tag != nil {
		if server := serverFromBlobURL(tag[1], hashes.Video); server != "" {
			servers = config.MergeServers(servers, []string{server})
		}
	}

	if err := os.MkdirAll(s.cfg.TempPath, 0o755); err != nil {
		return fmt.Errorf("create temp path: %w", err)
	}
	dir, err := os.MkdirTemp(s.cfg.TempPath, "mirror_")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if _, err := s.blobs.DownloadBlob(ctx, servers, hashes.Video, dir, hashes.Video+".mp4"); err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	if hashes.Thumb != "" {
		if _, err := s.blobs.DownloadBlob(ctx, servers, hashes.Thumb, dir, hashes.Video+".jpg"); err != nil {
			return fmt.Errorf("download thumbnail: %w", err)
		}
	}
	if hashes.Info != "" {
		if _, err := s.blobs.DownloadBlob(ctx, servers, hashes.Info, dir, hashes.Video+".info.json"); err != nil {
			return fmt.Errorf("download info: %w", err)
		}
	}

	files, err := media.Identify(dir, false)
	if err != nil {
		return err
	}

	meta := metadataFromEvent(evt)
	if files.Info != "" {
		if raw, err := os.ReadFile(files.Info); err == nil {
			if info, err := media.ParseInfo(raw); err == nil {
				meta = mergeMetadata(info, meta)
			}
		}
	}

	v, err := s.importer.Import(files, meta)
	if err != nil {
		return fmt.Errorf("import mirrored video: %w", err)
	}
	v.VideoSha256 = hashes.Video
	if err := media.ComputeHashes(v, s.cfg.Stores); err != nil {
		return fmt.Errorf("hash mirrored video: %w", err)
	}
	v.Event = evt.ID
	if err := s.store.SaveVideo(ctx, v); err != nil {
		return fmt.Errorf("save mirrored video: %w", err)
	}

	slog.Info("mirrored video", "event_id", evt.ID, "video_id", v.ID, "x", v.VideoSha256)
	return nil
}

// matches applies the mirror policy to the title and the author of evt. An
// empty policy matches everything.
func (s *Service) matches(evt *nostr.Event) bool {
	if len(s.cfg.MirrorMatch) == 0 {
		return true
	}
	var fields []string
	if tag := evt.Tags.Find("title"); tag != nil {
		fields = append(fields, tag[1])
	}
	for tag := range evt.Tags.FindAll("c") {
		if len(tag) >= 3 && tag[2] == "author" {
			fields = append(fields, tag[1])
		}
	}
	for _, re := range s.cfg.MirrorMatch {
		for _, f := range fields {
			if re.MatchString(f) {
				return true
			}
		}
	}
	return false
}

// metadataFromEvent reads what a video event says about its video.
func metadataFromEvent(evt *nostr.Event) media.Metadata {
	m := media.Metadata{Title: evt.Content}

	if tag := evt.Tags.Find("d"); tag != nil {
		source, id, ok := strings.Cut(tag[1], "-")
		if ok {
			m.Source, m.ExternalID = source, id
		} else {
			m.ExternalID = tag[1]
		}
	}
	if m.Source == "" {
		m.Source = "nostr"
	}
	if m.ExternalID == "" {
		m.ExternalID = evt.ID
	}

	if tag := evt.Tags.Find("title"); tag != nil {
		m.Title = tag[1]
	}
	if tag := evt.Tags.Find("summary"); tag != nil {
		m.Description = tag[1]
	}
	if tag := evt.Tags.Find("duration"); tag != nil {
		if d, err := strconv.ParseFloat(tag[1], 64); err == nil {
			m.Duration = int(d)
		}
	}
	if tag := evt.Tags.Find("published_at"); tag != nil {
		if ts, err := strconv.ParseInt(tag[1], 10, 64); err == nil {
			m.Published = time.Unix(ts, 0).UTC()
		}
	}
	if tag := evt.Tags.Find("l"); tag != nil {
		m.Language = tag[1]
	}
	if evt.Tags.Find("content-warning") != nil {
		m.AgeLimit = 18
	}
	for tag := range evt.Tags.FindAll("c") {
		if len(tag) >= 3 && tag[2] == "author" {
			m.ChannelName = tag[1]
		}
	}
	for tag := range evt.Tags.FindAll("t") {
		m.Tags = append(m.Tags, tag[1])
	}
	for tag := range evt.Tags.FindAll("imeta") {
		for _, field := range tag[1:] {
			if dim, ok := strings.CutPrefix(field, "dim "); ok {
				w, h, _ := strings.Cut(dim, "x")
				m.Width, _ = strconv.Atoi(w)
				m.Height, _ = strconv.Atoi(h)
			}
		}
	}
	if m.ChannelID == "" {
		m.ChannelID = evt.PubKey
	}
	return m
}

// mergeMetadata prefers info file values and falls back to the event's.
func mergeMetadata(info, evt media.Metadata) media.Metadata {
	if info.Title == "" {
		info.Title = evt.Title
	}
	if info.ChannelName == "" {
		info.ChannelName = evt.ChannelName
	}
	if info.ChannelID == "" {
		info.ChannelID = evt.ChannelID
	}
	if info.Width == 0 || info.Height == 0 {
		info.Width, info.Height = evt.Width, evt.Height
	}
	if info.Published.IsZero() {
		info.Published = evt.Published
	}
	if info.Duration == 0 {
		info.Duration = evt.Duration
	}
	return info
}
