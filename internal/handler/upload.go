package handler

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/kiranshivaraju/vidvault/internal/blossom"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/internal/metrics"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

// uploadHooks observe an uploadAll run. Both are optional.
type uploadHooks struct {
	progress    func(server string, p blossom.Progress)
	videoFailed func(server string, err error)
	// videoDone runs once the video upload to server has finished, whether
	// or not it succeeded.
	videoDone func(server string)
}

// uploadSet is the outcome of uploading an asset's files.
type uploadSet struct {
	Blobs []models.BlobDescriptor
	Sent  int64
	// VideoOK lists the servers that hold the video afterwards.
	VideoOK []string
}

// urlsFor returns the URLs of every uploaded copy of the blob with hash.
func (u uploadSet) urlsFor(hash string) []string {
	if hash == "" {
		return nil
	}
	var urls []string
	for _, b := range u.Blobs {
		if b.SHA256 == hash && b.URL != "" {
			urls = append(urls, b.URL)
		}
	}
	return urls
}

// uploadAll uploads the video, thumbnail and info file of v to each server.
// Every file on every server is attempted independently. Only video failures
// reach the hooks; thumbnail and info failures are logged.
func (s *Service) uploadAll(ctx context.Context, v *models.VideoAsset, paths media.Paths, servers []string, hooks uploadHooks) uploadSet {
	var set uploadSet

	type file struct {
		label string
		path  string
		hash  string
	}
	files := []file{{"video", paths.Video, v.VideoSha256}}
	if paths.Thumb != "" {
		files = append(files, file{"thumb", paths.Thumb, v.ThumbSha256})
	}
	if paths.Info != "" {
		files = append(files, file{"info", paths.Info, v.InfoSha256})
	}

	for _, server := range servers {
		for _, f := range files {
			if ctx.Err() != nil {
				return set
			}

			var onProgress blossom.ProgressFunc
			if f.label == "video" && hooks.progress != nil {
				srv := server
				onProgress = func(p blossom.Progress) { hooks.progress(srv, p) }
			}

			res, err := s.blobs.UploadFile(ctx, server, f.path, media.MimeTypeByPath(f.path), filepath.Base(f.path), f.hash, onProgress)
			if f.label == "video" && hooks.videoDone != nil {
				hooks.videoDone(server)
			}
			if err != nil {
				metrics.UploadFailures.WithLabelValues(server, f.label).Inc()
				slog.Warn("upload failed", "server", server, "file", f.label, "video_id", v.ID, "error", err)
				if f.label == "video" && hooks.videoFailed != nil {
					hooks.videoFailed(server, err)
				}
				continue
			}

			metrics.UploadBytes.WithLabelValues(server).Add(float64(res.Sent))
			set.Sent += res.Sent
			set.Blobs = append(set.Blobs, res.Blob)
			if f.label == "video" {
				set.VideoOK = append(set.VideoOK, server)
			}
		}
	}
	return set
}
