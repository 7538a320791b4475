// Package retention removes old large blobs from upload servers.
package retention

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/internal/metrics"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

const bytesPerMB = 1024 * 1024

// BlobServer lists and deletes the service's blobs.
type BlobServer interface {
	ListBlobs(ctx context.Context, server, pubkey string) ([]models.BlobDescriptor, error)
	DeleteBlob(ctx context.Context, server, hash string) error
}

// Sweeper applies each server's retention policy.
type Sweeper struct {
	blobs    BlobServer
	pubkey   string
	policies []config.ServerPolicy
	mimeType string
	now      func() time.Time
}

// NewSweeper creates a Sweeper that only deletes blobs of mimeType.
func NewSweeper(blobs BlobServer, pubkey string, policies []config.ServerPolicy, mimeType string) *Sweeper {
	return &Sweeper{
		blobs:    blobs,
		pubkey:   pubkey,
		policies: policies,
		mimeType: mimeType,
		now:      time.Now,
	}
}

// Report summarizes the sweep of one server.
type Report struct {
	Server      string
	Blobs       int
	StoredBytes int64
	Deleted     int
	Failed      int
}

// Sweep lists and reports every server and deletes expired blobs on those
// that have a max age. A server that cannot be listed is skipped; a failed
// delete is logged and the sweep goes on.
func (s *Sweeper) Sweep(ctx context.Context) []Report {
	var reports []Report
	for _, p := range s.policies {
		if ctx.Err() != nil {
			break
		}
		report, err := s.sweepServer(ctx, p)
		if err != nil {
			slog.Error("listing blobs for retention failed", "server", p.URL, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

func (s *Sweeper) sweepServer(ctx context.Context, p config.ServerPolicy) (Report, error) {
	blobs, err := s.blobs.ListBlobs(ctx, p.URL, s.pubkey)
	if err != nil {
		return Report{}, err
	}

	report := Report{Server: p.URL, Blobs: len(blobs)}
	for _, b := range blobs {
		report.StoredBytes += b.Size
	}

	cutoff := s.now().Unix() - int64(p.MaxAgeDays)*86400
	floor := int64(p.KeepUnderMB) * bytesPerMB
	for _, b := range blobs {
		if p.MaxAgeDays <= 0 || !s.expired(b, cutoff, floor) {
			continue
		}
		if err := s.blobs.DeleteBlob(ctx, p.URL, b.SHA256); err != nil {
			report.Failed++
			slog.Warn("deleting expired blob failed", "server", p.URL, "sha256", b.SHA256, "error", err)
			continue
		}
		report.Deleted++
		report.StoredBytes -= b.Size
		metrics.BlobsDeleted.WithLabelValues(p.URL).Inc()
	}

	metrics.StoredBytes.WithLabelValues(p.URL).Set(float64(report.StoredBytes))
	slog.Info("retention sweep finished", "server", p.URL, "blobs", report.Blobs,
		"deleted", report.Deleted, "failed", report.Failed,
		"stored_gb", float64(report.StoredBytes)/(1024*1024*1024))
	return report, nil
}

func (s *Sweeper) expired(b models.BlobDescriptor, cutoff, floor int64) bool {
	return b.CreatedAt() < cutoff &&
		b.Size > floor &&
		strings.EqualFold(b.Type, s.mimeType)
}
