package handler

import (
	"sync"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/metrics"
)

const (
	initialUploadSpeed = 2 * 1024 * 1024
	minSpeedSample     = 2 * time.Second
)

// SpeedEstimator keeps an exponentially smoothed upload speed.
type SpeedEstimator struct {
	mu          sync.Mutex
	bytesPerSec float64
}

// NewSpeedEstimator starts the estimate at bytesPerSec.
func NewSpeedEstimator(bytesPerSec float64) *SpeedEstimator {
	metrics.UploadSpeed.Set(bytesPerSec)
	return &SpeedEstimator{bytesPerSec: bytesPerSec}
}

// BytesPerSecond returns the current estimate.
func (s *SpeedEstimator) BytesPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesPerSec
}

// Estimate returns the expected transfer time of size bytes in whole seconds.
func (s *SpeedEstimator) Estimate(size int64) int {
	bps := s.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return int(float64(size) / bps)
}

// Observe folds a finished transfer into the estimate. Transfers not longer
// than two seconds are ignored; longer ones count even when nothing was sent. It reports whether the estimate changed.
func (s *SpeedEstimator) Observe(bytes int64, elapsed time.Duration) bool {
	if elapsed <= minSpeedSample {
		return false
	}
	s.mu.Lock()
	s.bytesPerSec = 0.3*s.bytesPerSec + 0.7*float64(bytes)/elapsed.Seconds()
	bps := s.bytesPerSec
	s.mu.Unlock()

	metrics.UploadSpeed.Set(bps)
	return true
}
