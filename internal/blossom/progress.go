package blossom

import (
	"io"
	"time"
)

// Progress is a snapshot of a running upload. SpeedMBs is the throughput
// since the previous snapshot in MiB/s.
type Progress struct {
	Sent     int64
	Total    int64
	Percent  float64
	SpeedMBs float64
}

// ProgressFunc receives upload progress. It is called from the goroutine
// sending the request body.
type ProgressFunc func(Progress)

type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	interval   time.Duration
	onProgress ProgressFunc
	now        func() time.Time

	lastAt   time.Time
	lastSent int64
}

func newProgressReader(r io.Reader, total int64, interval time.Duration, onProgress ProgressFunc) *progressReader {
	p := &progressReader{
		r:          r,
		total:      total,
		interval:   interval,
		onProgress: onProgress,
		now:        time.Now,
	}
	p.lastAt = p.now()
	return p
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent += int64(n)
	if p.onProgress == nil {
		return n, err
	}

	now := p.now()
	elapsed := now.Sub(p.lastAt)
	done := err == io.EOF || (p.total > 0 && p.sent >= p.total)
	if elapsed >= p.interval || (done && p.sent > p.lastSent) {
		var speed float64
		if secs := elapsed.Seconds(); secs > 0 {
			speed = float64(p.sent-p.lastSent) / secs / (1024 * 1024)
		}
		var percent float64
		if p.total > 0 {
			percent = float64(p.sent) / float64(p.total) * 100
		}
		p.onProgress(Progress{Sent: p.sent, Total: p.total, Percent: percent, SpeedMBs: speed})
		p.lastAt = now
		p.lastSent = p.sent
	}
	return n, err
}
