package blossom

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressReader_SamplesInstantaneousSpeed(t *testing.T) {
	clock := time.Unix(0, 0)
	var got []Progress
	p := newProgressReader(strings.NewReader(strings.Repeat("x", 4*1024*1024)), 4*1024*1024, time.Second,
		func(pr Progress) { got = append(got, pr) })
	p.now = func() time.Time { return clock }
	p.lastAt = clock

	buf := make([]byte, 1024*1024)

	// first MiB within the interval: no sample
	clock = clock.Add(500 * time.Millisecond)
	_, _ = p.Read(buf)
	assert.Empty(t, got)

	// second MiB after 1s total: 2 MiB over 1s
	clock = clock.Add(500 * time.Millisecond)
	_, _ = p.Read(buf)
	if assert.Len(t, got, 1) {
		assert.InDelta(t, 2.0, got[0].SpeedMBs, 0.001)
		assert.InDelta(t, 50.0, got[0].Percent, 0.001)
	}

	// third MiB over 2s: 0.5 MiB/s
	clock = clock.Add(2 * time.Second)
	_, _ = p.Read(buf)
	if assert.Len(t, got, 2) {
		assert.InDelta(t, 0.5, got[1].SpeedMBs, 0.001)
	}

	// last MiB completes the upload and is always reported
	clock = clock.Add(100 * time.Millisecond)
	_, _ = p.Read(buf)
	if assert.Len(t, got, 3) {
		assert.Equal(t, int64(4*1024*1024), got[2].Sent)
		assert.InDelta(t, 100.0, got[2].Percent, 0.001)
	}

	n, err := p.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	assert.Len(t, got, 3)
}
