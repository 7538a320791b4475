// Package downloader fetches videos and their metadata from video sites.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/vidvault/internal/media"
)

// ErrDownloadFailed wraps every failure of the external download tool.
var ErrDownloadFailed = errors.New("download failed")

const defaultFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// Options tune a single download.
type Options struct {
	// SkipVideo fetches only the info file and thumbnail.
	SkipVideo bool
}

// Progress is one parsed progress line.
type Progress struct {
	Percent   float64
	SpeedMiBs float64
	ETA       string
}

// ProgressFunc receives download progress.
type ProgressFunc func(Progress)

// Result is a finished download. The files live in Dir, which the caller
// must remove.
type Result struct {
	Dir      string
	Files    media.Files
	Metadata media.Metadata
}

// Downloader fetches a video by URL.
type Downloader interface {
	Download(ctx context.Context, url string, opts Options, onProgress ProgressFunc) (*Result, error)
}

// YtDlp downloads with the yt-dlp command line tool.
type YtDlp struct {
	runner  Runner
	binary  string
	tempDir string
}

// NewYtDlp creates a YtDlp running binary, with scratch directories under
// tempDir.
func NewYtDlp(runner Runner, binary, tempDir string) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{runner: runner, binary: binary, tempDir: tempDir}
}

func (y *YtDlp) Download(ctx context.Context, url string, opts Options, onProgress ProgressFunc) (*Result, error) {
	if y.tempDir != "" {
		if err := os.MkdirAll(y.tempDir, 0o755); err != nil {
			return nil, fmt.Errorf("create temp path: %w", err)
		}
	}
	dir, err := os.MkdirTemp(y.tempDir, "download_")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	res, err := y.download(ctx, dir, url, opts, onProgress)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return res, nil
}

func (y *YtDlp) download(ctx context.Context, dir, url string, opts Options, onProgress ProgressFunc) (*Result, error) {
	args := []string{"-f", defaultFormat, "--write-info-json", "--write-thumbnail", "--newline"}
	if opts.SkipVideo {
		args = append(args, "--skip-download")
	}
	args = append(args, "--", url)

	slog.Debug("running yt-dlp", "binary", y.binary, "url", url, "dir", dir)
	stderr, err := y.runner.Run(ctx, dir, func(line string) {
		if p, ok := ParseProgress(line); ok && onProgress != nil {
			onProgress(p)
		}
	}, y.binary, args...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrDownloadFailed, url, msg)
	}

	files, err := media.Identify(dir, opts.SkipVideo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if files.Info == "" {
		return nil, fmt.Errorf("%w: %s: no info file written", ErrDownloadFailed, url)
	}

	raw, err := os.ReadFile(files.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: read info: %v", ErrDownloadFailed, err)
	}
	meta, err := media.ParseInfo(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	return &Result{Dir: dir, Files: files, Metadata: meta}, nil
}

var progressLine = regexp.MustCompile(`^\[download\]\s+([\d.]+)%\s+of\s+~?\s*\S+(?:\s+at\s+([\d.]+)([KMG]i?B)/s)?(?:\s+ETA\s+(\S+))?`)

// ParseProgress parses a yt-dlp "[download]" progress line.
func ParseProgress(line string) (Progress, bool) {
	m := progressLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}
	p := Progress{Percent: pct, ETA: m[4]}
	if m[2] != "" {
		speed, _ := strconv.ParseFloat(m[2], 64)
		switch strings.TrimSuffix(m[3], "B") {
		case "K", "Ki":
			speed /= 1024
		case "G", "Gi":
			speed *= 1024
		}
		p.SpeedMiBs = speed
	}
	return p, true
}
