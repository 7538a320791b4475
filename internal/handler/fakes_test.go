package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/blossom"
	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/internal/downloader"
	"github.com/kiranshivaraju/vidvault/internal/dvm"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/internal/relay"
	"github.com/kiranshivaraju/vidvault/internal/store/mock"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

type statusCall struct {
	Status string
	Msg    string
}

type resultCall struct {
	Kind    int
	Payload any
	TTL     time.Duration
	Extra   []nostr.Tag
}

type fakePublisher struct {
	mu       sync.Mutex
	statuses []statusCall
	results  []resultCall
	events   []*nostr.Event
	seq      int
}

func (p *fakePublisher) Status(_ context.Context, _ *dvm.JobContext, status, msg string) []dvm.PublishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, statusCall{status, msg})
	return nil
}

func (p *fakePublisher) Result(_ context.Context, _ *dvm.JobContext, kind int, payload any, ttl time.Duration, extra ...nostr.Tag) ([]dvm.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, resultCall{kind, payload, ttl, extra})
	return nil, nil
}

func (p *fakePublisher) Event(_ context.Context, evt *nostr.Event) ([]dvm.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	evt.PubKey = "servicepubkey"
	evt.ID = fmt.Sprintf("event%d", p.seq)
	p.events = append(p.events, evt)
	return []dvm.PublishResult{{Relay: "wss://relay.one"}}, nil
}

func (p *fakePublisher) Relays() []string { return []string{"wss://relay.one"} }

func (p *fakePublisher) withStatus(status string) []statusCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []statusCall
	for _, s := range p.statuses {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// fakeBlobs is an in-memory set of blob servers.
type fakeBlobs struct {
	mu        sync.Mutex
	failing   map[string]error
	blobs     map[string][]byte
	uploads   []string
	downloads [][]string
	// steps are the percentages reported while uploading; 100 when empty.
	steps []float64
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{failing: map[string]error{}, blobs: map[string][]byte{}}
}

func (f *fakeBlobs) UploadFile(_ context.Context, server, path, mimeType, _, hash string, onProgress blossom.ProgressFunc) (*blossom.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[server]; err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		hash = sum(data)
	}
	if onProgress != nil {
		steps := f.steps
		if len(steps) == 0 {
			steps = []float64{100}
		}
		for _, pct := range steps {
			sent := int64(float64(len(data)) * pct / 100)
			onProgress(blossom.Progress{Sent: sent, Total: int64(len(data)), Percent: pct})
		}
	}
	f.uploads = append(f.uploads, server+"/"+hash)
	return &blossom.UploadResult{
		Blob: models.BlobDescriptor{
			URL:    server + "/" + hash + media.ExtensionForMime(mimeType),
			SHA256: hash,
			Size:   int64(len(data)),
			Type:   mimeType,
		},
		Sent: int64(len(data)),
	}, nil
}

func (f *fakeBlobs) ListBlobs(context.Context, string, string) ([]models.BlobDescriptor, error) {
	return nil, nil
}

func (f *fakeBlobs) DeleteBlob(context.Context, string, string) error { return nil }

func (f *fakeBlobs) DownloadBlob(_ context.Context, servers []string, hash, dir, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, servers)
	data, ok := f.blobs[hash]
	if !ok {
		return "", fmt.Errorf("%w: %s", blossom.ErrBlobNotFound, hash)
	}
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, data, 0o644)
}

func (f *fakeBlobs) add(data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := sum(data)
	f.blobs[h] = data
	return h
}

// fakeDownloader writes a video and its sidecars into a fresh directory.
type fakeDownloader struct {
	tempDir string
	meta    media.Metadata
	err     error
	calls   []downloader.Options
}

func (d *fakeDownloader) Download(_ context.Context, url string, opts downloader.Options, onProgress downloader.ProgressFunc) (*downloader.Result, error) {
	d.calls = append(d.calls, opts)
	if d.err != nil {
		return nil, d.err
	}
	dir, err := os.MkdirTemp(d.tempDir, "download_")
	if err != nil {
		return nil, err
	}
	if onProgress != nil {
		onProgress(downloader.Progress{Percent: 42, SpeedMiBs: 1.5})
	}

	var files media.Files
	if !opts.SkipVideo {
		files.Video = filepath.Join(dir, "clip.mp4")
		if err := os.WriteFile(files.Video, []byte("video:"+url), 0o644); err != nil {
			return nil, err
		}
	}
	files.Info = filepath.Join(dir, "clip.info.json")
	if err := os.WriteFile(files.Info, []byte(`{"id":"`+d.meta.ExternalID+`","formats":[1,2]}`), 0o644); err != nil {
		return nil, err
	}
	files.Thumb = filepath.Join(dir, "clip.webp")
	if err := os.WriteFile(files.Thumb, []byte("thumb:"+url), 0o644); err != nil {
		return nil, err
	}
	return &downloader.Result{Dir: dir, Files: files, Metadata: d.meta}, nil
}

type fakeFetcher struct {
	events map[string]*nostr.Event
	calls  int
}

func (f *fakeFetcher) FetchEvent(_ context.Context, id string, _ []string) (*nostr.Event, error) {
	f.calls++
	if evt, ok := f.events[id]; ok {
		return evt, nil
	}
	return nil, relay.ErrEventNotFound
}

type noKeys struct{}

func (noKeys) SharedSecret(string) ([]byte, error) {
	return nil, errors.New("no key agreement in tests")
}

type testEnv struct {
	svc        *Service
	store      *mock.Store
	blobs      *fakeBlobs
	publisher  *fakePublisher
	downloader *fakeDownloader
	fetcher    *fakeFetcher
	root       string
	tempDir    string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	root := t.TempDir()
	tempDir := t.TempDir()
	stores := []config.MediaStore{{ID: "main", Path: root}}

	env := &testEnv{
		store:     mock.NewStore(),
		blobs:     newFakeBlobs(),
		publisher: &fakePublisher{},
		downloader: &fakeDownloader{tempDir: tempDir, meta: media.Metadata{
			Source: "youtube", ExternalID: "abc123", ChannelID: "chan", ChannelName: "Channel",
			Title: "A video", Width: 1920, Height: 1080, Duration: 61,
		}},
		fetcher: &fakeFetcher{events: map[string]*nostr.Event{}},
		root:    root,
		tempDir: tempDir,
	}

	cfg := Config{
		UploadServers:    []string{"https://a.example", "https://b.example"},
		ThumbnailServers: []string{"https://thumbs.example"},
		Stores:           stores,
		TempPath:         tempDir,
		DownloadEnabled:  true,
		MirrorEnabled:    true,
		ThrottleInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env.svc = NewService(Deps{
		Store:      env.store,
		Blobs:      env.blobs,
		Publisher:  env.publisher,
		Downloader: env.downloader,
		Importer:   media.NewImporter(stores, "main"),
		Fetcher:    env.fetcher,
		Keys:       noKeys{},
	}, cfg)
	return env
}

// storeVideo writes a video file into the media store and saves its asset.
func (e *testEnv) storeVideo(t *testing.T, content string) *models.VideoAsset {
	t.Helper()
	rel := filepath.Join("youtube", "chan", "abc123", "abc123.mp4")
	writeFile(t, filepath.Join(e.root, rel), content)
	v := &models.VideoAsset{
		Store:       "main",
		VideoPath:   rel,
		VideoSha256: sum([]byte(content)),
		MediaSize:   int64(len(content)),
		Source:      "youtube",
		ExternalID:  "abc123",
		Title:       "Stored",
		Width:       1280,
		Height:      720,
	}
	require.NoError(t, e.store.SaveVideo(context.Background(), v))
	return v
}

func requestContext(kind int) *dvm.JobContext {
	return &dvm.JobContext{Event: &nostr.Event{
		ID:     strings.Repeat("e", 64),
		PubKey: strings.Repeat("f", 64),
		Kind:   kind,
	}}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
