// Package blossom talks to content-addressed blob servers that authorize
// requests with signed Nostr events.
package blossom

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/nbd-wtf/go-nostr"
)

// AuthKind is the event kind of blob server authorization tokens.
const AuthKind = 24242

const authValidity = 10 * time.Minute

// Sentinel errors for blob server failures.
var (
	ErrServerUnreachable = errors.New("blob server unreachable")
	ErrTimeout           = errors.New("blob server timeout")
	ErrRequestFailed     = errors.New("blob server request failed")
	ErrHashMismatch      = errors.New("blob hash mismatch")
	ErrBlobNotFound      = errors.New("blob not found on any server")
)

// UploadError is returned when a server answers an upload with a non-2xx status.
type UploadError struct {
	Server string
	Status int
	Body   string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to %s failed: status %d: %s", e.Server, e.Status, e.Body)
}

// Signer signs authorization events.
type Signer interface {
	Sign(evt *nostr.Event) error
}

// UploadResult is the outcome of one upload. Sent is zero when the server
// already had the blob.
type UploadResult struct {
	Blob models.BlobDescriptor
	Sent int64
}

// ContentStore is the set of blob server operations the service uses.
type ContentStore interface {
	UploadFile(ctx context.Context, server, path, mimeType, name, hash string, onProgress ProgressFunc) (*UploadResult, error)
	ListBlobs(ctx context.Context, server, pubkey string) ([]models.BlobDescriptor, error)
	DeleteBlob(ctx context.Context, server, hash string) error
	DownloadBlob(ctx context.Context, servers []string, hash, dir, name string) (string, error)
}

// Client implements ContentStore over HTTP.
type Client struct {
	signer           Signer
	client           *http.Client
	progressInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithProgressInterval sets how often upload progress is sampled.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Client) { c.progressInterval = d }
}

// NewClient creates a Client that signs authorization events with signer.
func NewClient(signer Signer, opts ...Option) *Client {
	c := &Client{
		signer:           signer,
		client:           &http.Client{},
		progressInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadFile uploads the file at path to server. An empty hash is computed
// from the file. When the server already holds the blob nothing is sent.
func (c *Client) UploadFile(ctx context.Context, server, path, mimeType, name, hash string, onProgress ProgressFunc) (*UploadResult, error) {
	server = strings.TrimRight(server, "/")

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload file: %w", err)
	}
	size := stat.Size()

	if hash == "" {
		hash, _, err = media.SHA256File(path)
		if err != nil {
			return nil, err
		}
	}

	if c.exists(ctx, server, hash) {
		return &UploadResult{Blob: models.BlobDescriptor{
			URL:     server + "/" + hash,
			SHA256:  hash,
			Size:    size,
			Type:    mimeType,
			Created: time.Now().Unix(),
		}}, nil
	}

	auth, err := c.authToken("upload", "Upload "+name,
		nostr.Tag{"x", hash},
		nostr.Tag{"size", strconv.FormatInt(size, 10)},
		nostr.Tag{"name", name},
	)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	body := newProgressReader(f, size, c.progressInterval, onProgress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, server+"/upload", body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", auth)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &UploadError{Server: server, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var blob models.BlobDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&blob); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	if blob.SHA256 == "" {
		blob.SHA256 = hash
	}
	if blob.URL == "" {
		blob.URL = server + "/" + hash
	}
	return &UploadResult{Blob: blob, Sent: body.sent}, nil
}

func (c *Client) exists(ctx context.Context, server, hash string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, server+"/"+hash, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListBlobs returns the blobs server holds for pubkey.
func (c *Client) ListBlobs(ctx context.Context, server, pubkey string) ([]models.BlobDescriptor, error) {
	server = strings.TrimRight(server, "/")

	auth, err := c.authToken("list", "List Blobs")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/list/"+pubkey, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list %s: status %d", ErrRequestFailed, server, resp.StatusCode)
	}

	blobs := []models.BlobDescriptor{}
	if err := json.NewDecoder(resp.Body).Decode(&blobs); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}
	return blobs, nil
}

// DeleteBlob removes hash from server.
func (c *Client) DeleteBlob(ctx context.Context, server, hash string) error {
	server = strings.TrimRight(server, "/")

	auth, err := c.authToken("delete", "Delete Blob", nostr.Tag{"x", hash})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, server+"/"+hash, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: delete %s from %s: status %d", ErrRequestFailed, hash, server, resp.StatusCode)
	}
	return nil
}

// DownloadBlob fetches hash from the first server that has it and writes it
// to dir as name. When the served content type disagrees with name's
// extension the extension is replaced. The content is verified against hash
// before the file is kept.
func (c *Client) DownloadBlob(ctx context.Context, servers []string, hash, dir, name string) (string, error) {
	var errs []error
	for _, server := range servers {
		path, err := c.download(ctx, strings.TrimRight(server, "/"), hash, dir, name)
		if err == nil {
			return path, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w: %s: %w", ErrBlobNotFound, hash, errors.Join(errs...))
}

func (c *Client) download(ctx context.Context, server, hash, dir, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/"+hash, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: get %s from %s: status %d", ErrRequestFailed, hash, server, resp.StatusCode)
	}

	if ext := media.ExtensionForMime(resp.Header.Get("Content-Type")); ext != "" &&
		media.MimeTypeByPath(name) != media.MimeTypeByPath(ext) {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("download %s from %s: %w", hash, server, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, hash) {
		os.Remove(path)
		return "", fmt.Errorf("%w: %s from %s is %s", ErrHashMismatch, hash, server, got)
	}
	return path, nil
}

// authToken signs a kind 24242 event for action and returns the value of
// the Authorization header.
func (c *Client) authToken(action, content string, tags ...nostr.Tag) (string, error) {
	evt := &nostr.Event{
		Kind:      AuthKind,
		CreatedAt: nostr.Now(),
		Content:   content,
		Tags:      nostr.Tags{{"t", action}},
	}
	evt.Tags = append(evt.Tags, tags...)
	evt.Tags = append(evt.Tags, nostr.Tag{"expiration", strconv.FormatInt(time.Now().Add(authValidity).Unix(), 10)})

	if err := c.signer.Sign(evt); err != nil {
		return "", fmt.Errorf("sign auth event: %w", err)
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("encode auth event: %w", err)
	}
	return "Nostr " + base64.StdEncoding.EncodeToString(raw), nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
}

// Compile-time check that Client implements ContentStore.
var _ ContentStore = (*Client)(nil)
