package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Config holds all configuration for the vidvault server.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Nostr     NostrConfig
	Blossom   BlossomConfig
	Media     MediaConfig
	Mirror    MirrorConfig
	Queue     QueueConfig
	Admin     AdminConfig
	Intervals IntervalConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional. With an empty URL the process keeps its caches in memory.
type RedisConfig struct {
	URL string
}

type NostrConfig struct {
	// PrivateKey is always hex after Load, even when configured as nsec.
	PrivateKey  string
	Relays      []string
	FetchRelays []string
	Secret      bool
}

// AllRelays returns the publish relays followed by any fetch-only relays.
func (n NostrConfig) AllRelays() []string {
	return MergeServers(n.Relays, n.FetchRelays)
}

type BlossomConfig struct {
	UploadServers    []ServerPolicy
	ThumbnailServers []string
	CleanupMimeType  string
}

// UploadURLs returns the upload server URLs in configured order.
func (b BlossomConfig) UploadURLs() []string {
	urls := make([]string, 0, len(b.UploadServers))
	for _, s := range b.UploadServers {
		urls = append(urls, s.URL)
	}
	return urls
}

// PolicyFor returns the retention policy of the upload server matching url.
func (b BlossomConfig) PolicyFor(url string) (ServerPolicy, bool) {
	for _, s := range b.UploadServers {
		if strings.EqualFold(s.URL, strings.TrimSuffix(url, "/")) {
			return s, true
		}
	}
	return ServerPolicy{}, false
}

// ServerPolicy is a blob server plus its retention settings. A zero MaxAgeDays
// disables the retention sweep for that server.
type ServerPolicy struct {
	URL         string
	MaxAgeDays  int
	KeepUnderMB int
}

type MediaStore struct {
	ID   string
	Path string
}

type MediaConfig struct {
	Stores          []MediaStore
	TargetStore     string
	TempPath        string
	YtDlpPath       string
	DownloadEnabled bool
}

// Store returns the media store with the given id.
func (m MediaConfig) Store(id string) (MediaStore, bool) {
	for _, s := range m.Stores {
		if s.ID == id {
			return s, true
		}
	}
	return MediaStore{}, false
}

type MirrorConfig struct {
	Enabled bool
	Match   []*regexp.Regexp
}

type QueueConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	PurgeInterval time.Duration
}

type AdminConfig struct {
	TokenHash         string
	RequestsPerMinute int
}

type IntervalConfig struct {
	RelayEnsure time.Duration
	Retention   time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VIDVAULT_PORT", 8080),
			Env:  envString("VIDVAULT_ENV", "development"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Nostr: NostrConfig{
			PrivateKey:  os.Getenv("NOSTR_PRIVATE_KEY"),
			Relays:      MergeServers(envList("NOSTR_RELAYS")),
			FetchRelays: MergeServers(envList("NOSTR_FETCH_RELAYS")),
			Secret:      envBool("NOSTR_SECRET", false),
		},
		Blossom: BlossomConfig{
			ThumbnailServers: MergeServers(envList("BLOSSOM_THUMBNAIL_SERVERS")),
			CleanupMimeType:  envString("BLOSSOM_CLEANUP_MIME", "video/mp4"),
		},
		Media: MediaConfig{
			TargetStore:     os.Getenv("DOWNLOAD_TARGET_STORE"),
			TempPath:        envString("DOWNLOAD_TEMP_PATH", os.TempDir()),
			YtDlpPath:       envString("YTDLP_PATH", "yt-dlp"),
			DownloadEnabled: envBool("DOWNLOAD_ENABLED", true),
		},
		Mirror: MirrorConfig{
			Enabled: envBool("MIRROR_ENABLED", false),
		},
		Queue: QueueConfig{
			PollInterval:  envDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			BatchSize:     envInt("QUEUE_BATCH_SIZE", 100),
			PurgeInterval: envDuration("QUEUE_PURGE_INTERVAL", 24*time.Hour),
		},
		Admin: AdminConfig{
			TokenHash:         os.Getenv("ADMIN_TOKEN_HASH"),
			RequestsPerMinute: envInt("ADMIN_RATE_LIMIT", 60),
		},
		Intervals: IntervalConfig{
			RelayEnsure: envDuration("RELAY_ENSURE_INTERVAL", 30*time.Second),
			Retention:   envDuration("RETENTION_INTERVAL", time.Hour),
		},
	}

	servers, err := parseServerPolicies(envList("BLOSSOM_UPLOAD_SERVERS"))
	if err != nil {
		return nil, err
	}
	cfg.Blossom.UploadServers = servers

	stores, err := parseMediaStores(envList("MEDIA_STORES"))
	if err != nil {
		return nil, err
	}
	cfg.Media.Stores = stores

	for _, expr := range envList("MIRROR_MATCH") {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("MIRROR_MATCH: invalid expression %q: %w", expr, err)
		}
		cfg.Mirror.Match = append(cfg.Mirror.Match, re)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Nostr.PrivateKey == "" {
		return fmt.Errorf("NOSTR_PRIVATE_KEY is required")
	}
	sk, err := ParsePrivateKey(c.Nostr.PrivateKey)
	if err != nil {
		return fmt.Errorf("NOSTR_PRIVATE_KEY: %w", err)
	}
	c.Nostr.PrivateKey = sk

	if len(c.Nostr.Relays) == 0 {
		return fmt.Errorf("NOSTR_RELAYS is required")
	}
	for _, r := range c.Nostr.AllRelays() {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("relay URLs must start with ws:// or wss://, got %q", r)
		}
	}

	for _, s := range c.Blossom.UploadServers {
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return fmt.Errorf("BLOSSOM_UPLOAD_SERVERS must start with http:// or https://, got %q", s.URL)
		}
	}

	if c.Media.TargetStore != "" {
		if _, ok := c.Media.Store(c.Media.TargetStore); !ok {
			return fmt.Errorf("DOWNLOAD_TARGET_STORE %q is not one of MEDIA_STORES", c.Media.TargetStore)
		}
	} else if c.Media.DownloadEnabled || c.Mirror.Enabled {
		return fmt.Errorf("DOWNLOAD_TARGET_STORE is required when downloads or mirroring are enabled")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be positive")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be positive")
	}
	if c.Queue.PurgeInterval < time.Second {
		return fmt.Errorf("QUEUE_PURGE_INTERVAL must be at least 1s")
	}
	if c.Intervals.RelayEnsure <= 0 {
		return fmt.Errorf("RELAY_ENSURE_INTERVAL must be positive")
	}
	if c.Intervals.Retention < time.Second {
		return fmt.Errorf("RETENTION_INTERVAL must be at least 1s")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.Log.Format)
	}

	return nil
}

// ParsePrivateKey accepts a hex or nsec encoded secret key and returns it as hex.
func ParsePrivateKey(s string) (string, error) {
	if strings.HasPrefix(s, "nsec") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("expected nsec, got %s", prefix)
		}
		s = value.(string)
	}
	if !nostr.IsValid32ByteHex(s) {
		return "", fmt.Errorf("secret key must be 64 hex characters or nsec")
	}
	return s, nil
}

// MergeServers joins server lists, strips trailing slashes and drops
// case-insensitive duplicates. The first spelling of a URL wins.
func MergeServers(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimRight(strings.TrimSpace(s), "/")
			if s == "" {
				continue
			}
			key := strings.ToLower(s)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

// parseServerPolicies parses entries of the form url|maxAgeDays|keepUnderMB.
// The two policy fields are optional.
func parseServerPolicies(entries []string) ([]ServerPolicy, error) {
	var out []ServerPolicy
	seen := make(map[string]bool)
	for _, entry := range entries {
		parts := strings.Split(entry, "|")
		p := ServerPolicy{URL: strings.TrimRight(strings.TrimSpace(parts[0]), "/")}
		if p.URL == "" || seen[strings.ToLower(p.URL)] {
			continue
		}
		seen[strings.ToLower(p.URL)] = true

		if len(parts) > 1 && parts[1] != "" {
			days, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil || days < 0 {
				return nil, fmt.Errorf("BLOSSOM_UPLOAD_SERVERS: invalid max age in %q", entry)
			}
			p.MaxAgeDays = days
		}
		if len(parts) > 2 && parts[2] != "" {
			mb, err := strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil || mb < 0 {
				return nil, fmt.Errorf("BLOSSOM_UPLOAD_SERVERS: invalid size floor in %q", entry)
			}
			p.KeepUnderMB = mb
		}
		out = append(out, p)
	}
	return out, nil
}

// parseMediaStores parses entries of the form id=path.
func parseMediaStores(entries []string) ([]MediaStore, error) {
	var out []MediaStore
	for _, entry := range entries {
		id, path, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("MEDIA_STORES: expected id=path, got %q", entry)
		}
		out = append(out, MediaStore{ID: strings.TrimSpace(id), Path: strings.TrimSpace(path)})
	}
	return out, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
