// Package main is the entrypoint for the vidvault server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/vidvault/internal/api"
	apihandler "github.com/kiranshivaraju/vidvault/internal/api/handler"
	mw "github.com/kiranshivaraju/vidvault/internal/api/middleware"
	"github.com/kiranshivaraju/vidvault/internal/blossom"
	"github.com/kiranshivaraju/vidvault/internal/cache"
	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/internal/downloader"
	"github.com/kiranshivaraju/vidvault/internal/dvm"
	"github.com/kiranshivaraju/vidvault/internal/handler"
	"github.com/kiranshivaraju/vidvault/internal/logging"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/internal/metrics"
	"github.com/kiranshivaraju/vidvault/internal/queue"
	"github.com/kiranshivaraju/vidvault/internal/relay"
	"github.com/kiranshivaraju/vidvault/internal/retention"
	"github.com/kiranshivaraju/vidvault/internal/signer"
	"github.com/kiranshivaraju/vidvault/internal/store"
	"github.com/nbd-wtf/go-nostr"
	"github.com/robfig/cron/v3"
)

const (
	shutdownTimeout  = 30 * time.Second
	fetchTimeout     = 10 * time.Second
	memoryCacheLimit = 100_000
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format))
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"relays", len(cfg.Nostr.Relays),
		"upload_servers", len(cfg.Blossom.UploadServers),
		"mirror", cfg.Mirror.Enabled,
		"secret", cfg.Nostr.Secret,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Cache: Redis when configured, process memory otherwise
	c, err := newCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer c.Close()

	// 5. Identity and Nostr plumbing
	sign, err := signer.New(cfg.Nostr.PrivateKey)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}
	slog.Info("service identity", "pubkey", sign.PublicKey())

	nostrPool := nostr.NewSimplePool(ctx)
	publisher := dvm.NewPublisher(sign, dvm.NewPoolTransport(nostrPool), cfg.Nostr.Relays,
		dvm.WithSecret(cfg.Nostr.Secret),
		dvm.WithResultHook(func(r dvm.PublishResult) {
			if r.Err != nil {
				metrics.PublishFailures.WithLabelValues(r.Relay).Inc()
			}
		}),
	)

	// 6. Domain service
	pgStore := store.NewPostgresStore(pool)
	blobs := blossom.NewClient(sign)
	svc := handler.NewService(handler.Deps{
		Store:      pgStore,
		Blobs:      blobs,
		Publisher:  publisher,
		Downloader: downloader.NewYtDlp(downloader.NewCommandRunner(), cfg.Media.YtDlpPath, cfg.Media.TempPath),
		Importer:   media.NewImporter(cfg.Media.Stores, cfg.Media.TargetStore),
		Fetcher:    relay.NewFetcher(nostrPool, cfg.Nostr.AllRelays(), fetchTimeout),
		Keys:       sign,
	}, serviceConfig(cfg))

	// 7. Background workers
	relays := relay.NewManager(relay.NewPoolDialer(nostrPool), c, cfg.Nostr.AllRelays(),
		subscriptionKinds(cfg), svc.HandleEvent,
		relay.WithInterval(cfg.Intervals.RelayEnsure),
	)
	scheduler := queue.NewScheduler(pgStore, svc, c,
		queue.WithInterval(cfg.Queue.PollInterval),
		queue.WithBatchSize(cfg.Queue.BatchSize),
	)
	sweeper := retention.NewSweeper(blobs, sign.PublicKey(), cfg.Blossom.UploadServers, cfg.Blossom.CleanupMimeType)

	maintenance := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := scheduleMaintenance(ctx, maintenance, cfg, sweeper, scheduler); err != nil {
		return err
	}
	maintenance.Start()
	defer maintenance.Stop()

	go relays.Run(ctx)
	go scheduler.Run(ctx)
	go sweeper.Sweep(ctx)

	// 8. Admin API
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(cfg.Admin.TokenHash),
		RateLimit: mw.NewRateLimit(c, cfg.Admin.RequestsPerMinute),

		HealthHandler: apihandler.NewHealthHandler(map[string]apihandler.Pinger{
			"database": pgStore,
			"cache":    c,
		}),
		MetricsHandler: metrics.Handler(),

		CreateJob: apihandler.NewCreateJobHandler(pgStore),
		ListJobs:  apihandler.NewListJobsHandler(pgStore),
		GetJob:    apihandler.NewGetJobHandler(pgStore),
		PurgeJobs: apihandler.NewPurgeJobsHandler(pgStore),
	})
	if cfg.Admin.TokenHash == "" {
		slog.Warn("ADMIN_TOKEN_HASH not set, job endpoints are disabled")
	}

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	relays.Close()

	slog.Info("server stopped gracefully")
	return nil
}

// newCache connects to Redis when a URL is configured and falls back to an
// in-process cache otherwise.
func newCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, error) {
	if cfg.URL == "" {
		slog.Info("REDIS_URL not set, using in-memory cache")
		return cache.NewMemoryCache(memoryCacheLimit), nil
	}

	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rc, nil
}

func serviceConfig(cfg *config.Config) handler.Config {
	return handler.Config{
		UploadServers:    cfg.Blossom.UploadURLs(),
		ThumbnailServers: cfg.Blossom.ThumbnailServers,
		Stores:           cfg.Media.Stores,
		TempPath:         cfg.Media.TempPath,
		DownloadEnabled:  cfg.Media.DownloadEnabled,
		MirrorEnabled:    cfg.Mirror.Enabled,
		MirrorMatch:      cfg.Mirror.Match,
		PublishVideos:    len(cfg.Blossom.ThumbnailServers) > 0,
	}
}

// subscriptionKinds lists the event kinds to subscribe to: job requests
// always, published videos only when mirroring.
func subscriptionKinds(cfg *config.Config) []int {
	kinds := append([]int{}, dvm.RequestKinds...)
	if cfg.Mirror.Enabled {
		kinds = append(kinds, dvm.VideoKinds...)
	}
	return kinds
}

type sweepRunner interface {
	Sweep(ctx context.Context) []retention.Report
}

type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// scheduleMaintenance registers the retention sweep and the completed job
// purge on c.
func scheduleMaintenance(ctx context.Context, c *cron.Cron, cfg *config.Config, sweeper sweepRunner, jobs purger) error {
	if _, err := c.AddFunc(every(cfg.Intervals.Retention), func() {
		sweeper.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}

	if _, err := c.AddFunc(every(cfg.Queue.PurgeInterval), func() {
		if _, err := jobs.Purge(ctx); err != nil {
			slog.Error("purge completed jobs", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule purge: %w", err)
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
