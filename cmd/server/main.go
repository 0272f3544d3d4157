// Command server runs the femtoserve HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/api"
	"github.com/femtoserve/femtoserve/internal/config"
	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/events"
	"github.com/femtoserve/femtoserve/internal/identity"
	"github.com/femtoserve/femtoserve/internal/ingest"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
	"github.com/femtoserve/femtoserve/internal/quota"
	"github.com/femtoserve/femtoserve/internal/repository/memory"
	"github.com/femtoserve/femtoserve/internal/repository/mongo"
	"github.com/femtoserve/femtoserve/internal/repository/postgres"
	"github.com/femtoserve/femtoserve/internal/shortlink"
	"github.com/femtoserve/femtoserve/internal/storage"
	"github.com/femtoserve/femtoserve/internal/storage/local"
	"github.com/femtoserve/femtoserve/internal/storage/minio"
	s3storage "github.com/femtoserve/femtoserve/internal/storage/s3"
	"github.com/femtoserve/femtoserve/internal/thumbnail"
	"github.com/femtoserve/femtoserve/internal/variant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("femtoserve starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("item_store", cfg.ItemStore),
		zap.Strings("storage", cfg.StorageKinds()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]api.HealthCheck{}

	// Blob storage
	blobs := storage.NewRegistry(cfg.StorageBackend)
	for _, kind := range cfg.StorageKinds() {
		raw, err := backendConfig(cfg, kind)
		if err != nil {
			logging.Fatal("storage config failed", zap.String("kind", kind), zap.Error(err))
		}
		backend, err := storage.NewBackendFromConfig(ctx, kind, raw)
		if err != nil {
			logging.Fatal("storage backend init failed", zap.String("kind", kind), zap.Error(err))
		}
		blobs.Register(backend)
		logging.Info("storage backend registered", zap.String("kind", kind))
	}
	defer blobs.Close()

	// Item records
	repo, closeRepo, err := openRepository(ctx, cfg, checks)
	if err != nil {
		logging.Fatal("item store init failed", zap.String("store", cfg.ItemStore), zap.Error(err))
	}
	defer closeRepo()

	// Short links
	var links shortlink.Store
	if cfg.RedisAddr != "" {
		logging.Info("connecting to Redis...", zap.String("addr", cfg.RedisAddr))
		redisLinks, err := shortlink.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logging.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisLinks.Close()
		checks["redis"] = redisLinks.Ping
		links = redisLinks
	} else {
		logging.Warn("REDIS_ADDR not set, short links are kept in memory")
		links = shortlink.NewMemoryStore()
	}

	lib := content.NewLibrary(repo, blobs, cfg.ThumbBucket)

	thumbs, err := thumbnail.NewService(cfg.ThumbCacheSize)
	if err != nil {
		logging.Fatal("thumbnail service init failed", zap.Error(err))
	}
	shooter := thumbnail.NewBrowserScreenshotter(cfg.ThumbCaptureTimeout, cfg.ChromePath)

	deps := variant.Deps{
		Thumbs:        thumbs,
		WarnUnscanned: cfg.VirusWarnMode(),
		URLs:          thumbnail.NewURLRenderer(shooter),
	}
	variants := variant.NewRegistry(
		variant.NewBase(deps),
		variant.NewImage(deps),
		variant.NewURL(deps),
	)

	if cfg.JWTSecret == "" {
		logging.Warn("JWT_SECRET not set, all requests are anonymous and uploads are disabled")
	}
	rateLimiter := quota.NewRateLimiter(cfg.WriteRateLimit)
	broadcaster := events.NewBroadcaster()

	srv := api.NewServer(api.Options{
		Library:       lib,
		Variants:      variants,
		Links:         links,
		Ingest:        ingest.New(lib, variants, cfg.ItemBucket),
		Verifier:      identity.NewVerifier(cfg.JWTSecret),
		Broadcaster:   broadcaster,
		RateLimiter:   rateLimiter,
		MaxUploadSize: cfg.MaxUploadSize,
		Checks:        checks,
	})

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("graceful shutdown incomplete", zap.Error(err))
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup(24 * time.Hour)
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

// openRepository connects the configured item store and registers its
// health check.
func openRepository(ctx context.Context, cfg *config.Config, checks map[string]api.HealthCheck) (content.Repository, func(), error) {
	switch cfg.ItemStore {
	case config.ItemStorePostgres:
		logging.Info("connecting to PostgreSQL and running migrations...")
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		checks["postgres"] = store.Ping
		return store, func() { store.Close() }, nil

	case config.ItemStoreMongo:
		logging.Info("connecting to MongoDB...", zap.String("database", cfg.MongoDatabase))
		store, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		checks["mongo"] = store.Ping
		return store, func() { store.Close() }, nil

	default:
		logging.Warn("using in-memory item store, items are lost on restart")
		return memory.New(), func() {}, nil
	}
}

// backendConfig builds the JSON config for a storage backend kind from the
// environment settings.
func backendConfig(cfg *config.Config, kind string) (json.RawMessage, error) {
	buckets := []string{cfg.ItemBucket}
	if cfg.ThumbBucket != cfg.ItemBucket {
		buckets = append(buckets, cfg.ThumbBucket)
	}

	var v any
	switch kind {
	case storage.KindLocal:
		v = local.Config{
			RootPath:   cfg.LocalStoragePath,
			CreateDirs: true,
		}
	case storage.KindS3:
		v = s3storage.BackendConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Buckets:   buckets,
		}
	case storage.KindMinio:
		v = minio.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
			Buckets:   buckets,
		}
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnsupportedBackend, kind)
	}
	return json.Marshal(v)
}
