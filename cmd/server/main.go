package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sashko-guz/ferry/internal/cache"
	"github.com/sashko-guz/ferry/internal/config"
	"github.com/sashko-guz/ferry/internal/fetch"
	"github.com/sashko-guz/ferry/internal/handler"
	"github.com/sashko-guz/ferry/internal/logger"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/sashko-guz/ferry/internal/storage/drivers"
	"github.com/sashko-guz/ferry/internal/transport"
	"github.com/sashko-guz/ferry/internal/upload"
)

func main() {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	log := logger.FromEnv()
	cfg := config.Load()

	if err := run(cfg, log); err != nil {
		log.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("starting upload server")

	storageCfg, err := loadStorageConfig(cfg.StorageConfigPath, log)
	if err != nil {
		return err
	}

	provider, err := drivers.New(storageCfg, log)
	if err != nil {
		log.Error("failed to initialize storage", slog.Any("config", storageCfg.Redacted()))
		return err
	}

	var fetchCache *cache.MemoryCache
	if cfg.FetchCacheBytes > 0 {
		fetchCache, err = cache.NewMemoryCache(cache.MemoryCacheConfig{
			Name:    "fetch",
			MaxSize: cfg.FetchCacheBytes,
			TTL:     cfg.FetchCacheTTL,
		}, log)
		if err != nil {
			return err
		}
		defer fetchCache.Close()
	}
	fetcher := fetch.New(transport.NewFetchClient(log), fetchCache, cfg.FetchCacheMaxItem, log)

	svc := upload.NewService(provider, fetcher, log)
	uploadHandler := handler.NewUploadHandler(svc, cfg.MaxUploadBytes, 0, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(uploadHandler, cfg.CORSOrigins, log),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", srv.Addr), slog.String("upload_type", string(provider.Type())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// loadStorageConfig reads the provider settings from a JSON file when a path
// is configured and from UPLOAD_* variables otherwise.
func loadStorageConfig(path string, log *slog.Logger) (storage.Config, error) {
	if path == "" {
		log.Info("storage config loaded from environment")
		return storage.ConfigFromEnv(), nil
	}

	cfg, err := storage.LoadConfig(path)
	if err != nil {
		return storage.Config{}, err
	}
	log.Info("storage config loaded", slog.String("path", path))
	return cfg, nil
}
