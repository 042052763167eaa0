package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/classifieds-messaging/internal/config"
	"github.com/shinyyama/classifieds-messaging/internal/db"
	"github.com/shinyyama/classifieds-messaging/internal/logging"
	"github.com/shinyyama/classifieds-messaging/internal/server"
	"github.com/shinyyama/classifieds-messaging/internal/storage"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, zap.String("git_sha", cfg.GitSHA))
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	thumbnails, closeThumbnails, err := newThumbnailResolver(ctx, cfg)
	if err != nil {
		logger.Fatal("thumbnail resolver init", zap.Error(err))
	}
	defer closeThumbnails()

	srv, err := server.New(ctx, cfg, nil, thumbnails, logger)
	if err != nil {
		logger.Fatal("server init", zap.Error(err))
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		errCh <- srv.Start(addr)
	}()

	// The listener comes up first so health checks pass while the database
	// is still being reached.
	go func() {
		conn, err := db.Connect(cfg)
		if err != nil {
			logger.Error("db connect", zap.Error(err))
			return
		}
		if err := db.Migrate(conn); err != nil {
			logger.Error("auto migrate", zap.Error(err))
			return
		}
		srv.SetDB(conn)
		logger.Info("database ready", zap.String("driver", cfg.DBDriver))
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}
}

func newThumbnailResolver(ctx context.Context, cfg *config.Config) (storage.ThumbnailResolver, func(), error) {
	if cfg.StorageBucket == "" {
		return storage.StaticResolver{BaseURL: cfg.StoragePublicBaseURL}, func() {}, nil
	}
	r, err := storage.NewGCSResolver(ctx, cfg.StorageBucket, cfg.CredentialsFile, cfg.ThumbnailURLTTL)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}
