package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/loftdrive/loft/internal/auth"
	"github.com/loftdrive/loft/internal/blob"
	"github.com/loftdrive/loft/internal/bucket"
	"github.com/loftdrive/loft/internal/config"
	"github.com/loftdrive/loft/internal/event"
	"github.com/loftdrive/loft/internal/file"
	"github.com/loftdrive/loft/internal/logger"
	"github.com/loftdrive/loft/internal/outbox"
	"github.com/loftdrive/loft/internal/quota"
	"github.com/loftdrive/loft/internal/server"
	"github.com/loftdrive/loft/internal/storage"
)

// recoverySweepGrace keeps the sweep away from operations that may still be
// in flight on another instance.
const recoverySweepGrace = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	zl, err := logger.Init()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	cfg, err := config.Load()
	if err != nil {
		zl.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	minioClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		zl.Fatal("connect minio", zap.Error(err))
	}

	blobStore := blob.NewStore(minioClient, cfg.MinIO.PublicURLTTL)
	hub := event.NewHub()
	journal := outbox.NewJournal(dbPool)

	statsRepo := quota.NewRepository(dbPool)
	ledger := quota.NewLedger(statsRepo, cfg.Quota)

	bucketRepo := bucket.NewRepository(dbPool)
	fileRepo := file.NewRepository(dbPool)

	fileService := file.NewService(fileRepo, bucketRepo, blobStore, ledger, journal, hub, zl)
	bucketService := bucket.NewService(bucketRepo, blobStore, ledger, fileService, journal, hub, zl)

	authRepo := auth.NewRepository(dbPool)
	authService := auth.NewService(authRepo, ledger, cfg.Auth, zl)

	sweeper := outbox.NewSweeper(journal, zl)
	sweeper.Register(outbox.KindBucketCreate, bucketService.RecoverCreate)
	sweeper.Register(outbox.KindBucketDelete, bucketService.RecoverRemove)
	sweeper.Register(outbox.KindUpload, fileService.RecoverUpload)
	sweeper.Register(outbox.KindFileDelete, fileService.RecoverDelete)
	if err := sweeper.Sweep(ctx, recoverySweepGrace); err != nil {
		zl.Error("startup recovery sweep failed", zap.Error(err))
	}

	router := server.NewRouter(server.Dependencies{
		Config:        cfg,
		Log:           zl,
		DB:            dbPool,
		ObjectStore:   minioClient,
		AuthService:   authService,
		BucketService: bucketService,
		FileService:   fileService,
		Ledger:        ledger,
		Events:        hub,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zl.Info("loft api listening", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	zl.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}
