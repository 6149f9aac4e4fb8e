package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"

	"github.com/kmarat/filedrop/internal/blob"
	"github.com/kmarat/filedrop/internal/config"
	"github.com/kmarat/filedrop/internal/file"
	"github.com/kmarat/filedrop/internal/logger"
	"github.com/kmarat/filedrop/internal/quota"
	"github.com/kmarat/filedrop/internal/server"
	"github.com/kmarat/filedrop/internal/storage"
	"github.com/kmarat/filedrop/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	log := logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer dbPool.Close()

	if err := storage.EnsureSchema(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	var (
		blobStore   blob.Store
		minioClient *minio.Client
	)
	switch cfg.Storage.Backend {
	case config.BackendMinIO:
		minioClient, err = storage.NewObjectStore(ctx, cfg.Storage.MinIO)
		if err != nil {
			log.Fatal().Err(err).Msg("prepare object store")
		}
		blobStore = blob.NewMinIOStore(minioClient, cfg.Storage.MinIO.Bucket)
	default:
		blobStore, err = blob.NewDiskStore(cfg.Storage.UploadDir)
		if err != nil {
			log.Fatal().Err(err).Msg("prepare upload directory")
		}
	}

	quotaRepo := quota.NewRepository(dbPool)
	quotaTracker := quota.NewTracker(quotaRepo, cfg.Limits.MaxQuotaBytes, cfg.Limits.MaxQuotaFiles, log)

	fileRepo := file.NewRepository(dbPool)
	fileService := file.NewService(fileRepo, blobStore, quotaTracker, file.Policy{
		MaxUploadBytes:     cfg.Limits.MaxUploadBytes,
		DefaultExpiry:      cfg.Limits.DefaultExpiry,
		MaxExpiry:          cfg.Limits.MaxExpiry,
		DefaultAccessLimit: cfg.Limits.DefaultAccessLimit,
		MaxAccessLimit:     cfg.Limits.MaxAccessLimit,
	}, log)

	sweeper := sweep.New(fileRepo, blobStore, cfg.Sweep.Interval, log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	router := server.NewRouter(server.Dependencies{
		Config:      cfg,
		DB:          dbPool,
		ObjectStore: minioClient,
		FileService: fileService,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address()).Msg("filedrop API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
