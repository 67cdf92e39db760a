package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/common/logger"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/config"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/httpapi"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/pinstore"

	"go.uber.org/zap"
)

const serviceName = "medvault-pinstore"

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openBackend(ctx, cfg.Pinstore)
	if err != nil {
		log.Fatal("failed to open pin backend", zap.String("backend", cfg.Pinstore.Backend), zap.Error(err))
	}
	defer backend.Close()
	log.Info("pin backend ready", zap.String("backend", cfg.Pinstore.Backend))

	auth := pinstore.NewAuthenticator(cfg.Pinstore.JWTSecret)
	if !auth.Enabled() {
		log.Warn("PINSTORE_JWT_SECRET not set, uploads are unauthenticated")
	}

	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes(serviceName)
	router.RegisterPinRoutes(httpapi.NewPinHandler(pinstore.NewService(backend, log), auth, cfg.Pinstore.MaxBodySize, log))

	srv := httpapi.NewServer(serviceName, cfg.Pinstore.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server stopped", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func openBackend(ctx context.Context, cfg config.PinstoreConfig) (pinstore.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return pinstore.NewMemoryBackend(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("PINSTORE_S3_BUCKET is required for the s3 backend")
		}
		client, err := pinstore.NewS3Client(ctx, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, err
		}
		return pinstore.NewS3Backend(client, cfg.S3Bucket, cfg.S3Prefix), nil
	case "leveldb", "":
		return pinstore.NewLevelDBBackend(cfg.LevelDBPath)
	}
	return nil, fmt.Errorf("unknown pin backend %q", cfg.Backend)
}
