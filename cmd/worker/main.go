package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/panierapp/api/internal/platform/config"
	pfirestore "github.com/panierapp/api/internal/platform/firestore"
	"github.com/panierapp/api/internal/platform/observability"
	platformstorage "github.com/panierapp/api/internal/platform/storage"
	firestoreRepo "github.com/panierapp/api/internal/repositories/firestore"
	"github.com/panierapp/api/internal/workers"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("worker")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	mirror, err := platformstorage.NewMirror(storageClient, cfg.Storage.AssetsBucket)
	if err != nil {
		logger.Fatal("failed to initialise image mirror", zap.Error(err))
	}
	copier, err := platformstorage.NewCopier(storageClient)
	if err != nil {
		logger.Fatal("failed to initialise storage copier", zap.Error(err))
	}

	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	worker, err := workers.New(workers.Deps{
		Mirror:       mirror,
		Copier:       copier,
		AssetsBucket: cfg.Storage.AssetsBucket,
		Carts:        cartRepo,
		Orders:       orderRepo,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise worker", zap.Error(err))
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := pubsubClient.Subscription(cfg.Jobs.TasksSubscription)
	logger.Info("worker consuming tasks",
		zap.String("subscription", cfg.Jobs.TasksSubscription))

	if err := worker.Run(runCtx, sub); err != nil && runCtx.Err() == nil {
		logger.Fatal("worker receive failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}
