// Package main wires together the indexing service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/api"
	"github.com/launchindex/indexer/internal/channel"
	"github.com/launchindex/indexer/internal/clock/system"
	"github.com/launchindex/indexer/internal/config"
	"github.com/launchindex/indexer/internal/credential"
	"github.com/launchindex/indexer/internal/dispatch"
	"github.com/launchindex/indexer/internal/export"
	"github.com/launchindex/indexer/internal/id/uuid"
	"github.com/launchindex/indexer/internal/indexer"
	"github.com/launchindex/indexer/internal/logging"
	"github.com/launchindex/indexer/internal/metrics"
	pubsubpublisher "github.com/launchindex/indexer/internal/publisher/pubsub"
	queuememory "github.com/launchindex/indexer/internal/queue/memory"
	queueredis "github.com/launchindex/indexer/internal/queue/redis"
	"github.com/launchindex/indexer/internal/sched"
	storememory "github.com/launchindex/indexer/internal/store/memory"
	storepostgres "github.com/launchindex/indexer/internal/store/postgres"
	storagegcs "github.com/launchindex/indexer/internal/storage/gcs"
	storagelocal "github.com/launchindex/indexer/internal/storage/local"
	storagememory "github.com/launchindex/indexer/internal/storage/memory"
	"github.com/launchindex/indexer/internal/verify"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	store, closeStore, err := buildStore(ctx, cfg, clock, idGen, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	queue, locker := buildQueue(cfg, clock, logger)
	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	registry := buildRegistry(cfg, blobs, clock)
	pool := credential.NewPool(store, logger.Named("credentials"))

	settings := verify.NewSettings(verify.SettingsValues{
		CustomSearchAPIKey: cfg.Verify.CustomSearchAPIKey,
		CustomSearchCSEID:  cfg.Verify.CustomSearchCSEID,
		DefaultGSCProperty: cfg.Verify.DefaultGSCProperty,
	})
	factory := verify.NewFactory(store, settings, logger.Named("verify"))

	notificationTopic := cfg.Verify.NotificationTopic
	if notificationTopic == "" {
		notificationTopic = cfg.PubSub.TopicName
	}

	var publisher indexer.Publisher
	if cfg.Verify.NotificationEnabled && cfg.PubSub.ProjectID != "" {
		ps, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		publisher = ps
	}

	poller := verify.NewPoller(verify.Config{
		CheckTimeout:        cfg.Verify.CheckTimeout,
		FreshWindow:         cfg.Verify.FreshWindow,
		RecheckHoldoff:      cfg.Verify.RecheckHoldoff,
		VerificationWindow:  cfg.Verify.VerificationWindow,
		SweepBatchSize:      cfg.Verify.SweepBatchSize,
		NotificationTopic:   notificationTopic,
		NotificationEnabled: cfg.Verify.NotificationEnabled,
	}, store, factory, publisher, clock, logger.Named("verify"))

	// The pre-check needs a project-independent source, so it runs on the
	// custom-search fallback only.
	var preChecker indexer.Checker
	if cfg.Dispatch.PreCheck {
		preChecker = verify.NewChain(logger.Named("precheck"), verify.NewSettingsCustomSearch(settings))
	}
	dispatcher := dispatch.New(dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		BatchSize:      cfg.Dispatch.BatchSize,
		LockTTL:        cfg.Dispatch.LockTTL,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		RetryBase:      cfg.Dispatch.RetryBase,
		RetryMax:       cfg.Dispatch.RetryMax,
		ChannelTimeout: cfg.Dispatch.ChannelTimeout,
		PreCheck:       cfg.Dispatch.PreCheck,
	}, store, queue, registry, pool, locker, preChecker, clock, logger.Named("dispatch"))

	scheduler, err := sched.New(sched.Config{
		QuotaReset:    cfg.Scheduler.QuotaReset,
		ProcessQueue:  cfg.Scheduler.ProcessQueue,
		SweepPending:  cfg.Scheduler.SweepPending,
		FreshCheck:    cfg.Scheduler.FreshCheck,
		StagedCheck:   cfg.Scheduler.StagedCheck,
		RecreditSweep: cfg.Scheduler.RecreditSweep,
	}, dispatcher, poller, pool, clock, logger.Named("sched"))
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	exporter := export.New(store, blobs, clock, logger.Named("export"))
	tester := credential.NewTester()
	apiServer := api.NewServer(store, queue, poller, tester, exporter,
		settings, idGen, clock, logger.Named("api"), cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler.Start()
	logger.Info("scheduler started")

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config, clock indexer.Clock,
	idGen indexer.IDGenerator, logger *zap.Logger) (indexer.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, using in-memory store")
		return storememory.New(clock, idGen), func() {}, nil
	}
	pg, err := storepostgres.New(ctx, storepostgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	}, clock, idGen)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pg, pg.Close, nil
}

func buildQueue(cfg config.Config, clock indexer.Clock, logger *zap.Logger) (indexer.TaskQueue, indexer.Locker) {
	if cfg.Redis.Addr == "" {
		logger.Warn("redis.addr not set, using in-memory queue")
		return queuememory.NewQueue(clock), queuememory.NewLocker(clock)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return queueredis.NewQueue(client, "submissions"), queueredis.NewLocker(client)
}

func buildBlobStore(ctx context.Context, cfg config.Config) (indexer.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storagegcs.New(client, storagegcs.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
	case "local":
		return storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return storagememory.NewBlobStore(), nil
	}
}

func buildRegistry(cfg config.Config, blobs indexer.BlobStore, clock indexer.Clock) *channel.Registry {
	registry := channel.NewRegistry(cfg.Channels.CooldownPerDomain, cfg.Channels.CooldownBurst)
	registry.Register(channel.NewIndexNow(cfg.Channels.IndexNowEndpoint, cfg.Channels.IndexNowKey, nil))
	registry.Register(channel.NewPingomatic(cfg.Channels.PingomaticEndpoint, nil))
	registry.Register(channel.NewWebSub(cfg.Channels.WebSubHub, nil))
	registry.Register(channel.NewArchive(cfg.Channels.ArchiveEndpoint, nil))
	if cfg.Channels.SitemapEnabled {
		registry.Register(channel.NewSitemap(blobs, cfg.Channels.SitemapBaseURL,
			cfg.Channels.SitemapPingEndpoint, nil, clock))
	}
	if !cfg.Channels.IndexingAPIDisabled {
		registry.Register(channel.NewIndexingAPI())
	}
	return registry
}
