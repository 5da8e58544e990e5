package main

import (
	"CoverLedger/internal/config"
	"CoverLedger/internal/core"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/query"
	"CoverLedger/internal/server"
	"CoverLedger/migrations"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	bootLogger := observability.NewLogger("coverledger")
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := observability.NewLoggerWithLevel("coverledger", observability.ParseLevel(cfg.LogLevel))
	logger.Info().Msg("CoverLedger starting")

	// --- Context with graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---
	db, err := persistence.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open database")
	}
	defer db.Close()
	logger.Info().Str("driver", db.Driver()).Msg("database connected")

	// --- Run SQL migrations ---
	var migrationFiles fs.FS = migrations.FS
	if cfg.Database.MigrationsDir != "" {
		migrationFiles = os.DirFS(cfg.Database.MigrationsDir)
	}
	applied, err := persistence.NewMigrator(db, migrationFiles, logger).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	store := persistence.NewCheckpointStore(db)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("database", db.PingContext)

	// --- Channels ---
	// persist blocks (backpressure), publish drops when full
	persistChan := make(chan core.Output, cfg.Engine.PersistChanSize)
	var publishChan chan core.Output
	if cfg.NATS.Enabled {
		publishChan = make(chan core.Output, cfg.Engine.PublishChanSize)
	}

	// --- Engine ---
	opts := core.Options{
		IdempotencyCacheSize: cfg.Engine.IdempotencyCacheSize,
		EnforcePayoutLimits:  cfg.Engine.EnforcePayoutLimits,
		DBChecker:            persistence.NewSQLIdempotencyChecker(db),
		Metrics:              metrics,
		Logger:               logger.With().Str("subsystem", "core").Logger(),
		PersistChan:          persistChan,
		PublishChan:          publishChan,
	}
	engine, err := core.NewEngine(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine")
	}
	healthChecker.ReportSequence(engine.GetSequence)

	// --- Recovery: checkpoint + replay ---
	recovery, err := persistence.Recover(ctx, store, engine, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}

	// --- LRU warming ---
	// The checkpoint carries the keys the cache held when it was taken;
	// topping up from the log covers a resized cache.
	keys, err := store.RecentIdempotencyKeys(ctx, cfg.Checkpoint.RetainKeys)
	if err != nil {
		logger.Warn().Err(err).Msg("load recent idempotency keys")
	}
	engine.WarmIdempotency(keys)

	// --- Workers ---
	persistWorker := persistence.NewPersistenceWorker(
		db, persistChan, cfg.Engine.PersistBatchSize, cfg.Engine.PersistFlushInterval,
		metrics, logger.With().Str("subsystem", "persistence").Logger(),
	)
	persistDone := make(chan error, 1)
	go func() {
		// Stops only when persistChan is closed so nothing the engine
		// committed is dropped on shutdown.
		persistDone <- persistWorker.Run(context.Background())
	}()

	if err := bootstrap(engine, cfg.Bootstrap, logger); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap")
	}

	// --- Servers ---
	srv, err := server.New(server.Addrs{
		GRPC:    cfg.Server.GRPCAddr,
		HTTP:    cfg.Server.HTTPAddr,
		Metrics: cfg.Server.MetricsAddr,
	}, server.Deps{
		Query:         query.NewQueryService(engine, db),
		Engine:        engine,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        logger.With().Str("subsystem", "server").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build servers")
	}

	// --- Start goroutines ---
	group, gctx := errgroup.WithContext(ctx)

	// 1. gRPC, 2. HTTP gateway, 3. metrics
	group.Go(func() error { return srv.StartGRPC(gctx) })
	group.Go(func() error { return srv.StartHTTP(gctx) })
	group.Go(func() error { return srv.StartMetrics(gctx) })

	// 4. NATS ingestion + audit publishing
	var subscriber *ingestion.NATSSubscriber
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, "coverledger", logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			logger.Fatal().Err(err).Msg("ensure NATS streams")
		}

		rawChan := make(chan ingestion.RawCommand, cfg.Engine.IngestChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, logger.With().Str("subsystem", "ingestion").Logger())
		if err := subscriber.Subscribe(gctx); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}

		processor := ingestion.NewProcessor(engine, rawChan, metrics, logger.With().Str("subsystem", "processor").Logger())
		publisher := ingestion.NewAuditPublisher(js, publishChan, metrics, logger.With().Str("subsystem", "publisher").Logger())
		group.Go(func() error { return processor.Run(gctx) })
		group.Go(func() error { return publisher.Run(gctx) })
	}

	// 5. Periodic checkpoints
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if cfg.Checkpoint.Schedule != "" {
		if _, err := scheduler.AddFunc(cfg.Checkpoint.Schedule, func() {
			if err := takeCheckpoint(gctx, engine, store, metrics); err != nil {
				logger.Warn().Err(err).Msg("periodic checkpoint skipped")
			}
		}); err != nil {
			logger.Fatal().Err(err).Msg("schedule checkpoints")
		}
		scheduler.Start()
	}

	// Mark service as ready after all goroutines started
	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("checkpoint_sequence", recovery.CheckpointSequence).
		Int("replayed", recovery.Replayed).
		Int64("next_sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Bool("nats", cfg.NATS.Enabled).
		Msg("CoverLedger ready")

	// --- Wait for shutdown signal or a failed goroutine ---
	<-gctx.Done()
	logger.Info().Msg("shutting down")
	healthChecker.SetReady(false)

	// --- Graceful shutdown ---
	// stop intake, drain persistence, take a final checkpoint
	if subscriber != nil {
		subscriber.Stop()
	}
	<-scheduler.Stop().Done()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("goroutine failed")
	}

	close(persistChan)
	if err := <-persistDone; err != nil {
		logger.Error().Err(err).Msg("persistence drain failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := takeCheckpoint(shutdownCtx, engine, store, metrics); err != nil {
		logger.Error().Err(err).Msg("final checkpoint failed")
	} else {
		logger.Info().Int64("sequence", engine.GetSequence()-1).Msg("final checkpoint saved")
	}

	logger.Info().Msg("CoverLedger shutdown complete")
}
