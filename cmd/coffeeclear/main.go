package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"CoffeeClear/internal/auth"
	"CoffeeClear/internal/config"
	"CoffeeClear/internal/core"
	"CoffeeClear/internal/ingestion"
	"CoffeeClear/internal/observability"
	"CoffeeClear/internal/persistence"
	"CoffeeClear/internal/projection"
	"CoffeeClear/internal/query"
	"CoffeeClear/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("COFFEE_CONFIG"), "path to TOML config file")
	flag.Parse()

	log := observability.NewLogger("main")
	log.Info().Msg("coffeeclear starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeSec) * time.Second)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Persistence.MigrationsDir, observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Resume the sequence counter from the durable log ---
	recovery := persistence.NewRecoveryReader(db)
	startSequence := int64(0)
	head, err := recovery.LoadChainHead(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load chain head")
	}
	if head != nil {
		startSequence = head.Sequence + 1
		log.Info().
			Int64("sequence", head.Sequence).
			Str("event_type", head.EventType).
			Str("state_hash", persistence.HashHex(head.StateHash)).
			Msg("resuming after persisted chain head")
	} else {
		log.Info().Msg("empty event log, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks the engine when full; the publish channel
	// never does, the engine drops and counts instead.
	persistChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	publishChan := make(chan core.CoreOutput, cfg.Engine.PublishChanSize)
	natsPubChan := make(chan core.CoreOutput, cfg.Engine.PublishChanSize)
	projChan := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)
	commandChan := make(chan ingestion.RawCommand, cfg.Engine.CommandChanSize)

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Engine ---
	policy := core.ShortfallReject
	if cfg.Engine.ShortfallPolicy == "draw" {
		policy = core.ShortfallDraw
	}

	engine := core.NewClearingEngine(
		core.Config{
			StartSequence:   startSequence,
			ShortfallPolicy: policy,
			DedupCapacity:   cfg.Engine.DedupCapacity,
		},
		persistChan,
		publishChan,
		persistence.NewPostgresIdempotencyChecker(db),
		auth.NewKeyEquality(),
		metrics,
	)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, observability.NewLogger("nats")); err != nil {
		log.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, observability.NewLogger("nats")); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	subscriber := ingestion.NewNATSSubscriber(js, commandChan, observability.NewLogger("subscriber"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}
	defer subscriber.Stop()

	dispatcher := ingestion.NewDispatcher(engine, commandChan, metrics, observability.NewLogger("dispatcher"))
	publisher := ingestion.NewOutboundPublisher(js, natsPubChan, observability.NewLogger("publisher"))

	// --- Workers ---
	persistWorker := persistence.NewWorker(
		db, persistChan,
		cfg.Persistence.BatchSize,
		time.Duration(cfg.Persistence.FlushTimeoutMS)*time.Millisecond,
		metrics,
		observability.NewLogger("persistence"),
	)
	projWorker := projection.NewWorker(db, projChan, observability.NewLogger("projection"))

	// --- HTTP API ---
	queries := query.NewQueryService(db)
	httpServer := server.New(cfg.HTTP.Addr, engine, queries, health, metrics, observability.NewLogger("http"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return persistWorker.Run(gctx) })
	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return httpServer.Start(gctx) })

	// Fan outbound engine outputs to the NATS publisher and the projection
	// worker. Both sides are lossy on overflow, same as the engine's own
	// publish path.
	g.Go(func() error {
		return fanOutPublished(gctx, publishChan, natsPubChan, projChan, metrics)
	})

	// Channel depth gauges for dashboards.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				metrics.SetChannelMetrics("projection", len(projChan), cap(projChan))
				metrics.SetChannelMetrics("command", len(commandChan), cap(commandChan))
			}
		}
	})

	health.SetReady(true)
	log.Info().
		Int64("start_sequence", startSequence).
		Str("http_addr", cfg.HTTP.Addr).
		Str("shortfall_policy", cfg.Engine.ShortfallPolicy).
		Msg("coffeeclear ready")

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("shutting down after failure")
	}

	health.SetReady(false)
	log.Info().Msg("coffeeclear shutdown complete")
}

// fanOutPublished copies each published output to the NATS publisher and
// the projection worker without ever blocking.
func fanOutPublished(
	ctx context.Context,
	in <-chan core.CoreOutput,
	natsOut, projOut chan<- core.CoreOutput,
	metrics *observability.Metrics,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case output, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case natsOut <- output:
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}
			select {
			case projOut <- output:
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}
		}
	}
}
