package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"poseidon/internal/adapters/backend"
	"poseidon/internal/adapters/config"
	"poseidon/internal/adapters/errors/noop"
	"poseidon/internal/adapters/errors/sentry"
	"poseidon/internal/adapters/kafka"
	"poseidon/internal/adapters/postgres"
	redisadapter "poseidon/internal/adapters/redis"
	"poseidon/internal/adapters/telegram"
	"poseidon/internal/api"
	"poseidon/internal/domain/rebalance"
	"poseidon/internal/events"
	"poseidon/internal/metrics"
	"poseidon/internal/rebalancer"
	repo "poseidon/internal/repository/postgres"
	"poseidon/pkg/errors"
	"poseidon/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks, closers, health := initSinks(ctx, cfg, log)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warnw("Failed to close adapter", "error", err)
			}
		}
	}()

	client := backend.NewClient(cfg.Backend)

	supervisor := rebalancer.NewSupervisor(client, orchestratorDefaults(cfg), sinks, cfg.Rebalancer.ShutdownTimeout)

	for _, id := range cfg.Rebalancer.PositionIDs {
		if err := supervisor.Start(ctx, id, nil); err != nil {
			log.Errorw("Failed to start supervision", "position_id", id, "error", err)
		}
	}

	if cfg.Redis.Enabled {
		redisClient, err := redisadapter.NewClient(cfg.Redis)
		if err != nil {
			log.Warnf("Failed to connect to Redis, status reporting disabled: %v", err)
		} else {
			closers = append(closers, redisClient.Close)
			health["redis"] = redisClient
			startStatusReporter(ctx, cfg, supervisor, redisClient, log)
		}
	}

	if cfg.Metrics.Enabled {
		startOpsServer(cfg, supervisor, sinks.Journal, health, log)
	}

	log.Infow("System initialized", "supervised_positions", supervisor.Count())

	waitForShutdown(ctx, cancel, supervisor, errorTracker, log)
}

// orchestratorDefaults maps env config onto the control-loop defaults.
func orchestratorDefaults(cfg *config.Config) rebalancer.OrchestratorConfig {
	return rebalancer.OrchestratorConfig{
		PollInterval:     cfg.Rebalancer.PollInterval,
		JournalSnapshots: cfg.Rebalancer.JournalSnapshots,
		Plan: rebalancer.PlanConfig{
			RebalanceDelay: cfg.Rebalancer.RebalanceDelay,
			ThresholdPct:   config.Decimal(cfg.Rebalancer.ThresholdPct),
			WidthPct:       config.Decimal(cfg.Rebalancer.WidthPct),
			WidthStepPct:   config.Decimal(cfg.Rebalancer.WidthStepPct),
			BuyPriceMin:    config.OptionalDecimal(cfg.Rebalancer.BuyPriceMin),
			BuyPriceMax:    config.OptionalDecimal(cfg.Rebalancer.BuyPriceMax),
			SellPriceMin:   config.OptionalDecimal(cfg.Rebalancer.SellPriceMin),
			SellPriceMax:   config.OptionalDecimal(cfg.Rebalancer.SellPriceMax),

			CloseBelowAfter: cfg.Rebalancer.CloseBelowAfter,
			CloseAboveAfter: cfg.Rebalancer.CloseAboveAfter,
			StrategyTag:     cfg.Rebalancer.StrategyTag,
		},
	}
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initSinks wires the optional journal, event stream, and operator alerts.
func initSinks(ctx context.Context, cfg *config.Config, log *logger.Logger) (rebalancer.Sinks, []func() error, map[string]api.HealthChecker) {
	var sinks rebalancer.Sinks
	var closers []func() error
	health := make(map[string]api.HealthChecker)

	if cfg.Postgres.Enabled {
		pg, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		closers = append(closers, pg.Close)
		health["postgres"] = pg

		journal := repo.NewRebalanceRepository(pg.DB())
		if err := journal.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure journal schema: %v", err)
		}
		sinks.Journal = journal
		log.Info("Rebalance journal enabled (PostgreSQL)")
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		closers = append(closers, producer.Close)

		sinks.Events = events.NewPublisher(producer, cfg.Kafka.Topic)
		log.Infow("Event stream enabled (Kafka)", "topic", cfg.Kafka.Topic)
	}

	if cfg.Telegram.Enabled {
		notifier, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs)
		if err != nil {
			log.Warnf("Failed to initialize Telegram notifier: %v", err)
		} else {
			sinks.Notifier = notifier
			log.Info("Operator alerts enabled (Telegram)")
		}
	}

	return sinks, closers, health
}

// startStatusReporter publishes supervisor status snapshots to Redis.
func startStatusReporter(ctx context.Context, cfg *config.Config, supervisor *rebalancer.Supervisor, client *redisadapter.Client, log *logger.Logger) {
	store := redisadapter.NewStatusStore(client, cfg.Redis.StatusTTL)
	reporter := rebalancer.NewStatusReporter(supervisor, store, cfg.Rebalancer.PollInterval)

	go func() {
		if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("Status reporter stopped with error", "error", err)
		}
	}()

	log.Info("Status reporting enabled (Redis)")
}

// startOpsServer exposes /metrics, /health, the live /status view, and the
// journal read endpoints.
func startOpsServer(cfg *config.Config, supervisor *rebalancer.Supervisor, journal rebalance.Repository, health map[string]api.HealthChecker, log *logger.Logger) {
	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           api.NewHandler(supervisor, journal, health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("Ops server listening", "addr", cfg.Metrics.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("Ops server failed", "error", err)
		}
	}()
}

// waitForShutdown blocks until SIGINT/SIGTERM and drains the supervisor.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, supervisor *rebalancer.Supervisor, tracker errors.Tracker, log *logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("Shutdown signal received", "signal", sig)
	case <-ctx.Done():
	}

	cancel()

	if err := supervisor.StopAll(); err != nil {
		log.Warnw("Supervisor drain incomplete", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := tracker.Flush(flushCtx); err != nil {
		log.Warnw("Error tracker flush failed", "error", err)
	}

	log.Info("Shutdown complete")
}
