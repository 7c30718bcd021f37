package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/aggregator"
	"github.com/notifyhub/restock-monitor/internal/api"
	"github.com/notifyhub/restock-monitor/internal/config"
	"github.com/notifyhub/restock-monitor/internal/db"
	"github.com/notifyhub/restock-monitor/internal/dedup"
	"github.com/notifyhub/restock-monitor/internal/dispatch"
	"github.com/notifyhub/restock-monitor/internal/domain"
	"github.com/notifyhub/restock-monitor/internal/events"
	"github.com/notifyhub/restock-monitor/internal/fetcher"
	"github.com/notifyhub/restock-monitor/internal/metrics"
	"github.com/notifyhub/restock-monitor/internal/monitor"
	"github.com/notifyhub/restock-monitor/internal/provider"
	"github.com/notifyhub/restock-monitor/internal/ratelimiter"
	"github.com/notifyhub/restock-monitor/internal/repository"
	"github.com/notifyhub/restock-monitor/internal/retailer"
	"github.com/notifyhub/restock-monitor/internal/router"
	"github.com/notifyhub/restock-monitor/internal/service"
	"github.com/notifyhub/restock-monitor/internal/tier"
	"github.com/notifyhub/restock-monitor/internal/worker"
)

// Upper bounds for a single scheduled run.
const (
	checkTimeout      = 30 * time.Minute
	deliveryTimeout   = 5 * time.Minute
	cleanupTimeout    = 10 * time.Minute
	aggregatorTimeout = 5 * time.Minute
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	itemRepo := repository.NewPgItemRepository(pool)
	userRepo := repository.NewPgUserRepository(pool)
	jobRepo := repository.NewPgJobRepository(pool)
	eventRepo := repository.NewPgEventRepository(pool)
	destRepo := repository.NewPgDestinationRepository(pool)

	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	// ---- retailer profiles ----
	profiles, err := retailer.LoadDefaults()
	if err != nil {
		logger.Fatal("failed to load retailer profiles", zap.Error(err))
	}
	if cfg.ProfilesPath != "" {
		watcher := retailer.NewWatcher(cfg.ProfilesPath, profiles, logger)
		if err := watcher.Reload(); err != nil {
			logger.Fatal("failed to load retailer profile file", zap.String("path", cfg.ProfilesPath), zap.Error(err))
		}
		go func() {
			if err := watcher.Watch(workerCtx); err != nil {
				logger.Error("profile watcher stopped", zap.Error(err))
			}
		}()
	}

	// ---- metrics ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// ---- dedup store ----
	dedupStore := dedup.Store(dedup.NewRepositoryStore(repository.NewPgRecentPostRepository(pool)))
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		dedupStore = dedup.NewRedisStore(rdb, cfg.DedupWindow)
		logger.Info("using redis dedup store")
	}
	guard := dedup.NewGuard(dedupStore, cfg.DedupWindow)

	// ---- event publisher ----
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("failed to connect to event broker", zap.Error(err))
		}
		publisher = p
		logger.Info("publishing change events", zap.String("exchange", cfg.AMQPExchange))
	}
	defer publisher.Close()

	// ---- providers ----
	// Social destinations whose target is a URL post there; the rest fall
	// back to SOCIAL_WEBHOOK_URL.
	providers := provider.NewRegistry()
	providers.Register(domain.ChannelSocial, provider.NewWebhookProvider(cfg.WebhookURL, cfg.ProviderTimeout))
	if cfg.TelegramToken != "" {
		tg, err := provider.NewTelegramProvider(cfg.TelegramToken, cfg.ProviderTimeout)
		if err != nil {
			logger.Fatal("failed to create telegram bot", zap.Error(err))
		}
		providers.Register(domain.ChannelTelegram, tg)
	}
	if cfg.TwilioFrom != "" {
		providers.Register(domain.ChannelSMS, provider.NewSMSProvider(cfg.TwilioFrom))
	}
	if cfg.SMTPHost != "" {
		providers.Register(domain.ChannelEmail, provider.NewEmailProvider(provider.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
	}
	if cfg.RSSDir != "" {
		if err := os.MkdirAll(cfg.RSSDir, 0o755); err != nil {
			logger.Fatal("failed to create feed directory", zap.Error(err))
		}
		providers.Register(domain.ChannelRSS, provider.NewRSSProvider(cfg.RSSDir, cfg.RSSBaseURL))
	}
	logger.Info("providers registered", zap.Any("channels", providers.Kinds()))

	// ---- routing and dispatch ----
	onDecision, onDuplicate := m.RouterHooks()
	rt := router.New(destRepo, guard, router.ContentRules{
		MaxLength:         cfg.MaxMessageLength,
		MaxUppercaseRatio: cfg.MaxUppercaseRatio,
		MaxEmojis:         cfg.MaxEmojis,
		BlockedPhrases:    cfg.BlockedPhrases,
	}, router.Hooks{OnDecision: onDecision, OnDuplicate: onDuplicate}, logger, nil)

	primary, err := domain.ParseRetailer(cfg.PrimaryRetailer)
	if err != nil {
		logger.Fatal("invalid PRIMARY_RETAILER", zap.String("value", cfg.PrimaryRetailer), zap.Error(err))
	}
	policy := tier.Policy{
		PrimaryRetailer: primary,
		FreeDelay:       cfg.FreeTierDelay,
		NotifyCooldown:  cfg.NotifyCooldown,
	}

	deliverer := dispatch.NewChannelDeliverer(userRepo, providers, rt, ratelimiter.New(cfg.RateLimit), cfg.RetryDelay, nil)

	onOutcome, onDelivered := m.QueueHooks()
	queue := dispatch.NewQueue(jobRepo, eventRepo, userRepo, policy, deliverer, dispatch.QueueConfig{
		RetryDelay:     cfg.RetryDelay,
		MaxAttempts:    cfg.MaxAttempts,
		LeaseTTL:       cfg.LeaseTTL,
		JobRetention:   cfg.JobRetention,
		EventRetention: cfg.EventRetention,
	}, dispatch.Hooks{
		OnOutcome:   onOutcome,
		OnDelivered: onDelivered,
		OnPending:   func(n int) { m.PendingJobs.Set(float64(n)) },
	}, logger, nil)

	dispatcher := dispatch.NewDispatcher(queue, userRepo, jobRepo, policy, publisher, dispatch.DispatcherConfig{
		BroadcastUserID:  cfg.BroadcastUserID,
		BroadcastEnabled: cfg.BroadcastEnabled,
	}, logger, nil)

	// ---- item monitor ----
	mon := monitor.New(fetcher.NewHTMLFetcher(&http.Client{Timeout: cfg.ProviderTimeout}, cfg.FetchRateLimit), profiles, logger, nil)
	onChecked, onEvent := m.MonitorHooks()
	runner := monitor.NewBatchRunner(itemRepo, eventRepo, mon, dispatcher, monitor.BatchConfig{
		Size:         cfg.BatchSize,
		BatchDelay:   cfg.BatchDelay,
		ItemDelayMin: cfg.ItemDelayMin,
		ItemDelayMax: cfg.ItemDelayMax,
		Limit:        cfg.CheckLimit,
	}, nil, monitor.Hooks{OnChecked: onChecked, OnEvent: onEvent}, logger, nil)

	// ---- feed aggregator ----
	agg := aggregator.New(eventRepo, dispatcher, aggregator.DefaultForwardWindow,
		aggregator.Hooks{OnListings: m.AggregatorHooks()}, logger, nil)
	if cfg.SourcesPath != "" {
		sources, err := aggregator.LoadSources(cfg.SourcesPath)
		if err != nil {
			logger.Fatal("failed to load feed sources", zap.Error(err))
		}
		client := &http.Client{Timeout: cfg.ProviderTimeout}
		hostLimits := ratelimiter.NewKeyed(cfg.FetchRateLimit)
		for _, sc := range sources {
			src, err := aggregator.NewSource(sc, client, hostLimits)
			if err != nil {
				logger.Fatal("invalid feed source", zap.String("source_id", sc.ID), zap.Error(err))
			}
			agg.Register(sc, src)
		}
		logger.Info("feed sources registered", zap.Strings("sources", agg.SourceIDs()))
	}

	// ---- scheduler ----
	sched := worker.NewScheduler(logger)
	jobs := []struct {
		name    string
		spec    string
		timeout time.Duration
		fn      func(context.Context) error
	}{
		{worker.JobCheck, cfg.CheckSchedule, checkTimeout, worker.CheckCycle(runner, logger)},
		{worker.JobDelivery, cfg.DeliverySchedule, deliveryTimeout, worker.DeliveryCycle(queue, cfg.DeliveryLimit, logger)},
		{worker.JobCleanup, cfg.CleanupSchedule, cleanupTimeout, worker.CleanupCycle(queue)},
		{worker.JobAggregator, cfg.AggregatorSchedule, aggregatorTimeout, worker.AggregatorCycle(agg)},
	}
	if cfg.LeaseTTL <= deliveryTimeout {
		logger.Fatal("JOB_LEASE_TTL must exceed the delivery pass timeout",
			zap.Duration("lease_ttl", cfg.LeaseTTL), zap.Duration("delivery_timeout", deliveryTimeout))
	}
	for _, j := range jobs {
		if err := sched.Add(j.name, j.spec, j.timeout, j.fn); err != nil {
			logger.Fatal("failed to schedule job", zap.String("job", j.name), zap.Error(err))
		}
	}
	sched.Start(workerCtx)

	// ---- HTTP server ----
	svc := service.NewItemService(itemRepo, userRepo, jobRepo, destRepo, profiles, rt, sched, logger, nil)
	handler := api.NewRouter(svc, pool, reg, cfg.RSSDir, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("systemd notify failed", zap.Error(err))
	}

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	daemon.SdNotify(false, daemon.SdNotifyStopping) //nolint:errcheck

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop scheduling and wait for in-flight cycles.
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}

	// 3. Cancel whatever is still running in the background.
	cancelWorkers()

	logger.Info("server stopped cleanly")
}
