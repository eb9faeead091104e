package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/analysis"
	"github.com/fintelcore/fintel/internal/clients/akshare"
	"github.com/fintelcore/fintel/internal/clients/alphavantage"
	"github.com/fintelcore/fintel/internal/clients/dataset"
	"github.com/fintelcore/fintel/internal/clients/tiger"
	"github.com/fintelcore/fintel/internal/clients/tushare"
	"github.com/fintelcore/fintel/internal/clients/yahoo"
	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/database"
	"github.com/fintelcore/fintel/internal/domain"
	"github.com/fintelcore/fintel/internal/marketdata"
	"github.com/fintelcore/fintel/internal/respcache"
	"github.com/fintelcore/fintel/internal/server"
	"github.com/fintelcore/fintel/internal/taskengine"
	"github.com/fintelcore/fintel/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Fintel")

	// Core DB holds tasks, history, and the daily cache. The cache DB holds
	// provider responses and local dataset bars; losing it costs nothing but
	// warm-up time.
	coreDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "core.db"),
		Profile: database.ProfileStandard,
		Name:    "core",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open core database")
	}
	defer coreDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{coreDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("db", db.Name()).Msg("Failed to run migrations")
		}
	}

	// Market-data service.
	market, metrics := buildMarketService(cfg, cacheDB, log)

	// Task engine.
	taskRepo := taskengine.NewRepository(coreDB, log)
	cacheRepo := taskengine.NewDailyCacheRepository(coreDB, log)
	historyRepo := taskengine.NewHistoryRepository(coreDB, log)
	hub := taskengine.NewHub()

	engine := taskengine.NewEngine(
		cfg.Engine,
		taskRepo,
		cacheRepo,
		historyRepo,
		hub,
		analysis.NewStockRunner(market, log),
		analysis.NewOptionsRunner(market, log),
		domain.NopQuota{},
		log,
	)
	engine.Init()
	defer engine.Shutdown()

	// Fail tasks orphaned by an unclean shutdown before accepting new work.
	if reaped, err := engine.ReapStale(); err != nil {
		log.Error().Err(err).Msg("Startup task sweep failed")
	} else if reaped > 0 {
		log.Warn().Int64("reaped", reaped).Msg("Failed stale tasks from previous run")
	}

	// Background jobs.
	sched := cron.New()
	registerJobs(sched, cfg, engine, cacheRepo, metrics, coreDB, cacheDB, log)
	sched.Start()
	defer sched.Stop()

	// HTTP server.
	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Engine:    engine,
		TaskRepo:  taskRepo,
		CacheRepo: cacheRepo,
		Market:    market,
		DevMode:   cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// buildMarketService assembles the adapter roster and the router around it.
// Providers that cannot initialize (missing credentials) are skipped, not
// fatal: the router degrades to whatever sources remain.
func buildMarketService(cfg *config.Config, cacheDB *database.DB, log zerolog.Logger) (*marketdata.Service, *marketdata.Collector) {
	var adapters []domain.Provider

	addIf := func(name string, build func(pc config.ProviderConfig) (domain.Provider, error)) {
		pc := cfg.Provider(name)
		if !pc.Enabled {
			log.Info().Str("provider", name).Msg("Provider disabled by configuration")
			return
		}
		adapter, err := build(pc)
		if err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("Provider unavailable, skipping")
			return
		}
		adapters = append(adapters, adapter)
	}

	addIf("yahoo", func(pc config.ProviderConfig) (domain.Provider, error) {
		return yahoo.NewAdapter(pc, log), nil
	})
	addIf("dataset", func(pc config.ProviderConfig) (domain.Provider, error) {
		return dataset.NewAdapter(cacheDB, pc, log), nil
	})
	addIf("tiger", func(pc config.ProviderConfig) (domain.Provider, error) {
		return tiger.NewAdapter(pc, log)
	})
	addIf("alphavantage", func(pc config.ProviderConfig) (domain.Provider, error) {
		return alphavantage.NewAdapter(pc, log), nil
	})
	addIf("tushare", func(pc config.ProviderConfig) (domain.Provider, error) {
		return tushare.NewAdapter(pc, log), nil
	})
	addIf("akshare", func(pc config.ProviderConfig) (domain.Provider, error) {
		return akshare.NewAdapter(pc, log), nil
	})

	log.Info().Int("adapters", len(adapters)).Msg("Market-data adapters initialized")

	cache, err := marketdata.NewMemoryCache(cfg.Market.MemoryMaxSize, cfg.Market.CacheEnabled)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build memory cache")
	}

	var l2 marketdata.ResponseStore
	if cfg.Market.RespCacheEnabled {
		l2 = respcache.New(cacheDB, true, log)
	}

	metrics := marketdata.NewCollector(cfg.Market.MetricsBuffer, log)

	svc := marketdata.NewService(adapters, marketdata.Options{
		Cache:   cache,
		L2:      l2,
		Dedup:   marketdata.NewDeduplicator(cfg.Market.DedupWindow, cfg.Market.DedupWaitTimeout),
		Metrics: metrics,
	}, log)

	return svc, metrics
}

// registerJobs wires the recurring maintenance work.
func registerJobs(
	sched *cron.Cron,
	cfg *config.Config,
	engine *taskengine.Engine,
	cacheRepo *taskengine.DailyCacheRepository,
	metrics *marketdata.Collector,
	coreDB, cacheDB *database.DB,
	log zerolog.Logger,
) {
	// Metrics summary on the configured cadence.
	interval := cfg.Market.MetricsInterval
	if interval < time.Minute {
		interval = time.Minute
	}
	sched.Schedule(cron.Every(interval), cron.FuncJob(metrics.LogSummary))

	// Expired provider responses, hourly.
	sched.Schedule(cron.Every(time.Hour), cron.FuncJob(func() {
		store := respcache.New(cacheDB, true, log)
		if n, err := store.DeleteExpired(); err != nil {
			log.Error().Err(err).Msg("Response cache sweep failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("Swept expired provider responses")
		}
	}))

	// Previous days' analysis cache, shortly after midnight UTC.
	if _, err := sched.AddFunc("10 0 * * *", func() {
		if n, err := cacheRepo.DeleteOlderThan(taskengine.Today()); err != nil {
			log.Error().Err(err).Msg("Daily cache sweep failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("Swept stale daily analysis cache")
		}
	}); err != nil {
		log.Error().Err(err).Msg("Failed to register daily cache sweep")
	}

	// Orphaned PROCESSING tasks.
	sched.Schedule(cron.Every(10*time.Minute), cron.FuncJob(func() {
		if n, err := engine.ReapStale(); err != nil {
			log.Error().Err(err).Msg("Stale task sweep failed")
		} else if n > 0 {
			log.Warn().Int64("reaped", n).Msg("Failed stale tasks")
		}
	}))

	// WAL checkpoints keep the -wal files bounded.
	sched.Schedule(cron.Every(30*time.Minute), cron.FuncJob(func() {
		for _, db := range []*database.DB{coreDB, cacheDB} {
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				log.Error().Err(err).Str("db", db.Name()).Msg("WAL checkpoint failed")
			}
		}
	}))
}
