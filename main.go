package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/restockd/restockd/internal/api"
	"github.com/restockd/restockd/internal/cache"
	conf "github.com/restockd/restockd/internal/config"
	"github.com/restockd/restockd/internal/db"
	"github.com/restockd/restockd/internal/events"
	"github.com/restockd/restockd/internal/extapi"
	logs "github.com/restockd/restockd/internal/logs"
	"github.com/restockd/restockd/internal/ratelimit"
	"github.com/restockd/restockd/internal/reorder"
	"github.com/restockd/restockd/internal/syncer"
)

// overridable via: -ldflags "-X 'main.ver=1.0.1'"
var ver = "1.0.0"

func main() {
	appDir := mustAppDataDir("restockd")
	log := logs.New(filepath.Join(appDir, "app.log"), true)

	cfgPath := filepath.Join(appDir, "config.json")
	cfg, firstRun, err := conf.LoadOrCreate(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	if firstRun {
		log.Info().Str("path", cfgPath).Msg("default config created, fill in API credentials")
	}

	dbh, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, appDir)
	if err != nil {
		log.Fatal().Err(err).Msg("DB open error")
	}
	if err := dbh.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("DB migrate error")
	}
	log.Info().Str("driver", cfg.Database.Driver).Str("db", dbh.Path).Msg("DB ready")
	sqlDB, _ := dbh.DB.DB()
	defer sqlDB.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// the limiter is the only path to the external API
	limiter := ratelimit.New(log, cfg.API.RateLimitPerSec, cfg.API.QueueMaxDepth)
	if err := limiter.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("rate limiter start error")
	}
	defer limiter.Stop()

	client := extapi.NewClient(log, cfg.API, limiter)

	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(log, cfg.Kafka)
		if err != nil {
			log.Error().Err(err).Msg("kafka unavailable, events disabled")
		} else {
			publisher = kp
			defer kp.Close()
		}
	}

	tracker := syncer.NewTracker(log, dbh.DB, time.Duration(cfg.StuckAfterMinutes)*time.Minute)
	orch := syncer.NewOrchestrator(log, dbh.DB, client, tracker, publisher, syncer.OrchestratorConfigFrom(cfg.API))

	costs := reorder.CostParams{
		OrderCost:       cfg.Reorder.OrderCost,
		HoldingCostRate: cfg.Reorder.HoldingCostRate,
		MinHoldingCost:  cfg.Reorder.MinHoldingCost,
	}
	aggregator := reorder.NewAggregator(log, dbh.DB, costs)

	manager := syncer.NewManager(log, cfg, orch, aggregator, publisher)
	if err := manager.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("syncer start error")
	}
	defer manager.Stop()

	var suggestionCache cache.Cache
	if cfg.Redis.Enabled {
		suggestionCache = cache.New(log, cfg.Redis)
	}

	server := api.NewServer(log, cfg.HTTPAddr, api.Deps{
		Manager:    manager,
		Tracker:    tracker,
		Limiter:    limiter,
		Aggregator: aggregator,
		Client:     client,
		Cache:      suggestionCache,
		CacheTTL:   time.Duration(cfg.Redis.TTLSeconds) * time.Second,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("version", ver).Msg("restockd running")
	if err := server.Run(); err != nil {
		log.Error().Err(err).Msg("http server error")
	}
}

func mustAppDataDir(name string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	p := filepath.Join(base, name)
	_ = os.MkdirAll(p, 0o755)
	return p
}
