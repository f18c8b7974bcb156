package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mt4core/internal/cache"
	"mt4core/internal/monitor"
	"mt4core/internal/notify"
	"mt4core/internal/opsapi"
	"mt4core/internal/poller"
	"mt4core/internal/registry"
	"mt4core/pkg/bridge"
	"mt4core/pkg/config"
	"mt4core/pkg/db"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(dbPath())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}
	queries := database.Queries()

	redisCache, err := cache.NewCache(cfg.RedisURL, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer redisCache.Close()

	retry := bridge.DefaultRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay)
	lot := bridge.NewLotSizePolicy(cfg.DefaultLotSize, cfg.MinLotSize, cfg.MaxLotSize)
	bridgeClient := bridge.NewClient(cfg.BridgeURL, cfg.BridgeUsername, cfg.BridgePassword, cfg.BridgeTimeout, retry, lot, log)

	if err := bridgeClient.Ping(ctx, ""); err != nil {
		log.Warn().Err(err).Msg("bridge ping failed at startup, continuing anyway")
	}

	ordersPoller := poller.New(bridgeClient, redisCache, log)
	bridgeClient.SetCache(redisCache)
	bridgeClient.SetPoller(ordersPoller)
	// Symbol Mapper is an external integration (spec §2.1); left unwired
	// here, same as the nil ExitSignalGenerator passed to monitor.New below.

	reg := registry.New()

	notifier := notify.New(notify.NewLogSink(log))

	mon := monitor.New(bridgeClient, reg, queries, nil, notifier, cfg.MonitorTickInterval, log)
	if err := mon.LoadExistingPositions(ctx); err != nil {
		log.Fatal().Err(err).Msg("load existing positions")
	}
	mon.Start(ctx)
	defer mon.Stop()

	opsServer := opsapi.NewServer(mon, ordersPoller, redisCache.LRU(), cfg.OpsToken, log)
	go func() {
		if err := opsServer.Router.Run(cfg.OpsAddr); err != nil {
			log.Fatal().Err(err).Msg("ops api server")
		}
	}()

	log.Info().Str("ops_addr", cfg.OpsAddr).Msg("mt4core started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")
}

func dbPath() string {
	if p := os.Getenv("MT4_DB_PATH"); p != "" {
		return p
	}
	return "data/mt4core.db"
}
