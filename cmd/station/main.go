package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/servinagrero/SRAMPlatform/internal/config"
	"github.com/servinagrero/SRAMPlatform/internal/dispatch"
	"github.com/servinagrero/SRAMPlatform/internal/health"
	"github.com/servinagrero/SRAMPlatform/internal/httpserver"
	"github.com/servinagrero/SRAMPlatform/internal/logging"
	"github.com/servinagrero/SRAMPlatform/internal/metrics"
	"github.com/servinagrero/SRAMPlatform/internal/power"
	"github.com/servinagrero/SRAMPlatform/internal/reader"
	"github.com/servinagrero/SRAMPlatform/internal/storage/gormrepo"
	"github.com/servinagrero/SRAMPlatform/internal/storage/pg"
	redisstorage "github.com/servinagrero/SRAMPlatform/internal/storage/redis"
	"github.com/servinagrero/SRAMPlatform/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to the station config file")
	flag.Parse()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pg.NewPool(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MinIdleConns, cfg.Database.ConnMaxLifetime, log)
	if err != nil {
		log.Fatal("postgres connect error", zap.Error(err))
	}
	defer pool.Close()

	gdb, err := pg.OpenGorm(pool)
	if err != nil {
		log.Fatal("orm init error", zap.Error(err))
	}
	repo := gormrepo.New(gdb)

	redisClient, err := redisstorage.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal("redis connect error", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()
	queue := redisstorage.NewCommandQueue(redisClient, cfg.Redis.Queue)

	channel, err := transport.OpenSerial(transport.SerialConfig{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		log.Fatal("serial open error", zap.Error(err), zap.String("device", cfg.Serial.Device))
	}
	defer func() { _ = channel.Close() }()

	receiver := transport.NewReceiver(channel, transport.ReceiverConfig{
		DataSize: cfg.Serial.DataSize,
		Settle:   cfg.Serial.Settle,
		Interval: cfg.Serial.Interval,
		Tries:    cfg.Serial.Tries,
	})

	hub := power.NewHub(cfg.Power, log)
	session := reader.NewSession(reader.Options{
		BoardType:  cfg.App.BoardType,
		DataSize:   cfg.Serial.DataSize,
		WriteDelay: cfg.Serial.WriteDelay,
	}, channel, receiver, repo, hub, appMetrics, log, logging.Results(log))

	aggregator := health.NewAggregator(
		health.NewDatabaseChecker(pool),
		health.NewRedisChecker(redisClient),
		health.NewChainChecker(session),
	)

	var metricsHandler = metrics.Handler(reg)
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, aggregator, session)
	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()

	dispatcher := dispatch.New(dispatch.Config{
		HandlerTimeout:    cfg.Dispatch.HandlerTimeout,
		CommandsPerSecond: cfg.Dispatch.CommandsPerSecond,
	}, queue, session, appMetrics, log)

	log.Info("station up",
		zap.String("boardType", cfg.App.BoardType),
		zap.String("device", cfg.Serial.Device),
		zap.Int("dataSize", cfg.Serial.DataSize),
		zap.String("queue", cfg.Redis.Queue))

	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("dispatcher error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
