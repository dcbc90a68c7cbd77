package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/arhyth/ledgerxgo"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	cfg, err := ledgerxgo.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}

	sysAccts, err := cfg.SystemAccounts()
	if err != nil {
		logger.Fatal().Err(err).Msg("error parsing system accounts")
	}
	node, err := snowflake.NewNode(cfg.Node)
	if err != nil {
		logger.Fatal().Err(err).Int64("node", cfg.Node).Msg("error creating ID node")
	}

	pgendpt, err := ledgerxgo.NewPostgresEndpoint(cfg.Database.ConnectionString, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting database")
	}
	defer pgendpt.Close()

	var sinks []ledgerxgo.Sink
	if cfg.Sink.SIEM.Endpoint != "" {
		sinks = append(sinks, ledgerxgo.NewHTTPSink(ledgerxgo.HTTPSinkConfig{
			Endpoint: cfg.Sink.SIEM.Endpoint,
			APIKey:   cfg.Sink.SIEM.APIKey,
			Timeout:  cfg.Sink.Timeout,
		}, &logger))
	}
	if len(cfg.Sink.Kafka.Brokers) > 0 {
		ks := ledgerxgo.NewKafkaSink(cfg.Sink.Kafka.Brokers, cfg.Sink.Kafka.Topic, &logger)
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	var sink ledgerxgo.Sink = ledgerxgo.NopSink{}
	if len(sinks) > 0 {
		sink = ledgerxgo.NewMultiSink(sinks...)
	}

	auditCfg, err := cfg.AuditConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("error reading audit config")
	}
	trail, err := ledgerxgo.NewAuditTrail(pgendpt, sink, auditCfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting audit trail")
	}
	defer trail.Close()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("error reading engine config")
	}
	engine, err := ledgerxgo.NewEngine(pgendpt, trail, node, sysAccts, engineCfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting ledger engine")
	}

	var counter ledgerxgo.DailyCounter = ledgerxgo.NewPostgresCounter(pgendpt)
	if cfg.Compliance.Counter == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err = rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, daily totals read from postgres")
		} else {
			counter = ledgerxgo.NewRedisCounter(rdb)
		}
	}
	complianceCfg, err := cfg.ComplianceConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("error reading compliance config")
	}
	gate := ledgerxgo.NewComplianceGate(counter, trail, complianceCfg, &logger)
	bulk := ledgerxgo.NewBulkProcessor(engine, pgendpt, cfg.Bulk.Workers, &logger)

	svc := ledgerxgo.Chain(
		ledgerxgo.NewService(engine, gate, bulk, pgendpt, &logger),
		ledgerxgo.NewCircuitBreakMiddleware(ledgerxgo.NewServiceBreaker(cfg.Limits.MaxFailures, cfg.Limits.OpenTimeout)),
		ledgerxgo.NewLimitMiddleware(ledgerxgo.NewServiceLimits(cfg.Limits.InFlight, cfg.Limits.AcquireTimeout)),
		ledgerxgo.NewValidationMiddleware(pgendpt, sysAccts, trail),
	)
	hndlr := ledgerxgo.NewHTTPHandler(svc, &logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           hndlr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = srv.Shutdown(ctx); err != nil {
		logger.Err(err).Msg("error shutting down server")
	}
}
