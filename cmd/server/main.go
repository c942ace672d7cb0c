/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the time-off service. Handles configuration,
  dependency wiring, the background outbox worker, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and the YAML config
  2. Open the SQLite store
  3. Connect Redis (optional) and the remote queue client
  4. Start the outbox worker
  5. Start the HTTP server (and the metrics server if enabled)

COMMAND-LINE FLAGS:
  -config  Path to the YAML config (default: configs/config.yaml)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the outbox worker
  4. Close the database

WITHOUT A REMOTE:
  remote.enabled: false runs the whole service against an in-memory
  queue and mirror. Useful for local development and demos.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: The YAML shape
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/schedulehq/timeoff/api"
	"github.com/schedulehq/timeoff/approval"
	"github.com/schedulehq/timeoff/config"
	"github.com/schedulehq/timeoff/directory"
	"github.com/schedulehq/timeoff/metrics"
	"github.com/schedulehq/timeoff/outbox"
	"github.com/schedulehq/timeoff/remote"
	"github.com/schedulehq/timeoff/store/sqlite"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to YAML config")
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	settings, err := cfg.AccrualSettings()
	if err != nil {
		logger.Fatal().Err(err).Msg("accrual settings")
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, running without cache")
			rdb = nil
		}
	}

	var (
		queue  remote.Queue
		mirror remote.Mirror
	)
	if cfg.Remote.Enabled {
		client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey)
		if rdb != nil {
			client.UseRedisCache(rdb, cfg.CacheTTL())
		}
		queue = client
		mirror = client.Mirror()
	} else {
		logger.Warn().Msg("remote disabled, using in-memory queue and mirror")
		queue = remote.NewMemoryQueue()
		mirror = remote.NewMemoryMirror()
	}

	roster := make([]directory.Employee, 0, len(cfg.Directory.Employees))
	for _, e := range cfg.Directory.Employees {
		roster = append(roster, directory.Employee{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			JobCode:     e.JobCode,
			PTOEligible: e.PTOEligible,
		})
	}
	if len(roster) == 0 {
		logger.Warn().Msg("directory.employees is empty, every submission will fail employee lookup")
	}
	jobCodes := make([]directory.JobCode, 0, len(cfg.Directory.JobCodes))
	for _, jc := range cfg.Directory.JobCodes {
		jobCodes = append(jobCodes, directory.JobCode{
			Code:        jc.Code,
			PTOEligible: jc.PTOEligible,
			Color:       jc.Color,
		})
	}

	var dir directory.Directory = directory.NewMemoryDirectory(roster...)
	if rdb != nil {
		dir = directory.NewCached(dir, rdb, cfg.CacheTTL())
	}
	codes := directory.NewMemoryJobCodes(jobCodes...)

	metrics.Register()

	worker := outbox.NewWorker(&outbox.Dispatcher{
		Queue:  queue,
		Mirror: mirror,
		Store:  store,
		Log:    logger,
	}, logger)
	worker.Interval = cfg.OutboxPollInterval()
	if cfg.Outbox.MaxAttempts > 0 {
		worker.MaxAttempts = cfg.Outbox.MaxAttempts
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Run(workerCtx)

	engine := approval.NewEngine(store, queue, dir, codes, settings, worker, logger)
	router := api.NewRouter(api.NewHandler(engine))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort, logger)
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	stopWorker()

	logger.Info().Msg("server stopped")
}

func startMetricsServer(port int, logger zerolog.Logger) {
	if port == 0 {
		port = 9091
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info().Int("port", port).Msg("metrics server starting")
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
