// totalizer-agent ingests line-oriented event datagrams and maintains
// bucketed counters in the shared key-value backend.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/m3047/totalizer/internal/agent"
	"github.com/m3047/totalizer/internal/classify"
	"github.com/m3047/totalizer/internal/config"
	"github.com/m3047/totalizer/internal/logging"
	"github.com/m3047/totalizer/internal/rkv"
)

func main() {
	var (
		configPath  = flag.String("config", "agent.yaml", "path to the agent configuration")
		metricsAddr = flag.String("metrics", "", "address for the prometheus /metrics listener (empty disables)")
		testMode    = flag.Bool("test", false, "route increments to an in-memory sink and log every key")
		logLevel    = flag.String("log-level", "info", "debug, info, warn, or error")
		logFormat   = flag.String("log-format", "auto", "json, console, or auto")
	)
	flag.Parse()

	// Deployment plumbing may live in a .env next to the unit file.
	_ = godotenv.Load()

	logger := logging.Init(logging.Config{
		Format:    *logFormat,
		Level:     *logLevel,
		Component: "totalizer-agent",
	})

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
	}

	classifier, err := classify.Compile(cfg.Rules)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to compile classification rules")
	}

	var store rkv.Store
	if *testMode {
		logger.Info().Msg("Test mode: increments go to an in-memory sink")
		store = rkv.NewMemory()
	} else {
		redisStore := rkv.NewRedis(cfg.Redis.StoreConfig())
		defer redisStore.Close()
		store = redisStore
	}

	a, err := agent.New(agent.Config{
		ListenAddrs:   cfg.Listen,
		Source:        cfg.Source,
		Ring:          cfg.Ring(),
		StatsInterval: time.Duration(cfg.StatsSeconds) * time.Second,
		LogKeys:       *testMode,
	}, classifier, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create agent")
	}

	if *metricsAddr != "" {
		prometheus.MustRegister(a)
		go serveMetrics(*metricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info().
		Strs("listen", cfg.Listen).
		Str("source", cfg.Source).
		Int("rules", classifier.Rules()).
		Msg("Starting totalizer agent")

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Agent terminated with error")
	}

	snap := a.Stats().Snapshot()
	logger.Info().
		Int64("seen", snap.Seen).
		Int64("matched", snap.Matched).
		Int64("unmatched", snap.Unmatched).
		Int64("backend_errors", snap.BackendErrors).
		Msg("Agent stopped")
	os.Exit(0)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics listener failed")
	}
}
