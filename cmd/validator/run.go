// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/platform-validator/agentdir"
	"github.com/luxfi/platform-validator/aggregator"
	"github.com/luxfi/platform-validator/blocksync"
	"github.com/luxfi/platform-validator/chainclient"
	"github.com/luxfi/platform-validator/config"
	"github.com/luxfi/platform-validator/epoch"
	"github.com/luxfi/platform-validator/httpapi"
	"github.com/luxfi/platform-validator/internal/platformlog"
	"github.com/luxfi/platform-validator/metrics"
	"github.com/luxfi/platform-validator/platformauth"
	"github.com/luxfi/platform-validator/progress"
	"github.com/luxfi/platform-validator/scoring"
	"github.com/luxfi/platform-validator/stake"
	"github.com/luxfi/platform-validator/submission"
	"github.com/luxfi/platform-validator/utils/set"
	"github.com/luxfi/platform-validator/wsbroker"
)

// startupTempo seeds the epoch calculator before the first successful
// block-sync poll reports the chain's real tempo (spec §3 requires a
// nonzero tempo; SetTempo ignores zero updates).
const startupTempo = 360

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests to finish once shutdown begins.
const shutdownGrace = 5 * time.Second

func runCmd() *cobra.Command {
	var (
		platformURL string
		bindAddr    string
		logLevel    string
		configPath  string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the validator control plane",
		Long: `run loads configuration from flags, --config (if set), and the
process environment, then starts block sync, the HTTP API, and the
broker WebSocket channel until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, platformURL, bindAddr, logLevel)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config error: %v\n", err)
				os.Exit(1)
			}

			if dryRun {
				fmt.Fprintln(os.Stdout, "configuration OK")
				return nil
			}

			if err := runValidator(cmd.Context(), cfg); err != nil {
				fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&platformURL, "platform-url", "", "platform base URL (or PLATFORM_URL)")
	cmd.Flags().StringVar(&bindAddr, "bind", "", "HTTP listen address (default :8080)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a .env-style file overlaid before flags")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate configuration and exit without starting")

	return cmd
}

// loadConfig builds the effective Config: defaults, overlaid by
// configPath (if set), overlaid by the process environment, overlaid
// by explicit flags, then validated.
func loadConfig(configPath, platformURL, bindAddr, logLevel string) (config.Config, error) {
	base := config.Default()

	if configPath != "" {
		fileValues, err := loadEnvFile(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("reading --config %s: %w", configPath, err)
		}
		base, err = config.FromLookup(base, func(key string) (string, bool) {
			v, ok := fileValues[key]
			return v, ok
		})
		if err != nil {
			return config.Config{}, fmt.Errorf("applying --config %s: %w", configPath, err)
		}
	}

	cfg, err := config.FromEnv(base)
	if err != nil {
		return config.Config{}, err
	}

	if platformURL != "" {
		cfg.PlatformURL = platformURL
	}
	if bindAddr != "" {
		cfg.BindAddr = bindAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Valid(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// defaultWhitelistPolicy names the stdlib modules a fresh deployment
// allows out of the box. Operators extend this from the chain-backed
// whitelist_config record (spec §6); this is only the standalone
// default.
func defaultWhitelistPolicy() whitelistPolicyBuilder {
	return whitelistPolicyBuilder{
		stdlib: set.Of(
			"math", "json", "re", "itertools", "collections",
			"datetime", "time", "random", "functools", "typing",
			"dataclasses", "enum", "abc", "asyncio", "heapq", "bisect",
		),
		forbidden: set.Of("os", "sys", "socket", "subprocess"),
	}
}

// runValidator wires every in-process component and blocks until ctx
// is cancelled or the HTTP server fails.
func runValidator(ctx context.Context, cfg config.Config) error {
	logger := platformlog.NewNoOpLogger()

	// Each component owns a private registry; combinedMetrics exposes
	// all of them under one GET /metrics, the way the teacher's
	// api/metrics.MultiGatherer combines per-chain gatherers.
	blockSyncReg := prometheus.NewRegistry()
	httpReg := prometheus.NewRegistry()
	combinedMetrics := metrics.NewMultiGatherer()
	if err := combinedMetrics.Register("blocksync", blockSyncReg); err != nil {
		return fmt.Errorf("cmd/validator: registering block sync gatherer: %w", err)
	}
	if err := combinedMetrics.Register("httpapi", httpReg); err != nil {
		return fmt.Errorf("cmd/validator: registering httpapi gatherer: %w", err)
	}

	calc := epoch.NewCalculator(cfg.EpochZeroStartBlock, startupTempo)
	fetcher := chainclient.New(cfg.PlatformURL, nil)
	syncer := blocksync.NewSyncer(fetcher, calc, cfg.BlockSyncInterval, logger)
	if err := syncer.EnableMetrics(blockSyncReg); err != nil {
		return fmt.Errorf("cmd/validator: registering block sync metrics: %w", err)
	}

	submissions := submission.NewManager(10 * cfg.BlockSyncInterval)
	stakeRegistry := stake.NewRegistry()
	progressStore := progress.New(0)
	leaderboard := scoring.NewLeaderboard(0)
	consensus := aggregator.New(0)
	authVerifier := platformauth.NewVerifier(cfg.ChallengeID)
	agents := agentdir.New()

	wl := defaultWhitelistPolicy()

	var broker *wsbroker.Broker
	if cfg.ContainerBrokerJWT != "" {
		broker = wsbroker.NewBroker([]byte(cfg.ContainerBrokerJWT), logger)
	}

	server := httpapi.NewServer(httpapi.Deps{
		Auth:              authVerifier,
		Submissions:       submissions,
		Stake:             stakeRegistry,
		WhitelistPolicy:   wl.Policy(),
		Agents:            agents,
		Progress:          progressStore,
		Leaderboard:       leaderboard,
		Consensus:         consensus,
		Log:               logger,
		Health:            syncerHealthChecker{connected: syncer.Connected},
		MetricsRegisterer: httpReg,
		MetricsGatherer:   combinedMetrics,
	})

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	runBackground(&wg, func() { syncer.Run(ctx) })
	runBackground(&wg, func() { progressStore.Run(ctx, cfg.BlockSyncInterval) })
	runBackground(&wg, func() { runCleanupLoop(ctx, submissions, cfg.BlockSyncInterval) })
	if broker != nil {
		events := syncer.Subscribe()
		runBackground(&wg, func() { broker.Run(ctx, events) })
	}

	router := server.Router()
	if broker != nil {
		router.HandleFunc("/ws/validator", broker.ServeWS)
	}

	httpServer := &http.Server{Addr: cfg.BindAddr, Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if broker != nil {
		broker.Close()
	}
	wg.Wait()

	if runErr != nil {
		return fmt.Errorf("cmd/validator: http server: %w", runErr)
	}
	return nil
}

func runBackground(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

func runCleanupLoop(ctx context.Context, submissions *submission.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			submissions.CleanupExpired(now)
		}
	}
}
