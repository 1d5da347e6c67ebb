// Command syncstore runs one node of a self-organizing replicated document
// store cluster and serves its JSON API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-syncstore/pkg/api"
	"github.com/dd0wney/cluso-syncstore/pkg/health"
	"github.com/dd0wney/cluso-syncstore/pkg/logging"
	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
	"github.com/dd0wney/cluso-syncstore/pkg/server"
	"github.com/dd0wney/cluso-syncstore/pkg/syncstore"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "syncstore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadSettings(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		return err
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	if cfg.DB.NodeID == "" {
		cfg.DB.NodeID = uuid.NewString()
		logger.Warn("no node id configured, generated one; set uuid to keep the registry entry across restarts",
			logging.NodeID(cfg.DB.NodeID))
	}

	reg := metrics.DefaultRegistry()
	store, err := syncstore.Open(cfg.DB,
		syncstore.WithLogger(logger),
		syncstore.WithMetrics(reg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	hc := health.NewHealthChecker()
	hc.RegisterReadinessCheck("store", health.StoreCheck(store.Ping))
	hc.RegisterLivenessCheck("process", health.SimpleCheck("process"))
	hc.RegisterCheck("store", health.StoreCheck(store.Ping))
	hc.RegisterCheck("replication", health.ReplicationCheck(func(ctx context.Context) health.ReplicationState {
		state := health.ReplicationState{Upstream: store.GetMaster()}
		if state.Upstream == "" {
			return state
		}
		jobs, _ := store.Replication(ctx)
		state.TotalJobs = len(jobs)
		for _, j := range jobs {
			if j.Healthy {
				state.HealthyJobs++
			}
		}
		return state
	}))
	hc.RegisterCheck("memory", health.MemoryCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	}))

	apiServer := api.NewServer(store, api.ServerConfig{
		HealthChecker:   hc,
		MetricsRegistry: reg,
		Logger:          logger,
		Version:         version,
	})
	go apiServer.UpdateMetricsPeriodically(ctx, 10*time.Second)

	gs := server.NewGracefulServer(cfg.Listen, apiServer.Handler(), logger)
	gs.OnShutdown(store.Stop)
	gs.SetConfigReloadFunc(func() error {
		level, err := reloadLogLevel(cfg.ConfigPath)
		if err != nil {
			return err
		}
		logger.SetLevel(logging.ParseLevel(level))
		return nil
	})

	logger.Info("syncstore ready",
		logging.String("listen", cfg.Listen),
		logging.String("version", version))
	return gs.Run(ctx)
}
