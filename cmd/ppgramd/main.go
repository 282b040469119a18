// Command ppgramd is the PPgram server daemon: it starts the control-plane
// and file-plane TCP listeners plus the ops HTTP side-channel, against a
// Cassandra-backed store.
//
// Grounded on the teacher's server/main.go (flag parsing, signal.Notify +
// context.WithCancel graceful shutdown, goroutines for periodic background
// work) and server/cli.go (subcommand dispatch ahead of flag parsing).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"ppgram/server/internal/acceptor"
	"ppgram/server/internal/cli"
	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/dbpool"
	"ppgram/server/internal/filestore"
	"ppgram/server/internal/metrics"
	"ppgram/server/internal/opsapi"
	"ppgram/server/internal/session"
)

const metricsLogInterval = 5 * time.Second

func main() {
	if len(os.Args) > 1 && cli.RunCLI(os.Args[1:]) {
		return
	}

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}
	cfg := cli.ParseServeFlags(args)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	pool := dbpool.New(dbpool.Config{ContactHost: cfg.CassandraHost})
	bucket := pool.Acquire(ctx)
	if err := dbgw.CreateTables(bucket.Session()); err != nil {
		slog.Error("failed to create tables", "err", err)
		os.Exit(1)
	}
	pool.Release(bucket)

	store, err := filestore.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open file store", "err", err)
		os.Exit(1)
	}

	registry := session.NewRegistry()
	counters := &metrics.Counters{}
	go counters.RunPeriodicLog(ctx, metricsLogInterval)

	if cfg.OpsAddr != "" {
		ops := opsapi.New(registry, pool, counters)
		go func() {
			if err := ops.Run(ctx, cfg.OpsAddr); err != nil {
				slog.Error("ops server error", "err", err)
			}
		}()
		slog.Info("ops side-channel listening", "addr", cfg.OpsAddr)
	}

	srv := &acceptor.Server{
		Registry:    registry,
		Pool:        pool,
		Store:       store,
		Metrics:     counters,
		ControlAddr: cfg.ControlAddr,
		FileAddr:    cfg.FileAddr,
	}
	if err := srv.Run(ctx); err != nil {
		slog.Error("acceptor error", "err", err)
		os.Exit(1)
	}
}
