package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/printwatch/moonraker-bridge/internal/cloud"
	"github.com/printwatch/moonraker-bridge/internal/config"
	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/httpapi"
	"github.com/printwatch/moonraker-bridge/internal/logging"
	"github.com/printwatch/moonraker-bridge/internal/metric"
	"github.com/printwatch/moonraker-bridge/internal/moonraker"
	"github.com/printwatch/moonraker-bridge/internal/router"
	"github.com/printwatch/moonraker-bridge/internal/snapshot"
	"github.com/printwatch/moonraker-bridge/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.SlogLevel())

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}
	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	metrics := metric.New()

	// the router is created after the connections but consumes their
	// events; route through the closure to break the construction cycle
	var app *router.App
	onEvent := func(ev event.Event) bool { return app.PushEvent(ev) }

	printerConn := moonraker.New(cfg.Moonraker, onEvent, metrics, logger.With("conn", "moonraker"))
	cloudConn := cloud.New(cfg.Cloud, onEvent, metrics, logger.With("conn", "cloud"))

	var snapshots snapshot.Source
	if src := snapshot.NewHTTPSource(cfg.Webcam.SnapshotURL); src.Configured() {
		snapshots = src
	}

	app = router.New(router.Options{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Printer:   printerConn,
		Cloud:     cloudConn,
		Journal:   repo,
		Snapshots: snapshots,
		SessionID: cloudConn.SessionID,
	})

	go printerConn.Run(ctx, printerConn.Flow)
	go cloudConn.Run(ctx, cloudConn.Flow)

	api := httpapi.New(app, printerConn, cloudConn, repo, metrics.Handler(), logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("http api starting", "addr", httpServer.Addr)
		if err := httpapi.RunServer(ctx, httpServer); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("http server terminated with error", "err", err)
		}
	}()

	logger.Info("bridge starting",
		"moonraker", cfg.Moonraker.WSURL(),
		"cloud", cfg.Cloud.WSURL(),
		"session_id", cloudConn.SessionID,
	)

	err = app.Run(ctx)

	// stop both engines before closing storage
	printerConn.Close()
	cloudConn.Close()
	stop()

	if err != nil {
		logger.Error("bridge terminated with error", "err", err)
		// os.Exit skips the deferred close
		if cerr := repo.Close(); cerr != nil {
			logger.Error("closing storage failed", "err", cerr)
		}
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}
