package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brandon/offlinekit/internal/client"
	"github.com/brandon/offlinekit/internal/config"
	"github.com/brandon/offlinekit/internal/mailstore"
	"github.com/brandon/offlinekit/internal/netwatch"
	"github.com/brandon/offlinekit/internal/notestore"
	"github.com/brandon/offlinekit/internal/queue"
	"github.com/brandon/offlinekit/internal/store"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("syncd version %s\n", version)
		os.Exit(0)
	}
	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting offline sync daemon")

	// Open the local cache
	cache, err := store.Open(cfg.CachePath, cfg.CacheQuotaBytes, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open cache store")
	}
	defer cache.Close()

	// Connectivity observer and mutation queue
	watcher := netwatch.New(cfg.HealthURL, cfg.ProbeInterval, logger)
	q := queue.NewManager(cache, watcher, queue.Options{
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		FlushInterval: cfg.FlushInterval,
	}, logger)
	watcher.SetPendingFunc(func() (int, error) { return q.Pending(cfg.TenantID) })

	// Domain stores
	mail, err := mailstore.New(cache, q, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create mail store")
	}
	notes := notestore.New(cache, q, logger)

	// Remote transport and sync handlers
	api := client.NewAPI(cfg.APIBaseURL, cfg.APIToken, cfg.RequestTimeout, logger)
	mailstore.RegisterMailSyncHandlers(q, api, mail)
	notestore.RegisterNoteSyncHandlers(q, api, notes)

	// The offline-aware surface consumed by the UI layer
	c := client.New(api, mail, notes, q, watcher, cfg.TenantID, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher.Start(ctx)
	q.Start(ctx)

	// Warm the cache so the UI has data to fall back on
	go warmCache(ctx, c, logger)

	usage := cache.EstimateUsage()
	logger.WithFields(logrus.Fields{
		"used_bytes":  usage.UsedBytes,
		"quota_bytes": usage.QuotaBytes,
	}).Info("Cache usage")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig).Info("Received shutdown signal")
	cancel()

	logger.Info("Shutting down offline sync daemon")
}

// warmCache populates the local store with a first fetch of each
// collection. Failures are logged, not fatal; the cache may already hold
// data from a previous run.
func warmCache(ctx context.Context, c *client.Client, logger *logrus.Logger) {
	if _, err := c.ListFolders(ctx); err != nil {
		logger.WithError(err).Warn("Failed to warm folder cache")
	}
	if resp, err := c.ListEmails(ctx, ""); err != nil {
		logger.WithError(err).Warn("Failed to warm email cache")
	} else {
		logger.WithFields(logrus.Fields{
			"count":      len(resp.Data),
			"from_cache": resp.FromCache,
		}).Info("Warmed email cache")
	}
	if _, err := c.ListNotes(ctx); err != nil {
		logger.WithError(err).Warn("Failed to warm note cache")
	}
}
