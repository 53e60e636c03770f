package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"subwatch/internal/bot"
	"subwatch/internal/config"
	"subwatch/internal/fetcher"
	"subwatch/internal/metrics"
	"subwatch/internal/pipeline"
	"subwatch/internal/server"
	"subwatch/internal/storage"
	"subwatch/internal/subscription"
)

const httpTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	cache, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = cache.Close() }()

	registry, err := subscription.Load(cfg.SubscriptionsPath)
	if err != nil {
		log.Error("load subscriptions", "path", cfg.SubscriptionsPath, "error", err)
		os.Exit(1)
	}
	log.Info("subscriptions loaded", "count", registry.Count())

	api, err := bot.NewAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	httpClient := fetcher.NewSafeHTTPClient(httpTimeout)
	client := fetcher.New(httpClient, cfg.UpstreamURL, cfg.SiteCode)

	pcfg := pipeline.DefaultConfig(cfg.SiteCode)
	pcfg.DataFetchers = cfg.DataFetchers
	pcfg.MediaFetchers = cfg.MediaFetchers
	pcfg.MaxAwaiting = cfg.MaxAwaitingMedia
	pcfg.RefreshLimit = cfg.RefreshLimit
	pcfg.GatherEvery = cfg.GatherInterval
	pcfg.SendRate = cfg.SendRate

	p := pipeline.New(pcfg, pipeline.Deps{
		Registry:  registry,
		Listings:  []pipeline.Listing{client.NewestFromBrowse, client.NewestFromFeed},
		Source:    client,
		Uploader:  bot.NewUploader(api, httpClient, cfg.UploadChatID, log),
		Transport: bot.NewTransport(api, log),
		Cache:     cache,
		Metrics:   collector,
	}, log)

	b := bot.New(api, registry, cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "site", cfg.SiteCode, "upstream", cfg.UpstreamURL)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error {
		b.Run(ctx)
		return nil
	})
	if cfg.StatusAddr != "" {
		router := server.NewRouter(server.Deps{
			Pool:          p.Pool(),
			Subscriptions: registry,
			Cache:         cache,
			Gatherer:      reg,
		}, log)
		srv := server.New(cfg.StatusAddr, router, log)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("bot stopped", "error", err)
		_ = cache.Close()
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
