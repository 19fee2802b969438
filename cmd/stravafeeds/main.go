package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/stravafeeds/internal/cache"
	"github.com/mohammed-shakir/stravafeeds/internal/cache/activitycache"
	"github.com/mohammed-shakir/stravafeeds/internal/cache/redisstore"
	"github.com/mohammed-shakir/stravafeeds/internal/core/config"
	"github.com/mohammed-shakir/stravafeeds/internal/core/health"
	"github.com/mohammed-shakir/stravafeeds/internal/core/httpclient"
	"github.com/mohammed-shakir/stravafeeds/internal/core/observability"
	"github.com/mohammed-shakir/stravafeeds/internal/core/router"
	"github.com/mohammed-shakir/stravafeeds/internal/core/server"
	"github.com/mohammed-shakir/stravafeeds/internal/core/stravaapi"
	"github.com/mohammed-shakir/stravafeeds/internal/feedevents"
	"github.com/mohammed-shakir/stravafeeds/internal/feeds"
	"github.com/mohammed-shakir/stravafeeds/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/stravafeeds/internal/logger"
	h3mapper "github.com/mohammed-shakir/stravafeeds/internal/mapper/h3"
	"github.com/mohammed-shakir/stravafeeds/internal/metrics"
	"github.com/mohammed-shakir/stravafeeds/internal/render"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "stravafeeds",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting stravafeeds",
		"addr", cfg.Addr,
		"version", Version,
		"strava", cfg.StravaAPIURL,
		"redis", cfg.RedisAddr != "",
		"events", cfg.Events.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := stravaapi.New(appLog, httpclient.NewOutbound(cfg.UpstreamTimeout), cfg.StravaAPIURL)
	if err != nil {
		appLog.Error("failed to initialize strava client", "err", err)
		return 1
	}

	deps := map[string]health.Pinger{}
	var store cache.Store
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		store = rc
		deps["redis"] = rc
	}

	activities, err := activitycache.New(api, store, activitycache.Options{
		TTL:       cfg.CacheTTL,
		LRUSize:   cfg.CacheLRUSize,
		OpTimeout: cfg.CacheOpTimeout,
		Logger:    appLog.With("module", "activitycache"),
	})
	if err != nil {
		appLog.Error("failed to initialize activity cache", "err", err)
		return 1
	}

	tagger := h3mapper.New()
	regOpts := feeds.Options{Logger: appLog.With("module", "feeds"), Tagger: tagger}
	if cfg.Events.Enabled {
		pub, err := feedevents.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.QueueSize, appLog)
		if err != nil {
			appLog.Error("failed to initialize event publisher", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("event publisher close", "err", err)
			}
		}()
		regOpts.Sink = pub
	}

	registry, err := feeds.New(activities, render.New(tagger, cfg.H3Res), regOpts)
	if err != nil {
		appLog.Error("failed to initialize feed registry", "err", err)
		return 1
	}

	if cfg.Webhooks.Enabled {
		cons := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Webhooks.Topic,
			GroupID: cfg.Webhooks.GroupID,
		}, appLog, registry)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("webhook consumer exited", "err", err)
			}
		}()
	}

	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Addr: cfg.MetricsAddr,
			Path: cfg.MetricsPath,
			Build: metrics.BuildInfo{
				Version:   os.Getenv("BUILD_VERSION"),
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	h := server.Handler(cfg, appLog, router.New(appLog, registry, cfg.MapSize), deps)
	if err := server.Run(ctx, cfg, appLog, h); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}

	if err := registry.Destroy(context.Background()); err != nil {
		appLog.Warn("feed teardown", "err", err)
	}
	appLog.Info("server stopped")
	return 0
}
