package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/pdd-media-scraper/internal/api"
	"github.com/maltedev/pdd-media-scraper/internal/cache"
	"github.com/maltedev/pdd-media-scraper/internal/config"
	"github.com/maltedev/pdd-media-scraper/internal/copywriter"
	"github.com/maltedev/pdd-media-scraper/internal/dynamic"
	"github.com/maltedev/pdd-media-scraper/internal/fusion"
	"github.com/maltedev/pdd-media-scraper/internal/procutil"
	"github.com/maltedev/pdd-media-scraper/internal/session"
	"github.com/maltedev/pdd-media-scraper/internal/static"
	"github.com/maltedev/pdd-media-scraper/internal/store"
	"github.com/maltedev/pdd-media-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reap browsers orphaned by a previous crash before launching new ones;
	// a stale process holds the profile lock.
	procutil.CleanupStaleBrowsers(cfg.Session.UserDataDir, log)

	fetcher := static.NewFetcher(cfg.Fetch.Timeout, log)
	extractor := dynamic.NewExtractor(dynamic.Config{
		Headless:           cfg.Dynamic.Headless,
		StorageStatePath:   cfg.Session.StorageStatePath,
		ClickProbe:         cfg.Dynamic.ClickProbe,
		NavigationTimeout:  cfg.Dynamic.NavigationTimeout,
		NetworkIdleTimeout: cfg.Dynamic.NetworkIdleTimeout,
		SettleDelay:        cfg.Dynamic.SettleDelay,
	}, log)
	pipeline := fusion.NewPipeline(fetcher, extractor, log)

	sessionManager := session.NewManager(session.Config{
		Headless:          cfg.Session.Headless,
		UserDataDir:       cfg.Session.UserDataDir,
		StorageStatePath:  cfg.Session.StorageStatePath,
		Locale:            cfg.Session.Locale,
		Channel:           cfg.Session.Channel,
		NavigationTimeout: cfg.Session.NavigationTimeout,
	}, log)
	defer sessionManager.Close()

	opts := api.Options{
		Session:     sessionManager,
		UserDataDir: cfg.Session.UserDataDir,
		Copy: copywriter.NewGenerator(copywriter.Config{
			BaseURL:     cfg.Copywriter.BaseURL,
			APIKey:      cfg.Copywriter.APIKey,
			Model:       cfg.Copywriter.Model,
			Temperature: cfg.Copywriter.Temperature,
			Timeout:     cfg.Copywriter.Timeout,
		}, log),
	}

	if cfg.Redis.URL != "" {
		resultCache, err := cache.New(ctx, cfg.Redis.URL, cfg.Redis.TTL, log)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer resultCache.Close()
		opts.Cache = resultCache
	}

	if cfg.Database.URL != "" {
		extractionStore, err := store.New(ctx, cfg.Database.URL, log)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer extractionStore.Close()
		if err := extractionStore.Init(ctx); err != nil {
			log.Error("failed to initialize database schema", "error", err)
			os.Exit(1)
		}
		opts.Store = extractionStore
	}

	handlers := api.NewHandlers(pipeline, opts, log)
	router := api.NewRouter(handlers)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
