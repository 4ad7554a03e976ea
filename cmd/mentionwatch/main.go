// Package main wires together the mention monitoring service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/analytics"
	"github.com/mentionwatch/mentionwatch/internal/api"
	"github.com/mentionwatch/mentionwatch/internal/clock/system"
	"github.com/mentionwatch/mentionwatch/internal/config"
	"github.com/mentionwatch/mentionwatch/internal/fetch/docscrape"
	headlessfetch "github.com/mentionwatch/mentionwatch/internal/fetch/headless"
	searchfetch "github.com/mentionwatch/mentionwatch/internal/fetch/search"
	"github.com/mentionwatch/mentionwatch/internal/id/uuid"
	"github.com/mentionwatch/mentionwatch/internal/logging"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
	"github.com/mentionwatch/mentionwatch/internal/orchestrator"
	"github.com/mentionwatch/mentionwatch/internal/ratelimit"
	"github.com/mentionwatch/mentionwatch/internal/scheduler"
	"github.com/mentionwatch/mentionwatch/internal/sentiment"
	memorystore "github.com/mentionwatch/mentionwatch/internal/store/memory"
	postgresstore "github.com/mentionwatch/mentionwatch/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	gateway, closeGateway, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	defer closeGateway()

	clock := system.New()
	idGen := uuid.NewGenerator()
	scorer := sentiment.New(buildLexicon(cfg.Sentiment))

	orch := orchestrator.New(
		gateway,
		scorer,
		analytics.New(clock),
		clock,
		idGen,
		orchestrator.Config{
			EnabledSources: cfg.EnabledSources(),
			MaxResults:     cfg.Pipeline.MaxResults,
			SnapshotWindow: cfg.Pipeline.SnapshotWindow,
			KeywordTimeout: cfg.KeywordTimeout(),
		},
		logger.Named("orchestrator"),
	)

	closeFetchers, err := registerFetchers(orch, cfg, clock, logger)
	if err != nil {
		return fmt.Errorf("init fetchers: %w", err)
	}
	defer closeFetchers()

	apiServer := api.NewServer(gateway, orch, cfg, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched := scheduler.New(
		orch,
		time.Duration(cfg.Scheduler.IntervalSeconds)*time.Second,
		cfg.Scheduler.RunOnStart,
		logger.Named("scheduler"),
	)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func buildGateway(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.Gateway, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		gw, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("postgres gateway ready")
		return gw, gw.Close, nil
	case "memory", "":
		logger.Warn("using in-memory gateway; data will not survive restarts")
		return memorystore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
}

func registerFetchers(
	orch *orchestrator.Orchestrator,
	cfg config.Config,
	clock monitor.Clock,
	logger *zap.Logger,
) (func(), error) {
	closeAll := func() {}

	if cfg.Pipeline.Mode == config.ModeAuthenticated {
		guard := ratelimit.New(ratelimit.Config{
			SafetyMargin: cfg.Search.SafetyMargin,
			Clock:        clock,
		})
		guard.Register(searchfetch.EndpointClass, ratelimit.Quota{
			Requests: cfg.Search.RequestsPerWindow,
			Window:   cfg.SearchWindow(),
		})
		fetcher, err := searchfetch.New(searchfetch.Config{
			Endpoint: cfg.Search.Endpoint,
			APIToken: cfg.Search.APIToken,
			Timeout:  time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
		}, guard, logger.Named("search"))
		if err != nil {
			return closeAll, err
		}
		return closeAll, orch.Register(fetcher)
	}

	scrapeCfg := docscrape.Config{
		UserAgent: cfg.Scrape.UserAgent,
		Timeout:   time.Duration(cfg.Scrape.TimeoutSeconds) * time.Second,
		DomainRPS: cfg.Scrape.DomainRPS,
	}
	if cfg.Scrape.FeedEnabled {
		if err := orch.Register(docscrape.NewFeed(scrapeCfg, toTargets(cfg.Scrape.FeedTargets), logger.Named("feed"))); err != nil {
			return closeAll, err
		}
	}
	if cfg.Scrape.WebEnabled {
		if err := orch.Register(docscrape.NewWeb(scrapeCfg, toTargets(cfg.Scrape.WebTargets), logger.Named("web"))); err != nil {
			return closeAll, err
		}
	}
	if cfg.Browser.Enabled {
		browser, err := headlessfetch.New(headlessfetch.Config{
			TargetURL:         cfg.Browser.TargetURL,
			ItemSelector:      cfg.Browser.ItemSelector,
			ContentSelector:   cfg.Browser.ContentSelector,
			AuthorSelector:    cfg.Browser.AuthorSelector,
			MaxParallel:       cfg.Browser.MaxParallel,
			NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
			UserAgents:        cfg.Browser.UserAgents,
		}, logger.Named("browser"))
		if err != nil {
			logger.Warn("browser fetcher init failed", zap.Error(err))
		} else {
			closeAll = browser.Close
			if err := orch.Register(browser); err != nil {
				return closeAll, err
			}
		}
	}
	return closeAll, nil
}

func toTargets(targets []config.ScrapeTarget) []docscrape.Target {
	out := make([]docscrape.Target, 0, len(targets))
	for _, t := range targets {
		out = append(out, docscrape.Target{
			Name:            t.Name,
			URL:             t.URL,
			ItemSelector:    t.ItemSelector,
			ContentSelector: t.ContentSelector,
			AuthorSelector:  t.AuthorSelector,
		})
	}
	return out
}

func buildLexicon(cfg config.SentimentConfig) sentiment.Lexicon {
	lex := sentiment.DefaultLexicon()
	lex.Positive = append(lex.Positive, cfg.ExtraPositive...)
	lex.Negative = append(lex.Negative, cfg.ExtraNegative...)
	lex.Intensifiers = append(lex.Intensifiers, cfg.ExtraIntensifiers...)
	return lex
}
