package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketdash/internal/bus"
	"marketdash/internal/cache"
	"marketdash/internal/config"
	"marketdash/internal/httpx"
	"marketdash/internal/news"
	"marketdash/internal/provider"
	"marketdash/internal/provider/breaker"
	"marketdash/internal/provider/finnhub"
	"marketdash/internal/provider/finnhubadapter"
	"marketdash/internal/provider/fmp"
	"marketdash/internal/provider/manager"
	"marketdash/internal/provider/ratelimit"
	"marketdash/internal/provider/rss"
	"marketdash/internal/scanner"
	"marketdash/internal/universe"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var entries []manager.Entry
	if cfg.FMP.Enabled && cfg.FMP.APIKey != "" {
		p := fmp.New(fmp.Config{
			BaseURL:              cfg.FMP.BaseURL,
			APIKey:               cfg.FMP.APIKey,
			MaxSymbolsPerRequest: cfg.FMP.MaxSymbolsPerRequest,
		}, httpClient)
		entries = append(entries, manager.Entry{
			Name:    p.Name(),
			Quotes:  p,
			OHLC:    p,
			News:    p,
			Symbols: p,
			Limiter: ratelimit.NewBucket(float64(cfg.FMP.MaxRequestsPerMinute), cfg.FMP.Burst),
			Breaker: breaker.New(breaker.Config{}),
		})
	} else if cfg.FMP.Enabled {
		logger.Warn("fmp enabled but FMP_API_KEY not set; provider disabled")
	}

	if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey != "" {
		opts := []finnhub.Option{finnhub.WithHTTPClient(httpClient.HTTP)}
		if cfg.Finnhub.BaseURL != "" {
			opts = append(opts, finnhub.WithBaseURL(cfg.Finnhub.BaseURL))
		}
		client, err := finnhub.NewClient(cfg.Finnhub.APIKey, opts...)
		if err != nil {
			logger.Warn("finnhub client", "error", err)
		} else {
			a := finnhubadapter.New(finnhubadapter.Config{
				MaxConcurrency: cfg.Finnhub.MaxConcurrency,
				NewsWindowDays: cfg.Finnhub.NewsWindowDays,
			}, client)
			entries = append(entries, manager.Entry{
				Name:    a.Name(),
				Quotes:  a,
				OHLC:    a,
				News:    a,
				Symbols: a,
				Limiter: ratelimit.NewBucket(float64(cfg.Finnhub.MaxRequestsPerMinute), cfg.Finnhub.Burst),
				Breaker: breaker.New(breaker.Config{}),
			})
		}
	} else if cfg.Finnhub.Enabled {
		logger.Warn("finnhub enabled but FINNHUB_API_KEY not set; provider disabled")
	}

	if cfg.RSS.Enabled && len(cfg.RSS.Feeds) > 0 {
		p := rss.New(rss.Config{Feeds: cfg.RSS.Feeds}, httpClient)
		entries = append(entries, manager.Entry{
			Name:    p.Name(),
			News:    p,
			Limiter: ratelimit.NewBucket(float64(cfg.RSS.MaxRequestsPerMinute), cfg.RSS.Burst),
			Breaker: breaker.New(breaker.Config{}),
		})
	}

	if len(entries) == 0 {
		logger.Warn("no providers configured; every request will return empty data")
	}

	mgr := manager.New(entries, manager.Timeouts{}, logger)

	store := cache.New(cfg.Cache.MaxEntries)
	store.SetTTL(cache.Quote, time.Duration(cfg.Cache.QuoteTTLSec)*time.Second)
	store.SetTTL(cache.OHLC, time.Duration(cfg.Cache.OHLCTTLSec)*time.Second)
	store.SetTTL(cache.News, time.Duration(cfg.Cache.NewsTTLSec)*time.Second)
	store.SetTTL(cache.Symbols, time.Duration(cfg.Cache.SymbolsTTLSec)*time.Second)
	store.SetTTL(cache.Health, time.Duration(cfg.Cache.HealthTTLSec)*time.Second)

	var loaders []universe.Loader
	for _, l := range mgr.SymbolLoaders() {
		loaders = append(loaders, l)
	}
	uni := universe.New(loaders, time.Duration(cfg.Universe.RefreshIntervalHours)*time.Hour, logger)

	b := bus.New(mgr, store, bus.Config{
		BatchWindow: time.Duration(cfg.Bus.BatchWindowMS) * time.Millisecond,
		MaxBatch:    cfg.Bus.MaxBatch,
		EnrichNews: func(items []provider.NewsItem) {
			news.Enrich(items, uni.Snapshot())
		},
	}, logger)

	sc := scanner.New(b, uni.Snapshot, scanner.Config{
		ChunkSize:  cfg.Scanner.ChunkSize,
		MaxSymbols: cfg.Scanner.MaxSymbols,
		RVOLWindow: cfg.Scanner.RVOLWindow,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// first universe load before serving; partial results are fine,
	// total failure just means the resolver tags nothing yet
	loadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := uni.Refresh(loadCtx); err != nil {
		logger.Warn("initial universe load failed", "error", err)
	}
	cancel()
	go uni.Start(ctx)

	resDialer := httpx.New(10 * time.Second)
	srv := newServer(b, mgr, uni, sc, store, newRedirectResolver(resDialer), logger)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port, "providers", len(entries))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
}
