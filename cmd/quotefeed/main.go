// quotefeed streams option and underlying quotes for the positions held
// under the configured trading credential, serving cached prices and
// stream health over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kmorrill/quotefeed/internal/api"
	"github.com/kmorrill/quotefeed/internal/config"
	"github.com/kmorrill/quotefeed/internal/feed"
	"github.com/kmorrill/quotefeed/internal/pricecache"
	"github.com/kmorrill/quotefeed/internal/subscription"
	"github.com/kmorrill/quotefeed/internal/transport"
	"github.com/kmorrill/quotefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/quotefeed.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Optional .env for local development; ignore a missing file.
	godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting quotefeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	apiClient := api.NewClient(
		cfg.API.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	optionCache := pricecache.New("options", logger)
	spotCache := pricecache.New("spot", logger)
	subs := subscription.NewManager(apiClient, optionCache, spotCache, logger)

	svc := feed.New(feed.Config{
		Transport: transport.Config{
			URL:                  cfg.Stream.WSURL,
			DialTimeout:          cfg.Stream.DialTimeout,
			ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
			ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
			MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		},
		BatchInterval: cfg.Feed.BatchInterval,
	}, subs, optionCache, spotCache, logger)

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start feed", "error", err)
		os.Exit(1)
	}
	defer svc.Stop()

	if cfg.Credential.ID != "" {
		if err := svc.SetCredential(ctx, cfg.Credential.ID); err != nil {
			// Positions unavailable is degraded, not fatal: the stream
			// stays up and the next credential event retries.
			logger.Error("initial credential setup failed", "error", err)
		}
	} else {
		logger.Warn("no credential configured, streaming without subscriptions")
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: newHealthHandler(svc, optionCache, spotCache),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}

	logger.Info("quotefeed stopped")
}

// newHealthHandler serves liveness, stream stats, and the cached prices.
func newHealthHandler(svc *feed.Service, optionCache, spotCache *pricecache.Cache) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := svc.State()
		if state == transport.StateExhausted {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "state=%s\n", state)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(svc.Stats())
	})

	mux.HandleFunc("/prices/options", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(optionCache.Snapshot())
	})

	mux.HandleFunc("/prices/spot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(spotCache.Snapshot())
	})

	return mux
}
