// feedtap connects to the quote stream and prints parsed frames to the
// console. Useful for eyeballing what the server actually sends.
//
// Usage: go run ./cmd/feedtap --url wss://stream.example.com/ws
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kmorrill/quotefeed/internal/config"
	"github.com/kmorrill/quotefeed/internal/router"
	"github.com/kmorrill/quotefeed/internal/transport"
)

func main() {
	url := flag.String("url", "", "websocket URL (falls back to "+config.EnvWSURL+")")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	endpoint := *url
	if endpoint == "" {
		endpoint = os.Getenv(config.EnvWSURL)
	}
	if endpoint == "" {
		logger.Error("no websocket URL; pass --url or set " + config.EnvWSURL)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var frames atomic.Int64

	r := router.New(logger)
	r.Register(router.TypeOptionPriceUpdate, func(frame json.RawMessage) {
		var f router.OptionPriceFrame
		if json.Unmarshal(frame, &f) != nil {
			return
		}
		fmt.Printf("option  %-22s bid=%.2f ask=%.2f mid=%.2f vol=%d\n",
			f.Update.Symbol, f.Update.BidPrice, f.Update.AskPrice, f.Update.MidPrice, f.Update.Volume)
	})
	r.Register(router.TypeOptionPriceBatch, func(frame json.RawMessage) {
		var f router.OptionPriceBatchFrame
		if json.Unmarshal(frame, &f) != nil {
			return
		}
		fmt.Printf("batch   %d option updates\n", len(f.Updates))
	})
	r.Register(router.TypeSpotPriceUpdate, func(frame json.RawMessage) {
		var f router.SpotPriceFrame
		if json.Unmarshal(frame, &f) != nil {
			return
		}
		fmt.Printf("spot    %-22s mid=%.2f\n", f.Update.Symbol, f.Update.MidPrice)
	})
	r.Register(router.TypeProviderStatus, func(frame json.RawMessage) {
		var f router.ProviderStatusFrame
		if json.Unmarshal(frame, &f) != nil {
			return
		}
		fmt.Printf("status  %s (%s)\n", f.Status, f.Details)
	})
	r.Register(router.TypeConnectionEstablished, func(frame json.RawMessage) {
		var f router.ConnectionEstablishedFrame
		if json.Unmarshal(frame, &f) != nil {
			return
		}
		fmt.Printf("session %s\n", f.ClientID)
	})
	r.Register(router.TypeError, func(frame json.RawMessage) {
		fmt.Printf("error   %s\n", string(frame))
	})
	r.Register(router.TypePositionUpdate, func(frame json.RawMessage) {
		fmt.Printf("position %s\n", string(frame))
	})

	cfg := transport.DefaultConfig()
	cfg.URL = endpoint

	conn := transport.New(cfg, transport.Handlers{
		OnObserved: func() { frames.Add(1) },
		OnMessage: func(data []byte) {
			if *verbose {
				fmt.Println(string(data))
			}
			r.Dispatch(data)
		},
		OnError: func(err error) {
			logger.Warn("transport error", "error", err)
		},
		OnReconnect: func() {
			logger.Info("reconnected")
		},
		OnExhausted: func(err error) {
			logger.Error("stream gone", "error", err)
			cancel()
		},
	}, logger)

	if err := conn.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stats := r.Stats()
			logger.Info("done",
				"frames", frames.Load(),
				"dispatched", stats.Dispatched,
				"unknown", stats.Unknown,
				"parse_errors", stats.ParseErrors,
			)
			return
		case <-ticker.C:
			logger.Info("tap alive", "frames", frames.Load(), "state", conn.State().String())
		}
	}
}
