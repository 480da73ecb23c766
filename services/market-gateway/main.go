package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datamarket/config"
	"datamarket/native/bounty"
	"datamarket/observability/logging"
	"datamarket/reconcile"
	"datamarket/registry"
	"datamarket/storage/purchases"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "./market-gateway.toml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("market-gateway", cfg.Environment, cfg.LogLevel)

	store, err := purchases.Open(cfg.CachePath)
	if err != nil {
		log.Fatalf("open purchase cache: %v", err)
	}
	defer store.Close()

	ledger := registry.NewRPCClient(cfg.RegistryURL, cfg.RegistryAuthToken)

	reconciler, err := reconcile.New(reconcile.Config{
		Ledger: ledger,
		Cache:  store,
		Logger: logger,
		Window: cfg.EventWindow,
	})
	if err != nil {
		log.Fatalf("build reconciler: %v", err)
	}

	engine, err := bounty.NewEngine(ledger)
	if err != nil {
		log.Fatalf("build bounty engine: %v", err)
	}

	server, err := NewServer(ServerConfig{
		Ledger:           ledger,
		Cache:            store,
		Reconciler:       reconciler,
		Bounties:         engine,
		Logger:           logger,
		DefaultTrendDays: cfg.AnalyticsDefaultDays,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("market gateway listening", "address", cfg.ListenAddress, "registry", cfg.RegistryURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down market gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
