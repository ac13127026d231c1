// s402d serves payment-gated HTTP resources and the facilitator endpoints
// on a single Sei network.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seipaylabs/s402"
	"github.com/seipaylabs/s402/config"
	"github.com/seipaylabs/s402/logger"
	"github.com/seipaylabs/s402/metrics"
	"github.com/seipaylabs/s402/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "s402d: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.NewZapLogger(cfg.LogLevel)

	network, err := cfg.NetworkConfig()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	core, err := s402.New(network, cfg.Recipient, cfg.PrivateKey,
		s402.WithLogger(log),
		s402.WithMetrics(recorder),
	)
	if err != nil {
		return err
	}
	defer core.Close()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.New(core, cfg, log, registry).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", map[string]any{
			"port":      cfg.Port,
			"network":   network.Network.String(),
			"chainId":   network.ChainID,
			"asset":     network.AssetAddress,
			"recipient": cfg.Recipient,
			"resources": len(cfg.Resources),
		})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", map[string]any{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
