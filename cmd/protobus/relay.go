package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/drblury/protobus/internal/relay"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
)

func relayCmd() *cobra.Command {
	var (
		listen      string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay server that routes frames between named clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := newLogger()

			var metrics *relay.Metrics
			if metricsAddr != "" {
				metrics = relay.NewMetrics(nil)
				if err := metrics.Register(); err != nil {
					return err
				}
				srv := serveMetrics(metricsAddr, logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			server := relay.NewServer(logger, metrics)
			return server.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "localhost:42069", "TCP address to accept clients on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address when set")
	return cmd
}

func serveMetrics(addr string, logger loggingpkg.ServiceLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start metrics server", err, loggingpkg.LogFields{"address": addr})
		}
	}()
	logger.Info("Serving metrics", loggingpkg.LogFields{"address": addr})
	return srv
}
