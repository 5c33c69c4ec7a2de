package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/pkg/logger"
	"github.com/ajitpratap0/constellation/pkg/metrics"
)

func newServeMetricsCommand(g *globalFlags) *cobra.Command {
	var shards int
	var addr string
	var sampleInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Load a dataset and expose Prometheus metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(g.configFile)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Viewer.Observability.MetricsAddr
			}
			log := logger.Get().With(zap.String("component", "metrics-server"))

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				log.Info("serving metrics", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			s, err := openSession(ctx, cfg, shards)
			if err != nil {
				_ = srv.Close()
				return err
			}
			defer s.Close()

			ticker := time.NewTicker(sampleInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				case err := <-errCh:
					return err
				case <-ticker.C:
					rss, err := metrics.SampleProcessMemory()
					if err != nil {
						log.Warn("failed to sample process memory", zap.Error(err))
						continue
					}
					log.Debug("process memory", zap.String("rss", humanize.Bytes(rss)))
				}
			}
		},
	}
	cmd.Flags().IntVar(&shards, "shards", 1, "Number of shards to load")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to observability.metrics_addr)")
	cmd.Flags().DurationVar(&sampleInterval, "sample-interval", 15*time.Second, "Process memory sampling interval")
	return cmd
}
