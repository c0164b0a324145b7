package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	airportcore "github.com/pppwaw/white-label-airport-core"
	"pkt.systems/pslog"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow core state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			client, err := newClient(ctx, cfg, airportcore.WithStateWatch(), airportcore.WithRegisterer(reg))
			if err != nil {
				return err
			}
			events, cancelEvents := client.Events().Subscribe()
			defer cancelEvents()
			if err := client.Start(ctx); err != nil {
				return err
			}
			defer stopClient(client, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case ev, ok := <-events:
						if !ok {
							return nil
						}
						if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", time.Now().Format(time.RFC3339), ev.Label, ev.Change.Source); err != nil {
							return err
						}
					}
				}
			})
			if metricsAddr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, metricsAddr, reg, logger)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	return cmd
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger pslog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
