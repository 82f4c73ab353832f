package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/inferedge/browsercore/internal/log"
	"github.com/inferedge/browsercore/internal/scheduler"
	"github.com/inferedge/browsercore/internal/telemetry"
)

const metricsReadHeaderTimeout = 10 * time.Second

// NewServeCommand loads a model and keeps the engine warm, serving a
// Prometheus /metrics endpoint until interrupted.
func NewServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Load a model and serve /metrics until interrupted",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			configPath, _ := cobraCmd.Root().PersistentFlags().GetString("config")
			b, err := newBootstrap(configPath)
			if err != nil {
				return err
			}
			defer b.close()

			if err := b.engine.Init(b.modelBytes, "{}"); err != nil {
				return fmt.Errorf("init engine: %w", err)
			}

			reg := prometheus.NewRegistry()
			telemetry.NewMetrics(b.hub, reg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.Named("demo.serve")
			b.sched.OnViolation(func(v scheduler.BudgetViolation) {
				logger.Warn("budget violation",
					log.String("workloadId", v.WorkloadID),
					log.String("kind", string(v.Kind)))
			})
			b.sched.Start(ctx)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: metricsReadHeaderTimeout,
			}
			go func() {
				logger.Info("metrics server listening", log.String("addr", addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server stopped", log.Err(err))
				}
			}()

			<-ctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "address to serve /metrics on")
	return cmd
}
