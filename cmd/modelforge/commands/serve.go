package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ekisa-team/modelforge/internal/config"
	grpcserver "github.com/ekisa-team/modelforge/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(o *options) *cobra.Command {
	var (
		flags       compileFlags
		grpcPort    int
		metricsAddr string
	)
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve fetch, compile and run over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := o.loadConfig(cmd, &flags)
			if err != nil {
				return err
			}

			forge, backends, err := o.newForge(ctx, cfg)
			if err != nil {
				return err
			}
			defer backends.Close()

			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}

			srv := grpcserver.NewGRPCServer(grpcserver.NewServer(forge, cfg), o.metrics())

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				slog.Info("gRPC server started", "addr", lis.Addr().String())
				return srv.Serve(lis)
			})

			var metricsServer *http.Server
			if metricsAddr != "" && o.registry != nil {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(o.registry, promhttp.HandlerOptions{}))
				metricsServer = &http.Server{
					Addr:              metricsAddr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				g.Go(func() error {
					slog.Info("Metrics server started", "addr", metricsAddr)
					if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			}

			g.Go(func() error {
				<-ctx.Done()
				slog.Info("Starting graceful shutdown")

				srv.GracefulStop()
				if metricsServer != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					return metricsServer.Shutdown(shutdownCtx)
				}
				return nil
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	flags.register(c)
	c.Flags().IntVar(&grpcPort, "grpc-port", config.DefaultGRPCPort(), "gRPC port to listen on")
	c.Flags().StringVar(&metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Address of the Prometheus /metrics endpoint (empty disables)")
	return c
}
