package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/metorial/beacon/internal/collector"
	"github.com/metorial/beacon/internal/config"
	"github.com/metorial/beacon/internal/logging"
	"github.com/metorial/beacon/internal/metrics"
	"github.com/metorial/beacon/internal/monitor"
	"github.com/metorial/beacon/internal/notify"
	"github.com/metorial/beacon/internal/rpc"
	"github.com/metorial/beacon/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "controller",
		Short:         "Collect host heartbeats and track outages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.New(cfg.Log.Level, cfg.Log.Format)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("BEACON_CONFIG"), "Path to a YAML config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.Source())
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("database ready", zap.String("driver", db.Driver()))

	clk := clock.New()
	m := metrics.New()

	telegram := notify.NewTelegram(notify.TelegramConfig{
		APIURL:   cfg.Notify.TelegramAPIURL,
		BotToken: cfg.Notify.TelegramBotToken,
		ChatID:   cfg.Notify.TelegramChatID,
	}, db, &http.Client{Timeout: cfg.Notify.Timeout})
	dispatcher := notify.NewDispatcher(telegram, notify.DispatcherOptions{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
	}, logger, m)

	evaluator := monitor.NewEvaluator(db, logger, m)
	tracker := monitor.NewTracker(db, dispatcher, logger, m)
	scheduler := monitor.NewScheduler(evaluator, tracker, db, clk, monitor.SchedulerOptions{
		OfflineThreshold:  cfg.Monitor.OfflineThreshold,
		SweepInterval:     cfg.Monitor.SweepInterval,
		Retention:         cfg.Monitor.Retention,
		RetentionInterval: cfg.Monitor.RetentionInterval,
	}, logger)

	ingestor := collector.NewIngestor(db, clk, logger, m, func(ctx context.Context, hostID string, now time.Time) {
		if err := tracker.ReconcileHost(ctx, hostID, now); err != nil {
			m.ReconcileErrors.Inc()
			logger.Warn("reconcile after report failed", zap.String("host_id", hostID), zap.Error(err))
		}
	})

	grpcServer := grpc.NewServer()
	rpc.RegisterReporterServer(grpcServer, collector.NewServer(ingestor))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	mux := http.NewServeMux()
	collector.NewAPI(db, ingestor, clk, logger, m).RegisterRoutes(mux)
	collector.NewAdminAPI(db, cfg.Admin.Token, clk, logger).RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	if cfg.Consul.Address != "" {
		reg, err := newRegistration(cfg, logger)
		if err != nil {
			logger.Warn("consul registration unavailable", zap.Error(err))
		} else {
			if err := reg.register(); err != nil {
				logger.Warn("failed to register with consul", zap.Error(err))
			}
			defer reg.deregister()
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error {
		watchDatabase(ctx, db, healthServer, cfg.Monitor.HealthInterval, logger)
		return nil
	})

	if grpcLis != nil {
		g.Go(func() error {
			logger.Info("gRPC server listening", zap.String("addr", grpcLis.Addr().String()))
			return grpcServer.Serve(grpcLis)
		})
	}
	g.Go(func() error {
		logger.Info("HTTP API server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// watchDatabase flips the gRPC health status with database reachability.
func watchDatabase(ctx context.Context, db *store.DB, hs *health.Server, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := db.Ping(pingCtx)
		cancel()

		switch {
		case err != nil && serving:
			logger.Error("database unreachable", zap.Error(err))
			hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			logger.Info("database reachable again")
			hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
			serving = true
		}
	}
}
