package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/metorial/beacon/internal/agent"
	"github.com/metorial/beacon/internal/config"
	"github.com/metorial/beacon/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath string
		flags      config.AgentConfig
		consulAddr string
	)

	cmd := &cobra.Command{
		Use:           "agent",
		Short:         "Report this host's heartbeat and metrics to the collector",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, flags, consulAddr)
			if err := cfg.ValidateAgent(); err != nil {
				return err
			}

			logger := logging.New(cfg.Log.Level, cfg.Log.Format)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", os.Getenv("BEACON_CONFIG"), "Path to a YAML config file")
	f.StringVar(&flags.HostID, "host-id", "", "Host id registered on the controller")
	f.StringVar(&flags.Secret, "secret", "", "Host secret")
	f.StringVar(&flags.CollectorURL, "collector", "", "Collector URL (http) or host:port (grpc)")
	f.StringVar(&flags.Transport, "transport", "", "Report transport: http or grpc")
	f.DurationVar(&flags.Interval, "interval", 0, "Report interval")
	f.StringVar(&flags.DiskPath, "disk-path", "", "Mount point used for disk usage")
	f.StringVar(&consulAddr, "consul", "", "Consul address used to discover the collector")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags override file and environment settings.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags config.AgentConfig, consulAddr string) {
	set := cmd.Flags().Changed
	if set("host-id") {
		cfg.Agent.HostID = flags.HostID
	}
	if set("secret") {
		cfg.Agent.Secret = flags.Secret
	}
	if set("collector") {
		cfg.Agent.CollectorURL = flags.CollectorURL
	}
	if set("transport") {
		cfg.Agent.Transport = flags.Transport
	}
	if set("interval") {
		cfg.Agent.Interval = flags.Interval
	}
	if set("disk-path") {
		cfg.Agent.DiskPath = flags.DiskPath
	}
	if set("consul") {
		cfg.Consul.Address = consulAddr
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	dial, err := dialer(cfg, logger)
	if err != nil {
		return err
	}

	sampler := agent.NewMetricsCollector(cfg.Agent.DiskPath, nil, logger)
	a := agent.New(sampler, dial, agent.Options{
		HostID:   cfg.Agent.HostID,
		Secret:   cfg.Agent.Secret,
		Interval: cfg.Agent.Interval,
	}, logger)

	logger.Info("starting agent",
		zap.String("host_id", cfg.Agent.HostID),
		zap.String("transport", cfg.Agent.Transport),
		zap.Duration("interval", cfg.Agent.Interval))
	return a.Run(ctx)
}

// dialer connects to a fixed collector address when one is configured and otherwise
// asks Consul on every dial, so a restarted controller is found again.
func dialer(cfg *config.Config, logger *zap.Logger) (agent.Dialer, error) {
	transport := cfg.Agent.Transport

	resolve := func(context.Context) (string, error) { return cfg.Agent.CollectorURL, nil }
	if cfg.Agent.CollectorURL == "" {
		sd, err := agent.NewServiceDiscovery(cfg.Consul.Address, cfg.Consul.ServiceName)
		if err != nil {
			return nil, err
		}
		tag := agent.TagHTTP
		if transport == "grpc" {
			tag = agent.TagGRPC
		}
		resolve = func(ctx context.Context) (string, error) {
			addr, err := sd.Discover(ctx, tag)
			if err != nil {
				return "", err
			}
			if transport == "http" {
				addr = "http://" + addr
			}
			return addr, nil
		}
	}

	return func(ctx context.Context) (agent.Sender, error) {
		addr, err := resolve(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("connecting to collector", zap.String("addr", addr))
		if transport == "grpc" {
			return agent.NewGRPCSender(addr)
		}
		return agent.NewHTTPSender(addr, nil), nil
	}, nil
}
