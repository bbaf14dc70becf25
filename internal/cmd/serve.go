package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"

	"github.com/denniswebb/natgate/internal/api"
	"github.com/denniswebb/natgate/internal/audit"
	"github.com/denniswebb/natgate/internal/config"
	"github.com/denniswebb/natgate/internal/discovery"
	"github.com/denniswebb/natgate/internal/gateway"
	"github.com/denniswebb/natgate/internal/iptables"
	"github.com/denniswebb/natgate/internal/logging"
	"github.com/denniswebb/natgate/internal/metrics"
	"github.com/denniswebb/natgate/internal/route"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd represents the natgate serve subcommand.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the port forwarding control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.GetLogger()
		if logger == nil {
			logger = slog.Default()
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg, defaultServeDeps(), logger)
	},
}

// serveDeps holds the host-facing constructors so tests can substitute them.
type serveDeps struct {
	newExecutor   func() iptables.Executor
	newKubeClient func(kubeconfig string) (kubernetes.Interface, error)
	// ready, when set, is called with the control API address once it accepts connections.
	ready func(addr net.Addr)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		newExecutor: iptables.NewExecutor,
		newKubeClient: func(kubeconfig string) (kubernetes.Interface, error) {
			client, err := discovery.NewClient(kubeconfig)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, deps serveDeps, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.NewMetrics()

	mode := iptables.Live
	if cfg.DryRun {
		mode = iptables.DryRun
	}

	var executor iptables.Executor
	if mode == iptables.Live {
		executor = deps.newExecutor()
		if err := iptables.VerifyChains(ctx, executor, logger); err != nil {
			m.IncrementError("iptables")
			return fmt.Errorf("verify iptables chains: %w", err)
		}
	}

	runner, err := iptables.NewRunner(iptables.RunnerConfig{
		Executor: executor,
		Mode:     mode,
		Policy:   iptables.BestEffort,
		Logger:   logger.With(slog.String("component", "iptables")),
	})
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	var (
		resolver  gateway.Resolver
		namespace string
	)
	if cfg.KubeNamespace != "" {
		client, err := deps.newKubeClient(cfg.Kubeconfig)
		if err != nil {
			return fmt.Errorf("create kubernetes client: %w", err)
		}
		serviceResolver, err := discovery.NewServiceResolver(client, cfg.KubeNamespace, logger.With(slog.String("component", "discovery")))
		if err != nil {
			return fmt.Errorf("create service resolver: %w", err)
		}
		resolver = serviceResolver
		namespace = serviceResolver.Namespace()
	}

	registry := route.NewRegistry()
	health := metrics.NewHealthChecker(mode.String(), registry)

	gw, err := gateway.New(gateway.Config{
		PublicIP:         cfg.PublicIP,
		Registry:         registry,
		Runner:           runner,
		Executor:         executor,
		Resolver:         resolver,
		AllowedProtocols: cfg.AllowedProtocols,
		Metrics:          m,
		Logger:           logger.With(slog.String("component", "gateway")),
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	var poller *audit.Poller
	if cfg.AuditInterval > 0 {
		if mode == iptables.Live {
			poller, err = audit.NewPoller(audit.PollerConfig{
				Source:   gw,
				Interval: cfg.AuditInterval,
				Recorder: m,
				Observer: health,
				Logger:   logger.With(slog.String("component", "audit")),
			})
			if err != nil {
				return fmt.Errorf("create drift audit: %w", err)
			}
		} else {
			logger.Warn("drift audit disabled in dry-run mode", slog.String("audit_interval", cfg.AuditInterval.String()))
		}
	}

	apiOpts := &api.Options{
		AccessLog: cfg.AccessLog,
		Logger:    logger.With(slog.String("component", "api")),
	}

	var metricsSrv *api.Server
	if cfg.MetricsAddr == "" {
		apiOpts.Health = health.Handler()
		apiOpts.Metrics = m.Handler()
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.Handle("/healthz", health.Handler())
		metricsSrv, err = api.NewServer("tcp", cfg.MetricsAddr, mux)
		if err != nil {
			return fmt.Errorf("listen on metrics address %s: %w", cfg.MetricsAddr, err)
		}
	}

	apiSrv, err := api.NewServer("tcp", cfg.ListenAddress(), api.NewHandler(gw, apiOpts))
	if err != nil {
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress(), err)
	}

	attrs := []any{
		slog.String("addr", apiSrv.Addr().String()),
		slog.String("public_ip", gw.PublicIP()),
		slog.String("mode", mode.String()),
		slog.Bool("service_resolution", resolver != nil),
	}
	if namespace != "" {
		attrs = append(attrs, slog.String("kube_namespace", namespace))
	}
	if metricsSrv != nil {
		attrs = append(attrs, slog.String("metrics_addr", metricsSrv.Addr().String()))
	}
	logger.Info("control api listening", attrs...)

	if deps.ready != nil {
		deps.ready(apiSrv.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiSrv.Serve)
	if metricsSrv != nil {
		g.Go(metricsSrv.Serve)
	}
	if poller != nil {
		g.Go(func() error {
			poller.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		health.SetDraining()
		logger.Info("shutting down control api")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, apiSrv.Shutdown(shutdownCtx))
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	done := []any{slog.Int("routes", len(gw.Routes()))}
	if poller != nil {
		done = append(done, slog.Any("drifted", poller.Drifted()))
	}
	logger.Info("control api shutdown complete", done...)
	return nil
}

func init() {
	flags := ServeCmd.Flags()
	flags.String("public-ip", "", "Public IPv4 address used for every route's public endpoint")
	flags.String("listen-addr", "127.0.0.1", "Control API bind address")
	flags.Int("listen-port", 8080, "Control API port")
	flags.BoolP("dry-run", "d", false, "Log firewall commands instead of running iptables")
	flags.String("metrics-addr", "", "Serve /metrics and /healthz on a separate address")
	flags.StringSlice("allowed-protocols", []string{gateway.DefaultProtocol}, "Protocols accepted by create requests")
	flags.String("kube-namespace", "", "Resolve inner_service names to Services in this namespace")
	flags.String("kubeconfig", "", "Path to a kubeconfig; in-cluster credentials are used when empty")
	flags.Bool("access-log", true, "Log every control API request")
	flags.Duration("audit-interval", 0, "Periodically check registered routes against the live firewall (0 disables)")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind serve flags: %v\n", err)
		os.Exit(1)
	}
}
