// Command healctld runs the auto-healing supervisor: the scheduler, the
// event listener, the HTTP control surface, and the Prometheus metrics
// endpoint, all wired against one state store and one runtime adapter.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/healctl/healctl/internal/api"
	"github.com/healctl/healctl/internal/config"
	"github.com/healctl/healctl/internal/healing"
	"github.com/healctl/healctl/internal/metrics"
	"github.com/healctl/healctl/internal/notify"
	"github.com/healctl/healctl/internal/policy"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
)

var (
	notifyURLs []string
)

func main() {
	root := &cobra.Command{
		Use:   "healctld",
		Short: "healctld supervises and auto-heals local container workloads",
		RunE:  runRoot,
	}
	root.PersistentFlags().String("data-dir", "", "directory for persisted state (env HEALCTL_DATA_DIR)")
	root.PersistentFlags().String("bind-addr", "", "control API bind address (env HEALCTL_BIND_ADDR)")
	root.PersistentFlags().String("metrics-addr", "", "metrics server bind address (env HEALCTL_METRICS_ADDR)")
	root.PersistentFlags().String("docker-host", "", "Docker Engine endpoint (env DOCKER_HOST)")
	root.PersistentFlags().StringSliceVar(&notifyURLs, "notify-url", nil, "Shoutrrr provider URL (repeatable)")

	root.AddCommand(validateConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "validate a config.json without starting the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DataDir, policy.ValidateConfig)
			if err != nil {
				return err
			}
			warnings, err := policy.ValidateConfig(st.GetConfig())
			if err != nil {
				return fmt.Errorf("configuration rejected: %w", err)
			}
			for _, w := range warnings {
				fmt.Fprintln(os.Stdout, "warning:", w)
			}
			fmt.Fprintln(os.Stdout, "configuration is valid")
			return nil
		},
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	// A plain logger gets state loading off the ground; once the store is
	// open, observability.log_level/log_format (persisted domain config)
	// takes over for the rest of the process's life.
	log := slog.New(tint.NewHandler(os.Stderr, nil))
	slog.SetDefault(log)

	st, err := store.Open(cfg.DataDir, policy.ValidateConfig)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	log = newLogger(st.GetConfig().Observability)
	slog.SetDefault(log)

	adapter := runtime.NewDockerAdapter(cfg.DockerHost)
	collector := metrics.New()
	dispatcher := notify.New(firstOf(notifyURLs, cfg.NotifyURLs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := st.WatchConfig(ctx); err != nil {
			log.Warn("healctld: config watcher stopped", "error", err)
		}
	}()
	go dispatcher.Run(ctx)
	if st.GetConfig().Observability.HostMetricsEnabled {
		go collector.RunHostSampler(ctx, 15*time.Second)
	}

	scheduler := healing.New(adapter, st, dispatcher, collector, log, 4)
	listener := healing.NewListener(adapter, st, log)
	go scheduler.Run(ctx)
	go listener.Run(ctx)

	router := api.NewRouter(api.Deps{Store: st, Adapter: adapter, Metrics: collector, Notifier: dispatcher, Log: log})
	server := &http.Server{Addr: cfg.BindAddr, Handler: router}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.BindAddr {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: api.MetricsOnlyHandler(collector)}
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("healctld: control surface listening", "addr", cfg.BindAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	if metricsServer != nil {
		go func() {
			log.Info("healctld: metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("healctld: shutting down")
	case err := <-errCh:
		log.Error("healctld: a server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}

func newLogger(obs store.ObservabilityConfig) *slog.Logger {
	level := parseLevel(obs.LogLevel)

	if obs.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func firstOf(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}
