// Command monitor runs the Supervisor control loop and worker pool for one
// cloud, the long-running daemon half of sonny.
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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/sonny/internal/cache"
	"github.com/oriys/sonny/internal/cloudadapter"
	"github.com/oriys/sonny/internal/config"
	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/jobqueue"
	"github.com/oriys/sonny/internal/logging"
	"github.com/oriys/sonny/internal/metrics"
	"github.com/oriys/sonny/internal/notifier"
	"github.com/oriys/sonny/internal/observability"
	"github.com/oriys/sonny/internal/placementdb"
	"github.com/oriys/sonny/internal/prober"
	"github.com/oriys/sonny/internal/refresher"
	"github.com/oriys/sonny/internal/resurrector"
	"github.com/oriys/sonny/internal/supervisor"
	"github.com/oriys/sonny/internal/worker"
)

var (
	configFile      string
	logLevel        string
	logFormat       string
	tracingEnabled  bool
	tracingExporter string
	tracingEndpoint string
	metricsAddr     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "monitor",
		Short: "sonny-monitor - fault detector and automated failover controller",
		Long:  "Watches one cloud's compute hosts, confirms failures via active probing, and transplants tenants off dead hosts onto spares.",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Path to INI config file (required)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.Flags().BoolVar(&tracingEnabled, "tracing-enabled", false, "Enable OpenTelemetry tracing")
	rootCmd.Flags().StringVar(&tracingExporter, "tracing-exporter", "otlp-http", "Tracing exporter (otlp-http, stdout)")
	rootCmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "localhost:4318", "OTLP exporter endpoint")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve Prometheus metrics on")
	rootCmd.MarkFlagRequired("config")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return err
	}
	config.LoadFromEnv(cfg)

	logging.InitStructured(logFormat, logLevel)

	ctx := context.Background()
	if err := observability.Init(ctx, observability.Config{
		Enabled:     tracingEnabled,
		Exporter:    tracingExporter,
		Endpoint:    tracingEndpoint,
		ServiceName: "sonny-monitor",
		SampleRate:  1.0,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(ctx)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host,
		Password: cfg.Redis.Pass,
		DB:       inventory.ShardIndex(cfg.OpenStack.Cloud),
	})
	defer redisClient.Close()

	c := cache.NewRedisCacheFromClient(redisClient, "")
	snap := inventory.New(c, cfg.OpenStack.Cloud)
	q := jobqueue.NewRedisQueue(redisClient)

	pub := notifier.NewRedisPublisher(redisClient)
	n := notifier.New(pub, cfg.OpenStack.Cloud)
	var baseHandler slog.Handler
	if logFormat == "json" {
		baseHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{})
	} else {
		baseHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})
	}
	logging.SetOpHandler(notifier.NewHandler(baseHandler, n, slog.LevelWarn))

	// The real cloud control-plane adapter is out of scope (see
	// SPEC_FULL.md §1); cloudadapter.Fake is the reference implementation
	// an operator's own Adapter would replace here.
	cloud := cloudadapter.NewFake()

	placement, err := placementdb.Open(ctx, placementDSN(cfg.MySQL))
	if err != nil {
		return fmt.Errorf("connect placement database: %w", err)
	}
	defer placement.Close()
	if err := placement.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure placement schema: %w", err)
	}

	metrics.InitPrometheus("sonny", nil)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Warn("metrics server stopped", "error", err)
		}
	}()
	defer metricsServer.Shutdown(ctx)

	prb := prober.New()
	ref := refresher.New(cloud, snap)
	res := resurrector.New(cloud, snap, placement, prb, cfg.OpenStack.ProviderNet)

	pool := worker.New(q, ref, prb, res)

	sup := supervisor.New(cfg.OpenStack.Cloud, snap, q, n, cfg.OpenStack.ProviderNet, supervisor.Config{
		MonitorPeriod:     time.Duration(cfg.Default.MonitorPeriod) * time.Second,
		HeartbeatPeriod:   time.Duration(cfg.Default.HeartbeatPeriod) * time.Second,
		SuspiciousBackoff: cfg.Default.SuspiciousBackoff,
		DeadBackoff:       cfg.Default.DeadBackoff,
		CooldownPeriod:    time.Duration(cfg.Default.CooldownPeriod) * time.Second,
	})

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Op().Info("sonny monitor started", "cloud", cfg.OpenStack.Cloud, "redis", cfg.Redis.Host)

	go pool.Run(runCtx)
	sup.Run(runCtx)

	logging.Op().Info("sonny monitor shutting down")
	return nil
}

func placementDSN(cfg config.MySQLConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s/sonny?sslmode=disable", cfg.User, cfg.Pass, cfg.Host)
}
