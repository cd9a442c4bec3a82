// Command sonny runs ChatBridge, forwarding Notifier traffic to chat and
// answering operator @-mentions for every configured cloud.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/sonny/internal/cache"
	"github.com/oriys/sonny/internal/chatbridge"
	"github.com/oriys/sonny/internal/config"
	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/logging"
	"github.com/oriys/sonny/internal/notifier"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sonny",
		Short: "sonny - chat bridge for the fleet failover controller",
		Long:  "Relays Notifier traffic to Slack and answers operator @-mentions (help, status, show hv, show vm).",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Path to INI config file (required)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
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

	if cfg.Slack.Token == "" {
		return fmt.Errorf("sonny: slack token is required")
	}
	if len(cfg.Slack.Clouds) == 0 {
		return fmt.Errorf("sonny: at least one cloud must be configured")
	}

	// Pub/sub channels live outside Redis's per-DB keyspace, so one client
	// reaches every cloud's Notifier topic regardless of which DB each
	// cloud's inventory is sharded into.
	pubsubClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host,
		Password: cfg.Redis.Pass,
	})
	defer pubsubClient.Close()
	pub := notifier.NewRedisPublisher(pubsubClient)

	snapshots := make(map[string]*inventory.Snapshot, len(cfg.Slack.Clouds))
	clients := make([]*redis.Client, 0, len(cfg.Slack.Clouds))
	for _, cloud := range cfg.Slack.Clouds {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host,
			Password: cfg.Redis.Pass,
			DB:       inventory.ShardIndex(cloud),
		})
		clients = append(clients, client)
		c := cache.NewRedisCacheFromClient(client, "")
		snapshots[cloud] = inventory.New(c, cloud)
	}
	defer func() {
		for _, client := range clients {
			client.Close()
		}
	}()

	transport := chatbridge.NewRTMTransport(cfg.Slack.Token)
	bridge := chatbridge.New(transport, pub, cfg.Slack.Channel, cfg.Slack.Clouds, snapshots)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Op().Info("sonny chat bridge started", "channel", cfg.Slack.Channel, "clouds", cfg.Slack.Clouds)

	if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	logging.Op().Info("sonny chat bridge shutting down")
	return nil
}
