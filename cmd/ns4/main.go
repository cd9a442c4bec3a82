// Command ns4 is the operator's manual lever into sonny: force a
// resurrection between two named hypervisors, or reset a cloud's
// resurrection cooldown, outside the Supervisor's own tick cycle.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/sonny/internal/cache"
	"github.com/oriys/sonny/internal/cloudadapter"
	"github.com/oriys/sonny/internal/config"
	"github.com/oriys/sonny/internal/inventory"
	"github.com/oriys/sonny/internal/placementdb"
	"github.com/oriys/sonny/internal/prober"
	"github.com/oriys/sonny/internal/resurrector"
)

var (
	configFile    string
	deadHV        string
	spareHV       string
	resetCooldown bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ns4",
		Short: "ns4 - manual resurrection and cooldown control for sonny",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Path to INI config file (required)")
	rootCmd.Flags().StringVar(&deadHV, "dead-hypervisor", "", "Hypervisor to evacuate")
	rootCmd.Flags().StringVar(&spareHV, "spare-hypervisor", "", "Hypervisor to resurrect tenants onto")
	rootCmd.Flags().BoolVar(&resetCooldown, "reset-cooldown", false, "Clear the cloud's resurrection cooldown and retry immediately")
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

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host,
		Password: cfg.Redis.Pass,
		DB:       inventory.ShardIndex(cfg.OpenStack.Cloud),
	})
	defer redisClient.Close()

	c := cache.NewRedisCacheFromClient(redisClient, "")
	snap := inventory.New(c, cfg.OpenStack.Cloud)

	if resetCooldown {
		if err := snap.ResetResurrectionCooldown(ctx); err != nil {
			return fmt.Errorf("reset cooldown: %w", err)
		}
		fmt.Println("resurrection cooldown cleared")
		return nil
	}

	if deadHV == "" || spareHV == "" {
		return fmt.Errorf("ns4: --dead-hypervisor and --spare-hypervisor are required")
	}

	cloud := cloudadapter.NewFake()

	placement, err := placementdb.Open(ctx, placementDSN(cfg.MySQL))
	if err != nil {
		return fmt.Errorf("connect placement database: %w", err)
	}
	defer placement.Close()
	if err := placement.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure placement schema: %w", err)
	}

	prb := prober.New()
	res := resurrector.New(cloud, snap, placement, prb, cfg.OpenStack.ProviderNet)

	if err := res.Resurrect(ctx, deadHV, spareHV, true); err != nil {
		return fmt.Errorf("resurrect: %w", err)
	}

	fmt.Printf("resurrected %s onto %s\n", deadHV, spareHV)
	return nil
}

func placementDSN(cfg config.MySQLConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s/sonny?sslmode=disable", cfg.User, cfg.Pass, cfg.Host)
}
