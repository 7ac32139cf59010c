package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/arinova/hubd/config"
	"github.com/arinova/hubd/internal/dbconn"
)

// checkCmd verifies the hub's two hard dependencies are reachable with
// the current configuration, without starting the server. Useful as a
// deploy gate.
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify database and redis connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			pool, err := dbconn.Connect(ctx, dbconn.Config{URL: cfg.Database.URL, Timezone: "UTC"})
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			pool.Close()
			fmt.Println("postgres: ok")

			opts, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			rdb := redis.NewClient(opts)
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			fmt.Println("redis: ok")
			return nil
		},
	}
}
