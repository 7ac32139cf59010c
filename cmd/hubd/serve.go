package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/arinova/hubd/config"
	"github.com/arinova/hubd/internal/dbconn"
	"github.com/arinova/hubd/internal/otelinit"
	"github.com/arinova/hubd/server"
	"github.com/arinova/hubd/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hub server",
		Long: `Start the hub: user and agent WebSocket fabrics, the health and
metrics surface, and the marketplace REST entry point.

Required configuration:
  - PostgreSQL (ARINOVA_POSTGRES_URL or DATABASE_URL)
  - Redis (ARINOVA_REDIS_URL or REDIS_URL)

Optional:
  - OTLP trace export (ARINOVA_OTEL_ENDPOINT or OTEL_EXPORTER_OTLP_ENDPOINT)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// maskURL hides the password in a connection URL for safe logging.
func maskURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "[invalid URL]"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "****")
		}
	}
	return parsed.String()
}

func runServer(ctx context.Context) error {
	cfg := config.Load()

	result, err := otelinit.Init(otelinit.Config{
		ServiceName:  "hubd",
		Environment:  cfg.Otel.Environment,
		OTLPEndpoint: cfg.Otel.Endpoint,
	})
	if err != nil {
		slog.Error("failed to initialize opentelemetry", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = result.Shutdown(shutdownCtx)
		}()
		slog.SetDefault(result.Logger)
	}
	log := slog.Default()

	log.Info("starting hubd",
		"host", cfg.Server.Host, "port", cfg.Server.Port,
		"postgres", maskURL(cfg.Database.URL), "redis", maskURL(cfg.Redis.URL))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := dbconn.Connect(ctx, dbconn.Config{URL: cfg.Database.URL, Timezone: "UTC"})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Error("invalid redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	st := store.New(pool)

	// Every row still marked streaming belonged to a previous process
	// lifetime; repair them before accepting any connection so the
	// single-active-stream invariant holds from the first frame.
	repaired, err := st.RepairStreamingOnBoot(ctx)
	if err != nil {
		log.Error("boot repair sweep failed", "error", err)
		os.Exit(1)
	}
	if repaired > 0 {
		log.Info("repaired interrupted streams from previous lifetime", "count", repaired)
	}

	srv := server.New(cfg, st, rdb, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
		return err
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
			return err
		}
		log.Info("server stopped")
	}
	return nil
}
