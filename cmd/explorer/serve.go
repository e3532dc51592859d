package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"space-explorer/internal/cache"
	"space-explorer/internal/logging"
	"space-explorer/internal/proxy"
	"space-explorer/internal/ratelimit"
)

const defaultAddr = "127.0.0.1:5174"

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tile proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, v, cmd)
		},
	}

	defaults := cache.DefaultConfig()
	flags := cmd.Flags()
	flags.String("addr", defaultAddr, "listen address")
	flags.String("cache-dir", defaults.Dir, "disk tile cache directory")
	flags.Int("cache-max-mb", defaults.MaxSizeMB, "disk cache size limit in MB")
	flags.Int("cache-ttl-days", defaults.TTLDays, "days before a cached tile expires (0 keeps forever)")
	flags.Bool("no-cache", false, "disable the disk cache")
	flags.String("sweep", "@every 5m", "cron schedule of the expired tile sweep")
	for _, key := range []string{"addr", "cache-dir", "cache-max-mb", "cache-ttl-days", "no-cache", "sweep"} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper, cmd *cobra.Command) error {
	logger, err := logging.New(v.GetBool("debug"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	limiter := ratelimit.NewHandler(nil, logger)
	defer limiter.Close()

	opts := []proxy.Option{
		proxy.WithRateLimiter(limiter),
		proxy.WithSweepSchedule(v.GetString("sweep")),
		proxy.WithLogger(logger),
	}
	if !v.GetBool("no-cache") {
		tiles, err := cache.New(cache.Config{
			Dir:       v.GetString("cache-dir"),
			MaxSizeMB: v.GetInt("cache-max-mb"),
			TTLDays:   v.GetInt("cache-ttl-days"),
		}, logger)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer tiles.Close()
		opts = append(opts, proxy.WithTileStore(tiles))
	}

	srv := proxy.NewServer(opts...)
	if err := srv.Start(v.GetString("addr")); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "proxy listening at %s\n", srv.URL())

	served := make(chan error, 1)
	go func() { served <- srv.Wait() }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
		return err
	}
	return <-served
}
