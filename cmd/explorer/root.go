package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"space-explorer/internal/catalog"
	"space-explorer/internal/logging"
	"space-explorer/internal/nasa"
	"space-explorer/internal/ratelimit"
	"space-explorer/internal/resolver"
)

const envPrefix = "SPACE_EXPLORER"

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "explorer",
		Short:         "Headless NASA imagery explorer",
		Long:          "explorer resolves and loads NASA GIBS, Trek and Hubble imagery and serves the local tile proxy.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default ./space-explorer.yaml)")
	flags.Bool("debug", false, "debug logging")
	flags.String("catalog", "", "catalog extension file (YAML)")
	flags.String("proxy", "", "route upstream requests through a running proxy at this base URL")
	for _, key := range []string{"debug", "catalog", "proxy"} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		newServeCmd(v),
		newBodiesCmd(v),
		newResolveCmd(v),
		newLoadCmd(v),
		newImportCmd(v),
	)
	return root
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("space-explorer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// no config file is fine; an unreadable one is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// env is what every subcommand needs to talk to NASA
type env struct {
	logger   *zap.Logger
	catalog  *catalog.Catalog
	limiter  *ratelimit.Handler
	client   *nasa.Client
	resolver *resolver.Resolver
}

func newEnv(v *viper.Viper) (*env, error) {
	logger, err := logging.New(v.GetBool("debug"))
	if err != nil {
		return nil, err
	}

	cat := catalog.Default()
	if path := v.GetString("catalog"); path != "" {
		if _, err := cat.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	limiter := ratelimit.NewHandler(nil, logger)
	opts := []nasa.Option{nasa.WithRateLimiter(limiter), nasa.WithLogger(logger)}
	if base := v.GetString("proxy"); base != "" {
		opts = append(opts, nasa.WithProxy(base))
	}
	client := nasa.NewClient(opts...)

	return &env{
		logger:   logger,
		catalog:  cat,
		limiter:  limiter,
		client:   client,
		resolver: resolver.New(cat, nil, client, logger),
	}, nil
}

func (e *env) Close() {
	e.limiter.Close()
	_ = e.logger.Sync()
}
