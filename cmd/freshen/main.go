package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"goflare.io/freshen"
	"goflare.io/freshen/config"
	"goflare.io/freshen/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "freshen",
		Short:        "Inspect and exercise the school data cache",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("store", "sqlite", "store backend: memory, sqlite or redis")
	flags.String("sqlite-path", "", "sqlite database file (FRESHEN_SQLITE_PATH)")
	flags.String("redis-url", "", "redis url (FRESHEN_REDIS_URL)")
	flags.String("redis-prefix", "freshen", "prefix for redis keys")
	flags.String("base-url", "", "API base url (FRESHEN_BASE_URL)")
	flags.String("serialization", "", "cache envelope codec: json or msgpack")
	flags.String("log-level", "", "log level (FRESHEN_LOG_LEVEL)")
	flags.Bool("dev", false, "use the local development API")
	flags.Bool("bloom", true, "skip lookups of never-written keys with a bloom filter")

	root.AddCommand(
		newFetchCmd(),
		newInspectCmd(),
		newClearCmd(),
		newTokenCmd(),
	)
	return root
}

// cliEnv holds the settings only the CLI reads from the environment.
type cliEnv struct {
	SQLitePath string `env:"FRESHEN_SQLITE_PATH" envDefault:"freshen.db"`
	RedisURL   string `env:"FRESHEN_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	LogLevel   string `env:"FRESHEN_LOG_LEVEL" envDefault:"warn"`
}

// loadEnv parses cliEnv and lets non-empty flags override it.
func loadEnv(cmd *cobra.Command) (cliEnv, error) {
	var e cliEnv
	if err := env.Parse(&e); err != nil {
		return cliEnv{}, fmt.Errorf("parse env: %w", err)
	}
	for flagName, dst := range map[string]*string{
		"sqlite-path": &e.SQLitePath,
		"redis-url":   &e.RedisURL,
		"log-level":   &e.LogLevel,
	} {
		if v, _ := cmd.Flags().GetString(flagName); v != "" {
			*dst = v
		}
	}
	return e, nil
}

func newLogger(e cliEnv) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(e.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// openAdapter opens the store selected by --store.
func openAdapter(cmd *cobra.Command, e cliEnv, logger *zap.Logger) (store.Adapter, error) {
	adapter, err := openBackend(cmd, e, logger)
	if err != nil {
		return nil, err
	}
	if _, ok := adapter.(store.KeyLister); !ok {
		return adapter, nil
	}
	if bloom, _ := cmd.Flags().GetBool("bloom"); !bloom {
		return adapter, nil
	}
	filtered, err := store.NewFiltered(cmd.Context(), adapter, 1000, 0.01)
	if err != nil {
		closeAdapter(adapter)
		return nil, err
	}
	return filtered, nil
}

func closeAdapter(adapter store.Adapter) {
	if c, ok := adapter.(io.Closer); ok {
		_ = c.Close()
	}
}

func openBackend(cmd *cobra.Command, e cliEnv, logger *zap.Logger) (store.Adapter, error) {
	ctx := cmd.Context()
	kind, _ := cmd.Flags().GetString("store")
	switch kind {
	case "memory":
		return store.NewMemory(0, logger)
	case "sqlite":
		return store.NewSQLite(ctx, e.SQLitePath)
	case "redis":
		opts, err := redis.ParseURL(e.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		prefix, _ := cmd.Flags().GetString("redis-prefix")
		return freshen.NewRedisAdapter(client, prefix, config.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

// options turns the persistent flags into client options.
func options(cmd *cobra.Command, logger *zap.Logger) []config.Option {
	opts := []config.Option{config.WithEnv(), config.WithLogger(logger)}
	if dev, _ := cmd.Flags().GetBool("dev"); dev {
		opts = append(opts, config.WithDevelopment())
	}
	if v, _ := cmd.Flags().GetString("base-url"); v != "" {
		opts = append(opts, config.WithBaseURL(v))
	}
	if v, _ := cmd.Flags().GetString("serialization"); v != "" {
		opts = append(opts, config.WithSerialization(v))
	}
	return opts
}

// withClient opens the store and the client, runs fn and closes both.
func withClient(cmd *cobra.Command, fn func(c *freshen.Client, adapter store.Adapter) error) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(e)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	adapter, err := openAdapter(cmd, e, logger)
	if err != nil {
		return err
	}
	c, err := freshen.New(cmd.Context(), adapter, options(cmd, logger)...)
	if err != nil {
		closeAdapter(adapter)
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close client", zap.Error(err))
		}
	}()
	return fn(c, adapter)
}
