package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"feeScope/internal/config"
	"feeScope/internal/storage"
	"feeScope/internal/storage/postgres"
	redisstore "feeScope/internal/storage/redis"
)

func main() {
	root := &cobra.Command{
		Use:          "feescope",
		Short:        "Uniswap V3 position fee tracker",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan position manager events into raw log JSONL",
		RunE:  runScan,
	}
	addRPCFlags(scanCmd)
	scanCmd.Flags().String("position-manager", config.DefaultPositionManager, "NonfungiblePositionManager address")
	scanCmd.Flags().StringSlice("token-id", nil, "restrict to these token IDs (comma-separated)")
	scanCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	scanCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	scanCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	scanCmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	scanCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	scanCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	scanCmd.Flags().String("pg-dsn", "", "keep the checkpoint in Postgres indexer_state instead of a file")
	root.AddCommand(scanCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed position events",
		RunE:  runDecode,
	}
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	root.AddCommand(decodeCmd)

	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Fold typed events into per-position ledgers",
		RunE:  runLedger,
	}
	ledgerCmd.Flags().String("in", "./data/typed_events.jsonl", "input typed events JSONL")
	addStoreFlags(ledgerCmd, config.StoreFile)
	ledgerCmd.Flags().Uint64("chain-id", 1, "chain the events belong to, scopes Postgres rows")
	ledgerCmd.Flags().Int("batch-size", 500, "ledgers per store write")
	ledgerCmd.Flags().Bool("recompute", false, "ignore stored ledgers and rebuild from the input")
	root.AddCommand(ledgerCmd)

	feesCmd := &cobra.Command{
		Use:   "fees",
		Short: "Compute uncollected fees for positions at one block",
		RunE:  runFees,
	}
	addRPCFlags(feesCmd)
	feesCmd.Flags().String("position-manager", config.DefaultPositionManager, "NonfungiblePositionManager address")
	feesCmd.Flags().String("factory", "", "V3 factory address, resolved from the position manager when empty")
	feesCmd.Flags().StringSlice("token-id", nil, "position manager token IDs (comma-separated)")
	feesCmd.Flags().StringSlice("pool-position", nil, "raw pool positions as pool:owner:lower:upper")
	feesCmd.Flags().Uint64("block", 0, "block to read at, 0 means latest")
	feesCmd.Flags().Int("concurrency", 8, "positions fetched in parallel")
	feesCmd.Flags().Uint("sanity-ceiling-bits", 200, "clamp fee growth deltas above 2^bits (256 disables)")
	feesCmd.Flags().String("protocol-launch", "", "protocol launch time (unix seconds or RFC3339)")
	feesCmd.Flags().String("out", "", "optional JSONL report path")
	addStoreFlags(feesCmd, config.StoreFile)
	root.AddCommand(feesCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRPCFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("rpc", nil, "RPC URLs, tried in order on failure (comma-separated)")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Float64("rps", 0, "max RPC requests per second, 0 means unlimited")
}

func addStoreFlags(cmd *cobra.Command, defaultKind string) {
	cmd.Flags().String("store", defaultKind, "store backend (none, file, postgres, redis)")
	cmd.Flags().String("cache-file", "./data/cache.json", "cache file for the file store")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("redis-addr", "", "Redis address")
	cmd.Flags().String("redis-password", "", "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// openStore returns nil for the none backend.
func openStore(ctx context.Context, cfg config.StoreConfig, chainID uint64, logger *zap.Logger) (storage.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case config.StoreFile:
		store, err := storage.OpenFileStore(cfg.CacheFile)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN, chainID)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		store, err := redisstore.NewStore(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			ChainID:  chainID,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}
