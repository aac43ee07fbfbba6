package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feeScope/internal/chain"
	"feeScope/internal/config"
	"feeScope/internal/dex"
	"feeScope/internal/indexer"
	"feeScope/internal/storage"
	"feeScope/internal/storage/postgres"
)

func runScan(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadScan(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.RPC.URLs) == 0 {
		return fmt.Errorf("rpc url is required")
	}
	manager, err := indexer.ParseAddress(cfg.PositionManager)
	if err != nil {
		return fmt.Errorf("position manager: %w", err)
	}
	tokenIDs, err := indexer.ParseTokenIDs(cfg.TokenIDs)
	if err != nil {
		return err
	}

	decoder, err := dex.NewPositionManagerDecoder()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPC.URLs, chain.Options{RequestsPerSecond: cfg.RPC.RequestsPerSecond}, logger)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	var checkpoint indexer.Checkpointer
	if cfg.CheckpointEnabled {
		if cfg.PGDSN != "" {
			store, err := postgres.NewStore(ctx, cfg.PGDSN, 0)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			checkpoint = &indexer.DBCheckpoint{Store: store, Name: "scan:" + strings.ToLower(manager.Hex())}
		} else {
			checkpoint = indexer.NewFileCheckpoint(cfg.Checkpoint)
		}
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:       cfg.FromBlock,
		ToBlock:         cfg.ToBlock,
		PositionManager: manager,
		Topic0:          decoder.Topics(),
		TokenIDs:        tokenIDs,
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.RPC.MaxRetries,
		RetryBackoff:    cfg.RPC.RetryBackoff,
	}, chainClient, storage.NewLogFile(cfg.Out), checkpoint, logger)

	logger.Info("scan start",
		zap.Strings("rpc", cfg.RPC.URLs),
		zap.String("position_manager", manager.Hex()),
		zap.Int("token_ids", len(tokenIDs)),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	return runner.Run(ctx)
}
