package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feeScope/internal/config"
	"feeScope/internal/ledger"
)

func runLedger(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadLedger(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Store.Kind == config.StoreNone {
		return fmt.Errorf("ledger needs a store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, cfg.ChainID, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	logger.Info("ledger start",
		zap.String("in", cfg.In),
		zap.String("store", cfg.Store.Kind),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("recompute", cfg.Recompute),
	)

	builder := ledger.NewBuilder(ledger.Config{
		ChainID:   cfg.ChainID,
		BatchSize: cfg.BatchSize,
		Recompute: cfg.Recompute,
	}, store, logger)

	_, err = builder.Run(ctx, inputFile)
	return err
}
