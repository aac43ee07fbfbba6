package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feeScope/internal/chain"
	"feeScope/internal/config"
	"feeScope/internal/dex"
	"feeScope/internal/feemath"
	"feeScope/internal/fees"
	"feeScope/internal/indexer"
	"feeScope/internal/model"
	"feeScope/internal/protoday"
	"feeScope/internal/storage"
)

func runFees(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFees(cfgFile, cmd.Flags())
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
	var factory common.Address
	if cfg.Factory != "" {
		if factory, err = indexer.ParseAddress(cfg.Factory); err != nil {
			return fmt.Errorf("factory: %w", err)
		}
	}
	refs, err := parseRefs(cfg.TokenIDs, cfg.PoolPositions)
	if err != nil {
		return err
	}

	var clock protoday.Clock
	if cfg.ProtocolLaunch != "" {
		launch, err := config.ParseTimestamp(cfg.ProtocolLaunch)
		if err != nil {
			return fmt.Errorf("protocol launch: %w", err)
		}
		clock.Launch = time.Unix(int64(launch), 0).UTC()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPC.URLs, chain.Options{RequestsPerSecond: cfg.RPC.RequestsPerSecond}, logger)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	store, err := openStore(ctx, cfg.Store, chainID.Uint64(), logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if len(refs) == 0 {
		cached, ok := store.(*storage.FileStore)
		if !ok {
			return fmt.Errorf("no positions given: use --token-id or --pool-position")
		}
		for _, id := range cached.PositionIDs() {
			ref, err := model.ParsePositionRef(id)
			if err != nil {
				logger.Warn("skip cached position", zap.String("id", id), zap.Error(err))
				continue
			}
			refs = append(refs, ref)
		}
		if len(refs) == 0 {
			return fmt.Errorf("no positions given and none cached in %s", cfg.Store.CacheFile)
		}
		logger.Info("refreshing cached positions", zap.Int("positions", len(refs)))
	}

	reader := dex.NewSnapshotReader(dex.ReaderConfig{
		PositionManager: manager,
		Factory:         factory,
		MaxRetries:      cfg.RPC.MaxRetries,
		RetryBackoff:    cfg.RPC.RetryBackoff,
	}, chainClient, logger)

	calc := feemath.NewCalculator(feemath.CeilingFromBits(cfg.SanityCeilingBits), logger)

	var positionStore storage.PositionStore
	if store != nil {
		positionStore = store
	}
	svc := fees.NewService(fees.Config{
		ChainID:     chainID.Uint64(),
		Block:       cfg.Block,
		Concurrency: cfg.Concurrency,
		Clock:       clock,
	}, reader, chainClient, calc, positionStore, logger)

	report, runErr := svc.Run(ctx, refs)

	if cfg.Out != "" {
		if err := writeReport(cfg.Out, report); err != nil {
			return err
		}
	}
	return runErr
}

func parseRefs(tokenIDs, poolPositions []string) ([]model.PositionRef, error) {
	refs := make([]model.PositionRef, 0, len(tokenIDs)+len(poolPositions))
	for _, id := range tokenIDs {
		ref, err := model.ParsePositionRef(id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	for _, raw := range poolPositions {
		ref, err := model.ParsePositionRef("pool:" + raw)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func writeReport(path string, report fees.Report) error {
	writer, err := storage.NewJSONLWriter(path, false)
	if err != nil {
		return err
	}
	for _, position := range report.Positions {
		if err := writer.Write(position); err != nil {
			writer.Close()
			return err
		}
	}
	for _, failure := range report.Failures {
		if err := writer.Write(failure); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}
