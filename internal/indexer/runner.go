package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"feeScope/internal/chain"
	"feeScope/internal/model"
	"feeScope/internal/storage"
)

// RunConfig holds runtime settings for the scanner.
type RunConfig struct {
	FromBlock       uint64
	ToBlock         uint64
	PositionManager common.Address
	Topic0          []common.Hash
	// TokenIDs restricts the scan to these positions via topic1 when set.
	TokenIDs     []*big.Int
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// LogSource is the part of the chain client the scanner needs.
type LogSource interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
}

// Runner streams position manager logs from the chain and writes them to a sink.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	sink       storage.LogSink
	checkpoint Checkpointer
	logger     *zap.Logger
	seen       map[string]struct{}
}

// NewRunner builds a Runner. A nil checkpoint disables resuming.
func NewRunner(cfg RunConfig, source LogSource, sink storage.LogSink, checkpoint Checkpointer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		checkpoint: checkpoint,
		logger:     logger,
		seen:       make(map[string]struct{}),
	}
}

// Run executes the scan loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("chain client is nil")
	}
	if r.sink == nil {
		return fmt.Errorf("log sink is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if r.cfg.PositionManager == (common.Address{}) {
		return fmt.Errorf("position manager address is required")
	}
	if len(r.cfg.Topic0) == 0 {
		return fmt.Errorf("at least one topic0 is required")
	}

	var chainID uint64
	err := r.retry(ctx, "chain id", func(ctx context.Context) error {
		id, err := r.source.GetChainID(ctx)
		if err != nil {
			return err
		}
		if !id.IsUint64() {
			return fmt.Errorf("chain id does not fit in uint64: %s", id)
		}
		chainID = id.Uint64()
		return nil
	})
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		err := r.retry(ctx, "latest block", func(ctx context.Context) error {
			var err error
			to, err = r.source.LatestBlockNumber(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
	}

	if r.checkpoint != nil {
		last, ok, err := r.checkpoint.Load(ctx)
		if err != nil {
			return err
		}
		if ok && last >= from {
			from = last + 1
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	addresses := []common.Address{r.cfg.PositionManager}
	topics := BuildTopics(r.cfg.Topic0, r.cfg.TokenIDs)

	var total int
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To), zap.Uint64("blocks", blockRange.Len()))

		var logs []types.Log
		err := r.retry(ctx, "filter logs", func(ctx context.Context) error {
			var err error
			logs, err = r.source.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topics)
			return err
		})
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		ingestedAt := time.Now().UTC()
		records := make([]model.LogRecord, 0, len(logs))
		for _, log := range logs {
			if log.Removed || r.isDuplicate(log) {
				continue
			}

			var ts uint64
			err := r.retry(ctx, "block timestamp", func(ctx context.Context) error {
				var err error
				ts, err = r.source.BlockTimestamp(ctx, log.BlockNumber)
				return err
			})
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
			records = append(records, buildLogRecord(chainID, log, ts, ingestedAt))
		}

		if err := r.sink.PutLogBatch(records); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}

		if r.checkpoint != nil {
			if err := r.checkpoint.Save(ctx, blockRange.To); err != nil {
				return err
			}
		}

		total += len(records)
		r.logger.Info("batch complete", zap.Int("logs", len(records)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	r.logger.Info("scan complete", zap.Int("logs", total), zap.Int("batches", len(ranges)))
	return nil
}

func (r *Runner) retry(ctx context.Context, what string, fn func(context.Context) error) error {
	return chain.WithRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn(what+" failed", zap.Error(err))
		}
		return err
	})
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}

func buildLogRecord(chainID uint64, log types.Log, timestamp uint64, ingestedAt time.Time) model.LogRecord {
	record := model.LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      make([]string, len(log.Topics)),
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Timestamp:   timestamp,
		IngestedAt:  ingestedAt.Format(time.RFC3339Nano),
	}
	for i, topic := range log.Topics {
		record.Topics[i] = topic.Hex()
	}
	return record
}
