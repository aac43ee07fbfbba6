package ledger

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"feeScope/internal/model"
	"feeScope/internal/storage"
)

// Config controls ledger building.
type Config struct {
	// ChainID is the chain the store is scoped to. Events from any other chain
	// abort the run. Zero accepts every chain.
	ChainID   uint64
	BatchSize int
	// Recompute ignores stored ledgers and folds every event from scratch.
	Recompute bool
}

// Stats summarizes one build run.
type Stats struct {
	Total   int
	Applied int
	Skipped int
	Failed  int
	Ledgers int
}

// Builder folds typed position events into ledgers held in a LedgerStore.
type Builder struct {
	cfg          Config
	store        storage.LedgerStore
	logger       *zap.Logger
	now          func() time.Time
	accumulators map[string]*Accumulator
	dirty        map[string]struct{}
}

func NewBuilder(cfg Config, store storage.LedgerStore, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Builder{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		now:          time.Now,
		accumulators: make(map[string]*Accumulator),
		dirty:        make(map[string]struct{}),
	}
}

// Run reads typed events JSONL from r. Events must be in chain order.
func (b *Builder) Run(ctx context.Context, r io.Reader) (Stats, error) {
	if b.store == nil {
		return Stats{}, fmt.Errorf("ledger store is nil")
	}

	var stats Stats
	err := storage.ScanJSONL(r, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Total++

		event, err := model.ParseTypedEvent(line)
		if err != nil {
			stats.Failed++
			b.logger.Warn("decode typed event", zap.Error(err))
			return nil
		}
		if b.cfg.ChainID != 0 && event.ChainID != b.cfg.ChainID {
			return fmt.Errorf("event at block %d is on chain %d, ledger is scoped to chain %d",
				event.BlockNumber, event.ChainID, b.cfg.ChainID)
		}

		applied, err := b.apply(ctx, event)
		if err != nil {
			stats.Failed++
			b.logger.Warn("apply event",
				zap.Error(err),
				zap.String("token_id", event.Decoded.TokenID),
				zap.String("event", event.EventName),
				zap.Uint64("block_number", event.BlockNumber),
			)
			return nil
		}
		if !applied {
			stats.Skipped++
			return nil
		}
		stats.Applied++

		if len(b.dirty) >= b.cfg.BatchSize {
			return b.flush(ctx)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := b.flush(ctx); err != nil {
		return stats, err
	}
	stats.Ledgers = len(b.accumulators)

	b.logger.Info("ledger complete",
		zap.Int("total", stats.Total),
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("ledgers", stats.Ledgers),
	)
	return stats, nil
}

func (b *Builder) apply(ctx context.Context, event model.TypedEvent) (bool, error) {
	tokenID, ok := new(big.Int).SetString(event.Decoded.TokenID, 10)
	if !ok || tokenID.Sign() < 0 {
		return false, fmt.Errorf("invalid token id %q", event.Decoded.TokenID)
	}

	acc, err := b.accumulator(ctx, event.ChainID, tokenID)
	if err != nil {
		return false, err
	}
	if acc.Covers(event.BlockNumber, event.LogIndex) {
		return false, nil
	}
	if err := acc.AddEvent(event); err != nil {
		return false, err
	}
	b.dirty[acc.ID] = struct{}{}
	return true, nil
}

func (b *Builder) accumulator(ctx context.Context, chainID uint64, tokenID *big.Int) (*Accumulator, error) {
	id := model.NFTPositionID(tokenID)
	if acc, ok := b.accumulators[id]; ok {
		return acc, nil
	}

	acc := NewAccumulator(chainID, tokenID)
	if !b.cfg.Recompute {
		stored, ok, err := b.store.GetLedger(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load ledger %s: %w", id, err)
		}
		if ok {
			acc, err = AccumulatorFromLedger(stored)
			if err != nil {
				return nil, err
			}
			b.logger.Debug("resume ledger", zap.String("id", id), zap.Uint64("last_block", acc.LastBlock))
		}
	}
	b.accumulators[id] = acc
	return acc, nil
}

func (b *Builder) flush(ctx context.Context) error {
	if len(b.dirty) == 0 {
		return nil
	}
	ids := make([]string, 0, len(b.dirty))
	for id := range b.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	updatedAt := b.now().UTC().Format(time.RFC3339)
	ledgers := make([]model.PositionLedger, 0, len(ids))
	for _, id := range ids {
		ledgers = append(ledgers, b.accumulators[id].Ledger(updatedAt))
	}
	if err := b.store.PutLedgers(ctx, ledgers); err != nil {
		return fmt.Errorf("store ledgers: %w", err)
	}
	b.logger.Debug("ledgers flushed", zap.Int("count", len(ledgers)))
	b.dirty = make(map[string]struct{})
	return nil
}
