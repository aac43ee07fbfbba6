package storage

import (
	"context"
	"errors"
	"fmt"

	"feeScope/internal/model"
)

// ErrChainMismatch is returned when a record belongs to another chain than the store.
var ErrChainMismatch = errors.New("record chain does not match store chain")

// CheckChain rejects a record of chain got written to a store scoped to want.
func CheckChain(want, got uint64, id string) error {
	if want != got {
		return fmt.Errorf("%s: %w (store %d, record %d)", id, ErrChainMismatch, want, got)
	}
	return nil
}

// LogSink receives raw log batches from the scanner.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}

// PositionStore persists fee estimates keyed by position ID.
type PositionStore interface {
	GetPosition(ctx context.Context, id string) (model.PositionFees, bool, error)
	PutPositions(ctx context.Context, positions []model.PositionFees) error
}

// LedgerStore persists event ledgers keyed by position ID.
type LedgerStore interface {
	GetLedger(ctx context.Context, id string) (model.PositionLedger, bool, error)
	PutLedgers(ctx context.Context, ledgers []model.PositionLedger) error
}

// Store is a backend serving both positions and ledgers.
type Store interface {
	PositionStore
	LedgerStore
	Close() error
}
