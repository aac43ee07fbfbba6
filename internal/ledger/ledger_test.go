package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"feeScope/internal/model"
	"feeScope/internal/storage"
)

func eventLine(t *testing.T, name string, block, index uint64, data model.PositionEventData) string {
	t.Helper()
	return chainEventLine(t, 1, name, block, index, data)
}

func chainEventLine(t *testing.T, chainID uint64, name string, block, index uint64, data model.PositionEventData) string {
	t.Helper()
	line, err := json.Marshal(model.TypedEvent{
		ChainID:     chainID,
		BlockNumber: block,
		LogIndex:    index,
		EventName:   name,
		Decoded:     data,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(line)
}

func openStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.OpenFileStore(filepath.Join(t.TempDir(), "cache.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestBuilderFoldsEvents(t *testing.T) {
	store := openStore(t)
	input := strings.Join([]string{
		eventLine(t, model.EventIncreaseLiquidity, 10, 1, model.PositionEventData{TokenID: "42", Liquidity: "1000", Amount0: "500", Amount1: "700"}),
		eventLine(t, model.EventDecreaseLiquidity, 20, 3, model.PositionEventData{TokenID: "42", Liquidity: "400", Amount0: "200", Amount1: "300"}),
		eventLine(t, model.EventCollect, 20, 4, model.PositionEventData{TokenID: "42", Amount0: "260", Amount1: "290", Recipient: "0x01"}),
		eventLine(t, model.EventIncreaseLiquidity, 21, 0, model.PositionEventData{TokenID: "7", Liquidity: "5", Amount0: "1", Amount1: "1"}),
		"{broken",
	}, "\n")

	builder := NewBuilder(Config{BatchSize: 1}, store, zap.NewNop())
	stats, err := builder.Run(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Total != 5 || stats.Applied != 4 || stats.Failed != 1 || stats.Ledgers != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	ledger, ok, err := store.GetLedger(context.Background(), "npm:42")
	if err != nil || !ok {
		t.Fatalf("missing ledger: ok=%v err=%v", ok, err)
	}
	if ledger.Liquidity != "600" || ledger.Deposited0 != "500" || ledger.Withdrawn1 != "300" {
		t.Fatalf("ledger amounts mismatch: %+v", ledger)
	}
	if ledger.CollectedFees0 != "60" || ledger.CollectedFees1 != "0" {
		t.Fatalf("collected fees mismatch: %s %s", ledger.CollectedFees0, ledger.CollectedFees1)
	}
	if ledger.FirstBlock != 10 || ledger.LastBlock != 20 || ledger.LastLogIndex != 4 || ledger.EventCount != 3 {
		t.Fatalf("ledger cursor mismatch: %+v", ledger)
	}
}

func TestBuilderResumesFromStoredLedger(t *testing.T) {
	store := openStore(t)
	first := eventLine(t, model.EventIncreaseLiquidity, 10, 1, model.PositionEventData{TokenID: "42", Liquidity: "1000", Amount0: "1", Amount1: "1"})
	second := eventLine(t, model.EventIncreaseLiquidity, 11, 0, model.PositionEventData{TokenID: "42", Liquidity: "1", Amount0: "1", Amount1: "1"})

	if _, err := NewBuilder(Config{}, store, nil).Run(context.Background(), strings.NewReader(first)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	stats, err := NewBuilder(Config{}, store, nil).Run(context.Background(), strings.NewReader(first+"\n"+second))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Skipped != 1 || stats.Applied != 1 {
		t.Fatalf("expected replayed event to be skipped: %+v", stats)
	}
	ledger, _, _ := store.GetLedger(context.Background(), "npm:42")
	if ledger.Liquidity != "1001" || ledger.EventCount != 2 {
		t.Fatalf("resume mismatch: %+v", ledger)
	}

	stats, err = NewBuilder(Config{Recompute: true}, store, nil).Run(context.Background(), strings.NewReader(first+"\n"+second))
	if err != nil {
		t.Fatalf("recompute run: %v", err)
	}
	if stats.Skipped != 0 || stats.Applied != 2 {
		t.Fatalf("recompute should apply everything: %+v", stats)
	}
	ledger, _, _ = store.GetLedger(context.Background(), "npm:42")
	if ledger.Liquidity != "1001" || ledger.EventCount != 2 {
		t.Fatalf("recompute mismatch: %+v", ledger)
	}
}

// chainStore keys ledgers by (chain, id) and serves reads for one chain only.
type chainStore struct {
	chainID uint64
	rows    map[string]model.PositionLedger
}

func (c *chainStore) key(chainID uint64, id string) string {
	return fmt.Sprintf("%d/%s", chainID, id)
}

func (c *chainStore) GetLedger(_ context.Context, id string) (model.PositionLedger, bool, error) {
	l, ok := c.rows[c.key(c.chainID, id)]
	return l, ok, nil
}

func (c *chainStore) PutLedgers(_ context.Context, ledgers []model.PositionLedger) error {
	for _, l := range ledgers {
		if err := storage.CheckChain(c.chainID, l.ChainID, l.ID); err != nil {
			return err
		}
		c.rows[c.key(l.ChainID, l.ID)] = l
	}
	return nil
}

func TestBuilderResumesOnNonMainnetChain(t *testing.T) {
	store := &chainStore{chainID: 137, rows: make(map[string]model.PositionLedger)}
	first := chainEventLine(t, 137, model.EventIncreaseLiquidity, 10, 1, model.PositionEventData{TokenID: "42", Liquidity: "1000", Amount0: "1", Amount1: "1"})
	second := chainEventLine(t, 137, model.EventIncreaseLiquidity, 11, 0, model.PositionEventData{TokenID: "42", Liquidity: "1", Amount0: "1", Amount1: "1"})

	if _, err := NewBuilder(Config{ChainID: 137}, store, nil).Run(context.Background(), strings.NewReader(first)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := NewBuilder(Config{ChainID: 137}, store, nil).Run(context.Background(), strings.NewReader(second))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Applied != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	ledger, ok, _ := store.GetLedger(context.Background(), "npm:42")
	if !ok || ledger.Liquidity != "1001" || ledger.EventCount != 2 || ledger.FirstBlock != 10 {
		t.Fatalf("incremental run lost history: %+v", ledger)
	}
}

func TestBuilderRejectsEventsFromOtherChain(t *testing.T) {
	store := &chainStore{chainID: 1, rows: make(map[string]model.PositionLedger)}
	line := chainEventLine(t, 137, model.EventIncreaseLiquidity, 10, 1, model.PositionEventData{TokenID: "42", Liquidity: "1000", Amount0: "1", Amount1: "1"})

	if _, err := NewBuilder(Config{ChainID: 1}, store, nil).Run(context.Background(), strings.NewReader(line)); err == nil {
		t.Fatalf("expected chain mismatch error")
	}
	if len(store.rows) != 0 {
		t.Fatalf("mismatched ledger was stored: %+v", store.rows)
	}

	_, err := NewBuilder(Config{}, store, nil).Run(context.Background(), strings.NewReader(line))
	if !errors.Is(err, storage.ErrChainMismatch) {
		t.Fatalf("expected store to reject other chain, got %v", err)
	}
}

func TestAccumulatorRejectsOverdraw(t *testing.T) {
	acc := NewAccumulator(1, nil)
	err := acc.AddEvent(model.TypedEvent{
		EventName: model.EventDecreaseLiquidity,
		Decoded:   model.PositionEventData{TokenID: "1", Liquidity: "1"},
	})
	if err == nil {
		t.Fatalf("expected error for decrease beyond liquidity")
	}
	if acc.EventCount != 0 {
		t.Fatalf("failed event must not be counted")
	}
}

func TestAccumulatorCovers(t *testing.T) {
	acc := &Accumulator{EventCount: 1, LastBlock: 10, LastIndex: 5}
	cases := []struct {
		block, index uint64
		want         bool
	}{
		{9, 99, true},
		{10, 5, true},
		{10, 6, false},
		{11, 0, false},
	}
	for _, c := range cases {
		if got := acc.Covers(c.block, c.index); got != c.want {
			t.Fatalf("Covers(%d,%d)=%v want %v", c.block, c.index, got, c.want)
		}
	}
	if (&Accumulator{}).Covers(0, 0) {
		t.Fatalf("empty accumulator covers nothing")
	}
}
