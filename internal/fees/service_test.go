package fees

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"feeScope/internal/dex"
	"feeScope/internal/feemath"
	"feeScope/internal/model"
	"feeScope/internal/protoday"
)

var (
	token0 = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	token1 = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func x128(v uint64) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(v), 128)
}

type fakeReader struct {
	mu     sync.Mutex
	states map[string]dex.PositionState
	blocks []uint64
	// missingMeta tokens fail their metadata read.
	missingMeta map[common.Address]bool
}

func (f *fakeReader) ReadPosition(_ context.Context, ref model.PositionRef, block uint64) (dex.PositionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, block)
	state, ok := f.states[ref.ID()]
	if !ok {
		return dex.PositionState{}, fmt.Errorf("positions: execution reverted")
	}
	state.BlockNumber = block
	return state, nil
}

func (f *fakeReader) TokenMeta(_ context.Context, token common.Address) (model.TokenMeta, error) {
	if f.missingMeta[token] {
		return model.TokenMeta{}, fmt.Errorf("call decimals: connection reset by peer")
	}
	if token == token0 {
		return model.TokenMeta{Address: token.Hex(), Symbol: "TKN", Decimals: 18}, nil
	}
	return model.TokenMeta{Address: token.Hex(), Symbol: "USDC", Decimals: 6}, nil
}

type fakeBlocks struct {
	latest     uint64
	timestamps map[uint64]uint64
}

func (b fakeBlocks) LatestBlockNumber(context.Context) (uint64, error) {
	return b.latest, nil
}

func (b fakeBlocks) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	ts, ok := b.timestamps[number]
	if !ok {
		return 0, fmt.Errorf("header %d not found", number)
	}
	return ts, nil
}

type memoryStore struct {
	puts [][]model.PositionFees
}

func (m *memoryStore) GetPosition(context.Context, string) (model.PositionFees, bool, error) {
	return model.PositionFees{}, false, nil
}

func (m *memoryStore) PutPositions(_ context.Context, positions []model.PositionFees) error {
	m.puts = append(m.puts, positions)
	return nil
}

func insideState(tokenID int64) dex.PositionState {
	return dex.PositionState{
		Ref:         model.PositionRef{Kind: model.PositionKindNFT, TokenID: big.NewInt(tokenID)},
		Pool:        model.PoolMeta{Address: "0xpool", Token0: token0.Hex(), Token1: token1.Hex(), Fee: 3000, TickSpacing: 60},
		CurrentTick: 100,
		PoolFees:    feemath.PoolSnapshot{FeeGrowthGlobal0: x128(1000), FeeGrowthGlobal1: x128(10)},
		Lower:       feemath.TickSnapshot{FeeGrowthOutside0: uint256.NewInt(0), FeeGrowthOutside1: uint256.NewInt(0)},
		Upper:       feemath.TickSnapshot{FeeGrowthOutside0: uint256.NewInt(0), FeeGrowthOutside1: uint256.NewInt(0)},
		Position: feemath.PositionSnapshot{
			Liquidity:            uint256.NewInt(1_000_000_000_000_000_000),
			TickLower:            -600,
			TickUpper:            600,
			FeeGrowthInside0Last: x128(400),
			FeeGrowthInside1Last: x128(10),
			TokensOwed0:          uint256.NewInt(5),
			TokensOwed1:          uint256.NewInt(2_500_000),
		},
	}
}

func TestServicePricesAndStores(t *testing.T) {
	launch := time.Unix(1_700_000_000, 0)
	reader := &fakeReader{states: map[string]dex.PositionState{"npm:42": insideState(42)}}
	store := &memoryStore{}
	blocks := fakeBlocks{latest: 1234, timestamps: map[uint64]uint64{1234: uint64(launch.Add(49 * time.Hour).Unix())}}

	svc := NewService(Config{
		ChainID:     1,
		Concurrency: 2,
		Clock:       protoday.Clock{Launch: launch},
	}, reader, blocks, nil, store, zap.NewNop())

	refs := []model.PositionRef{
		{Kind: model.PositionKindNFT, TokenID: big.NewInt(42)},
		{Kind: model.PositionKindNFT, TokenID: big.NewInt(43)},
	}
	report, err := svc.Run(context.Background(), refs)
	if err == nil {
		t.Fatalf("expected failure count error")
	}
	if report.Block != 1234 {
		t.Fatalf("block not pinned: %d", report.Block)
	}
	for _, block := range reader.blocks {
		if block != 1234 {
			t.Fatalf("read at block %d, want 1234", block)
		}
	}
	if len(report.Failures) != 1 || report.Failures[0].ID != "npm:43" {
		t.Fatalf("unexpected failures: %+v", report.Failures)
	}
	if len(store.puts) != 1 || len(store.puts[0]) != 1 {
		t.Fatalf("expected one stored position, got %+v", store.puts)
	}

	got := store.puts[0][0]
	if got.Uncollected0 != "600000000000000000000" || got.Claimable0 != "600000000000000000005" {
		t.Fatalf("token0 amounts mismatch: %+v", got)
	}
	if got.Uncollected1 != "0" || got.Claimable1 != "2500000" || got.Claimable1Display != "2.5" {
		t.Fatalf("token1 amounts mismatch: %+v", got)
	}
	if got.Claimable0Display != "600.000000000000000005" {
		t.Fatalf("display mismatch: %s", got.Claimable0Display)
	}
	if got.RangeStatus != "inside" || got.ProtocolDay != 3 || got.BlockNumber != 1234 || got.Symbol1 != "USDC" {
		t.Fatalf("metadata mismatch: %+v", got)
	}
}

func TestServiceStoresZeroPositions(t *testing.T) {
	state := insideState(1)
	state.Position.Liquidity = uint256.NewInt(0)
	state.Position.TokensOwed0 = uint256.NewInt(0)
	state.Position.TokensOwed1 = uint256.NewInt(0)
	reader := &fakeReader{states: map[string]dex.PositionState{"npm:1": state}}
	store := &memoryStore{}

	svc := NewService(Config{Block: 77}, reader, nil, nil, store, nil)
	report, err := svc.Run(context.Background(), []model.PositionRef{{Kind: model.PositionKindNFT, TokenID: big.NewInt(1)}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Positions) != 1 || report.Positions[0].Claimable0 != "0" || report.Positions[0].ProtocolDay != 0 {
		t.Fatalf("unexpected report: %+v", report.Positions)
	}
	if len(store.puts) != 1 {
		t.Fatalf("zero position not stored")
	}
}

func TestServiceDaysFollowPinnedBlock(t *testing.T) {
	launch := time.Unix(1_700_000_000, 0)
	reader := &fakeReader{states: map[string]dex.PositionState{"npm:42": insideState(42)}}
	blocks := fakeBlocks{latest: 9000, timestamps: map[uint64]uint64{
		500:  uint64(launch.Add(2 * time.Hour).Unix()),
		9000: uint64(launch.Add(30 * 24 * time.Hour).Unix()),
	}}

	svc := NewService(Config{
		Block: 500,
		Clock: protoday.Clock{Launch: launch, Now: func() time.Time { return launch.Add(30 * 24 * time.Hour) }},
	}, reader, blocks, nil, nil, zap.NewNop())
	report, err := svc.Run(context.Background(), []model.PositionRef{{Kind: model.PositionKindNFT, TokenID: big.NewInt(42)}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Positions) != 1 || report.Positions[0].ProtocolDay != 1 {
		t.Fatalf("historic block stamped with wrong day: %+v", report.Positions)
	}

	svc = NewService(Config{Block: 777, Clock: protoday.Clock{Launch: launch}}, reader, blocks, nil, nil, zap.NewNop())
	if _, err := svc.Run(context.Background(), []model.PositionRef{{Kind: model.PositionKindNFT, TokenID: big.NewInt(42)}}); err == nil {
		t.Fatalf("expected error when the block timestamp is unknown")
	}
}

func TestServiceLeavesDisplayEmptyWithoutDecimals(t *testing.T) {
	reader := &fakeReader{
		states:      map[string]dex.PositionState{"npm:42": insideState(42)},
		missingMeta: map[common.Address]bool{token1: true},
	}
	store := &memoryStore{}

	svc := NewService(Config{Block: 10}, reader, nil, nil, store, zap.NewNop())
	report, err := svc.Run(context.Background(), []model.PositionRef{{Kind: model.PositionKindNFT, TokenID: big.NewInt(42)}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := report.Positions[0]
	if got.Claimable1 != "2500000" || got.Claimable1Display != "" || got.Symbol1 != "" {
		t.Fatalf("token1 display without decimals: %+v", got)
	}
	if got.Claimable0Display != "600.000000000000000005" || got.Symbol0 != "TKN" {
		t.Fatalf("token0 display mismatch: %+v", got)
	}
	if len(store.puts) != 1 || store.puts[0][0].Claimable1Display != "" {
		t.Fatalf("stored display mismatch: %+v", store.puts)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(uint256.NewInt(1_500_000), 6); got != "1.5" {
		t.Fatalf("format mismatch: %s", got)
	}
	if got := FormatAmount(uint256.NewInt(42), 0); got != "42" {
		t.Fatalf("format mismatch: %s", got)
	}
	if got := FormatAmount(nil, 18); got != "0" {
		t.Fatalf("format mismatch: %s", got)
	}
}

func TestClaimableOverflow(t *testing.T) {
	allOnes := new(uint256.Int).SetAllOne()
	if _, err := claimable(allOnes, uint256.NewInt(1)); err == nil {
		t.Fatalf("expected overflow error")
	}
}
