package feemath

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func x128(v uint64) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(v), 128)
}

func TestWrappingSub(t *testing.T) {
	almostMax := new(uint256.Int).Sub(u(0), u(3))

	got := WrappingSub(u(5), almostMax)
	if !got.Eq(u(8)) {
		t.Fatalf("wrapping sub mismatch: %s", got.Hex())
	}

	if got := WrappingSub(u(10), u(4)); !got.Eq(u(6)) {
		t.Fatalf("plain sub mismatch: %s", got.Hex())
	}
}

func TestFeeGrowthInsideBelowRange(t *testing.T) {
	pool := PoolSnapshot{FeeGrowthGlobal0: u(1000), FeeGrowthGlobal1: u(5000)}
	lower := TickSnapshot{FeeGrowthOutside0: u(300), FeeGrowthOutside1: u(2000)}
	upper := TickSnapshot{FeeGrowthOutside0: u(100), FeeGrowthOutside1: u(500)}

	got, err := ComputeFeeGrowthInside(90000, 100000, 110000, pool, lower, upper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != RangeBelow {
		t.Fatalf("status mismatch: %s", got.Status)
	}
	// Below range the inside growth reduces to outsideLower - outsideUpper.
	if !got.Token0.Eq(u(200)) || !got.Token1.Eq(u(1500)) {
		t.Fatalf("inside mismatch: %s %s", got.Token0.Hex(), got.Token1.Hex())
	}
}

func TestFeeGrowthInsideInRange(t *testing.T) {
	pool := PoolSnapshot{FeeGrowthGlobal0: u(1000), FeeGrowthGlobal1: u(1000)}
	lower := TickSnapshot{FeeGrowthOutside0: u(300), FeeGrowthOutside1: u(0)}
	upper := TickSnapshot{FeeGrowthOutside0: u(100), FeeGrowthOutside1: u(0)}

	got, err := ComputeFeeGrowthInside(105000, 100000, 110000, pool, lower, upper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != RangeInside {
		t.Fatalf("status mismatch: %s", got.Status)
	}
	if !got.Token0.Eq(u(600)) || !got.Token1.Eq(u(1000)) {
		t.Fatalf("inside mismatch: %s %s", got.Token0.Hex(), got.Token1.Hex())
	}
}

func TestFeeGrowthInsideAboveRange(t *testing.T) {
	pool := PoolSnapshot{FeeGrowthGlobal0: u(1000), FeeGrowthGlobal1: u(1000)}
	lower := TickSnapshot{FeeGrowthOutside0: u(100), FeeGrowthOutside1: u(100)}
	upper := TickSnapshot{FeeGrowthOutside0: u(300), FeeGrowthOutside1: u(300)}

	// current == upper counts as above.
	got, err := ComputeFeeGrowthInside(110000, 100000, 110000, pool, lower, upper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != RangeAbove {
		t.Fatalf("status mismatch: %s", got.Status)
	}
	if !got.Token0.Eq(u(200)) {
		t.Fatalf("inside mismatch: %s", got.Token0.Hex())
	}
}

func TestFeeGrowthInsideWrapsAcrossZero(t *testing.T) {
	// Outside values recorded before the global counter wrapped.
	pool := PoolSnapshot{FeeGrowthGlobal0: u(5), FeeGrowthGlobal1: u(5)}
	lower := TickSnapshot{FeeGrowthOutside0: new(uint256.Int).Sub(u(0), u(3)), FeeGrowthOutside1: u(0)}
	upper := TickSnapshot{FeeGrowthOutside0: u(0), FeeGrowthOutside1: u(0)}

	got, err := ComputeFeeGrowthInside(-10, 0, 60, pool, lower, upper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// below = 5 - (2^256-3) = 8, inside = 5 - 8 - 0 wraps to 2^256-3.
	want := new(uint256.Int).Sub(u(0), u(3))
	if got.Status != RangeBelow || !got.Token0.Eq(want) {
		t.Fatalf("wrap mismatch: %s %s", got.Status, got.Token0.Hex())
	}
}

func TestFeeGrowthInsideRejectsInvalidRange(t *testing.T) {
	pool := PoolSnapshot{FeeGrowthGlobal0: u(1), FeeGrowthGlobal1: u(1)}
	tick := TickSnapshot{FeeGrowthOutside0: u(0), FeeGrowthOutside1: u(0)}

	_, err := ComputeFeeGrowthInside(0, 100, 100, pool, tick, tick)
	if !errors.Is(err, ErrInvalidTickRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "tick_range" {
		t.Fatalf("expected typed validation error, got %v", err)
	}

	if _, err := ComputeFeeGrowthInside(0, 200, 100, pool, tick, tick); !errors.Is(err, ErrInvalidTickRange) {
		t.Fatalf("expected invalid range for inverted ticks, got %v", err)
	}
	if _, err := ComputeFeeGrowthInside(0, MinTick-1, 100, pool, tick, tick); !errors.Is(err, ErrTickOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}
	if _, err := ComputeFeeGrowthInside(0, -60, 60, PoolSnapshot{FeeGrowthGlobal0: u(1)}, tick, tick); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected missing value, got %v", err)
	}
}

func TestUncollectedAmountEndToEnd(t *testing.T) {
	liquidity := u(1_000_000_000_000_000_000)

	amount, clamped, err := UncollectedAmount(liquidity, x128(1000), x128(400), CeilingFromBits(DefaultCeilingBits))
	if err != nil {
		t.Fatalf("uncollected: %v", err)
	}
	if clamped {
		t.Fatalf("unexpected clamp")
	}
	want := new(big.Int).Mul(big.NewInt(600), big.NewInt(1_000_000_000_000_000_000))
	if amount.ToBig().Cmp(want) != 0 {
		t.Fatalf("amount mismatch: %s != %s", amount.ToBig(), want)
	}
}

func TestUncollectedAmountZeroLiquidity(t *testing.T) {
	amount, clamped, err := UncollectedAmount(u(0), new(uint256.Int).Lsh(u(1), 250), u(0), CeilingFromBits(DefaultCeilingBits))
	if err != nil || !amount.IsZero() || clamped {
		t.Fatalf("zero liquidity should yield zero: %s %v", amount.Hex(), clamped)
	}
}

func TestUncollectedAmountClampsSpuriousDelta(t *testing.T) {
	ceiling := CeilingFromBits(DefaultCeilingBits)

	amount, clamped, err := UncollectedAmount(u(1000), new(uint256.Int).Lsh(u(1), 250), u(0), ceiling)
	if err != nil || !clamped || !amount.IsZero() {
		t.Fatalf("expected clamp for 2^250 delta: %s %v", amount.Hex(), clamped)
	}

	// inside slightly behind last wraps to ~2^256 and must not leak through.
	amount, clamped, err = UncollectedAmount(u(1000), x128(399), x128(400), ceiling)
	if err != nil || !clamped || !amount.IsZero() {
		t.Fatalf("expected clamp for wrapped delta: %s %v", amount.Hex(), clamped)
	}

	amount, clamped, err = UncollectedAmount(u(1), new(uint256.Int).Lsh(u(1), 250), u(0), nil)
	if err != nil || clamped || amount.IsZero() {
		t.Fatalf("nil ceiling should not clamp")
	}
}

func TestUncollectedAmountRejectsBadLiquidity(t *testing.T) {
	ceiling := CeilingFromBits(DefaultCeilingBits)

	wide := new(uint256.Int).Lsh(u(1), 200)
	amount, clamped, err := UncollectedAmount(wide, new(uint256.Int).Lsh(u(1), 199), u(0), ceiling)
	if !errors.Is(err, ErrLiquidityOverflow) {
		t.Fatalf("expected liquidity overflow, got %v (amount=%v clamped=%v)", err, amount, clamped)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "liquidity" {
		t.Fatalf("expected liquidity validation error, got %v", err)
	}

	if _, _, err := UncollectedAmount(nil, x128(1), u(0), ceiling); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected missing liquidity, got %v", err)
	}
	if _, _, err := UncollectedAmount(u(1), nil, u(0), ceiling); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected missing fee growth, got %v", err)
	}
}

func TestCalculatorUncollected(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	calc := NewCalculator(CeilingFromBits(DefaultCeilingBits), zap.New(core))

	in := Input{
		CurrentTick: 100,
		Pool:        PoolSnapshot{FeeGrowthGlobal0: x128(1000), FeeGrowthGlobal1: new(uint256.Int).Lsh(u(1), 250)},
		Lower:       TickSnapshot{FeeGrowthOutside0: u(0), FeeGrowthOutside1: u(0)},
		Upper:       TickSnapshot{FeeGrowthOutside0: u(0), FeeGrowthOutside1: u(0)},
		Position: PositionSnapshot{
			Liquidity:            u(1_000_000_000_000_000_000),
			TickLower:            -600,
			TickUpper:            600,
			FeeGrowthInside0Last: x128(400),
			FeeGrowthInside1Last: u(0),
			TokensOwed0:          u(7),
			TokensOwed1:          u(0),
		},
	}

	first, err := calc.Uncollected(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(600), big.NewInt(1_000_000_000_000_000_000))
	if first.Uncollected0.ToBig().Cmp(want) != 0 {
		t.Fatalf("token0 mismatch: %s", first.Uncollected0.ToBig())
	}
	if !first.Clamped1 || !first.Uncollected1.IsZero() || first.Clamped0 {
		t.Fatalf("token1 should be clamped: %+v", first)
	}
	if logs.FilterMessageSnippet("sanity ceiling").Len() != 1 {
		t.Fatalf("expected one clamp diagnostic, got %d", logs.Len())
	}

	second, err := calc.Uncollected(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Uncollected0.Eq(first.Uncollected0) || !second.Uncollected1.Eq(first.Uncollected1) {
		t.Fatalf("repeated query drifted")
	}
	if !in.Position.FeeGrowthInside0Last.Eq(x128(400)) {
		t.Fatalf("input snapshot mutated")
	}
}

func TestCalculatorRejectsMalformedPosition(t *testing.T) {
	calc := NewCalculator(nil, nil)
	tick := TickSnapshot{FeeGrowthOutside0: u(0), FeeGrowthOutside1: u(0)}
	in := Input{
		Pool:  PoolSnapshot{FeeGrowthGlobal0: u(0), FeeGrowthGlobal1: u(0)},
		Lower: tick,
		Upper: tick,
		Position: PositionSnapshot{
			Liquidity:            new(uint256.Int).Lsh(u(1), 128),
			TickLower:            -60,
			TickUpper:            60,
			FeeGrowthInside0Last: u(0),
			FeeGrowthInside1Last: u(0),
		},
	}
	if _, err := calc.Uncollected(in); !errors.Is(err, ErrLiquidityOverflow) {
		t.Fatalf("expected liquidity overflow, got %v", err)
	}

	in.Position.Liquidity = u(1)
	in.Position.TickLower = 60
	if _, err := calc.Uncollected(in); !errors.Is(err, ErrInvalidTickRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
}

func TestConversions(t *testing.T) {
	if _, err := LiquidityFromBig(big.NewInt(-1)); !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected negative value, got %v", err)
	}
	if _, err := LiquidityFromBig(new(big.Int).Lsh(big.NewInt(1), 128)); !errors.Is(err, ErrLiquidityOverflow) {
		t.Fatalf("expected liquidity overflow, got %v", err)
	}
	if _, err := FromBig("fee_growth", new(big.Int).Lsh(big.NewInt(1), 256)); !errors.Is(err, ErrValueOverflow) {
		t.Fatalf("expected value overflow, got %v", err)
	}
	if _, err := FromBig("fee_growth", nil); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected missing value, got %v", err)
	}
	if CeilingFromBits(256) != nil {
		t.Fatalf("256 bits should disable the ceiling")
	}
}
