package feemath

import (
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// UncollectedAmount returns floor(liquidity * (inside - last) / 2^128). A wrapped
// delta above ceiling is treated as spurious: the amount is zero and clamped is true.
// A nil ceiling disables the check.
func UncollectedAmount(liquidity, inside, last, ceiling *uint256.Int) (amount *uint256.Int, clamped bool, err error) {
	if err := validateLiquidity(liquidity); err != nil {
		return nil, false, err
	}
	if err := requireValue("fee_growth_inside", inside); err != nil {
		return nil, false, err
	}
	if err := requireValue("fee_growth_inside_last", last); err != nil {
		return nil, false, err
	}
	amount, _, clamped, err = uncollected(liquidity, inside, last, ceiling)
	return amount, clamped, err
}

func validateLiquidity(liquidity *uint256.Int) error {
	if err := requireValue("liquidity", liquidity); err != nil {
		return err
	}
	if liquidity.BitLen() > 128 {
		return invalid("liquidity", ErrLiquidityOverflow, liquidity.Hex())
	}
	return nil
}

func uncollected(liquidity, inside, last, ceiling *uint256.Int) (*uint256.Int, *uint256.Int, bool, error) {
	if liquidity.IsZero() {
		return new(uint256.Int), new(uint256.Int), false, nil
	}
	delta := WrappingSub(inside, last)
	if ceiling != nil && delta.Gt(ceiling) {
		return new(uint256.Int), delta, true, nil
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(liquidity, delta, Q128)
	if overflow {
		return nil, delta, false, invalid("uncollected", ErrValueOverflow, fmt.Sprintf("liquidity=%s delta=%s", liquidity.Hex(), delta.Hex()))
	}
	return amount, delta, false, nil
}

// Input bundles the snapshots needed to price one position.
type Input struct {
	CurrentTick int32
	Pool        PoolSnapshot
	Lower       TickSnapshot
	Upper       TickSnapshot
	Position    PositionSnapshot
}

// Result is the point-in-time uncollected fee estimate for a position.
type Result struct {
	Inside       FeeGrowthInside
	Uncollected0 *uint256.Int
	Uncollected1 *uint256.Int
	Clamped0     bool
	Clamped1     bool
}

// Calculator prices uncollected fees and reports clamped deltas.
type Calculator struct {
	ceiling *uint256.Int
	logger  *zap.Logger
}

// NewCalculator builds a Calculator. A nil ceiling disables the sanity check.
func NewCalculator(ceiling *uint256.Int, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{ceiling: ceiling, logger: logger}
}

// Ceiling returns the configured sanity ceiling.
func (c *Calculator) Ceiling() *uint256.Int {
	return c.ceiling
}

// Uncollected computes the fees a position has accrued since its last checkpoint.
func (c *Calculator) Uncollected(in Input) (Result, error) {
	pos := in.Position
	if err := validateLiquidity(pos.Liquidity); err != nil {
		return Result{}, err
	}
	if err := requireValue("fee_growth_inside0_last", pos.FeeGrowthInside0Last); err != nil {
		return Result{}, err
	}
	if err := requireValue("fee_growth_inside1_last", pos.FeeGrowthInside1Last); err != nil {
		return Result{}, err
	}

	inside, err := ComputeFeeGrowthInside(in.CurrentTick, pos.TickLower, pos.TickUpper, in.Pool, in.Lower, in.Upper)
	if err != nil {
		return Result{}, err
	}

	amount0, delta0, clamped0, err := uncollected(pos.Liquidity, inside.Token0, pos.FeeGrowthInside0Last, c.ceiling)
	if err != nil {
		return Result{}, fmt.Errorf("token0: %w", err)
	}
	amount1, delta1, clamped1, err := uncollected(pos.Liquidity, inside.Token1, pos.FeeGrowthInside1Last, c.ceiling)
	if err != nil {
		return Result{}, fmt.Errorf("token1: %w", err)
	}
	if clamped0 {
		c.warnClamped("token0", delta0, in)
	}
	if clamped1 {
		c.warnClamped("token1", delta1, in)
	}

	return Result{
		Inside:       inside,
		Uncollected0: amount0,
		Uncollected1: amount1,
		Clamped0:     clamped0,
		Clamped1:     clamped1,
	}, nil
}

func (c *Calculator) warnClamped(token string, delta *uint256.Int, in Input) {
	c.logger.Warn("fee growth delta above sanity ceiling, clamped to zero",
		zap.String("token", token),
		zap.String("delta", delta.Hex()),
		zap.String("ceiling", c.ceiling.Hex()),
		zap.Int32("current_tick", in.CurrentTick),
		zap.Int32("tick_lower", in.Position.TickLower),
		zap.Int32("tick_upper", in.Position.TickUpper),
	)
}
