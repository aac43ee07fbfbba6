package feemath

import "github.com/holiman/uint256"

// RangeStatus locates the current tick relative to a position range.
type RangeStatus int

const (
	RangeBelow RangeStatus = iota
	RangeInside
	RangeAbove
)

func (s RangeStatus) String() string {
	switch s {
	case RangeBelow:
		return "below"
	case RangeInside:
		return "inside"
	case RangeAbove:
		return "above"
	default:
		return "unknown"
	}
}

// StatusOf reports whether currentTick is below, inside or above [tickLower, tickUpper).
func StatusOf(currentTick, tickLower, tickUpper int32) RangeStatus {
	switch {
	case currentTick < tickLower:
		return RangeBelow
	case currentTick >= tickUpper:
		return RangeAbove
	default:
		return RangeInside
	}
}

// FeeGrowthInside is the per-token fee growth accrued within a position range.
type FeeGrowthInside struct {
	Token0 *uint256.Int
	Token1 *uint256.Int
	Status RangeStatus
}

// ComputeFeeGrowthInside derives fee growth inside [tickLower, tickUpper) from the
// pool globals and the fee growth outside each boundary tick.
func ComputeFeeGrowthInside(currentTick, tickLower, tickUpper int32, pool PoolSnapshot, lower, upper TickSnapshot) (FeeGrowthInside, error) {
	if err := ValidateRange(tickLower, tickUpper); err != nil {
		return FeeGrowthInside{}, err
	}
	checks := []struct {
		field string
		value *uint256.Int
	}{
		{"fee_growth_global0", pool.FeeGrowthGlobal0},
		{"fee_growth_global1", pool.FeeGrowthGlobal1},
		{"lower.fee_growth_outside0", lower.FeeGrowthOutside0},
		{"lower.fee_growth_outside1", lower.FeeGrowthOutside1},
		{"upper.fee_growth_outside0", upper.FeeGrowthOutside0},
		{"upper.fee_growth_outside1", upper.FeeGrowthOutside1},
	}
	for _, check := range checks {
		if err := requireValue(check.field, check.value); err != nil {
			return FeeGrowthInside{}, err
		}
	}

	return FeeGrowthInside{
		Token0: feeGrowthInside(currentTick, tickLower, tickUpper, pool.FeeGrowthGlobal0, lower.FeeGrowthOutside0, upper.FeeGrowthOutside0),
		Token1: feeGrowthInside(currentTick, tickLower, tickUpper, pool.FeeGrowthGlobal1, lower.FeeGrowthOutside1, upper.FeeGrowthOutside1),
		Status: StatusOf(currentTick, tickLower, tickUpper),
	}, nil
}

func feeGrowthInside(currentTick, tickLower, tickUpper int32, global, outsideLower, outsideUpper *uint256.Int) *uint256.Int {
	var below *uint256.Int
	if currentTick >= tickLower {
		below = outsideLower
	} else {
		below = WrappingSub(global, outsideLower)
	}

	var above *uint256.Int
	if currentTick < tickUpper {
		above = outsideUpper
	} else {
		above = WrappingSub(global, outsideUpper)
	}

	return WrappingSub(WrappingSub(global, below), above)
}
