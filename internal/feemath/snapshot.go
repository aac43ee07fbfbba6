package feemath

import "github.com/holiman/uint256"

// PoolSnapshot holds the pool-wide fee growth accumulators.
type PoolSnapshot struct {
	FeeGrowthGlobal0 *uint256.Int
	FeeGrowthGlobal1 *uint256.Int
}

// TickSnapshot holds the fee growth recorded outside a tick boundary.
type TickSnapshot struct {
	FeeGrowthOutside0 *uint256.Int
	FeeGrowthOutside1 *uint256.Int
}

// PositionSnapshot is a position's state as of its last mint, burn or collect.
type PositionSnapshot struct {
	Liquidity            *uint256.Int
	TickLower            int32
	TickUpper            int32
	FeeGrowthInside0Last *uint256.Int
	FeeGrowthInside1Last *uint256.Int
	TokensOwed0          *uint256.Int
	TokensOwed1          *uint256.Int
}
