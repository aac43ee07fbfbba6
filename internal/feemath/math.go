package feemath

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	MinTick = -887272
	MaxTick = 887272

	// DefaultCeilingBits bounds a plausible fee growth delta at 2^200.
	DefaultCeilingBits = 200
)

// Q128 is 2^128, the fixed point scale of fee growth values.
var Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// WrappingSub returns a - b modulo 2^256.
func WrappingSub(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sub(a, b)
}

// CeilingFromBits returns 2^bits, or nil (no ceiling) when bits >= 256.
func CeilingFromBits(bits uint) *uint256.Int {
	if bits >= 256 {
		return nil
	}
	return new(uint256.Int).Lsh(uint256.NewInt(1), bits)
}

// FromBig converts an unsigned on-chain value, rejecting negatives and values wider than 256 bits.
func FromBig(field string, value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return nil, invalid(field, ErrMissingValue, "")
	}
	if value.Sign() < 0 {
		return nil, invalid(field, ErrNegativeValue, value.String())
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, invalid(field, ErrValueOverflow, fmt.Sprintf("%d bits", value.BitLen()))
	}
	return out, nil
}

// LiquidityFromBig converts a position liquidity, which must fit in uint128.
func LiquidityFromBig(value *big.Int) (*uint256.Int, error) {
	out, err := FromBig("liquidity", value)
	if err != nil {
		return nil, err
	}
	if out.BitLen() > 128 {
		return nil, invalid("liquidity", ErrLiquidityOverflow, value.String())
	}
	return out, nil
}

// ValidateRange checks tick bounds and ordering of a position range.
func ValidateRange(tickLower, tickUpper int32) error {
	if tickLower < MinTick || tickLower > MaxTick {
		return invalid("tick_lower", ErrTickOutOfBounds, fmt.Sprintf("%d", tickLower))
	}
	if tickUpper < MinTick || tickUpper > MaxTick {
		return invalid("tick_upper", ErrTickOutOfBounds, fmt.Sprintf("%d", tickUpper))
	}
	if tickLower >= tickUpper {
		return invalid("tick_range", ErrInvalidTickRange, fmt.Sprintf("lower=%d upper=%d", tickLower, tickUpper))
	}
	return nil
}

func requireValue(field string, value *uint256.Int) error {
	if value == nil {
		return invalid(field, ErrMissingValue, "")
	}
	return nil
}
