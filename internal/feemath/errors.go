package feemath

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTickRange  = errors.New("tick lower must be below tick upper")
	ErrTickOutOfBounds   = errors.New("tick out of bounds")
	ErrLiquidityOverflow = errors.New("liquidity exceeds uint128")
	ErrNegativeValue     = errors.New("negative value")
	ErrValueOverflow     = errors.New("value exceeds uint256")
	ErrMissingValue      = errors.New("missing value")
)

// ValidationError identifies the input that failed a precondition.
type ValidationError struct {
	Field  string
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Field, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error, detail string) error {
	return &ValidationError{Field: field, Err: err, Detail: detail}
}
