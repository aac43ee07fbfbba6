package ledger

import (
	"fmt"
	"math/big"

	"feeScope/internal/model"
)

// Accumulator folds position manager events for one token ID.
type Accumulator struct {
	ID         string
	ChainID    uint64
	TokenID    string
	Liquidity  *big.Int
	Deposited0 *big.Int
	Deposited1 *big.Int
	Withdrawn0 *big.Int
	Withdrawn1 *big.Int
	Collected0 *big.Int
	Collected1 *big.Int
	EventCount uint64
	FirstBlock uint64
	LastBlock  uint64
	LastIndex  uint64
}

// NewAccumulator starts an empty ledger for tokenID.
func NewAccumulator(chainID uint64, tokenID *big.Int) *Accumulator {
	return &Accumulator{
		ID:         model.NFTPositionID(tokenID),
		ChainID:    chainID,
		TokenID:    tokenID.String(),
		Liquidity:  big.NewInt(0),
		Deposited0: big.NewInt(0),
		Deposited1: big.NewInt(0),
		Withdrawn0: big.NewInt(0),
		Withdrawn1: big.NewInt(0),
		Collected0: big.NewInt(0),
		Collected1: big.NewInt(0),
	}
}

// AccumulatorFromLedger resumes from a stored ledger.
func AccumulatorFromLedger(ledger model.PositionLedger) (*Accumulator, error) {
	acc := &Accumulator{
		ID:         ledger.ID,
		ChainID:    ledger.ChainID,
		TokenID:    ledger.TokenID,
		EventCount: ledger.EventCount,
		FirstBlock: ledger.FirstBlock,
		LastBlock:  ledger.LastBlock,
		LastIndex:  ledger.LastLogIndex,
	}
	fields := []struct {
		name   string
		value  string
		target **big.Int
	}{
		{"liquidity", ledger.Liquidity, &acc.Liquidity},
		{"deposited0", ledger.Deposited0, &acc.Deposited0},
		{"deposited1", ledger.Deposited1, &acc.Deposited1},
		{"withdrawn0", ledger.Withdrawn0, &acc.Withdrawn0},
		{"withdrawn1", ledger.Withdrawn1, &acc.Withdrawn1},
		{"collected0", ledger.Collected0, &acc.Collected0},
		{"collected1", ledger.Collected1, &acc.Collected1},
	}
	for _, field := range fields {
		value, err := parseBigInt(field.value)
		if err != nil {
			return nil, fmt.Errorf("ledger %s %s: %w", ledger.ID, field.name, err)
		}
		*field.target = value
	}
	return acc, nil
}

// Covers reports whether the event at (block, logIndex) was already folded in.
func (a *Accumulator) Covers(block, logIndex uint64) bool {
	if a.EventCount == 0 {
		return false
	}
	if block != a.LastBlock {
		return block < a.LastBlock
	}
	return logIndex <= a.LastIndex
}

// AddEvent applies one decoded event.
func (a *Accumulator) AddEvent(event model.TypedEvent) error {
	amount0, err := parseBigInt(event.Decoded.Amount0)
	if err != nil {
		return fmt.Errorf("amount0: %w", err)
	}
	amount1, err := parseBigInt(event.Decoded.Amount1)
	if err != nil {
		return fmt.Errorf("amount1: %w", err)
	}

	switch event.EventName {
	case model.EventIncreaseLiquidity:
		liquidity, err := parseBigInt(event.Decoded.Liquidity)
		if err != nil {
			return fmt.Errorf("liquidity: %w", err)
		}
		a.Liquidity.Add(a.Liquidity, liquidity)
		a.Deposited0.Add(a.Deposited0, amount0)
		a.Deposited1.Add(a.Deposited1, amount1)
	case model.EventDecreaseLiquidity:
		liquidity, err := parseBigInt(event.Decoded.Liquidity)
		if err != nil {
			return fmt.Errorf("liquidity: %w", err)
		}
		if a.Liquidity.Cmp(liquidity) < 0 {
			return fmt.Errorf("decrease of %s exceeds liquidity %s", liquidity, a.Liquidity)
		}
		a.Liquidity.Sub(a.Liquidity, liquidity)
		a.Withdrawn0.Add(a.Withdrawn0, amount0)
		a.Withdrawn1.Add(a.Withdrawn1, amount1)
	case model.EventCollect:
		a.Collected0.Add(a.Collected0, amount0)
		a.Collected1.Add(a.Collected1, amount1)
	default:
		return fmt.Errorf("unsupported event %q", event.EventName)
	}

	if a.EventCount == 0 || event.BlockNumber < a.FirstBlock {
		a.FirstBlock = event.BlockNumber
	}
	if !a.Covers(event.BlockNumber, event.LogIndex) {
		a.LastBlock = event.BlockNumber
		a.LastIndex = event.LogIndex
	}
	a.EventCount++
	return nil
}

// Ledger renders the accumulator. Collected fees are what was collected beyond
// withdrawn principal, floored at zero.
func (a *Accumulator) Ledger(updatedAt string) model.PositionLedger {
	return model.PositionLedger{
		ID:             a.ID,
		ChainID:        a.ChainID,
		TokenID:        a.TokenID,
		Liquidity:      a.Liquidity.String(),
		Deposited0:     a.Deposited0.String(),
		Deposited1:     a.Deposited1.String(),
		Withdrawn0:     a.Withdrawn0.String(),
		Withdrawn1:     a.Withdrawn1.String(),
		Collected0:     a.Collected0.String(),
		Collected1:     a.Collected1.String(),
		CollectedFees0: flooredDiff(a.Collected0, a.Withdrawn0).String(),
		CollectedFees1: flooredDiff(a.Collected1, a.Withdrawn1).String(),
		EventCount:     a.EventCount,
		FirstBlock:     a.FirstBlock,
		LastBlock:      a.LastBlock,
		LastLogIndex:   a.LastIndex,
		UpdatedAt:      updatedAt,
	}
}

func flooredDiff(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", value)
	}
	return parsed, nil
}
