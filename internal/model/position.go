package model

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PositionKind distinguishes position manager NFTs from raw pool positions.
type PositionKind string

const (
	PositionKindNFT  PositionKind = "npm"
	PositionKindPool PositionKind = "pool"
)

// PositionRef addresses one liquidity position.
type PositionRef struct {
	Kind      PositionKind
	TokenID   *big.Int
	Pool      common.Address
	Owner     common.Address
	TickLower int32
	TickUpper int32
}

// ID is the store key of the position.
func (r PositionRef) ID() string {
	if r.Kind == PositionKindPool {
		return fmt.Sprintf("pool:%s:%s:%d:%d", strings.ToLower(r.Pool.Hex()), strings.ToLower(r.Owner.Hex()), r.TickLower, r.TickUpper)
	}
	return NFTPositionID(r.TokenID)
}

// NFTPositionID is the store key of a position manager token.
func NFTPositionID(tokenID *big.Int) string {
	if tokenID == nil {
		return "npm:"
	}
	return "npm:" + tokenID.String()
}

// ParsePositionRef accepts "123", "npm:123" or "pool:<pool>:<owner>:<lower>:<upper>".
func ParsePositionRef(input string) (PositionRef, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return PositionRef{}, fmt.Errorf("empty position")
	}

	if strings.HasPrefix(input, string(PositionKindPool)+":") {
		parts := strings.Split(input, ":")
		if len(parts) != 5 {
			return PositionRef{}, fmt.Errorf("invalid pool position %q: want pool:<pool>:<owner>:<lower>:<upper>", input)
		}
		if !common.IsHexAddress(parts[1]) {
			return PositionRef{}, fmt.Errorf("invalid pool address: %s", parts[1])
		}
		if !common.IsHexAddress(parts[2]) {
			return PositionRef{}, fmt.Errorf("invalid owner address: %s", parts[2])
		}
		lower, err := strconv.ParseInt(parts[3], 10, 32)
		if err != nil {
			return PositionRef{}, fmt.Errorf("invalid tick lower %q: %w", parts[3], err)
		}
		upper, err := strconv.ParseInt(parts[4], 10, 32)
		if err != nil {
			return PositionRef{}, fmt.Errorf("invalid tick upper %q: %w", parts[4], err)
		}
		return PositionRef{
			Kind:      PositionKindPool,
			Pool:      common.HexToAddress(parts[1]),
			Owner:     common.HexToAddress(parts[2]),
			TickLower: int32(lower),
			TickUpper: int32(upper),
		}, nil
	}

	raw := strings.TrimPrefix(input, string(PositionKindNFT)+":")
	tokenID, ok := new(big.Int).SetString(raw, 10)
	if !ok || tokenID.Sign() < 0 {
		return PositionRef{}, fmt.Errorf("invalid token id: %s", raw)
	}
	return PositionRef{Kind: PositionKindNFT, TokenID: tokenID}, nil
}

// PositionFees is the stored uncollected fee estimate of a position.
// Amounts are base-unit integers encoded as decimal strings.
type PositionFees struct {
	ID                string `json:"id"`
	ChainID           uint64 `json:"chain_id"`
	BlockNumber       uint64 `json:"block_number"`
	Pool              string `json:"pool"`
	Token0            string `json:"token0"`
	Token1            string `json:"token1"`
	Symbol0           string `json:"symbol0,omitempty"`
	Symbol1           string `json:"symbol1,omitempty"`
	Fee               uint32 `json:"fee"`
	TickLower         int32  `json:"tick_lower"`
	TickUpper         int32  `json:"tick_upper"`
	CurrentTick       int32  `json:"current_tick"`
	RangeStatus       string `json:"range_status"`
	Liquidity         string `json:"liquidity"`
	Uncollected0      string `json:"uncollected0"`
	Uncollected1      string `json:"uncollected1"`
	TokensOwed0       string `json:"tokens_owed0"`
	TokensOwed1       string `json:"tokens_owed1"`
	Claimable0        string `json:"claimable0"`
	Claimable1        string `json:"claimable1"`
	Claimable0Display string `json:"claimable0_display"`
	Claimable1Display string `json:"claimable1_display"`
	Clamped0          bool   `json:"clamped0"`
	Clamped1          bool   `json:"clamped1"`
	ProtocolDay       uint64 `json:"protocol_day"`
	UpdatedAt         string `json:"updated_at"`
}

// PositionLedger accumulates position manager events for one token.
type PositionLedger struct {
	ID             string `json:"id"`
	ChainID        uint64 `json:"chain_id"`
	TokenID        string `json:"token_id"`
	Liquidity      string `json:"liquidity"`
	Deposited0     string `json:"deposited0"`
	Deposited1     string `json:"deposited1"`
	Withdrawn0     string `json:"withdrawn0"`
	Withdrawn1     string `json:"withdrawn1"`
	Collected0     string `json:"collected0"`
	Collected1     string `json:"collected1"`
	CollectedFees0 string `json:"collected_fees0"`
	CollectedFees1 string `json:"collected_fees1"`
	EventCount     uint64 `json:"event_count"`
	FirstBlock     uint64 `json:"first_block"`
	LastBlock      uint64 `json:"last_block"`
	LastLogIndex   uint64 `json:"last_log_index"`
	UpdatedAt      string `json:"updated_at"`
}
