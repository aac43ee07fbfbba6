package model

// Position manager event names.
const (
	EventIncreaseLiquidity = "IncreaseLiquidity"
	EventDecreaseLiquidity = "DecreaseLiquidity"
	EventCollect           = "Collect"
)

// PositionEventData is the decoded payload of a position manager event.
// Collect events carry no liquidity; Increase/Decrease carry no recipient.
type PositionEventData struct {
	TokenID   string `json:"token_id"`
	Liquidity string `json:"liquidity,omitempty"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
	Recipient string `json:"recipient,omitempty"`
}
