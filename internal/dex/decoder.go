package dex

import "feeScope/internal/model"

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord) (*model.TypedEvent, error)
}

var _ Decoder = (*PositionManagerDecoder)(nil)
