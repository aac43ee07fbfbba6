package model

import "encoding/json"

// TypedEvent is a decoded position manager event.
type TypedEvent struct {
	ChainID     uint64            `json:"chain_id"`
	BlockNumber uint64            `json:"block_number"`
	BlockHash   string            `json:"block_hash"`
	TxHash      string            `json:"tx_hash"`
	LogIndex    uint64            `json:"log_index"`
	Address     string            `json:"address"`
	EventName   string            `json:"event_name"`
	Timestamp   uint64            `json:"timestamp"`
	Decoded     PositionEventData `json:"decoded"`
	Raw         *RawLogRef        `json:"raw,omitempty"`
}

// RawLogRef keeps a minimal raw reference for traceability.
type RawLogRef struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
}

// ParseTypedEvent decodes one JSONL line of typed events.
func ParseTypedEvent(line []byte) (TypedEvent, error) {
	var event TypedEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return TypedEvent{}, err
	}
	return event, nil
}
