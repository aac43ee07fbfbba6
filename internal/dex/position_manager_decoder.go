package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"feeScope/internal/model"
)

// PositionManagerDecoder decodes NonfungiblePositionManager liquidity events.
type PositionManagerDecoder struct {
	npmABI      abi.ABI
	topicToName map[string]string
}

// NewPositionManagerDecoder builds a decoder for IncreaseLiquidity, DecreaseLiquidity and Collect.
func NewPositionManagerDecoder() (*PositionManagerDecoder, error) {
	npmABI, err := PositionManagerABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, 3)
	for _, name := range []string{model.EventIncreaseLiquidity, model.EventDecreaseLiquidity, model.EventCollect} {
		topicToName[strings.ToLower(npmABI.Events[name].ID.Hex())] = name
	}

	return &PositionManagerDecoder{
		npmABI:      npmABI,
		topicToName: topicToName,
	}, nil
}

// Topics returns the topic0 hashes the decoder understands.
func (d *PositionManagerDecoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.topicToName))
	for _, name := range []string{model.EventIncreaseLiquidity, model.EventDecreaseLiquidity, model.EventCollect} {
		topics = append(topics, d.npmABI.Events[name].ID)
	}
	return topics
}

// CanDecode checks if the topic0 is supported.
func (d *PositionManagerDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent.
func (d *PositionManagerDecoder) Decode(log model.LogRecord) (*model.TypedEvent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("expected tokenId topic, got %d topics", len(log.Topics))
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid position manager address: %s", log.Address)
	}

	tokenTopic, err := hexutil.Decode(log.Topics[1])
	if err != nil || len(tokenTopic) != 32 {
		return nil, fmt.Errorf("invalid tokenId topic: %s", log.Topics[1])
	}
	tokenID := new(big.Int).SetBytes(tokenTopic)

	event := d.npmABI.Events[name]
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("%s: unexpected field count %d", name, len(values))
	}

	decoded := model.PositionEventData{TokenID: tokenID.String()}
	if name == model.EventCollect {
		recipient, err := asAddress(values[0])
		if err != nil {
			return nil, fmt.Errorf("collect recipient: %w", err)
		}
		decoded.Recipient = recipient.Hex()
	} else {
		liquidity, err := asBigInt(values[0])
		if err != nil {
			return nil, fmt.Errorf("%s liquidity: %w", name, err)
		}
		decoded.Liquidity = liquidity.String()
	}

	amount0, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("%s amount0: %w", name, err)
	}
	amount1, err := asBigInt(values[2])
	if err != nil {
		return nil, fmt.Errorf("%s amount1: %w", name, err)
	}
	decoded.Amount0 = amount0.String()
	decoded.Amount1 = amount1.String()

	return &model.TypedEvent{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		EventName:   name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		Raw:         &model.RawLogRef{Topic0: log.Topics[0], Data: log.Data},
	}, nil
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
