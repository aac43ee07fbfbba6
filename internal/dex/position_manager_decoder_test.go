package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"feeScope/internal/model"
)

var testPositionManager = common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")

func TestPositionManagerDecoderLiquidityEvents(t *testing.T) {
	npmABI, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewPositionManagerDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	for _, name := range []string{model.EventIncreaseLiquidity, model.EventDecreaseLiquidity} {
		data, err := npmABI.Events[name].Inputs.NonIndexed().Pack(
			big.NewInt(5000),
			big.NewInt(100),
			big.NewInt(200),
		)
		if err != nil {
			t.Fatalf("pack %s: %v", name, err)
		}

		logRecord := buildLogRecord(testPositionManager, npmABI.Events[name].ID, data, []common.Hash{
			common.BigToHash(big.NewInt(777)),
		})
		if !decoder.CanDecode(logRecord.Topics[0]) {
			t.Fatalf("%s should be decodable", name)
		}

		event, err := decoder.Decode(logRecord)
		if err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		if event.EventName != name {
			t.Fatalf("event name mismatch: %s", event.EventName)
		}
		got := event.Decoded
		if got.TokenID != "777" || got.Liquidity != "5000" || got.Amount0 != "100" || got.Amount1 != "200" {
			t.Fatalf("%s payload mismatch: %+v", name, got)
		}
		if got.Recipient != "" {
			t.Fatalf("%s should have no recipient", name)
		}
	}
}

func TestPositionManagerDecoderCollect(t *testing.T) {
	npmABI, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewPositionManagerDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	recipient := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	data, err := npmABI.Events[model.EventCollect].Inputs.NonIndexed().Pack(
		recipient,
		big.NewInt(900),
		new(big.Int).Lsh(big.NewInt(1), 200),
	)
	if err != nil {
		t.Fatalf("pack collect: %v", err)
	}

	logRecord := buildLogRecord(testPositionManager, npmABI.Events[model.EventCollect].ID, data, []common.Hash{
		common.BigToHash(big.NewInt(12)),
	})

	event, err := decoder.Decode(logRecord)
	if err != nil {
		t.Fatalf("decode collect: %v", err)
	}
	got := event.Decoded
	if got.TokenID != "12" || got.Amount0 != "900" {
		t.Fatalf("collect payload mismatch: %+v", got)
	}
	if got.Amount1 != new(big.Int).Lsh(big.NewInt(1), 200).String() {
		t.Fatalf("collect amount1 mismatch: %s", got.Amount1)
	}
	if got.Recipient != recipient.Hex() || got.Liquidity != "" {
		t.Fatalf("collect recipient mismatch: %+v", got)
	}
	if event.Raw == nil || event.Raw.Topic0 != logRecord.Topics[0] {
		t.Fatalf("raw ref missing")
	}
}

func TestPositionManagerDecoderRejects(t *testing.T) {
	decoder, err := NewPositionManagerDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if decoder.CanDecode("0x1234") || decoder.CanDecode("") {
		t.Fatalf("unknown topics should not be decodable")
	}
	if len(decoder.Topics()) != 3 {
		t.Fatalf("topics mismatch: %d", len(decoder.Topics()))
	}

	npmABI, _ := PositionManagerABI()
	noToken := buildLogRecord(testPositionManager, npmABI.Events[model.EventCollect].ID, nil, nil)
	if _, err := decoder.Decode(noToken); err == nil {
		t.Fatalf("expected error for missing tokenId topic")
	}

	badData := buildLogRecord(testPositionManager, npmABI.Events[model.EventCollect].ID, []byte{1, 2, 3}, []common.Hash{
		common.BigToHash(big.NewInt(1)),
	})
	if _, err := decoder.Decode(badData); err == nil {
		t.Fatalf("expected error for truncated data")
	}
}

func buildLogRecord(address common.Address, topic0 common.Hash, data []byte, indexed []common.Hash) model.LogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, topic0.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     1,
		BlockNumber: 12345,
		BlockHash:   "0xabc",
		TxHash:      "0xdef",
		LogIndex:    1,
		Address:     address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   1700000000,
	}
}
