package indexer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress validates a single hex address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseTokenIDs converts decimal token IDs, skipping blanks.
func ParseTokenIDs(inputs []string) ([]*big.Int, error) {
	ids := make([]*big.Int, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		id, ok := new(big.Int).SetString(input, 10)
		if !ok || id.Sign() < 0 {
			return nil, fmt.Errorf("invalid token id: %s", input)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BuildTopics returns the eth_getLogs topic filter: any of topic0, and when
// tokenIDs is non-empty, any of those token IDs in topic1.
func BuildTopics(topic0 []common.Hash, tokenIDs []*big.Int) [][]common.Hash {
	topics := [][]common.Hash{topic0}
	if len(tokenIDs) == 0 {
		return topics
	}
	ids := make([]common.Hash, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		ids = append(ids, common.BigToHash(id))
	}
	return append(topics, ids)
}
